// Package worker runs background stage tasks pulled from the task queue.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/metrics"
	"github.com/JakeFAU/qa-harvester/internal/telemetry"
)

// Worker consumes tasks and hands each to the handler, one at a time.
type Worker struct {
	id      int
	queue   harvest.TaskQueue
	handler harvest.TaskHandler
	logger  *zap.Logger
}

// New constructs a Worker.
func New(id int, queue harvest.TaskQueue, handler harvest.TaskHandler, logger *zap.Logger) *Worker {
	return &Worker{
		id:      id,
		queue:   queue,
		handler: handler,
		logger:  logging.OrNop(logger).Named("worker").With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Debug("queue dequeue stopped", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued task", logging.JobID(task.JobID), zap.String("kind", string(task.Kind)))
		w.process(ctx, task)
	}
}

// process runs one task to completion. Handler panics are contained so a bad
// task cannot take the pool down.
func (w *Worker) process(ctx context.Context, task harvest.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := telemetry.Tracer("worker").Start(ctx, "task."+string(task.Kind))
	span.SetAttributes(attribute.String("job_id", task.JobID), attribute.Int("worker", w.id))
	defer span.End()

	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			span.SetStatus(codes.Error, "panic")
			w.logger.Error("task panicked",
				logging.JobID(task.JobID),
				zap.String("kind", string(task.Kind)),
				zap.Any("panic", r),
			)
		}
		metrics.ObserveTask(string(task.Kind), outcome, time.Since(start))
	}()

	if w.handler == nil {
		outcome = "error"
		w.logger.Error("no task handler configured", logging.JobID(task.JobID))
		return
	}
	if err := w.handler.HandleTask(ctx, task); err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.logger.Warn("task failed",
			logging.JobID(task.JobID),
			zap.String("kind", string(task.Kind)),
			zap.Error(fmt.Errorf("handle task: %w", err)),
		)
		return
	}
	w.logger.Debug("task finished", logging.JobID(task.JobID), zap.Duration("duration", time.Since(start)))
}
