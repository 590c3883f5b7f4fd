// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/worker"
)

// Dispatcher fans out queue work to a bounded pool of workers.
type Dispatcher struct {
	queue   harvest.TaskQueue
	workers []*worker.Worker
}

// New creates a Dispatcher over existing workers.
func New(queue harvest.TaskQueue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// NewPool builds size workers that share queue and handler.
func NewPool(queue harvest.TaskQueue, handler harvest.TaskHandler, size int, logger *zap.Logger) *Dispatcher {
	if size < 1 {
		size = 1
	}
	workers := make([]*worker.Worker, 0, size)
	for i := range size {
		workers = append(workers, worker.New(i+1, queue, handler, logger))
	}
	return New(queue, workers)
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until every worker has returned. Workers
// return when ctx ends or the queue closes; a running task finishes first.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}
