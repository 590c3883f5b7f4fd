package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/qa-harvester/internal/progress"
)

// PrometheusSink exports stage counters. It tracks which jobs are mid-stage so
// the running gauges stay consistent when events repeat.
type PrometheusSink struct {
	stagesStarted  *prometheus.CounterVec
	stagesFinished *prometheus.CounterVec
	stagesRunning  *prometheus.GaugeVec
	stageRuntime   *prometheus.HistogramVec
	answerItems    *prometheus.CounterVec

	tracker *stageTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		stagesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_stages_started_total",
			Help: "Background stages started, by stage.",
		}, []string{"stage"}),
		stagesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_stages_finished_total",
			Help: "Background stages finished, by stage and result.",
		}, []string{"stage", "result"}),
		stagesRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvester_stages_running",
			Help: "Background stages currently running, by stage.",
		}, []string{"stage"}),
		stageRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_stage_runtime_seconds",
			Help:    "Wall time per finished stage.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"stage", "result"}),
		answerItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_answer_items_total",
			Help: "Answer generation items processed, by result.",
		}, []string{"result"}),
		tracker: newStageTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.stagesStarted,
		s.stagesFinished,
		s.stagesRunning,
		s.stageRuntime,
		s.answerItems,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageScrapeStart:
		s.start("scrape", evt.JobID)
	case progress.StageScrapeDone:
		s.finish("scrape", "success", evt)
	case progress.StageScrapeError:
		s.finish("scrape", "error", evt)
	case progress.StageGenerateStart:
		s.start("generate", evt.JobID)
	case progress.StageGenerateDone:
		result := "success"
		if evt.Failed > 0 {
			result = "partial"
		}
		s.finish("generate", result, evt)
	case progress.StageAnswerDone:
		s.answerItems.WithLabelValues("success").Inc()
	case progress.StageAnswerError:
		s.answerItems.WithLabelValues("error").Inc()
	}
}

func (s *PrometheusSink) start(stage, jobID string) {
	s.stagesStarted.WithLabelValues(stage).Inc()
	if s.tracker.start(stage, jobID) {
		s.stagesRunning.WithLabelValues(stage).Inc()
	}
}

func (s *PrometheusSink) finish(stage, result string, evt progress.Event) {
	s.stagesFinished.WithLabelValues(stage, result).Inc()
	if evt.Dur > 0 {
		s.stageRuntime.WithLabelValues(stage, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(stage, evt.JobID) {
		s.stagesRunning.WithLabelValues(stage).Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type stageKey struct {
	stage string
	jobID string
}

type stageTracker struct {
	mu      sync.Mutex
	running map[stageKey]struct{}
}

func newStageTracker() *stageTracker {
	return &stageTracker{running: make(map[stageKey]struct{})}
}

func (t *stageTracker) start(stage, jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := stageKey{stage: stage, jobID: jobID}
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *stageTracker) complete(stage, jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := stageKey{stage: stage, jobID: jobID}
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
