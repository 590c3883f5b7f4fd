package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if jobsTotal == nil || answersTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	before := testutil.ToFloat64(answersTotal.WithLabelValues("failed"))
	ObserveAnswer("error")
	if got := testutil.ToFloat64(answersTotal.WithLabelValues("failed")); got != before+1 {
		t.Errorf("expected failed answers to grow by 1, got %f -> %f", before, got)
	}

	beforeBytes := testutil.ToFloat64(exportBytesTotal)
	ObserveExport("ok", 2048)
	ObserveExport("error", 0)
	if got := testutil.ToFloat64(exportBytesTotal); got != beforeBytes+2048 {
		t.Errorf("expected export bytes to grow by 2048, got %f", got-beforeBytes)
	}

	ObserveTask("scrape", "ok", 3*time.Second)
	if val := testutil.CollectAndCount(taskDurationSeconds); val <= 0 {
		t.Errorf("expected task duration to be observed, got %d", val)
	}

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers); got < 1 {
		t.Errorf("expected at least one active worker, got %f", got)
	}
	DecActiveWorkers()
}
