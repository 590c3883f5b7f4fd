package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/qa-harvester/internal/progress"
)

func TestPrometheusSinkRecordsStages(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{JobID: "j1", TS: now, Stage: progress.StageScrapeStart},
		{JobID: "j1", TS: now, Stage: progress.StageScrapeStart},
		{JobID: "j1", TS: now, Stage: progress.StageScrapeDone, Count: 3, Dur: 2 * time.Second},
		{JobID: "j1", TS: now, Stage: progress.StageGenerateStart, Count: 2},
		{JobID: "j1", TS: now, Stage: progress.StageAnswerDone, QuestionID: "q1"},
		{JobID: "j1", TS: now, Stage: progress.StageAnswerError, QuestionID: "q2"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.stagesStarted.WithLabelValues("scrape")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stagesFinished.WithLabelValues("scrape", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.stagesRunning.WithLabelValues("scrape")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stagesRunning.WithLabelValues("generate")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.answerItems.WithLabelValues("error")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.stageRuntime, "harvester_stage_runtime_seconds"))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "j1", TS: now, Stage: progress.StageGenerateDone, Count: 1, Failed: 1},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stagesFinished.WithLabelValues("generate", "partial")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.stagesRunning.WithLabelValues("generate")))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
