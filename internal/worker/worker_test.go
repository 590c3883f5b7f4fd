package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/queue/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingHandler struct {
	mu     sync.Mutex
	seen   []harvest.Task
	fail   map[string]error
	panics map[string]bool
}

func (h *recordingHandler) HandleTask(_ context.Context, task harvest.Task) error {
	h.mu.Lock()
	h.seen = append(h.seen, task)
	h.mu.Unlock()
	if h.panics[task.JobID] {
		panic("boom")
	}
	return h.fail[task.JobID]
}

func (h *recordingHandler) jobIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.seen))
	for _, task := range h.seen {
		out = append(out, task.JobID)
	}
	return out
}

func TestWorker_RunsTasksInOrderAndSurvivesFailures(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	q := memory.NewQueue(8)
	handler := &recordingHandler{
		fail:   map[string]error{"job-2": errors.New("scrape exploded")},
		panics: map[string]bool{"job-3": true},
	}
	w := New(1, q, handler, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	for _, id := range []string{"job-1", "job-2", "job-3", "job-4"} {
		require.NoError(t, q.Enqueue(ctx, harvest.Task{Kind: harvest.TaskScrape, JobID: id}))
	}

	require.Eventually(t, func() bool {
		return len(handler.jobIDs()) == 4
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"job-1", "job-2", "job-3", "job-4"}, handler.jobIDs())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorker_StopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	w := New(1, q, &recordingHandler{}, nil)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}
