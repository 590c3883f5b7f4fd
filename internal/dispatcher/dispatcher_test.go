package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
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

// gateHandler blocks every task until release is closed and tracks peak concurrency.
type gateHandler struct {
	release chan struct{}
	running atomic.Int32
	peak    atomic.Int32
	done    atomic.Int32
}

func (h *gateHandler) HandleTask(ctx context.Context, _ harvest.Task) error {
	n := h.running.Add(1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer h.running.Add(-1)
	select {
	case <-h.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.done.Add(1)
	return nil
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(16)
	handler := &gateHandler{release: make(chan struct{})}
	dispatch := NewPool(q, handler, 3, zap.NewNop())
	require.Equal(t, 3, dispatch.Size())

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(finished)
	}()

	for i := range 6 {
		require.NoError(t, q.Enqueue(ctx, harvest.Task{Kind: harvest.TaskGenerate, JobID: fmt.Sprint(i)}))
	}
	require.Eventually(t, func() bool { return handler.running.Load() == 3 }, time.Second, 10*time.Millisecond)
	close(handler.release)
	require.Eventually(t, func() bool { return handler.done.Load() == 6 }, time.Second, 10*time.Millisecond)
	require.Equal(t, int32(3), handler.peak.Load())

	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	dispatch := NewPool(q, &gateHandler{release: make(chan struct{})}, 2, zap.NewNop())

	finished := make(chan struct{})
	go func() {
		dispatch.Run(context.Background())
		close(finished)
	}()

	q.Close()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after queue close")
	}
}

func TestDispatcherStopsOnQueueError(t *testing.T) {
	t.Parallel()

	dispatch := NewPool(&errorQueue{err: errors.New("boom")}, &gateHandler{}, 1, zap.NewNop())
	finished := make(chan struct{})
	go func() {
		dispatch.Run(context.Background())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after dequeue error")
	}
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, harvest.Task) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (harvest.Task, error) {
	return harvest.Task{}, q.err
}
