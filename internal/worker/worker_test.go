package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/queue/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type recordingWarmer struct {
	mu    sync.Mutex
	tasks []comic.PrefetchTask
	panic bool
}

func (r *recordingWarmer) Warm(_ context.Context, task comic.PrefetchTask) {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	shouldPanic := r.panic
	r.mu.Unlock()
	if shouldPanic {
		panic("boom")
	}
}

func (r *recordingWarmer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func TestWorkerWarmsDequeuedTasks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := memory.NewQueue(4)
	warmer := &recordingWarmer{}
	w := New(1, queue, warmer, &fakeClock{now: time.Unix(100, 0)}, Config{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.True(t, queue.TryEnqueue(comic.PrefetchTask{Series: comic.Series{ID: 1}, Remaining: 3}))
	require.True(t, queue.TryEnqueue(comic.PrefetchTask{Series: comic.Series{ID: 2}, Remaining: 3}))
	require.Eventually(t, func() bool { return warmer.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(1)
	w := New(1, queue, &recordingWarmer{}, nil, Config{}, nil)
	queue.Close()

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestWorkerSkipsStaleTasks(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_000, 0)
	warmer := &recordingWarmer{}
	w := New(1, memory.NewQueue(1), warmer, &fakeClock{now: now}, Config{StaleAfter: time.Minute}, zap.NewNop())

	w.process(context.Background(), comic.PrefetchTask{Submitted: now.Add(-2 * time.Minute)})
	require.Zero(t, warmer.count())

	w.process(context.Background(), comic.PrefetchTask{Submitted: now.Add(-30 * time.Second)})
	require.Equal(t, 1, warmer.count())
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	t.Parallel()

	warmer := &recordingWarmer{panic: true}
	w := New(1, memory.NewQueue(1), warmer, nil, Config{}, zap.NewNop())

	require.NotPanics(t, func() {
		w.process(context.Background(), comic.PrefetchTask{})
	})
	require.Equal(t, 1, warmer.count())
}
