package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/comic-cacher/internal/comic"
)

func TestDequeueWaitsForPrefetchTask(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	got := make(chan comic.PrefetchTask, 1)
	go func() {
		task, err := q.Dequeue(context.Background())
		if err == nil {
			got <- task
		}
	}()

	task := comic.PrefetchTask{Series: comic.Series{ID: 1}, Direction: comic.Forward, Remaining: 3}
	require.Eventually(t, func() bool { return q.TryEnqueue(task) }, time.Second, 5*time.Millisecond)

	select {
	case popped := <-got:
		assert.Equal(t, 1, popped.Series.ID)
		assert.Equal(t, comic.Forward, popped.Direction)
		assert.Equal(t, 3, popped.Remaining)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return the task")
	}
}

func TestTryEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	require.True(t, q.TryEnqueue(comic.PrefetchTask{Series: comic.Series{ID: 1}}))
	assert.False(t, q.TryEnqueue(comic.PrefetchTask{Series: comic.Series{ID: 2}}), "capacity clamps to one")

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, task.Series.ID)
}

func TestDequeueCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.EqualError(t, err, "dequeue canceled: context canceled")
}

func TestCloseStopsQueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	assert.False(t, q.TryEnqueue(comic.PrefetchTask{}))
	q.Close()
}
