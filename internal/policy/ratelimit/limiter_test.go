package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitSpacesRequestsToOneHost(t *testing.T) {
	t.Parallel()

	// 10 rps with burst 1: the first call is free, the next waits ~100ms.
	l := New(Config{RequestsPerSecond: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.gocomics.com/calvinandhobbes/2023/01/05"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://WWW.GOCOMICS.com/garfield/2023/01/05"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 1, l.Hosts())
}

func TestWaitIsolatesHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.gocomics.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://comicskingdom.com/b"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 2, l.Hosts())
}

func TestWaitHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 0.01, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestZeroRateIsUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 5 {
		require.NoError(t, l.Wait(context.Background(), "://bad url"))
	}
	require.Equal(t, 1, l.Hosts())
}
