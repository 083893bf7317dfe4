package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_SameKeyRunsInOrder(t *testing.T) {
	d := NewDispatcher(context.Background())

	var mu sync.Mutex
	var order []int
	var running atomic.Int32
	var overlap atomic.Bool

	for i := range 20 {
		require.NoError(t, d.Submit("+5511", func(context.Context) {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			running.Add(-1)
		}))
	}

	require.NoError(t, d.Shutdown(context.Background()))

	assert.False(t, overlap.Load(), "jobs for one key must not overlap")
	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestDispatcher_DifferentKeysRunConcurrently(t *testing.T) {
	d := NewDispatcher(context.Background(), WithMaxConcurrent(2))

	release := make(chan struct{})
	started := make(chan string, 2)

	for _, key := range []string{"a", "b"} {
		require.NoError(t, d.Submit(key, func(context.Context) {
			started <- key
			<-release
		}))
	}

	seen := map[string]bool{}
	for range 2 {
		select {
		case key := <-started:
			seen[key] = true
		case <-time.After(time.Second):
			t.Fatal("second conversation was blocked by the first")
		}
	}
	close(release)

	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, map[string]bool{"a": true, "b": true}, seen)
}

func TestDispatcher_MaxConcurrent(t *testing.T) {
	d := NewDispatcher(context.Background(), WithMaxConcurrent(2))

	var running, peak atomic.Int32
	for i := range 6 {
		require.NoError(t, d.Submit(fmt.Sprintf("key-%d", i), func(context.Context) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}))
	}

	require.NoError(t, d.Shutdown(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int64(6), d.Stats().Completed)
}

func TestDispatcher_PanicDoesNotStopConversation(t *testing.T) {
	var panics atomic.Int32
	d := NewDispatcher(context.Background(),
		WithPanicHandler(NewMetricsPanicHandler(nil, func(string, any) { panics.Add(1) })))

	var after atomic.Bool
	require.NoError(t, d.Submit("k", func(context.Context) { panic("boom") }))
	require.NoError(t, d.Submit("k", func(context.Context) { after.Store(true) }))

	require.NoError(t, d.Shutdown(context.Background()))

	assert.Equal(t, int32(1), panics.Load())
	assert.True(t, after.Load())
	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Panicked)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestDispatcher_SubmitErrors(t *testing.T) {
	d := NewDispatcher(context.Background())

	assert.ErrorIs(t, d.Submit("", func(context.Context) {}), ErrEmptyKey)
	assert.Error(t, d.Submit("k", nil))

	require.NoError(t, d.Shutdown(context.Background()))
	assert.ErrorIs(t, d.Submit("k", func(context.Context) {}), ErrQueueStopped)
}

func TestDispatcher_ShutdownTimeout(t *testing.T) {
	d := NewDispatcher(context.Background(), WithMaxConcurrent(1))

	started := make(chan struct{})
	var canceled atomic.Bool
	var secondRan atomic.Bool

	require.NoError(t, d.Submit("k", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
	}))
	require.NoError(t, d.Submit("k", func(context.Context) { secondRan.Store(true) }))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := d.Shutdown(ctx)
	require.ErrorIs(t, err, ErrShutdownTimeout)
	assert.True(t, canceled.Load())
	assert.False(t, secondRan.Load())
	assert.Equal(t, int64(1), d.Stats().Dropped)
}

func TestDispatcher_StatsReleasesIdleConversations(t *testing.T) {
	d := NewDispatcher(context.Background())

	release := make(chan struct{})
	require.NoError(t, d.Submit("k", func(context.Context) { <-release }))
	require.NoError(t, d.Submit("k", func(context.Context) {}))

	stats := d.Stats()
	assert.Equal(t, 1, stats.ActiveConversations)
	assert.Equal(t, int64(2), stats.Enqueued)

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, 0, d.Stats().ActiveConversations)
}
