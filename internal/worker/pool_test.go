package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	t.Parallel()

	p := NewPool(3, zap.NewNop())
	var ran atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		require.NoError(t, p.Submit(func(context.Context) {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()
	require.EqualValues(t, 20, ran.Load())

	p.Shutdown()
	require.NoError(t, p.AwaitTermination(context.Background()))
	require.ErrorIs(t, p.Submit(func(context.Context) {}), ErrPoolClosed)
}

func TestPoolBoundsParallelism(t *testing.T) {
	t.Parallel()

	p := NewPool(2, nil)
	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		require.NoError(t, p.Submit(func(context.Context) {
			defer wg.Done()
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		}))
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int32(2))
	p.Shutdown()
	require.NoError(t, p.AwaitTermination(context.Background()))
}

func TestPoolShutdownDrainsBacklog(t *testing.T) {
	t.Parallel()

	p := NewPool(1, nil)
	release := make(chan struct{})
	var ran atomic.Int32
	require.NoError(t, p.Submit(func(context.Context) {
		<-release
		ran.Add(1)
	}))
	for range 3 {
		require.NoError(t, p.Submit(func(context.Context) { ran.Add(1) }))
	}
	p.Shutdown()
	close(release)
	require.NoError(t, p.AwaitTermination(context.Background()))
	require.EqualValues(t, 4, ran.Load())
}

func TestPoolShutdownNowAbandonsBacklogAndCancels(t *testing.T) {
	t.Parallel()

	p := NewPool(1, nil)
	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))
	<-started
	var ran atomic.Int32
	for range 5 {
		require.NoError(t, p.Submit(func(context.Context) { ran.Add(1) }))
	}

	require.Equal(t, 5, p.ShutdownNow())
	<-cancelled
	require.NoError(t, p.AwaitTermination(context.Background()))
	require.Zero(t, ran.Load())
}

func TestPoolRecoversPanics(t *testing.T) {
	t.Parallel()

	p := NewPool(1, nil)
	require.NoError(t, p.Submit(func(context.Context) { panic("boom") }))
	done := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool goroutine did not survive a panicking task")
	}
	p.Shutdown()
	require.NoError(t, p.AwaitTermination(context.Background()))
}

func TestAwaitTerminationHonorsContext(t *testing.T) {
	t.Parallel()

	p := NewPool(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.AwaitTermination(ctx), context.Canceled)
	p.Shutdown()
	require.NoError(t, p.AwaitTermination(context.Background()))
}
