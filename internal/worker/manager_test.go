package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerSubmitResolvesFuture(t *testing.T) {
	t.Parallel()

	m := NewManager(2, zap.NewNop())
	w := m.Worker()

	ok, err := w.Submit(func(context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, ok.Wait(context.Background()))

	failed, err := w.Submit(func(context.Context) error { return errors.New("boom") })
	require.NoError(t, err)
	require.EqualError(t, failed.Wait(context.Background()), "boom")

	panicked, err := w.Submit(func(context.Context) error { panic("kaboom") })
	require.NoError(t, err)
	require.ErrorContains(t, panicked.Wait(context.Background()), "kaboom")

	require.NoError(t, m.Close(context.Background()))
	_, err = w.Submit(func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrPoolClosed)
	// Close is idempotent.
	require.NoError(t, m.Close(context.Background()))
}

func TestNilWorkerRejectsSubmit(t *testing.T) {
	t.Parallel()

	var w *Worker
	_, err := w.Submit(func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestManagerInterruptCancelsRunningTasks(t *testing.T) {
	t.Parallel()

	m := NewManager(1, nil)
	started := make(chan struct{})
	f, err := m.Worker().Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	m.Interrupt()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.ErrorIs(t, f.Wait(ctx), context.Canceled)
	require.NoError(t, m.Close(ctx))
}
