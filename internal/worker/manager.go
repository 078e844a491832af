package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager owns a pool dedicated to work that handlers push off the dispatch path.
type Manager struct {
	pool      *Pool
	logger    *zap.Logger
	closeOnce sync.Once
}

// NewManager starts a manager backed by size goroutines.
func NewManager(size int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		pool:   NewPool(size, logger),
		logger: logger,
	}
}

// Worker returns a submission handle bound to the manager.
func (m *Manager) Worker() *Worker {
	return &Worker{manager: m}
}

// Close lets queued work finish and waits for the pool to terminate.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(m.pool.Shutdown)
	if err := m.pool.AwaitTermination(ctx); err != nil {
		return fmt.Errorf("close worker manager: %w", err)
	}
	return nil
}

// Interrupt abandons queued work and cancels running tasks.
func (m *Manager) Interrupt() {
	if n := m.pool.ShutdownNow(); n > 0 {
		m.logger.Warn("abandoned queued handler tasks", zap.Int("tasks", n))
	}
}

// Worker submits tasks to its manager's pool.
type Worker struct {
	manager *Manager
}

// Submit schedules task and returns a Future resolved with its error.
func (w *Worker) Submit(task func(ctx context.Context) error) (*Future, error) {
	if w == nil || w.manager == nil {
		return nil, ErrPoolClosed
	}
	f := &Future{done: make(chan struct{})}
	err := w.manager.pool.Submit(func(ctx context.Context) {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		f.err = task(ctx)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Future is the pending result of a submitted task.
type Future struct {
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return fmt.Errorf("wait for task: %w", ctx.Err())
	}
}
