// Package worker provides the bounded goroutine pool the crawler runs fetches
// and completion callbacks on, and the Manager/Worker pair handed to handlers
// for off-loop work.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Submit once shutdown has begun.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Task is a unit of work. The context is cancelled when the pool is stopped forcibly.
type Task func(ctx context.Context)

type poolState int

const (
	stateRunning poolState = iota
	stateShutdown
	stateStopped
)

// Pool runs submitted tasks on a fixed number of goroutines. Submissions beyond
// the pool size wait in an unbounded backlog.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []Task
	state  poolState
	size   int
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	logger *zap.Logger
}

// NewPool starts size goroutines. A size below one is raised to one.
func NewPool(size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		size:   size,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger,
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.run()
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	return p
}

// Size returns the number of pool goroutines.
func (p *Pool) Size() int { return p.size }

// Submit queues task for execution.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateRunning {
		return ErrPoolClosed
	}
	p.tasks = append(p.tasks, task)
	p.cond.Signal()
	return nil
}

// Shutdown stops accepting tasks; already queued tasks still run.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateRunning {
		p.state = stateShutdown
		p.cond.Broadcast()
	}
}

// ShutdownNow stops accepting tasks, abandons the backlog, and cancels the
// context seen by running tasks. It returns the number of abandoned tasks.
func (p *Pool) ShutdownNow() int {
	p.mu.Lock()
	abandoned := len(p.tasks)
	p.tasks = nil
	p.state = stateStopped
	p.cond.Broadcast()
	p.mu.Unlock()
	p.cancel()
	return abandoned
}

// AwaitTermination blocks until every pool goroutine has exited or ctx ends.
func (p *Pool) AwaitTermination(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await pool termination: %w", ctx.Err())
	}
}

// Done is closed once the pool has terminated.
func (p *Pool) Done() <-chan struct{} { return p.done }

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		p.execute(task)
	}
}

func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.tasks) == 0 && p.state == stateRunning {
		p.cond.Wait()
	}
	if len(p.tasks) == 0 {
		return nil, false
	}
	task := p.tasks[0]
	p.tasks[0] = nil
	p.tasks = p.tasks[1:]
	return task, true
}

func (p *Pool) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	task(p.ctx)
}
