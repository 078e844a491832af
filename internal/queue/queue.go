// Package queue holds the job orderings the crawler polls: plain FIFO, a
// priority heap, and a priority heap that falls back to an external request
// sequence when it runs dry.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/crawlengine/internal/job"
)

var (
	// ErrClosed is returned by Put after Close, and by blocking reads once a
	// closed queue has nothing left to hand out.
	ErrClosed = errors.New("queue is closed")
	// ErrNilJob is returned when a nil job is offered.
	ErrNilJob = errors.New("job is required")
	// ErrAlreadyQueued is returned when the job is already resident.
	ErrAlreadyQueued = errors.New("job is already queued")
)

// Queue is a blocking multiset of jobs keyed by identity.
type Queue interface {
	// Put inserts j.
	Put(j *job.Job) error
	// Take blocks until a job is available, the queue is closed, or ctx ends.
	Take(ctx context.Context) (*job.Job, error)
	// Poll waits at most timeout for a job. A timeout yields (nil, nil).
	Poll(ctx context.Context, timeout time.Duration) (*job.Job, error)
	// TryPoll removes and returns the head without waiting, or nil.
	TryPoll() *job.Job
	// Peek returns the head without removing it, or nil.
	Peek() *job.Job
	// Remove deletes j if resident and reports whether it was.
	Remove(j *job.Job) bool
	Len() int
	IsEmpty() bool
	Close() error
}

// store is the ordering behind a blocking queue. Callers hold the queue lock.
type store interface {
	push(j *job.Job) bool
	pop() *job.Job
	peek() *job.Job
	remove(j *job.Job) bool
	len() int
}

// blocking adds waiting semantics to a store. Waiters park on signal, which is
// closed and replaced on every successful Put.
type blocking struct {
	mu     sync.Mutex
	items  store
	signal chan struct{}
	closed bool
	// prepare runs under the lock before a job is stored.
	prepare func(j *job.Job)
}

func newBlocking(items store) *blocking {
	return &blocking{items: items, signal: make(chan struct{})}
}

func (b *blocking) Put(j *job.Job) error {
	if j == nil {
		return ErrNilJob
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.prepare != nil {
		b.prepare(j)
	}
	if !b.items.push(j) {
		return ErrAlreadyQueued
	}
	close(b.signal)
	b.signal = make(chan struct{})
	return nil
}

func (b *blocking) Take(ctx context.Context) (*job.Job, error) {
	return b.wait(ctx, nil)
}

func (b *blocking) Poll(ctx context.Context, timeout time.Duration) (*job.Job, error) {
	if timeout <= 0 {
		return b.TryPoll(), nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return b.wait(ctx, timer.C)
}

func (b *blocking) wait(ctx context.Context, expired <-chan time.Time) (*job.Job, error) {
	for {
		b.mu.Lock()
		if j := b.items.pop(); j != nil {
			b.mu.Unlock()
			return j, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		signal := b.signal
		b.mu.Unlock()

		select {
		case <-signal:
		case <-expired:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *blocking) TryPoll() *job.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.pop()
}

func (b *blocking) Peek() *job.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.peek()
}

func (b *blocking) Remove(j *job.Job) bool {
	if j == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.remove(j)
}

func (b *blocking) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.len()
}

func (b *blocking) IsEmpty() bool { return b.Len() == 0 }

// Close wakes every waiter. Jobs already queued can still be drained.
func (b *blocking) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.signal)
	}
	return nil
}

var (
	_ Queue = (*FIFO)(nil)
	_ Queue = (*Priority)(nil)
	_ Queue = (*Lazy)(nil)
)
