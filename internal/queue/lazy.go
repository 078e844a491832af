package queue

import (
	"context"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/job"
)

// Lazy is a priority queue backed by an external request sequence. Queued jobs
// always win; the sequence is drawn from only when the heap is empty, one
// request at a time, so it behaves as an unlimited least-urgent backlog.
//
// Len counts only materialized jobs: the sequence's remaining length is unknown.
type Lazy struct {
	*Priority

	// pullMu serializes "heap empty, so pull from the source" so two pollers
	// cannot both act on the same observation.
	pullMu    sync.Mutex
	next      func() (*job.Request, bool)
	stop      func()
	pending   *job.Job
	exhausted bool

	handler job.Handler
	logger  *zap.Logger
}

// LazyOption customizes a Lazy queue.
type LazyOption func(*Lazy)

// WithSourceHandler attaches h to every job drawn from the sequence.
func WithSourceHandler(h job.Handler) LazyOption {
	return func(l *Lazy) { l.handler = h }
}

// WithLogger sets the queue logger.
func WithLogger(logger *zap.Logger) LazyOption {
	return func(l *Lazy) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLazy returns a lazy queue drawing from source. A nil source is treated as empty.
func NewLazy(source iter.Seq[*job.Request], opts ...LazyOption) *Lazy {
	l := &Lazy{
		Priority: NewPriority(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if source == nil {
		l.exhausted = true
	} else {
		l.next, l.stop = iter.Pull(source)
	}
	return l
}

// pull materializes the next job from the source. Callers hold pullMu.
func (l *Lazy) pull() *job.Job {
	if l.pending != nil {
		j := l.pending
		l.pending = nil
		return j
	}
	for !l.exhausted {
		req, ok := l.next()
		if !ok {
			l.exhausted = true
			l.stop()
			l.logger.Debug("request source exhausted")
			return nil
		}
		j, err := job.New(req, job.WithHandler(l.handler))
		if err != nil {
			l.logger.Warn("skipping source request", zap.Error(err))
			continue
		}
		return j
	}
	return nil
}

// lookahead makes sure pending holds the source's next job if there is one.
func (l *Lazy) lookahead() bool {
	if l.pending == nil {
		l.pending = l.pull()
	}
	return l.pending != nil
}

// TryPoll returns a queued job, else the next job from the source, else nil.
func (l *Lazy) TryPoll() *job.Job {
	l.pullMu.Lock()
	defer l.pullMu.Unlock()
	if j := l.Priority.TryPoll(); j != nil {
		return j
	}
	return l.pull()
}

// Poll behaves like TryPoll and then waits for a Put once the source is exhausted.
func (l *Lazy) Poll(ctx context.Context, timeout time.Duration) (*job.Job, error) {
	if j := l.TryPoll(); j != nil {
		return j, nil
	}
	return l.Priority.Poll(ctx, timeout)
}

// Take behaves like TryPoll and then blocks for a Put once the source is exhausted.
func (l *Lazy) Take(ctx context.Context) (*job.Job, error) {
	if j := l.TryPoll(); j != nil {
		return j, nil
	}
	return l.Priority.Take(ctx)
}

// Peek may materialize the next source job; that job is then handed out by the next poll.
func (l *Lazy) Peek() *job.Job {
	l.pullMu.Lock()
	defer l.pullMu.Unlock()
	if j := l.Priority.Peek(); j != nil {
		return j
	}
	if l.lookahead() {
		return l.pending
	}
	return nil
}

// Remove deletes j from the heap or from the materialized lookahead.
func (l *Lazy) Remove(j *job.Job) bool {
	l.pullMu.Lock()
	defer l.pullMu.Unlock()
	if l.Priority.Remove(j) {
		return true
	}
	if j != nil && l.pending == j {
		l.pending = nil
		return true
	}
	return false
}

// Len returns queued jobs plus a materialized lookahead, if any.
func (l *Lazy) Len() int {
	l.pullMu.Lock()
	defer l.pullMu.Unlock()
	n := l.Priority.Len()
	if l.pending != nil {
		n++
	}
	return n
}

// IsEmpty reports whether both the heap and the source are exhausted. It may
// pull one request from the source to find out.
func (l *Lazy) IsEmpty() bool {
	l.pullMu.Lock()
	defer l.pullMu.Unlock()
	if l.Priority.Len() > 0 {
		return false
	}
	return !l.lookahead()
}

// Close stops the source and closes the heap.
func (l *Lazy) Close() error {
	l.pullMu.Lock()
	if !l.exhausted {
		l.exhausted = true
		l.stop()
	}
	l.pullMu.Unlock()
	return l.Priority.Close()
}
