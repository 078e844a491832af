package crawler

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/crawlengine/internal/job"
)

// OutcomeKind tells how a fetch attempt ended.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the single completion delivered for a fetch attempt.
type Result struct {
	Kind     OutcomeKind
	Response *job.Response
	Err      error
}

// Success wraps a fetched page.
func Success(resp *job.Response) Result {
	return Result{Kind: OutcomeSuccess, Response: resp}
}

// Failure wraps a fetch error. Stop-class errors are recognized with job.IsStop.
func Failure(err error) Result {
	if err == nil {
		err = errors.New("fetch failed")
	}
	return Result{Kind: OutcomeFailure, Err: err}
}

// Cancelled marks an attempt abandoned on request.
func Cancelled() Result {
	return Result{Kind: OutcomeCancelled, Err: context.Canceled}
}

// Handle is the cancellable reference to an outstanding fetch.
type Handle interface {
	// Cancel asks the fetch to stop. It is best effort; the completion
	// callback still runs, with a cancelled result if the cancel took.
	Cancel()
}

// Fetcher is the asynchronous fetch collaborator. Fetch must invoke
// onComplete exactly once unless it returns an error, in which case it must
// not invoke it at all. It must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, req job.FetchRequest, onComplete func(Result)) (Handle, error)
	Close() error
}

// Interrupter is implemented by fetchers that can abort all outstanding work.
type Interrupter interface {
	Interrupt()
}

// SyncFetcher is a blocking fetch. Wrap it with Async to use it as a Fetcher.
type SyncFetcher interface {
	Fetch(ctx context.Context, req job.FetchRequest) (*job.Response, error)
}

// Async runs each blocking fetch on its own goroutine and reports through the
// completion callback. Close waits for running fetches and closes f when it
// implements io.Closer.
func Async(f SyncFetcher) *AsyncFetcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncFetcher{fetcher: f, ctx: ctx, cancel: cancel}
}

// AsyncFetcher adapts a SyncFetcher to the Fetcher contract.
type AsyncFetcher struct {
	fetcher SyncFetcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
}

type asyncHandle struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func (h *asyncHandle) Cancel() {
	h.cancelled.Store(true)
	h.cancel()
}

// Fetch starts the blocking fetch in the background.
func (a *AsyncFetcher) Fetch(ctx context.Context, req job.FetchRequest, onComplete func(Result)) (Handle, error) {
	if a.closed.Load() {
		return nil, errors.New("async fetcher is closed")
	}
	if onComplete == nil {
		return nil, errors.New("completion callback is required")
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(a.ctx, cancel)
	h := &asyncHandle{cancel: cancel}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		defer stop()
		resp, err := a.fetcher.Fetch(fetchCtx, req)
		switch {
		case h.cancelled.Load(), err != nil && fetchCtx.Err() != nil:
			onComplete(Cancelled())
		case err != nil:
			onComplete(Failure(err))
		default:
			onComplete(Success(resp))
		}
	}()
	return h, nil
}

// Interrupt cancels every running fetch.
func (a *AsyncFetcher) Interrupt() {
	a.cancel()
}

// Close waits for running fetches, then closes the wrapped fetcher.
func (a *AsyncFetcher) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.wg.Wait()
	a.cancel()
	if c, ok := a.fetcher.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var (
	_ Fetcher     = (*AsyncFetcher)(nil)
	_ Interrupter = (*AsyncFetcher)(nil)
)
