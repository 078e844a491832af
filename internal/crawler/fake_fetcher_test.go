package crawler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/crawlengine/internal/job"
)

type step int

const (
	stepOK step = iota
	stepFail
	stepStop
)

var errTransport = errors.New("connection reset")

// fakeFetcher plays a per-URL script of outcomes on background goroutines.
// URLs without a script, or past its end, succeed.
type fakeFetcher struct {
	latency time.Duration
	// block, when set, holds every fetch until it is closed or the fetch is cancelled.
	block chan struct{}

	mu       sync.Mutex
	script   map[string][]step
	requests []job.FetchRequest
	started  []time.Time

	current     atomic.Int32
	peak        atomic.Int32
	cancels     atomic.Int32
	interrupted atomic.Bool
	closed      atomic.Bool
	wg          sync.WaitGroup
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{script: make(map[string][]step)}
}

func (f *fakeFetcher) on(url string, steps ...step) *fakeFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[url] = steps
	return f
}

type fakeHandle struct {
	once   sync.Once
	cancel chan struct{}
	count  *atomic.Int32
}

func (h *fakeHandle) Cancel() {
	h.once.Do(func() {
		h.count.Add(1)
		close(h.cancel)
	})
}

func (f *fakeFetcher) Fetch(_ context.Context, req job.FetchRequest, onComplete func(Result)) (Handle, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.started = append(f.started, time.Now())
	next := stepOK
	if steps := f.script[req.URL]; len(steps) > 0 {
		next = steps[0]
		f.script[req.URL] = steps[1:]
	}
	f.mu.Unlock()

	n := f.current.Add(1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}

	h := &fakeHandle{cancel: make(chan struct{}), count: &f.cancels}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		cancelled := false
		if f.block != nil {
			select {
			case <-f.block:
			case <-h.cancel:
				cancelled = true
			}
		} else if f.latency > 0 {
			select {
			case <-time.After(f.latency):
			case <-h.cancel:
				cancelled = true
			}
		}
		f.current.Add(-1)

		switch {
		case cancelled:
			onComplete(Cancelled())
		case next == stepFail:
			onComplete(Failure(errTransport))
		case next == stepStop:
			onComplete(Failure(&job.StopError{URL: req.URL, StatusCode: http.StatusGone}))
		default:
			onComplete(Success(&job.Response{URL: req.URL, StatusCode: http.StatusOK, Body: []byte("ok")}))
		}
	}()
	return h, nil
}

func (f *fakeFetcher) Interrupt() { f.interrupted.Store(true) }

func (f *fakeFetcher) Close() error {
	f.wg.Wait()
	f.closed.Store(true)
	return nil
}

func (f *fakeFetcher) calls() []job.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]job.FetchRequest(nil), f.requests...)
}

func (f *fakeFetcher) startTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.started...)
}
