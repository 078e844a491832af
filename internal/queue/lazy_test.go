package queue

import (
	"context"
	"iter"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlengine/internal/job"
	"github.com/JakeFAU/crawlengine/internal/worker"
)

func requests(urls ...string) iter.Seq[*job.Request] {
	reqs := make([]*job.Request, 0, len(urls))
	for _, u := range urls {
		reqs = append(reqs, &job.Request{URL: u})
	}
	return slices.Values(reqs)
}

func TestLazyPrefersQueuedJobs(t *testing.T) {
	t.Parallel()

	q := NewLazy(requests("https://example.com/backlog"))
	defer q.Close()
	queued := newJob(t, "https://example.com/queued", job.WithPriority(job.Lowest))
	require.NoError(t, q.Put(queued))

	require.Same(t, queued, q.TryPoll())
	fromSource := q.TryPoll()
	require.NotNil(t, fromSource)
	require.Equal(t, "https://example.com/backlog", fromSource.Request().URL)
	require.Equal(t, job.DefaultPriority, fromSource.Priority())
	require.Nil(t, q.TryPoll())
	require.True(t, q.IsEmpty())
}

func TestLazyAttachesFixedHandler(t *testing.T) {
	t.Parallel()

	h := job.HandlerFunc(func(context.Context, *job.Request, *job.Response, job.Enqueuer, job.Session, *worker.Worker) error {
		return nil
	})
	q := NewLazy(requests("https://example.com"), WithSourceHandler(h))
	defer q.Close()

	j := q.TryPoll()
	require.NotNil(t, j)
	require.NotNil(t, j.Handler())
}

func TestLazyIsEmptyLooksAhead(t *testing.T) {
	t.Parallel()

	q := NewLazy(requests("https://example.com/a", "https://example.com/b"))
	defer q.Close()

	require.False(t, q.IsEmpty())
	require.Equal(t, 1, q.Len())
	peeked := q.Peek()
	require.Same(t, peeked, q.TryPoll())
	require.False(t, q.IsEmpty())
	require.NotNil(t, q.TryPoll())
	require.True(t, q.IsEmpty())
	require.Zero(t, q.Len())
}

func TestLazySkipsInvalidSourceEntries(t *testing.T) {
	t.Parallel()

	src := func(yield func(*job.Request) bool) {
		for _, r := range []*job.Request{nil, {URL: "https://example.com"}} {
			if !yield(r) {
				return
			}
		}
	}
	q := NewLazy(src)
	defer q.Close()

	j := q.TryPoll()
	require.NotNil(t, j)
	require.Equal(t, "https://example.com", j.Request().URL)
}

func TestLazyConcurrentPollersShareSourceExactlyOnce(t *testing.T) {
	t.Parallel()

	urls := make([]string, 100)
	for i := range urls {
		urls[i] = "https://example.com/" + strconv.Itoa(i)
	}
	q := NewLazy(requests(urls...))
	defer q.Close()

	var mu sync.Mutex
	got := make(map[string]int)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j := q.TryPoll()
				if j == nil {
					return
				}
				mu.Lock()
				got[j.Request().URL]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, got, len(urls))
	for u, n := range got {
		require.Equal(t, 1, n, u)
	}
	require.True(t, q.IsEmpty())
}

func TestLazyPollWaitsForPutOnceSourceExhausted(t *testing.T) {
	t.Parallel()

	q := NewLazy(nil)
	defer q.Close()
	want := newJob(t, "https://example.com")
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Put(want)
	}()

	j, err := q.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.Same(t, want, j)
}

func TestLazyCloseStopsSource(t *testing.T) {
	t.Parallel()

	stopped := make(chan struct{})
	src := func(yield func(*job.Request) bool) {
		defer close(stopped)
		for {
			if !yield(&job.Request{URL: "https://example.com"}) {
				return
			}
		}
	}
	q := NewLazy(src)
	require.NotNil(t, q.TryPoll())
	require.NoError(t, q.Close())

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("source was not stopped")
	}
	require.Nil(t, q.TryPoll())
}
