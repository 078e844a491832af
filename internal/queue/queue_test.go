package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlengine/internal/job"
)

func newJob(t *testing.T, rawURL string, opts ...job.Option) *job.Job {
	t.Helper()
	req, err := job.NewRequest(rawURL)
	require.NoError(t, err)
	j, err := job.New(req, opts...)
	require.NoError(t, err)
	return j
}

func TestPriorityQueueYieldsMostUrgentFirst(t *testing.T) {
	t.Parallel()

	q := NewPriority()
	for _, p := range []job.Priority{job.High, job.Highest, job.Normal, job.Low} {
		require.NoError(t, q.Put(newJob(t, "https://example.com/"+p.String(), job.WithPriority(p))))
	}

	got := make([]job.Priority, 0, 4)
	for !q.IsEmpty() {
		got = append(got, q.TryPoll().Priority())
	}
	require.Equal(t, []job.Priority{job.Highest, job.High, job.Normal, job.Low}, got)
}

func TestPriorityQueueBreaksTiesInInsertionOrder(t *testing.T) {
	t.Parallel()

	q := NewPriority()
	first := newJob(t, "https://example.com/a")
	second := newJob(t, "https://example.com/b")
	require.NoError(t, q.Put(first))
	require.NoError(t, q.Put(second))

	require.Same(t, first, q.Peek())
	require.Same(t, first, q.TryPoll())
	require.Same(t, second, q.TryPoll())
	require.Nil(t, q.TryPoll())
}

func TestPriorityQueueRemoveAndReinsertReranks(t *testing.T) {
	t.Parallel()

	q := NewPriority()
	retried := newJob(t, "https://example.com/retry", job.WithPriority(job.High), job.WithFloor(job.Lowest))
	other := newJob(t, "https://example.com/other", job.WithPriority(job.High))
	require.NoError(t, q.Put(retried))
	require.NoError(t, q.Put(other))

	require.True(t, q.Remove(retried))
	require.False(t, q.Remove(retried))
	retried.PrepareForRetry()
	require.NoError(t, q.Put(retried))

	require.Same(t, other, q.TryPoll())
	require.Same(t, retried, q.TryPoll())
	require.Equal(t, job.Normal, retried.Priority())
	require.Equal(t, 2, retried.Attempts())
}

func TestPriorityQueueRejectsDuplicatesAndNil(t *testing.T) {
	t.Parallel()

	q := NewPriority()
	j := newJob(t, "https://example.com")
	require.NoError(t, q.Put(j))
	require.ErrorIs(t, q.Put(j), ErrAlreadyQueued)
	require.ErrorIs(t, q.Put(nil), ErrNilJob)
	require.Equal(t, 1, q.Len())
}

func TestFIFOIgnoresPriority(t *testing.T) {
	t.Parallel()

	q := NewFIFO()
	low := newJob(t, "https://example.com/low", job.WithPriority(job.Lowest))
	high := newJob(t, "https://example.com/high", job.WithPriority(job.Highest))
	require.NoError(t, q.Put(low))
	require.NoError(t, q.Put(high))
	require.Equal(t, 2, q.Len())

	require.Same(t, low, q.TryPoll())
	require.True(t, q.Remove(high))
	require.True(t, q.IsEmpty())
}

func TestPollTimesOutWithoutJob(t *testing.T) {
	t.Parallel()

	q := NewPriority()
	start := time.Now()
	j, err := q.Poll(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, j)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTakeWakesOnPut(t *testing.T) {
	t.Parallel()

	q := NewFIFO()
	want := newJob(t, "https://example.com")
	got := make(chan *job.Job, 1)
	go func() {
		j, err := q.Take(context.Background())
		if err == nil {
			got <- j
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Put(want))
	select {
	case j := <-got:
		require.Same(t, want, j)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake up")
	}
}

func TestTakeHonorsContextAndClose(t *testing.T) {
	t.Parallel()

	q := NewPriority()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Take(ctx)
	require.ErrorIs(t, err, context.Canceled)

	queued := newJob(t, "https://example.com")
	require.NoError(t, q.Put(queued))
	require.NoError(t, q.Close())
	require.ErrorIs(t, q.Put(newJob(t, "https://example.com/late")), ErrClosed)

	j, err := q.Take(context.Background())
	require.NoError(t, err)
	require.Same(t, queued, j)
	_, err = q.Take(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentProducersAndConsumers(t *testing.T) {
	t.Parallel()

	q := NewPriority()
	const producers, perProducer = 4, 50
	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perProducer {
				req := &job.Request{URL: "https://example.com"}
				j, err := job.New(req)
				if err == nil {
					_ = q.Put(j)
				}
			}
		}()
	}

	seen := make(chan *job.Job, producers*perProducer)
	var consumers sync.WaitGroup
	for range 3 {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				j, err := q.Poll(context.Background(), 50*time.Millisecond)
				if err != nil || j == nil {
					return
				}
				seen <- j
			}
		}()
	}
	wg.Wait()
	consumers.Wait()
	close(seen)

	unique := make(map[*job.Job]struct{})
	for j := range seen {
		unique[j] = struct{}{}
	}
	require.Len(t, unique, producers*perProducer)
}
