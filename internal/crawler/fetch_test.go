package crawler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlengine/internal/job"
)

// MockSyncFetcher is a mock implementation of the SyncFetcher interface.
type MockSyncFetcher struct {
	mock.Mock
}

func (m *MockSyncFetcher) Fetch(ctx context.Context, req job.FetchRequest) (*job.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*job.Response)
	return resp, args.Error(1)
}

// blockingFetcher waits for its context, counting closes.
type blockingFetcher struct {
	closes atomic.Int32
}

func (b *blockingFetcher) Fetch(ctx context.Context, _ job.FetchRequest) (*job.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingFetcher) Close() error {
	b.closes.Add(1)
	return nil
}

func fetchReq(url string) job.FetchRequest {
	return job.FetchRequest{Request: &job.Request{URL: url}, JobID: "j", Attempt: 1, MaxTries: 3}
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("completion was not delivered")
		return Result{}
	}
}

func TestAsyncDeliversSuccessAndFailure(t *testing.T) {
	t.Parallel()

	m := new(MockSyncFetcher)
	resp := &job.Response{URL: "https://example.com/ok", StatusCode: 200}
	m.On("Fetch", mock.Anything, mock.MatchedBy(func(r job.FetchRequest) bool {
		return r.URL == "https://example.com/ok"
	})).Return(resp, nil)
	m.On("Fetch", mock.Anything, mock.MatchedBy(func(r job.FetchRequest) bool {
		return r.URL == "https://example.com/bad"
	})).Return(nil, errors.New("dial tcp: refused"))

	a := Async(m)
	results := make(chan Result, 2)

	_, err := a.Fetch(context.Background(), fetchReq("https://example.com/ok"), func(r Result) { results <- r })
	require.NoError(t, err)
	got := await(t, results)
	require.Equal(t, OutcomeSuccess, got.Kind)
	require.Same(t, resp, got.Response)

	_, err = a.Fetch(context.Background(), fetchReq("https://example.com/bad"), func(r Result) { results <- r })
	require.NoError(t, err)
	got = await(t, results)
	require.Equal(t, OutcomeFailure, got.Kind)
	require.EqualError(t, got.Err, "dial tcp: refused")

	require.NoError(t, a.Close())
	m.AssertExpectations(t)
	_, err = a.Fetch(context.Background(), fetchReq("https://example.com/ok"), func(Result) {})
	require.Error(t, err)
}

func TestAsyncCancelYieldsCancelled(t *testing.T) {
	t.Parallel()

	b := &blockingFetcher{}
	a := Async(b)
	results := make(chan Result, 1)
	h, err := a.Fetch(context.Background(), fetchReq("https://example.com"), func(r Result) { results <- r })
	require.NoError(t, err)

	h.Cancel()
	require.Equal(t, OutcomeCancelled, await(t, results).Kind)
	require.NoError(t, a.Close())
	require.EqualValues(t, 1, b.closes.Load())
	// Closing twice does not close the wrapped fetcher again.
	require.NoError(t, a.Close())
	require.EqualValues(t, 1, b.closes.Load())
}

func TestAsyncInterruptCancelsEverything(t *testing.T) {
	t.Parallel()

	a := Async(&blockingFetcher{})
	results := make(chan Result, 3)
	for range 3 {
		_, err := a.Fetch(context.Background(), fetchReq("https://example.com"), func(r Result) { results <- r })
		require.NoError(t, err)
	}

	a.Interrupt()
	for range 3 {
		require.Equal(t, OutcomeCancelled, await(t, results).Kind)
	}
	require.NoError(t, a.Close())
}

func TestAsyncRequiresCallback(t *testing.T) {
	t.Parallel()

	a := Async(&blockingFetcher{})
	_, err := a.Fetch(context.Background(), fetchReq("https://example.com"), nil)
	require.Error(t, err)
	require.NoError(t, a.Close())
}

func TestCrawlerWithAsyncFetcher(t *testing.T) {
	t.Parallel()

	m := new(MockSyncFetcher)
	m.On("Fetch", mock.Anything, mock.Anything).Return(&job.Response{StatusCode: 200, Body: []byte("<html/>")}, nil)
	c := newTestCrawler(t, testConfig(), Async(m))
	h := &recorder{}
	_, err := c.Scheduler().AddURL("https://example.com", job.WithHandler(h))
	require.NoError(t, err)

	require.NoError(t, c.Start())
	require.NoError(t, c.Close())
	require.Equal(t, []string{"https://example.com"}, h.seen())
	m.AssertNumberOfCalls(t, "Fetch", 1)
}
