package redissource

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlengine/internal/job"
)

// fakeList is an in-memory Redis list.
type fakeList struct {
	mu     sync.Mutex
	items  map[string][]string
	popErr error
	pops   int
}

func newFakeList() *fakeList {
	return &fakeList{items: make(map[string][]string)}
}

func (f *fakeList) LPop(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pops++
	if f.popErr != nil {
		return redis.NewStringResult("", f.popErr)
	}
	list := f.items[key]
	if len(list) == 0 {
		return redis.NewStringResult("", redis.Nil)
	}
	head := list[0]
	f.items[key] = list[1:]
	return redis.NewStringResult(head, nil)
}

func (f *fakeList) RPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		s, _ := v.(string)
		f.items[key] = append(f.items[key], s)
	}
	return redis.NewIntResult(int64(len(f.items[key])), nil)
}

func collect(seq func(func(*job.Request) bool)) []string {
	var out []string
	for req := range seq {
		out = append(out, req.URL)
	}
	return out
}

func TestPushThenSeq(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeList()
	n, err := Push(ctx, client, "requests",
		job.Submission{URL: "https://a.example"},
		job.Submission{URL: "https://b.example", Method: "POST", Body: "x"},
	)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	var reqs []*job.Request
	for req := range Seq(ctx, client, "requests", nil) {
		reqs = append(reqs, req)
	}
	require.Len(t, reqs, 2)
	require.Equal(t, "https://a.example", reqs[0].URL)
	require.Equal(t, "POST", reqs[1].Method)
	require.Equal(t, []byte("x"), reqs[1].Body)
}

func TestSeqSkipsMalformedEntries(t *testing.T) {
	t.Parallel()

	client := newFakeList()
	client.items["k"] = []string{
		`{"url":"https://ok.example/1"}`,
		`not json`,
		`{"url":"ftp://bad.example"}`,
		`{"url":"https://ok.example/2"}`,
	}
	got := collect(Seq(context.Background(), client, "k", nil))
	require.Equal(t, []string{"https://ok.example/1", "https://ok.example/2"}, got)
}

func TestSeqStopsOnRedisError(t *testing.T) {
	t.Parallel()

	client := newFakeList()
	client.items["k"] = []string{`{"url":"https://ok.example"}`}
	client.popErr = errors.New("connection refused")
	require.Empty(t, collect(Seq(context.Background(), client, "k", nil)))
}

func TestSeqStopsWhenConsumerStops(t *testing.T) {
	t.Parallel()

	client := newFakeList()
	_, err := Push(context.Background(), client, "k",
		job.Submission{URL: "https://a.example"}, job.Submission{URL: "https://b.example"})
	require.NoError(t, err)

	for range Seq(context.Background(), client, "k", nil) {
		break
	}
	require.Equal(t, 1, client.pops)
	require.Len(t, client.items["k"], 1)
}

func TestSeqHonorsContext(t *testing.T) {
	t.Parallel()

	client := newFakeList()
	client.items["k"] = []string{`{"url":"https://a.example"}`}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Empty(t, collect(Seq(ctx, client, "k", nil)))
	require.Zero(t, client.pops)
}

func TestPushRejectsInvalidSubmission(t *testing.T) {
	t.Parallel()

	client := newFakeList()
	_, err := Push(context.Background(), client, "k", job.Submission{URL: "nope"})
	require.ErrorIs(t, err, job.ErrInvalidURL)
	require.Empty(t, client.items["k"])

	n, err := Push(context.Background(), client, "k")
	require.NoError(t, err)
	require.Zero(t, n)
}
