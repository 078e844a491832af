package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlengine/internal/job"
	"github.com/JakeFAU/crawlengine/internal/storage/memory"
	"github.com/JakeFAU/crawlengine/internal/worker"
)

type recordingEnqueuer struct {
	mu   sync.Mutex
	reqs []*job.Request
	err  error
}

func (e *recordingEnqueuer) Add(req *job.Request, opts ...job.Option) (*job.Job, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	e.reqs = append(e.reqs, req)
	e.mu.Unlock()
	return job.New(req, opts...)
}

func (e *recordingEnqueuer) urls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.reqs))
	for _, r := range e.reqs {
		out = append(out, r.URL)
	}
	return out
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

const page = `<html><body>
<a href="/a">a</a>
<a href="/a#frag">a again</a>
<a href="https://other.test/x">other</a>
<a href="mailto:me@example.test">mail</a>
<a href="b?q=1">b</a>
</body></html>`

func htmlResponse(rawURL string) *job.Response {
	return &job.Response{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(page),
	}
}

func TestHandleStoresBody(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	h, err := NewPageHandler(store, Options{})
	require.NoError(t, err)

	req, err := job.NewRequest("https://Example.test:8443/index")
	require.NoError(t, err)
	resp := htmlResponse(req.URL)
	require.NoError(t, h.Handle(context.Background(), req, resp, nil, nil, nil))

	key, err := h.Key(req.URL)
	require.NoError(t, err)
	require.Regexp(t, `^example\.test_8443/[0-9a-f]{64}\.html$`, key)
	body, ok := store.Get(key)
	require.True(t, ok)
	require.Equal(t, page, string(body))
}

func TestHandleStoreError(t *testing.T) {
	t.Parallel()

	h, err := NewPageHandler(failingStore{}, Options{})
	require.NoError(t, err)
	req, _ := job.NewRequest("https://example.test/")
	err = h.Handle(context.Background(), req, htmlResponse(req.URL), nil, nil, nil)
	require.ErrorContains(t, err, "disk full")
}

func TestNewPageHandlerRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := NewPageHandler(nil, Options{})
	require.Error(t, err)
}

func TestHandleFollowsLinksInline(t *testing.T) {
	t.Parallel()

	h, err := NewPageHandler(memory.NewBlobStore(), Options{FollowLinks: true, SameHost: true})
	require.NoError(t, err)
	enq := &recordingEnqueuer{}
	req, _ := job.NewRequest("https://example.test/dir/")
	h.MarkSeen(req.URL)

	require.NoError(t, h.Handle(context.Background(), req, htmlResponse(req.URL), enq, nil, nil))
	require.Equal(t, []string{"https://example.test/a", "https://example.test/dir/b?q=1"}, enq.urls())

	// A second visit yields nothing new.
	require.NoError(t, h.Handle(context.Background(), req, htmlResponse(req.URL), enq, nil, nil))
	require.Len(t, enq.urls(), 2)
}

func TestHandleStoresOnWorker(t *testing.T) {
	t.Parallel()

	mgr := worker.NewManager(1, nil)
	store := memory.NewBlobStore()
	h, err := NewPageHandler(store, Options{FollowLinks: true, MaxPages: 2})
	require.NoError(t, err)
	enq := &recordingEnqueuer{}
	req, _ := job.NewRequest("https://example.test/")

	require.NoError(t, h.Handle(context.Background(), req, htmlResponse(req.URL), enq, nil, mgr.Worker()))
	// Links are queued before Handle returns.
	require.Equal(t, []string{"https://example.test/a", "https://other.test/x"}, enq.urls())

	require.NoError(t, mgr.Close(context.Background()))
	key, err := h.Key(req.URL)
	require.NoError(t, err)
	_, ok := store.Get(key)
	require.True(t, ok)
}

func TestHandleFallsBackInlineWhenWorkerClosed(t *testing.T) {
	t.Parallel()

	mgr := worker.NewManager(1, nil)
	require.NoError(t, mgr.Close(context.Background()))

	h, err := NewPageHandler(failingStore{}, Options{})
	require.NoError(t, err)
	req, _ := job.NewRequest("https://example.test/")
	err = h.Handle(context.Background(), req, htmlResponse(req.URL), nil, nil, mgr.Worker())
	require.ErrorContains(t, err, "disk full")
}

func TestHandleSkipsNonHTML(t *testing.T) {
	t.Parallel()

	h, err := NewPageHandler(memory.NewBlobStore(), Options{FollowLinks: true})
	require.NoError(t, err)
	enq := &recordingEnqueuer{}
	req, _ := job.NewRequest("https://example.test/data.json")
	resp := htmlResponse(req.URL)
	resp.Header.Set("Content-Type", "application/json")

	require.NoError(t, h.Handle(context.Background(), req, resp, enq, nil, nil))
	require.Empty(t, enq.urls())
}

func TestHandlePropagatesEnqueueError(t *testing.T) {
	t.Parallel()

	h, err := NewPageHandler(memory.NewBlobStore(), Options{FollowLinks: true})
	require.NoError(t, err)
	enq := &recordingEnqueuer{err: errors.New("queue closed")}
	req, _ := job.NewRequest("https://example.test/")

	err = h.Handle(context.Background(), req, htmlResponse(req.URL), enq, nil, nil)
	require.ErrorContains(t, err, "queue closed")
}

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.test/dir/page")
	require.NoError(t, err)
	links, err := ExtractLinks(base, []byte(page))
	require.NoError(t, err)

	got := make([]string, 0, len(links))
	for _, l := range links {
		got = append(got, l.String())
	}
	require.Equal(t, []string{
		"https://example.test/a",
		"https://other.test/x",
		"https://example.test/dir/b?q=1",
	}, got)
}

func TestKeyRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	h, err := NewPageHandler(memory.NewBlobStore(), Options{})
	require.NoError(t, err)
	_, err = h.Key("/relative")
	require.ErrorIs(t, err, job.ErrInvalidURL)
}
