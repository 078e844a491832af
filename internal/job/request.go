package job

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Pacer yields the delay to keep between two consecutive dispatches.
type Pacer interface {
	Delay() time.Duration
}

// Request describes what to fetch. It is owned by the caller and never mutated
// by the engine; per-attempt variations are made on copies.
type Request struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
	// Proxy pins the attempt to a proxy URL; empty means the fetcher's ambient choice.
	Proxy string
	// Pacer overrides the crawler's pacing policy for this request when set.
	Pacer Pacer
}

// NewRequest builds a GET request for rawURL after checking it is an absolute http(s) URL.
func NewRequest(rawURL string) (*Request, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	return &Request{URL: rawURL, Method: http.MethodGet}, nil
}

// WithoutProxy returns a shallow copy of r with the pinned proxy cleared.
func (r *Request) WithoutProxy() *Request {
	cp := *r
	cp.Proxy = ""
	return &cp
}

// HTTPMethod returns the request method, defaulting to GET.
func (r *Request) HTTPMethod() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return nil
}

// FetchRequest is one attempt at a Request, annotated with retry metadata.
type FetchRequest struct {
	*Request
	JobID    string
	Attempt  int
	MaxTries int
}

// Response is the page returned by a successful fetch.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	Proxy      string
}
