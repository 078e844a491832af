// Package collyfetcher implements the crawler's blocking fetch on gocolly.
// Wrap it with crawler.Async to plug it into the dispatch engine.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/job"
	"github.com/JakeFAU/crawlengine/internal/metrics"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// StopCodes are statuses that end a job without retry.
	StopCodes []int
	// MaxBodySize caps the body read; zero keeps colly's default.
	MaxBodySize int
}

// Fetcher performs one attempt per call on a fresh collector. Transports are
// shared per proxy so connections are pooled across attempts.
type Fetcher struct {
	cfg       Config
	stopCodes map[int]struct{}
	logger    *zap.Logger

	mu         sync.Mutex
	base       *http.Transport
	transports map[string]*http.Transport
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	metrics.Init()
	stop := make(map[int]struct{}, len(cfg.StopCodes))
	for _, code := range cfg.StopCodes {
		stop[code] = struct{}{}
	}
	return &Fetcher{
		cfg:        cfg,
		stopCodes:  stop,
		logger:     logger,
		base:       newHTTPTransport(),
		transports: make(map[string]*http.Transport),
	}
}

// Fetch executes a single attempt for request.
func (f *Fetcher) Fetch(ctx context.Context, request job.FetchRequest) (*job.Response, error) {
	if request.Request == nil {
		return nil, job.ErrNilRequest
	}
	transport, err := f.transportFor(request.Proxy)
	if err != nil {
		return nil, err
	}

	var (
		result   *job.Response
		fetchErr error
	)
	collector := f.buildCollector(ctx, transport)
	f.configureCollectorHooks(collector, request, time.Now(), &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request, &fetchErr); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("colly fetch produced no response for %s", request.URL)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, transport http.RoundTripper) *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	if f.cfg.MaxBodySize > 0 {
		collector.MaxBodySize = f.cfg.MaxBodySize
	}
	if f.cfg.RespectRobots {
		transport = newRobotsTransport(transport, f.logger)
	}
	collector.WithTransport(&contextTransport{base: transport, ctx: ctx})
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request job.FetchRequest,
	start time.Time,
	result **job.Response,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		if f.isStopCode(r.StatusCode) {
			*fetchErr = &job.StopError{URL: request.URL, StatusCode: r.StatusCode}
			return
		}
		resp := &job.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
			Proxy:      request.Proxy,
		}
		if r.Headers != nil {
			resp.Header = r.Headers.Clone()
		}
		*result = resp
	})

	hooks.OnError(func(r *colly.Response, err error) {
		switch {
		case r != nil && f.isStopCode(r.StatusCode):
			*fetchErr = &job.StopError{URL: request.URL, StatusCode: r.StatusCode}
		case r != nil && r.StatusCode != 0:
			*fetchErr = &job.StatusError{URL: request.URL, StatusCode: r.StatusCode}
		default:
			*fetchErr = err
		}
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	request job.FetchRequest,
	fetchErr *error,
) error {
	var body io.Reader
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(request.HTTPMethod(), request.URL, body, nil, request.Header.Clone())
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return &job.StopError{URL: request.URL, Reason: "disallowed by robots.txt"}
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) isStopCode(code int) bool {
	_, ok := f.stopCodes[code]
	return ok
}

// transportFor returns the pooled transport for proxy, creating it on first use.
func (f *Fetcher) transportFor(proxy string) (*http.Transport, error) {
	if proxy == "" {
		return f.base, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.transports[proxy]; ok {
		return t, nil
	}
	u, err := url.Parse(proxy)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q", proxy)
	}
	t := newHTTPTransport()
	t.Proxy = http.ProxyURL(u)
	f.transports[proxy] = t
	return t, nil
}

// Close drops idle pooled connections.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.base.CloseIdleConnections()
	for _, t := range f.transports {
		t.CloseIdleConnections()
	}
	return nil
}

// contextTransport binds every request of one fetch to the fetch context so
// cancelling the attempt aborts the connection.
type contextTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, fmt.Errorf("roundtrip: %w", err)
	}
	return resp, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
