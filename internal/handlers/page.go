// Package handlers holds the page handlers the CLI registers on the crawler.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/hash/sha256"
	"github.com/JakeFAU/crawlengine/internal/job"
	"github.com/JakeFAU/crawlengine/internal/storage"
	"github.com/JakeFAU/crawlengine/internal/worker"
)

// Hasher turns a URL into a stable storage key.
type Hasher interface {
	HashString(s string) string
}

// Options tunes PageHandler.
type Options struct {
	// FollowLinks enqueues anchors found in HTML pages.
	FollowLinks bool
	// SameHost restricts followed links to the host of the page they were found on.
	SameHost bool
	// MaxPages caps how many distinct URLs the handler will ever enqueue. Zero means no cap.
	MaxPages int
	Hasher   Hasher
	Logger   *zap.Logger
}

// PageHandler stores every fetched body and optionally expands the crawl by
// following links.
type PageHandler struct {
	store  storage.BlobStore
	hasher Hasher
	opts   Options
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewPageHandler builds a PageHandler writing to store.
func NewPageHandler(store storage.BlobStore, opts Options) (*PageHandler, error) {
	if store == nil {
		return nil, errors.New("page handler: store is required")
	}
	if opts.Hasher == nil {
		opts.Hasher = sha256.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &PageHandler{
		store:  store,
		hasher: opts.Hasher,
		opts:   opts,
		logger: opts.Logger.Named("handler"),
		seen:   make(map[string]struct{}),
	}, nil
}

// MarkSeen records rawURL as already enqueued, so links back to seeds are skipped.
func (h *PageHandler) MarkSeen(rawURL string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[normalize(rawURL)] = struct{}{}
}

// Handle implements job.Handler. Links are followed before Handle returns so
// the crawler sees them queued while this job is still in flight; the page
// write goes to the worker when one is available.
func (h *PageHandler) Handle(
	ctx context.Context,
	req *job.Request,
	resp *job.Response,
	enq job.Enqueuer,
	_ job.Session,
	w *worker.Worker,
) error {
	key, err := h.Key(resp.URL)
	if err != nil {
		return err
	}
	if h.opts.FollowLinks && enq != nil && isHTML(resp) {
		if err := h.follow(req, resp, enq); err != nil {
			return err
		}
	}

	if w != nil {
		_, err := w.Submit(func(taskCtx context.Context) error {
			if err := h.persist(taskCtx, key, resp); err != nil {
				h.logger.Error("store page failed", zap.String("url", resp.URL), zap.Error(err))
				return err
			}
			return nil
		})
		if err == nil {
			return nil
		}
		h.logger.Debug("worker unavailable, storing inline", zap.Error(err))
	}
	return h.persist(ctx, key, resp)
}

func (h *PageHandler) persist(ctx context.Context, key string, resp *job.Response) error {
	uri, err := h.store.PutObject(ctx, key, resp.Header.Get("Content-Type"), bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("store page %s: %w", resp.URL, err)
	}
	h.logger.Info("page stored",
		zap.String("url", resp.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration),
		zap.String("uri", uri),
	)
	return nil
}

// Key returns "<host>/<sha256(url)>.html" for rawURL.
func (h *PageHandler) Key(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("page key for %q: %w", rawURL, job.ErrInvalidURL)
	}
	host := strings.ReplaceAll(strings.ToLower(u.Host), ":", "_")
	return path.Join(host, h.hasher.HashString(rawURL)+".html"), nil
}

func (h *PageHandler) follow(req *job.Request, resp *job.Response, enq job.Enqueuer) error {
	base, err := url.Parse(resp.URL)
	if err != nil {
		return fmt.Errorf("parse page url: %w", err)
	}
	links, err := ExtractLinks(base, resp.Body)
	if err != nil {
		return err
	}
	added := 0
	for _, link := range links {
		if h.opts.SameHost && !strings.EqualFold(link.Host, base.Host) {
			continue
		}
		if !h.claim(link.String()) {
			continue
		}
		next := &job.Request{URL: link.String(), Proxy: req.Proxy, Pacer: req.Pacer}
		if _, err := enq.Add(next, job.WithPriority(job.Low), job.WithFloor(job.Lowest)); err != nil {
			return fmt.Errorf("enqueue %s: %w", next.URL, err)
		}
		added++
	}
	if added > 0 {
		h.logger.Debug("links enqueued", zap.String("url", resp.URL), zap.Int("count", added))
	}
	return nil
}

// claim reserves rawURL for enqueueing; false when already seen or over budget.
func (h *PageHandler) claim(rawURL string) bool {
	key := normalize(rawURL)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[key]; ok {
		return false
	}
	if h.opts.MaxPages > 0 && len(h.seen) >= h.opts.MaxPages {
		return false
	}
	h.seen[key] = struct{}{}
	return true
}

// ExtractLinks returns the absolute http(s) anchors in body resolved against base.
// Fragments are stripped and duplicates removed, preserving document order.
func ExtractLinks(base *url.URL, body []byte) ([]*url.URL, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var (
		out  []*url.URL
		seen = make(map[string]struct{})
	)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		key := abs.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, abs)
	})
	return out, nil
}

func isHTML(resp *job.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return ct == "" || strings.Contains(strings.ToLower(ct), "html")
}

func normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
