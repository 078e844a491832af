// Package app initializes and holds the long-lived services of a crawl run,
// acting as the dependency injection container behind the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawlengine/internal/api"
	"github.com/JakeFAU/crawlengine/internal/config"
	"github.com/JakeFAU/crawlengine/internal/crawler"
	collyfetcher "github.com/JakeFAU/crawlengine/internal/fetcher/colly"
	"github.com/JakeFAU/crawlengine/internal/handlers"
	"github.com/JakeFAU/crawlengine/internal/job"
	"github.com/JakeFAU/crawlengine/internal/policy/ratelimit"
	"github.com/JakeFAU/crawlengine/internal/queue"
	redissource "github.com/JakeFAU/crawlengine/internal/source/redis"
	"github.com/JakeFAU/crawlengine/internal/storage"
	"github.com/JakeFAU/crawlengine/internal/storage/local"
	"github.com/JakeFAU/crawlengine/internal/worker"
)

// App holds the shared services for one crawl run.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	crawler *crawler.Crawler
	queue   queue.Queue
	workers *worker.Manager
	handler *handlers.PageHandler
	server  *api.Server

	redis        io.Closer
	sourceCancel context.CancelFunc
}

// Option customizes App construction. Mostly useful in tests.
type Option func(*options)

type options struct {
	fetcher crawler.Fetcher
	store   storage.BlobStore
	source  redissource.ListClient
}

// WithFetcher replaces the colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithStore replaces the local page store.
func WithStore(s storage.BlobStore) Option {
	return func(o *options) { o.store = s }
}

// WithBacklog supplies the list client used by the lazy queue instead of dialing Redis.
func WithBacklog(c redissource.ListClient) Option {
	return func(o *options) { o.source = c }
}

// New wires the crawler and its collaborators from cfg. It fails fast if any
// backing service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger}

	store := o.store
	if store == nil {
		s, err := local.New(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		store = s
	}
	hopts := cfg.HandlerOptions()
	hopts.Logger = logger
	handler, err := handlers.NewPageHandler(store, hopts)
	if err != nil {
		return nil, fmt.Errorf("init handler: %w", err)
	}
	a.handler = handler

	if err := a.buildQueue(ctx, o.source); err != nil {
		return nil, err
	}

	router := crawler.NewPatternRouter()
	router.Fallback(handler)

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = crawler.Async(collyfetcher.New(cfg.FetcherOptions(), logger.Named("fetcher")))
	}

	a.workers = worker.NewManager(cfg.Workers.Size, logger.Named("workers"))
	copts := []crawler.Option{
		crawler.WithQueue(a.queue),
		crawler.WithRouter(router),
		crawler.WithWorkerManager(a.workers),
		crawler.WithSession(job.NewSession(map[string]any{"user_agent": cfg.Fetcher.UserAgent})),
		crawler.WithLogger(logger),
	}
	if rl, on := cfg.RateLimit(); on {
		copts = append(copts, crawler.WithHostLimiter(ratelimit.New(rl)))
	}
	c, err := crawler.New(cfg.Engine(), fetcher, copts...)
	if err != nil {
		_ = a.workers.Close(context.Background())
		_ = a.release()
		return nil, fmt.Errorf("init crawler: %w", err)
	}
	a.crawler = c

	if cfg.Server.Enabled {
		a.server = api.NewServer(c, c.Scheduler(), cfg.API(), logger)
	}
	return a, nil
}

func (a *App) buildQueue(ctx context.Context, client redissource.ListClient) error {
	switch a.cfg.Crawler.Queue {
	case config.QueueFIFO:
		a.queue = queue.NewFIFO()
	case config.QueueLazy:
		if client == nil {
			rc, err := redissource.NewClient(ctx, a.cfg.Redis)
			if err != nil {
				return fmt.Errorf("init backlog: %w", err)
			}
			a.redis = rc
			client = rc
		}
		srcCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.sourceCancel = cancel
		seq := redissource.Seq(srcCtx, client, a.cfg.Redis.Key, a.logger)
		a.queue = queue.NewLazy(seq, queue.WithLogger(a.logger.Named("queue")))
		a.logger.Info("using redis backlog", zap.String("addr", a.cfg.Redis.Addr), zap.String("key", a.cfg.Redis.Key))
	default:
		a.queue = queue.NewPriority()
	}
	return nil
}

// Crawler returns the dispatch engine.
func (a *App) Crawler() *crawler.Crawler { return a.crawler }

// Handler returns the default page handler.
func (a *App) Handler() *handlers.PageHandler { return a.handler }

// Seed queues urls at high priority and returns how many were accepted.
// Invalid URLs are logged and skipped.
func (a *App) Seed(urls []string) int {
	n := 0
	for _, raw := range urls {
		req, err := job.NewRequest(raw)
		if err != nil {
			a.logger.Warn("skipping seed", zap.String("url", raw), zap.Error(err))
			continue
		}
		a.handler.MarkSeen(raw)
		if _, err := a.crawler.Scheduler().Add(req, job.WithPriority(job.High)); err != nil {
			a.logger.Warn("seed rejected", zap.String("url", raw), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// Run starts the engine and blocks until it has closed. Without the API the
// crawl drains and exits once the queue is empty. With the API it keeps
// serving until ctx ends or a signal arrives. The first signal starts a
// graceful close; a signal received while closing interrupts.
func (a *App) Run(ctx context.Context, signals <-chan os.Signal) error {
	if err := a.crawler.Start(); err != nil {
		return fmt.Errorf("start crawler: %w", err)
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	var g errgroup.Group
	if a.server != nil {
		g.Go(func() error { return a.server.ListenAndServe(serveCtx, a.cfg.Addr()) })
	}

	var closing atomic.Bool
	closed := make(chan error, 1)
	startClose := func(reason string) {
		if closing.CompareAndSwap(false, true) {
			a.logger.Info("closing crawler", zap.String("reason", reason))
			go func() { closed <- a.crawler.Close() }()
		}
	}
	if a.server == nil {
		startClose("batch mode")
	}

	done := ctx.Done()
	var runErr error
	for {
		select {
		case sig := <-signals:
			if closing.Load() {
				a.logger.Warn("interrupting crawler", zap.Stringer("signal", sig))
				go a.interrupt()
				continue
			}
			startClose(sig.String())
		case <-done:
			done = nil
			startClose("context done")
		case err := <-closed:
			runErr = err
			stopServe()
			if err := g.Wait(); err != nil {
				runErr = errors.Join(runErr, err)
			}
			a.logger.Info("crawl finished", zap.Any("stats", a.crawler.Stats()))
			return runErr
		}
	}
}

func (a *App) interrupt() {
	a.workers.Interrupt()
	if err := a.crawler.InterruptAndClose(); err != nil {
		a.logger.Warn("interrupt crawler", zap.Error(err))
	}
}

// Close releases resources the crawler does not own. Call it after Run.
func (a *App) Close() error {
	var errs []error
	if a.crawler != nil {
		if err := a.crawler.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.workers.Close(context.Background()); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, a.release())
	return errors.Join(errs...)
}

func (a *App) release() error {
	var errs []error
	if a.sourceCancel != nil {
		a.sourceCancel()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
