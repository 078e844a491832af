package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/crawlengine/internal/job"
	"github.com/JakeFAU/crawlengine/internal/metrics"
	"github.com/JakeFAU/crawlengine/internal/queue"
	"github.com/JakeFAU/crawlengine/internal/scheduler"
	"github.com/JakeFAU/crawlengine/internal/worker"
)

// HostLimiter throttles dispatches per host. *ratelimit.Limiter satisfies it.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Queued       int   `json:"queued"`
	InFlight     int   `json:"in_flight"`
	PermitsInUse int64 `json:"permits_in_use"`
	Dispatched   int64 `json:"dispatched"`
	Handled      int64 `json:"handled"`
	Retried      int64 `json:"retried"`
	Dropped      int64 `json:"dropped"`
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithQueue sets the job queue. The caller keeps ownership and closes it.
func WithQueue(q queue.Queue) Option {
	return func(c *Crawler) {
		if q != nil {
			c.queue = q
			c.ownsQueue = false
		}
	}
}

// WithRouter sets the router consulted for jobs without a handler.
func WithRouter(r job.Router) Option {
	return func(c *Crawler) { c.router = r }
}

// WithSession sets the session passed to every handler.
func WithSession(s job.Session) Option {
	return func(c *Crawler) { c.session = s }
}

// WithWorkerManager hands handlers a caller-owned manager instead of an engine-owned one.
func WithWorkerManager(m *worker.Manager) Option {
	return func(c *Crawler) {
		if m != nil {
			c.manager = m
			c.ownsManager = false
		}
	}
}

// WithHostLimiter applies l after the pacing delay.
func WithHostLimiter(l HostLimiter) Option {
	return func(c *Crawler) { c.limiter = l }
}

// WithPacer replaces the pacer derived from the configured delay range.
func WithPacer(p job.Pacer) Option {
	return func(c *Crawler) { c.pacer = p }
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// dispatch is the registry entry for one in-flight attempt.
type dispatch struct {
	job *job.Job
	// registered is closed once the fetch handle is recorded.
	registered chan struct{}
	// handle and cancelRequested are guarded by Crawler.mu.
	handle          Handle
	cancelRequested bool

	permitOnce sync.Once
	completed  atomic.Bool
}

// Crawler is the dispatch engine.
type Crawler struct {
	cfg     Config
	fetcher Fetcher
	logger  *zap.Logger

	queue       queue.Queue
	ownsQueue   bool
	scheduler   *scheduler.Scheduler
	router      job.Router
	session     job.Session
	manager     *worker.Manager
	ownsManager bool
	limiter     HostLimiter
	pacer       job.Pacer

	gate    *semaphore.Weighted
	permits atomic.Int64
	pool    *worker.Pool

	// mu guards inflight and makes registry changes, retry re-insertion, and
	// the drain check mutually exclusive.
	mu       sync.Mutex
	inflight map[*job.Job]*dispatch

	// lastDispatch is only touched by the loop goroutine.
	lastDispatch time.Time

	loopCtx     context.Context
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	started     atomic.Bool
	exit        atomic.Bool
	interrupted atomic.Bool
	closed      atomic.Bool
	closeDone   chan struct{}

	dispatched atomic.Int64
	handled    atomic.Int64
	retried    atomic.Int64
	dropped    atomic.Int64
}

// New validates cfg and builds an engine around fetcher. Unless overridden by
// options it uses a priority queue and an engine-owned worker manager, both
// released on Close.
func New(cfg Config, fetcher Fetcher, opts ...Option) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidConfig)
	}
	metrics.Init()

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c := &Crawler{
		cfg:        cfg,
		fetcher:    fetcher,
		logger:     zap.NewNop(),
		queue:      queue.NewPriority(),
		ownsQueue:  true,
		pacer:      NewPacer(cfg.MinDelay, cfg.MaxDelay),
		gate:       semaphore.NewWeighted(int64(cfg.MaxConnections)),
		inflight:   make(map[*job.Job]*dispatch),
		loopCtx:    loopCtx,
		loopCancel: loopCancel,
		loopDone:   make(chan struct{}),
		closeDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("crawler")
	if c.manager == nil {
		c.manager = worker.NewManager(cfg.Parallelism, c.logger.Named("handlers"))
		c.ownsManager = true
	}
	c.pool = worker.NewPool(cfg.Parallelism, c.logger.Named("worker"))
	c.scheduler = scheduler.New(c.queue, c.logger.Named("scheduler"))
	return c, nil
}

// Scheduler returns the submission facade feeding the engine's queue.
func (c *Crawler) Scheduler() *scheduler.Scheduler { return c.scheduler }

// Start launches the dispatch loop.
func (c *Crawler) Start() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		if c.closed.Load() {
			return ErrClosed
		}
		return ErrAlreadyStarted
	}
	c.logger.Info("dispatch loop starting",
		zap.Int("max_connections", c.cfg.MaxConnections),
		zap.Int("max_tries", c.cfg.MaxTries),
		zap.Int("parallelism", c.cfg.Parallelism),
	)
	go c.loop()
	return nil
}

// Wait blocks until the dispatch loop has exited or ctx ends.
func (c *Crawler) Wait(ctx context.Context) error {
	select {
	case <-c.loopDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for crawler: %w", ctx.Err())
	}
}

// Stats returns current counters.
func (c *Crawler) Stats() Stats {
	c.mu.Lock()
	inFlight := len(c.inflight)
	c.mu.Unlock()
	return Stats{
		Queued:       c.queue.Len(),
		InFlight:     inFlight,
		PermitsInUse: c.permits.Load(),
		Dispatched:   c.dispatched.Load(),
		Handled:      c.handled.Load(),
		Retried:      c.retried.Load(),
		Dropped:      c.dropped.Load(),
	}
}

// Close asks the loop to exit once the queue and the in-flight registry are
// both empty, waits for it, lets the worker pool finish, and releases the
// fetcher and any engine-owned resources. Later calls wait for the first to
// finish and return nil.
func (c *Crawler) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		<-c.closeDone
		return nil
	}
	defer close(c.closeDone)

	c.exit.Store(true)
	if c.started.CompareAndSwap(false, true) {
		// Never started: there is no loop to join.
		close(c.loopDone)
	}
	<-c.loopDone

	c.pool.Shutdown()
	var errs []error
	if err := c.pool.AwaitTermination(context.Background()); err != nil {
		errs = append(errs, err)
	}
	c.sweep()
	if err := c.fetcher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close fetcher: %w", err))
	}
	if c.ownsManager {
		if err := c.manager.Close(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ownsQueue {
		if err := c.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	c.loopCancel()
	c.logger.Info("crawler closed", zap.Any("stats", c.Stats()))
	return errors.Join(errs...)
}

// InterruptAndClose stops the loop without draining, cancels every
// outstanding fetch, abandons queued pool work, and then closes.
func (c *Crawler) InterruptAndClose() error {
	c.interrupted.Store(true)
	c.loopCancel()
	c.cancelAll()
	if n := c.pool.ShutdownNow(); n > 0 {
		c.logger.Warn("abandoned queued dispatch tasks", zap.Int("tasks", n))
	}
	if c.ownsManager {
		c.manager.Interrupt()
	}
	if i, ok := c.fetcher.(Interrupter); ok {
		i.Interrupt()
	}
	return c.Close()
}

func (c *Crawler) loop() {
	defer close(c.loopDone)
	defer c.logger.Info("dispatch loop stopped")
	for {
		if c.loopCtx.Err() != nil {
			return
		}
		j, err := c.queue.Poll(c.loopCtx, c.cfg.PollTimeout)
		switch {
		case errors.Is(err, queue.ErrClosed):
			if c.drained() {
				return
			}
			// Jobs still in flight; their retries will fail to requeue.
			if pause(c.loopCtx, c.cfg.PollTimeout) != nil {
				return
			}
			continue
		case err != nil:
			return
		case j == nil:
			if c.drained() {
				return
			}
			continue
		}
		if !c.dispatch(j) {
			return
		}
	}
}

// drained reports whether the loop was told to exit and has nothing left.
func (c *Crawler) drained() bool {
	if !c.exit.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight) == 0 && c.queue.IsEmpty()
}

// dispatch paces, acquires a permit, registers, and submits j. It returns
// false when the loop was interrupted before the fetch could start.
func (c *Crawler) dispatch(j *job.Job) bool {
	req := j.Request()
	pacer := c.pacer
	if req.Pacer != nil {
		pacer = req.Pacer
	}
	if wait := remainingDelay(pacer, c.lastDispatch, time.Now()); wait > 0 {
		metrics.ObservePacingDelay(wait)
		if pause(c.loopCtx, wait) != nil {
			c.drop(j, ReasonCancelled)
			return false
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(c.loopCtx, req.URL); err != nil {
			c.drop(j, ReasonCancelled)
			return false
		}
	}
	if err := c.gate.Acquire(c.loopCtx, 1); err != nil {
		c.drop(j, ReasonCancelled)
		return false
	}
	c.permits.Add(1)
	metrics.IncPermits()

	d := &dispatch{job: j, registered: make(chan struct{})}
	c.mu.Lock()
	c.inflight[j] = d
	c.mu.Unlock()
	metrics.IncInFlight()

	attempt := j.Attempts()
	fr := job.FetchRequest{
		Request:  retainProxy(req, attempt, c.cfg.MaxTries, c.cfg.PropRetainProxy),
		JobID:    j.ID(),
		Attempt:  attempt,
		MaxTries: c.cfg.MaxTries,
	}
	c.lastDispatch = time.Now()
	c.dispatched.Add(1)
	metrics.ObserveDispatch(req.URL)
	c.logger.Debug("dispatching",
		zap.String("job_id", j.ID()),
		zap.String("url", req.URL),
		zap.Int("attempt", attempt),
		zap.Bool("proxy", fr.Proxy != ""),
	)

	err := c.pool.Submit(func(ctx context.Context) {
		h, err := c.fetcher.Fetch(ctx, fr, func(r Result) { c.complete(d, r) })
		c.register(d, h)
		if err != nil {
			c.complete(d, Failure(fmt.Errorf("start fetch: %w", err)))
		}
	})
	if err != nil {
		c.register(d, nil)
		c.complete(d, Cancelled())
	}
	return true
}

// register records the fetch handle and unblocks the completion path. A
// cancel requested before the handle existed is applied now.
func (c *Crawler) register(d *dispatch, h Handle) {
	c.mu.Lock()
	d.handle = h
	cancel := d.cancelRequested
	close(d.registered)
	c.mu.Unlock()
	if cancel && h != nil {
		h.Cancel()
	}
}

// complete is the fetch completion callback. It frees the permit at once so
// intake is not throttled by handler latency, then classifies on the pool.
func (c *Crawler) complete(d *dispatch, r Result) {
	if !d.completed.CompareAndSwap(false, true) {
		c.logger.Error("duplicate fetch completion ignored", zap.String("job_id", d.job.ID()))
		return
	}
	c.releasePermit(d)
	if err := c.pool.Submit(func(ctx context.Context) { c.finish(ctx, d, r) }); err != nil {
		// The pool is gone, which only happens on interrupt.
		go c.finish(context.Background(), d, r)
	}
}

func (c *Crawler) releasePermit(d *dispatch) {
	d.permitOnce.Do(func() {
		c.gate.Release(1)
		c.permits.Add(-1)
		metrics.DecPermits()
	})
}

// finish applies the classification of r to d's job.
func (c *Crawler) finish(ctx context.Context, d *dispatch, r Result) {
	<-d.registered
	j := d.job
	metrics.ObserveOutcome(outcomeLabel(r))

	verdict := Classify(r, j.Attempts(), c.cfg.MaxTries)
	if c.interrupted.Load() && verdict.Action != ActionDrop {
		verdict = Verdict{Action: ActionDrop, Reason: ReasonCancelled}
	}
	if r.Err != nil && verdict.Action != ActionHandle {
		c.logger.Debug("fetch attempt failed",
			zap.String("job_id", j.ID()),
			zap.String("url", j.Request().URL),
			zap.Int("attempt", j.Attempts()),
			zap.Error(r.Err),
		)
	}

	switch verdict.Action {
	case ActionHandle:
		ran := c.handle(ctx, j, r.Response)
		if c.unregister(d) && ran {
			c.handled.Add(1)
		}
	case ActionRetry:
		c.retry(d)
	default:
		if c.unregister(d) {
			c.drop(j, verdict.Reason)
		}
	}
}

// retry moves d's job from the registry back into the queue in one critical
// section so the drain check never sees it in neither place.
func (c *Crawler) retry(d *dispatch) {
	j := d.job
	c.mu.Lock()
	if c.inflight[j] != d {
		c.mu.Unlock()
		return
	}
	delete(c.inflight, j)
	c.queue.Remove(j)
	j.PrepareForRetry()
	err := c.queue.Put(j)
	c.mu.Unlock()
	metrics.DecInFlight()

	if err != nil {
		c.logger.Error("requeue failed", zap.String("job_id", j.ID()), zap.Error(err))
		c.drop(j, ReasonRequeueError)
		return
	}
	c.retried.Add(1)
	metrics.ObserveRetry()
	c.logger.Debug("job requeued",
		zap.String("job_id", j.ID()),
		zap.Int("attempt", j.Attempts()),
		zap.Stringer("priority", j.Priority()),
	)
}

// unregister removes d if it is still the live entry for its job.
func (c *Crawler) unregister(d *dispatch) bool {
	c.mu.Lock()
	live := c.inflight[d.job] == d
	if live {
		delete(c.inflight, d.job)
	}
	c.mu.Unlock()
	if live {
		metrics.DecInFlight()
	}
	return live
}

func (c *Crawler) drop(j *job.Job, reason string) {
	c.dropped.Add(1)
	metrics.ObserveDrop(reason)
	c.logger.Warn("job dropped",
		zap.String("job_id", j.ID()),
		zap.String("url", j.Request().URL),
		zap.Int("attempts", j.Attempts()),
		zap.String("reason", reason),
	)
}

// handle runs the job's handler, or the routed one, isolating its failures.
// It reports false when no handler could be found and the job was dropped.
func (c *Crawler) handle(ctx context.Context, j *job.Job, resp *job.Response) (ran bool) {
	req := j.Request()
	h := j.Handler()
	if h == nil && c.router != nil {
		h, _ = c.router.Resolve(req)
	}
	if h == nil {
		c.drop(j, ReasonNoHandler)
		return false
	}
	if resp != nil {
		metrics.ObserveBytes(req.URL, len(resp.Body))
	}

	ran = true
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ObserveHandlerError("panic")
			c.logger.Error("handler panicked",
				zap.String("job_id", j.ID()),
				zap.String("url", req.URL),
				zap.Any("panic", rec),
			)
		}
	}()
	if err := h.Handle(ctx, req, resp, c.scheduler, c.session, c.manager.Worker()); err != nil {
		metrics.ObserveHandlerError("error")
		c.logger.Error("handler failed",
			zap.String("job_id", j.ID()),
			zap.String("url", req.URL),
			zap.Error(err),
		)
	}
	return ran
}

// cancelAll requests cancellation of every in-flight fetch. Entries whose
// handle is not recorded yet are cancelled on registration.
func (c *Crawler) cancelAll() {
	c.mu.Lock()
	handles := make([]Handle, 0, len(c.inflight))
	for _, d := range c.inflight {
		d.cancelRequested = true
		if d.handle != nil {
			handles = append(handles, d.handle)
		}
	}
	c.mu.Unlock()
	for _, h := range handles {
		h.Cancel()
	}
}

// sweep drops entries whose completion will never be classified because the
// pool abandoned it. Only reachable after an interrupt.
func (c *Crawler) sweep() {
	c.mu.Lock()
	leftovers := make([]*dispatch, 0, len(c.inflight))
	for j, d := range c.inflight {
		delete(c.inflight, j)
		leftovers = append(leftovers, d)
	}
	c.mu.Unlock()
	for _, d := range leftovers {
		metrics.DecInFlight()
		c.releasePermit(d)
		c.drop(d.job, ReasonCancelled)
	}
}
