// Package scheduler is the submission facade in front of a job queue.
package scheduler

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/job"
	"github.com/JakeFAU/crawlengine/internal/metrics"
	"github.com/JakeFAU/crawlengine/internal/queue"
)

// Scheduler builds jobs from requests and inserts them into a queue. It is the
// job.Enqueuer handed to handlers.
type Scheduler struct {
	queue  queue.Queue
	logger *zap.Logger
}

// New returns a scheduler feeding q.
func New(q queue.Queue, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Scheduler{queue: q, logger: logger}
}

// Add wraps req in a job and queues it. Without priority options the job
// starts at job.DefaultPriority with floor job.DefaultFloor.
func (s *Scheduler) Add(req *job.Request, opts ...job.Option) (*job.Job, error) {
	j, err := job.New(req, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.AddJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

// AddURL validates rawURL and queues a GET for it.
func (s *Scheduler) AddURL(rawURL string, opts ...job.Option) (*job.Job, error) {
	req, err := job.NewRequest(rawURL)
	if err != nil {
		return nil, err
	}
	return s.Add(req, opts...)
}

// AddJob queues an already built job.
func (s *Scheduler) AddJob(j *job.Job) error {
	if err := s.queue.Put(j); err != nil {
		return fmt.Errorf("queue job: %w", err)
	}
	metrics.ObserveSubmission(j.Priority().String())
	s.logger.Debug("job queued",
		zap.String("job_id", j.ID()),
		zap.String("url", j.Request().URL),
		zap.Stringer("priority", j.Priority()),
	)
	return nil
}

// Queue returns the backing queue.
func (s *Scheduler) Queue() queue.Queue { return s.queue }

var _ job.Enqueuer = (*Scheduler)(nil)
