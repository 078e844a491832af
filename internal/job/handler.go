package job

import (
	"context"
	"maps"

	"github.com/JakeFAU/crawlengine/internal/worker"
)

// Enqueuer is the submission surface handed to handlers so a crawl can expand.
type Enqueuer interface {
	Add(req *Request, opts ...Option) (*Job, error)
}

// Handler consumes a successfully fetched page. It runs at most once per
// successful attempt and may enqueue further requests through enq.
type Handler interface {
	Handle(ctx context.Context, req *Request, resp *Response, enq Enqueuer, session Session, w *worker.Worker) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request, resp *Response, enq Enqueuer, session Session, w *worker.Worker) error

// Handle calls f.
func (f HandlerFunc) Handle(
	ctx context.Context,
	req *Request,
	resp *Response,
	enq Enqueuer,
	session Session,
	w *worker.Worker,
) error {
	return f(ctx, req, resp, enq, session, w)
}

// Router resolves a handler for jobs submitted without one.
type Router interface {
	Resolve(req *Request) (Handler, bool)
}

// Session is read-mostly context passed unchanged to every handler invocation.
type Session interface {
	Get(key string) (any, bool)
}

// MapSession is an immutable Session over a snapshot of a map.
type MapSession struct {
	values map[string]any
}

// NewSession copies values into a MapSession.
func NewSession(values map[string]any) *MapSession {
	return &MapSession{values: maps.Clone(values)}
}

// Get returns the value stored under key.
func (s *MapSession) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}
