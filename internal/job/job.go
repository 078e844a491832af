package job

import (
	"time"

	"github.com/google/uuid"
)

// Job is one schedulable attempt series for a request. Jobs are compared by
// identity: two jobs wrapping equal requests are still distinct.
//
// A job is owned either by a queue or by exactly one in-flight dispatch, so its
// mutable state is never touched by two goroutines at once.
type Job struct {
	id       string
	request  *Request
	handler  Handler
	attempts int
	attrs    map[AttributeKind]Attribute
	created  time.Time
}

// Option customizes a job at construction time.
type Option func(*options)

type options struct {
	handler  Handler
	priority *Priority
	floor    *Priority
	attrs    []Attribute
}

// WithHandler sets the handler invoked on a successful fetch.
func WithHandler(h Handler) Option {
	return func(o *options) { o.handler = h }
}

// WithPriority sets the starting priority.
func WithPriority(p Priority) Option {
	return func(o *options) { o.priority = &p }
}

// WithFloor sets the least urgent priority retries may decay to.
func WithFloor(p Priority) Option {
	return func(o *options) { o.floor = &p }
}

// WithAttributes attaches extra attributes. A later attribute of the same kind replaces an earlier one.
func WithAttributes(attrs ...Attribute) Option {
	return func(o *options) { o.attrs = append(o.attrs, attrs...) }
}

// New builds a job for req. A priority attribute is always present on the
// result: explicit priority/floor options win, then an attribute passed via
// WithAttributes, then the defaults.
func New(req *Request, opts ...Option) (*Job, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	j := &Job{
		id:       newID(),
		request:  req,
		handler:  o.handler,
		attempts: 1,
		attrs:    make(map[AttributeKind]Attribute, len(o.attrs)+1),
		created:  time.Now().UTC(),
	}
	for _, a := range o.attrs {
		if a != nil {
			j.attrs[a.Kind()] = a
		}
	}
	if o.priority != nil || o.floor != nil {
		p, floor := DefaultPriority, DefaultFloor
		if existing, ok := j.PriorityAttribute(); ok {
			p, floor = existing.Priority(), existing.Floor()
		}
		if o.priority != nil {
			p = *o.priority
		}
		if o.floor != nil {
			floor = *o.floor
		}
		j.attrs[KindPriority] = NewPriorityAttribute(p, floor)
	} else {
		j.EnsurePriority()
	}
	return j, nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ID is a log-friendly identifier; it plays no part in equality.
func (j *Job) ID() string { return j.id }

// Request returns the request the job fetches.
func (j *Job) Request() *Request { return j.request }

// Handler returns the explicit handler, or nil when routing is deferred.
func (j *Job) Handler() Handler { return j.handler }

// Attempts returns the current attempt number, starting at 1.
func (j *Job) Attempts() int { return j.attempts }

// Created returns when the job was built.
func (j *Job) Created() time.Time { return j.created }

// Attribute looks up the attribute stored under kind.
func (j *Job) Attribute(kind AttributeKind) (Attribute, bool) {
	a, ok := j.attrs[kind]
	return a, ok
}

// SetAttribute stores a, replacing any attribute of the same kind.
func (j *Job) SetAttribute(a Attribute) {
	if a == nil {
		return
	}
	j.attrs[a.Kind()] = a
}

// PriorityAttribute returns the job's priority attribute if present.
func (j *Job) PriorityAttribute() (*PriorityAttribute, bool) {
	a, ok := j.attrs[KindPriority]
	if !ok {
		return nil, false
	}
	pa, ok := a.(*PriorityAttribute)
	return pa, ok
}

// EnsurePriority attaches a default priority attribute when none is present.
func (j *Job) EnsurePriority() *PriorityAttribute {
	if pa, ok := j.PriorityAttribute(); ok {
		return pa
	}
	pa := NewPriorityAttribute(DefaultPriority, DefaultFloor)
	j.attrs[KindPriority] = pa
	return pa
}

// Priority returns the current priority, or DefaultPriority when unset.
func (j *Job) Priority() Priority {
	if pa, ok := j.PriorityAttribute(); ok {
		return pa.Priority()
	}
	return DefaultPriority
}

// PrepareForRetry lets every attribute evolve and bumps the attempt counter.
// The job must not be resident in a priority queue while this runs.
func (j *Job) PrepareForRetry() {
	for _, a := range j.attrs {
		a.PrepareForRetry()
	}
	j.attempts++
}
