package crawler

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/JakeFAU/crawlengine/internal/job"
)

// PatternRouter resolves handlers by matching request URLs against regular
// expressions in registration order.
type PatternRouter struct {
	mu       sync.RWMutex
	routes   []route
	fallback job.Handler
}

type route struct {
	pattern *regexp.Regexp
	handler job.Handler
}

// NewPatternRouter returns an empty router.
func NewPatternRouter() *PatternRouter {
	return &PatternRouter{}
}

// Handle registers h for URLs matching pattern.
func (r *PatternRouter) Handle(pattern string, h job.Handler) error {
	if h == nil {
		return fmt.Errorf("route %q: handler is required", pattern)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile route %q: %w", pattern, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{pattern: re, handler: h})
	return nil
}

// Fallback sets the handler used when no pattern matches.
func (r *PatternRouter) Fallback(h job.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Resolve returns the first matching handler, then the fallback.
func (r *PatternRouter) Resolve(req *job.Request) (job.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if req != nil {
		for _, rt := range r.routes {
			if rt.pattern.MatchString(req.URL) {
				return rt.handler, true
			}
		}
	}
	return r.fallback, r.fallback != nil
}

var _ job.Router = (*PatternRouter)(nil)
