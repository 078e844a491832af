package job

import (
	"fmt"
	"net/http"
	"strings"
)

// Submission is the wire form of a request accepted by the HTTP API and the Redis backlog.
type Submission struct {
	URL      string            `json:"url"`
	Method   string            `json:"method,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     string            `json:"body,omitempty"`
	Proxy    string            `json:"proxy,omitempty"`
	Priority string            `json:"priority,omitempty"`
	Floor    string            `json:"floor,omitempty"`
}

// Request validates the submission and builds a Request from it.
func (s Submission) Request() (*Request, error) {
	req, err := NewRequest(strings.TrimSpace(s.URL))
	if err != nil {
		return nil, err
	}
	if s.Method != "" {
		req.Method = strings.ToUpper(s.Method)
	}
	if len(s.Headers) > 0 {
		req.Header = make(http.Header, len(s.Headers))
		for k, v := range s.Headers {
			req.Header.Set(k, v)
		}
	}
	if s.Body != "" {
		req.Body = []byte(s.Body)
	}
	req.Proxy = s.Proxy
	return req, nil
}

// Options converts the priority fields into job options.
func (s Submission) Options() ([]Option, error) {
	var opts []Option
	if s.Priority != "" {
		p, err := ParsePriority(s.Priority)
		if err != nil {
			return nil, fmt.Errorf("priority: %w", err)
		}
		opts = append(opts, WithPriority(p))
	}
	if s.Floor != "" {
		p, err := ParsePriority(s.Floor)
		if err != nil {
			return nil, fmt.Errorf("floor: %w", err)
		}
		opts = append(opts, WithFloor(p))
	}
	return opts, nil
}
