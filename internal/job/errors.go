package job

import (
	"errors"
	"fmt"
)

var (
	// ErrNilRequest is returned when a job is built without a request.
	ErrNilRequest = errors.New("request is required")
	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid request url")
)

// StopError marks an attempt that must not be retried: a response whose status
// code was configured as a stop code, or a fetch refused for another terminal
// Reason. Jobs failing with a StopError are dropped.
type StopError struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *StopError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.URL)
	}
	return fmt.Sprintf("stop code %d received for %s", e.StatusCode, e.URL)
}

// IsStop reports whether err carries a StopError.
func IsStop(err error) bool {
	var se *StopError
	return errors.As(err, &se)
}

// StatusError reports a response that failed validation because of its status code.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}
