package crawler

import "errors"

var (
	// ErrClosed is returned by Start once the crawler has been closed.
	ErrClosed = errors.New("crawler is closed")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("crawler already started")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid crawler config")
)
