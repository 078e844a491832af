package crawler

import (
	"fmt"
	"runtime"
	"time"
)

// Config holds the dispatch engine settings.
// This struct is decoupled from Viper so the engine can be configured and
// tested independently of the CLI.
type Config struct {
	// MaxConnections caps simultaneous outstanding fetches.
	MaxConnections int
	// MaxTries is the total number of attempts a job gets.
	MaxTries int
	// Parallelism sizes the pool running fetch submissions and completions.
	Parallelism int
	// PropRetainProxy is the attempt/MaxTries fraction above which a pinned proxy is dropped.
	PropRetainProxy float64
	// MinDelay and MaxDelay bound the pause between two dispatches. Equal
	// values give a fixed delay.
	MinDelay time.Duration
	MaxDelay time.Duration
	// PollTimeout bounds each queue poll so the loop can notice it was told to drain.
	PollTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:  8,
		MaxTries:        5,
		Parallelism:     runtime.NumCPU(),
		PropRetainProxy: 0.05,
		PollTimeout:     3 * time.Second,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.MaxConnections <= 0:
		return fmt.Errorf("%w: max connections must be positive, got %d", ErrInvalidConfig, c.MaxConnections)
	case c.MaxTries <= 0:
		return fmt.Errorf("%w: max tries must be positive, got %d", ErrInvalidConfig, c.MaxTries)
	case c.Parallelism <= 0:
		return fmt.Errorf("%w: parallelism must be positive, got %d", ErrInvalidConfig, c.Parallelism)
	case c.PropRetainProxy < 0 || c.PropRetainProxy > 1:
		return fmt.Errorf("%w: prop retain proxy must be within [0,1], got %v", ErrInvalidConfig, c.PropRetainProxy)
	case c.MinDelay < 0 || c.MaxDelay < c.MinDelay:
		return fmt.Errorf("%w: pacing requires 0 <= min <= max, got [%s,%s]", ErrInvalidConfig, c.MinDelay, c.MaxDelay)
	case c.PollTimeout <= 0:
		return fmt.Errorf("%w: poll timeout must be positive, got %s", ErrInvalidConfig, c.PollTimeout)
	}
	return nil
}
