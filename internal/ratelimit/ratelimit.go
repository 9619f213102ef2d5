// Package ratelimit implements per-user fixed-window request quotas.
package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultMaxRequests = 5
	DefaultPeriod      = 60 * time.Second
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed bool
	// Count is the number of requests admitted in the current window.
	Count int
	// RetryAfter is the remaining window time when Allowed is false.
	RetryAfter time.Duration
}

// Limiter admits or denies a request for a user.
type Limiter interface {
	Allow(ctx context.Context, userID int64) (Decision, error)
}

// Config holds the window parameters shared by all backends.
type Config struct {
	MaxRequests int
	Period      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	return c
}
