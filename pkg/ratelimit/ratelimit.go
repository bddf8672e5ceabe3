package ratelimit

import (
	"context"
	"time"
)

// Limiter throttles outbound GitLab API calls. Take blocks until the caller
// may proceed and reports how long it waited.
type Limiter interface {
	Take(ctx context.Context) time.Duration
}

// Take applies the limiter, discarding the measured wait.
func Take(ctx context.Context, l Limiter) {
	l.Take(ctx)
}
