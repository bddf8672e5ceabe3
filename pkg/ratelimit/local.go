package ratelimit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Local throttles API calls within a single process using a token bucket.
type Local struct {
	*rate.Limiter
}

// NewLocalLimiter returns an in-process Limiter allowing maximumRPS sustained
// requests per second with bursts of up to burstableRPS.
func NewLocalLimiter(maximumRPS, burstableRPS int) Limiter {
	return Local{
		rate.NewLimiter(rate.Limit(maximumRPS), burstableRPS),
	}
}

// Take blocks until the bucket grants a token or the context is cancelled.
func (l Local) Take(ctx context.Context) time.Duration {
	start := time.Now()

	if err := l.Wait(ctx); err != nil {
		log.WithContext(ctx).
			WithError(err).
			Fatal()
	}

	return time.Since(start)
}
