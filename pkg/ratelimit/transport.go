package ratelimit

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ThrottledTransport rate limits requests at the http.RoundTripper level, for
// HTTP clients that do not route their calls through a Limiter.
type ThrottledTransport struct {
	roundTripper http.RoundTripper
	rateLimiter  *rate.Limiter
}

// NewThrottledTransport wraps transportWrap so that at most requestCount
// requests are released per limitPeriod.
func NewThrottledTransport(limitPeriod time.Duration, requestCount int, transportWrap http.RoundTripper) http.RoundTripper {
	return &ThrottledTransport{
		roundTripper: transportWrap,
		rateLimiter:  rate.NewLimiter(rate.Every(limitPeriod), requestCount),
	}
}

// RoundTrip waits for the limiter before delegating to the wrapped transport.
func (t *ThrottledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.rateLimiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	return t.roundTripper.RoundTrip(req)
}
