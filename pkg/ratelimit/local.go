package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Local is an in-process token bucket, used when no redis is configured.
type Local struct {
	*rate.Limiter
}

// NewLocalLimiter creates a new local rate limiter with specified maximum and burstable requests per second.
func NewLocalLimiter(maximumRPS int, burstableRPS int) Limiter {
	return Local{
		Limiter: rate.NewLimiter(rate.Limit(maximumRPS), burstableRPS),
	}
}

// Take waits for a token.
func (l Local) Take(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	if err := l.Limiter.Wait(ctx); err != nil {
		return time.Since(start), err
	}

	return time.Since(start), nil
}
