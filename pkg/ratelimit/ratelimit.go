package ratelimit

import (
	"context"
	"time"
)

// Limiter throttles calls made to the Salesforce APIs.
type Limiter interface {
	// Take blocks until a call is allowed or ctx is done. It returns how long
	// the caller was held back.
	Take(ctx context.Context) (time.Duration, error)
}

// Take is a helper function that calls the Take method on a Limiter.
// A nil Limiter never throttles.
func Take(ctx context.Context, l Limiter) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}

	return l.Take(ctx)
}
