package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisKey string = `sftt:salesforce:api`

// Redis shares the request budget between every replica using the same redis.
type Redis struct {
	*redis_rate.Limiter
	MaxRPS int
}

// NewRedisLimiter creates a new Redis-based rate limiter.
func NewRedisLimiter(redisClient *redis.Client, maxRPS int) Limiter {
	return Redis{
		Limiter: redis_rate.NewLimiter(redisClient),
		MaxRPS:  maxRPS,
	}
}

// Take polls redis until a request is allowed.
func (r Redis) Take(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	for {
		res, err := r.Allow(ctx, redisKey, redis_rate.PerSecond(r.MaxRPS))
		if err != nil {
			return time.Since(start), err
		}

		if res.Allowed > 0 {
			return time.Since(start), nil
		}

		log.WithFields(
			log.Fields{
				"for": res.RetryAfter.String(),
			},
		).Debug("throttled Salesforce requests")

		select {
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		case <-time.After(res.RetryAfter):
		}
	}
}
