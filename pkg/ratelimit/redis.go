package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// redisKey is shared by every orchestrator replica so the GitLab request
// budget is enforced across the whole fleet.
const redisKey = `gdo:gitlab:api`

// Redis throttles API calls across replicas through a shared redis_rate bucket.
type Redis struct {
	*redis_rate.Limiter
	MaxRPS int
}

// NewRedisLimiter returns a Limiter backed by the given Redis client.
func NewRedisLimiter(redisClient *redis.Client, maxRPS int) Limiter {
	return Redis{
		Limiter: redis_rate.NewLimiter(redisClient),
		MaxRPS:  maxRPS,
	}
}

// Take polls the shared bucket until a slot opens up.
func (r Redis) Take(ctx context.Context) time.Duration {
	start := time.Now()

	for {
		res, err := r.Allow(ctx, redisKey, redis_rate.PerSecond(r.MaxRPS))
		if err != nil {
			log.WithContext(ctx).
				WithError(err).
				Fatal()
		}

		if res.Allowed > 0 {
			return time.Since(start)
		}

		log.WithField("for", res.RetryAfter.String()).Debug("throttled GitLab requests")
		time.Sleep(res.RetryAfter)
	}
}
