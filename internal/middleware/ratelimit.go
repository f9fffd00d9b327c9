package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// Counter increments a windowed counter and returns the new count and the
// time left in the window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisCounter is a fixed-window Counter shared by every instance.
type RedisCounter struct {
	rdb *redis.Client
}

// NewRedisCounter creates a new RedisCounter.
func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return incr.Val(), ttl.Val(), nil
}

// RateLimiter allows rate requests per window for each key.
type RateLimiter struct {
	counter Counter
	rate    int
	window  time.Duration
	keyFn   func(c *gin.Context) string
	log     zerolog.Logger
}

// NewRateLimiter creates a RateLimiter (e.g., 10 requests per minute).
// keyFn maps a request to its counter key.
func NewRateLimiter(counter Counter, rate int, window time.Duration, keyFn func(c *gin.Context) string, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		rate:    rate,
		window:  window,
		keyFn:   keyFn,
		log:     log.With().Str("component", "rate_limiter").Logger(),
	}
}

// Middleware returns a Gin middleware that rejects requests over the limit.
// Counter errors let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, ttl, err := rl.counter.Incr(c.Request.Context(), rl.keyFn(c), rl.window)
		if err != nil {
			rl.log.Warn().Err(err).Msg("Rate limit counter unavailable")
			c.Next()
			return
		}

		remaining := int64(rl.rate) - n
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.rate))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if n > int64(rl.rate) {
			response.AbortTooManyRequests(c, response.ErrRateLimitExceeded, ttl)
			return
		}
		c.Next()
	}
}
