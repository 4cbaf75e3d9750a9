// Package ratelimit throttles mutating API calls per caller.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/aimerfeng/CourseChain/internal/config"
	apierrors "github.com/aimerfeng/CourseChain/internal/errors"
	"github.com/aimerfeng/CourseChain/internal/middleware"
)

// Result contains the result of a rate limit check
type Result struct {
	Allowed    bool
	Remaining  int64
	Limit      int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter decides whether the holder of key may make another request
type Limiter interface {
	Check(ctx context.Context, key string) (*Result, error)
}

// RedisLimiter implements sliding window rate limiting using Redis sorted sets
type RedisLimiter struct {
	client goredis.Cmdable
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter creates a limiter allowing cfg.Requests per cfg.Window
func NewRedisLimiter(client goredis.Cmdable, cfg *config.RateLimitConfig) *RedisLimiter {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		client: client,
		limit:  cfg.Requests,
		window: window,
		now:    time.Now,
	}
}

func windowKey(key string) string {
	return fmt.Sprintf("ratelimit:sliding:%s", key)
}

// Check records a request for key if it fits in the window. Redis errors
// fail open.
func (r *RedisLimiter) Check(ctx context.Context, key string) (*Result, error) {
	now := r.now()
	windowStart := now.Add(-r.window)
	zkey := windowKey(key)

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, zkey)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("caller", key).Msg("Failed to check rate limit")
		return &Result{Allowed: true, Remaining: int64(r.limit), Limit: r.limit}, nil
	}

	current := countCmd.Val()
	result := &Result{
		Limit:   r.limit,
		ResetAt: now.Add(r.window),
	}

	if current >= int64(r.limit) {
		result.RetryAfter = r.window
		oldest, err := r.client.ZRangeWithScores(ctx, zkey, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			result.RetryAfter = time.Unix(0, int64(oldest[0].Score)).Add(r.window).Sub(now)
			if result.RetryAfter < time.Second {
				result.RetryAfter = time.Second
			}
		}
		return result, nil
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), key)
	if err := r.client.ZAdd(ctx, zkey, goredis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		log.Warn().Err(err).Str("caller", key).Msg("Failed to add rate limit entry")
	}
	r.client.Expire(ctx, zkey, r.window*2)

	result.Allowed = true
	result.Remaining = max(int64(r.limit)-current-1, 0)
	return result, nil
}

// Reset clears the window for key
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, windowKey(key)).Err()
}

// Middleware throttles unsafe methods per authenticated caller, falling
// back to the client IP. Must run after JWTAuth to see the caller.
func Middleware(l Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		key := middleware.GetCallerFromContext(c).String()
		if key == "" {
			key = c.ClientIP()
		}

		res, err := l.Check(c.Request.Context(), key)
		if err != nil {
			log.Warn().Err(err).Str("caller", key).Msg("Rate limiter unavailable")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		if !res.ResetAt.IsZero() {
			c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		}

		if !res.Allowed {
			retry := int(res.RetryAfter.Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierrors.NewErrorResponse(
				apierrors.ErrRateLimitedError,
				middleware.GetRequestIDFromContext(c),
				middleware.GetCorrelationIDFromContext(c),
				c.Request.URL.Path,
				c.Request.Method,
			))
			return
		}

		c.Next()
	}
}
