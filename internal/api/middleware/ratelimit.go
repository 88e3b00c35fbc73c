package middleware

import (
	"context"
	"log/slog"
	"math"
	"strconv"

	"taskmanager/internal/api/httperr"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// Allower decides whether a caller identified by key may proceed.
type Allower interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
	Scope() string
}

// RateLimit rejects callers that exhausted their bucket, keyed by client IP.
// Limiter errors are logged and the request is let through.
func RateLimit(limiter Allower, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		decision, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("scope", limiter.Scope()), slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !decision.Allowed {
			metrics.RateLimitedTotal.WithLabelValues(limiter.Scope()).Inc()
			retry := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			httperr.Abort(c, httperr.New(httperr.RateLimited, "Too many requests, please try again later"))
			return
		}
		c.Next()
	}
}
