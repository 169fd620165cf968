package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/modelrelay/modelrelay/internal/admission"
	"github.com/modelrelay/modelrelay/internal/models"

	"github.com/gin-gonic/gin"
)

// Middleware enforces the per-account request limit for authenticated,
// non-enterprise callers. Anonymous and public requests pass through.
func Middleware(limiter *Limiter, defaultRPM int) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := admission.FromGin(c)
		if rc == nil || !rc.Authenticated() || rc.Account.Tier == models.TierEnterprise {
			c.Next()
			return
		}

		limit := defaultRPM
		if rc.Account.RateLimitRPM != nil && *rc.Account.RateLimitRPM > 0 {
			limit = *rc.Account.RateLimitRPM
		}

		result := limiter.CheckAndIncrement(c.Request.Context(), rc.Account.ID, limit)
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			c.Header("Retry-After", strconv.FormatInt(result.RetryAfter(time.Now()), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"message": "Rate limit exceeded. Please slow down your requests.",
					"type":    "rate_limit_error",
					"code":    "rate_limit_exceeded",
				},
			})
			return
		}
		c.Next()
	}
}
