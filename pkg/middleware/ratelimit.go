package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/numbermarket/pkg/logger"
	"github.com/wyfcoding/numbermarket/pkg/ratelimit"
)

// KeyFunc 从请求中提取限流维度，返回空串时不限流
type KeyFunc func(c *gin.Context) string

// ClientIPKey 按客户端 IP 限流
func ClientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// HeaderKey 按请求头限流，例如账户 ID
func HeaderKey(header string) KeyFunc {
	return func(c *gin.Context) string {
		if v := c.GetHeader(header); v != "" {
			return header + ":" + v
		}
		return ""
	}
}

// RateLimitMiddleware Gin 限流中间件。限流器故障时放行。
func RateLimitMiddleware(limiter ratelimit.RateLimiter, scope string, limit ratelimit.Limit, keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := keyFn(c)
		if id == "" {
			c.Next()
			return
		}

		res, err := limiter.Allow(c.Request.Context(), scope, id, limit)
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "scope", scope, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(res.ResetAfter/time.Second), 10))

		if !res.Allowed {
			c.Header("Retry-After", strconv.FormatInt(res.RetryAfterSeconds(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too Many Requests",
				"retry_after": res.RetryAfter.String(),
			})
			return
		}

		c.Next()
	}
}
