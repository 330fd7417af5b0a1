// Package httpmiddleware holds the gin middleware shared by the API routes.
package httpmiddleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pio7/internal/auth"
	"pio7/internal/ratelimit"
)

// Checker is satisfied by *ratelimit.Limiter.
type Checker interface {
	Check(ctx context.Context, identifier string, cfg ratelimit.Config) ratelimit.Decision
}

// KeyFunc derives the rate limit identifier of a request.
type KeyFunc func(c *gin.Context) string

// KeyByIP keys requests by client IP under prefix. The IP comes from
// c.ClientIP, so forwarding headers only count when sent by a trusted proxy.
func KeyByIP(prefix string) KeyFunc {
	return func(c *gin.Context) string {
		return prefix + ":" + c.ClientIP()
	}
}

// KeyByUser keys requests by the authenticated user, falling back to the
// client IP for anonymous callers.
func KeyByUser(prefix string) KeyFunc {
	return func(c *gin.Context) string {
		if id, ok := auth.FromContext(c); ok && id.UserID != "" {
			return prefix + ":" + id.UserID
		}
		return prefix + ":" + c.ClientIP()
	}
}

// RateLimit rejects requests over cfg with 429.
func RateLimit(l Checker, cfg ratelimit.Config, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := l.Check(c.Request.Context(), key(c), cfg)
		WriteLimitHeaders(c, d)
		if !d.Allowed {
			AbortLimited(c, d)
			return
		}
		c.Next()
	}
}

// WriteLimitHeaders reports d as X-RateLimit-* headers.
func WriteLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// AbortLimited answers 429 with the seconds left in the window.
func AbortLimited(c *gin.Context, d ratelimit.Decision) {
	secs := int(d.RetryAfter(time.Now()) / time.Second)
	c.Header("Retry-After", strconv.Itoa(secs))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":      "too many requests",
		"reason":     "rate_limited",
		"retryAfter": secs,
	})
}
