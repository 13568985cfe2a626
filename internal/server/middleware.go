package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"auction-engine/internal/auctionerrors"
	"auction-engine/internal/auth"
	"auction-engine/internal/metrics"
	"auction-engine/services/auction/helpers"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// AdminKeyHeader carries the shared secret for administrative routes
const AdminKeyHeader = "X-Admin-Key"

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	utils.Info("HTTP Request", map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
		"user_id": c.GetString(helpers.UserIDKey),
	})
}

// AuthMiddleware verifies the bearer token and stores the user ID on the context
func AuthMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			err := fmt.Errorf("missing bearer token: %w", auctionerrors.ErrUnauthorized)
			utils.JSONError(c, http.StatusUnauthorized, err, "authentication required")
			c.Abort()
			return
		}

		userID, err := verifier.Verify(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			utils.JSONError(c, http.StatusUnauthorized, err, "authentication required")
			utils.Warn("AuthMiddleware: token rejected", map[string]any{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})
			c.Abort()
			return
		}

		c.Set(helpers.UserIDKey, userID)
		c.Next()
	}
}

// AdminKeyMiddleware admits requests whose X-Admin-Key header equals key
func AdminKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminKeyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			err := fmt.Errorf("admin key mismatch: %w", auctionerrors.ErrForbidden)
			utils.JSONError(c, http.StatusForbidden, err, "admin access required")
			utils.Warn("AdminKeyMiddleware: rejected admin request", map[string]any{
				"path":      c.Request.URL.Path,
				"client_ip": c.ClientIP(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RateLimiter hands out one token bucket per caller
type RateLimiter struct {
	rps      float64
	burst    int
	limiters sync.Map // map[string]*rate.Limiter
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{rps: rps, burst: burst}
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	v, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(rate.Limit(l.rps), l.burst))
	return v.(*rate.Limiter)
}

// Middleware keys on the authenticated user, falling back to the client IP,
// so it must run after AuthMiddleware.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if userID := c.GetString(helpers.UserIDKey); userID != "" {
			key = "user:" + userID
		}

		if !l.limiter(key).Allow() {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.Inc()
			utils.JSONError(c, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded for %s", key), "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
