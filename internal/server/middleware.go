package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"genesis/internal/observability"
)

// clientLimiterCap bounds the per-client limiter map; the least recently
// seen clients are evicted first.
const clientLimiterCap = 4096

// clientLimiter rate-limits requests per client IP. The LRU keeps the map
// bounded without a background sweeper.
type clientLimiter struct {
	clients *lru.Cache[string, *rate.Limiter]
	rps     rate.Limit
	burst   int
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rps)
	}
	cache, _ := lru.New[string, *rate.Limiter](clientLimiterCap)
	return &clientLimiter{clients: cache, rps: rate.Limit(rps), burst: burst}
}

func (l *clientLimiter) allow(clientIP string) bool {
	if l == nil {
		return true
	}
	limiter, ok := l.clients.Get(clientIP)
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.clients.Add(clientIP, limiter)
	}
	return limiter.Allow()
}

// rateLimitMiddleware rejects clients that exhaust their token bucket with
// 429 before any handler work happens.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, APIResponse{
				Success: false,
				Error:   "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// observabilityMiddleware traces each request and records latency metrics
// and a structured access log line.
func (s *Server) observabilityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := s.tracer.StartSpan(c.Request.Context(), observability.SpanHTTPServer,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
		)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		span.SetAttributes(attribute.Int("http.status_code", status))
		span.End()

		s.metrics.RecordHTTPRequest(ctx, c.Request.Method, route, status, elapsed)
		s.logger.Info("request handled",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"client", c.ClientIP(),
			"elapsed", elapsed)
	}
}
