package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"lingocrowd/core/internal/config"
)

const (
	limiterCleanupInterval = 10 * time.Minute
	limiterIdleTimeout     = 30 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterMiddleware keeps one token bucket per client.
type RateLimiterMiddleware struct {
	clients  map[string]*clientLimiter
	mu       sync.Mutex
	refill   rate.Limit
	burst    int
	exempted []string
}

// NewRateLimiterMiddleware sizes every bucket from cfg. Paths starting with one of
// exemptPrefixes are never limited. Cleanup of idle clients stops with ctx.
func NewRateLimiterMiddleware(ctx context.Context, cfg *config.Config, exemptPrefixes ...string) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients:  make(map[string]*clientLimiter),
		refill:   rate.Limit(cfg.RateLimitRefillRate),
		burst:    cfg.RateLimitBucketSize,
		exempted: exemptPrefixes,
	}
	go rm.cleanupClients(ctx)
	return rm
}

// clientKey prefers the authenticated user so clients behind one NAT do not share a bucket.
func clientKey(c *gin.Context) string {
	if actor, ok := ActorFromContext(c); ok {
		return "user:" + actor.UserID.String()
	}
	return "ip:" + c.ClientIP()
}

func (rm *RateLimiterMiddleware) getClientLimiter(key string) *rate.Limiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	cl, exists := rm.clients[key]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rm.refill, rm.burst)}
		rm.clients[key] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

func (rm *RateLimiterMiddleware) cleanupClients(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rm.mu.Lock()
		removed := 0
		for key, cl := range rm.clients {
			if time.Since(cl.lastSeen) > limiterIdleTimeout {
				delete(rm.clients, key)
				removed++
			}
		}
		rm.mu.Unlock()
		if removed > 0 {
			log.Printf("Rate limiter cleanup removed %d idle clients.", removed)
		}
	}
}

// Limit creates the Gin middleware handler.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, prefix := range rm.exempted {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}
		key := clientKey(c)
		if !rm.getClientLimiter(key).Allow() {
			log.Printf("Rate limit exceeded for %s on %s", key, c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
