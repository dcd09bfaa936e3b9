package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/config"
)

// staleAfter is how long an idle address keeps its limiter before its entry
// is dropped.
const staleAfter = 3 * time.Minute

// RateLimit enforces a per-address request budget across the fetch and
// websocket surfaces. Stale entries are evicted whenever a new address
// arrives, so the limiter map stays bounded by recent traffic.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		v, ok := visitors[ip]
		if !ok {
			for addr, other := range visitors {
				if now.Sub(other.lastSeen) > staleAfter {
					delete(visitors, addr)
				}
			}
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			visitors[ip] = v
		}
		v.lastSeen = now
		mu.Unlock()

		if !v.limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
