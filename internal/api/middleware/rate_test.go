package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/config"
)

func rateEngine(cfg config.RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RateLimit(cfg))
	engine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return engine
}

func getFrom(engine *gin.Engine, addr string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = addr
	engine.ServeHTTP(w, req)
	return w.Code
}

// TestRateLimitBudget tests that an address exhausting its burst is refused.
func TestRateLimitBudget(t *testing.T) {
	engine := rateEngine(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2})

	assert.Equal(t, http.StatusOK, getFrom(engine, "10.0.0.1:100"))
	assert.Equal(t, http.StatusOK, getFrom(engine, "10.0.0.1:100"))
	assert.Equal(t, http.StatusTooManyRequests, getFrom(engine, "10.0.0.1:100"))
}

// TestRateLimitPerAddress tests that budgets are not shared across addresses.
func TestRateLimitPerAddress(t *testing.T) {
	engine := rateEngine(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1})

	assert.Equal(t, http.StatusOK, getFrom(engine, "10.0.0.1:100"))
	assert.Equal(t, http.StatusTooManyRequests, getFrom(engine, "10.0.0.1:100"))
	assert.Equal(t, http.StatusOK, getFrom(engine, "10.0.0.2:100"))
}
