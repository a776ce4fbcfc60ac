package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"peercall/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLimitedRouter(cfg *config.Config, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	if handler == nil {
		handler = func(c *gin.Context) { c.Status(http.StatusOK) }
	}
	router.GET("/test", handler)
	return router
}

func limitedConfig(rps float64, burst int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = rps
	cfg.RateLimiting.HTTP.Burst = burst
	return cfg
}

func get(router *gin.Engine, remote, xff string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestHTTPRateLimitMiddleware_DisabledPassesThrough(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := newLimitedRouter(cfg, nil)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1234", "").Code)
	}
}

func TestHTTPRateLimitMiddleware_LimitsPerClient(t *testing.T) {
	router := newLimitedRouter(limitedConfig(0.1, 1), nil)

	require.Equal(t, http.StatusOK, get(router, "10.0.0.1:1234", "").Code)

	w := get(router, "10.0.0.1:1234", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "RateLimited", body.Code)
	// one token per ten seconds
	assert.Equal(t, "10", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get(router, "10.0.0.2:1234", "").Code)
}

func TestHTTPRateLimitMiddleware_UsesFirstForwardedHop(t *testing.T) {
	router := newLimitedRouter(limitedConfig(1, 1), nil)

	assert.Equal(t, http.StatusOK, get(router, "10.0.0.9:1", "203.0.113.7, 10.0.0.9").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "10.0.0.8:1", "203.0.113.7").Code)
}

func TestHTTPRateLimitMiddleware_CapsInFlightRequests(t *testing.T) {
	cfg := limitedConfig(100, 100)
	cfg.RateLimiting.HTTP.MaxConcurrent = 1

	entered := make(chan struct{})
	release := make(chan struct{})
	router := newLimitedRouter(cfg, func(c *gin.Context) {
		close(entered)
		<-release
		c.Status(http.StatusOK)
	})

	done := make(chan int)
	go func() { done <- get(router, "10.0.0.1:1", "").Code }()
	<-entered

	assert.Equal(t, http.StatusServiceUnavailable, get(router, "10.0.0.2:1", "").Code)
	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestClientLimiters_EvictsIdleBuckets(t *testing.T) {
	start := time.Now()
	l := newClientLimiters(1, 1, start)

	l.reserve("a", start)
	l.reserve("b", start)
	l.reserve("b", start.Add(limiterIdleTTL/2))
	l.reserve("c", start.Add(limiterIdleTTL+time.Minute))

	assert.NotContains(t, l.buckets, "a")
	assert.Contains(t, l.buckets, "b")
	assert.Contains(t, l.buckets, "c")
}

func TestClientLimiters_RefusalKeepsTokens(t *testing.T) {
	start := time.Now()
	l := newClientLimiters(1, 1, start)

	ok, _ := l.reserve("a", start)
	require.True(t, ok)
	ok, wait := l.reserve("a", start)
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	ok, _ = l.reserve("a", start.Add(time.Second))
	assert.True(t, ok)
}
