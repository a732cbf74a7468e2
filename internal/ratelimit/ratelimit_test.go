package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestLimiterAllowsBurstThenDenies(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	}
	limiter := New(cfg)
	defer limiter.Stop()

	key := "203.0.113.7"

	for i := 0; i < 5; i++ {
		if !limiter.Allow(key) {
			t.Errorf("request %d should be allowed (within burst)", i)
		}
	}

	if limiter.Allow(key) {
		t.Error("request after burst should be denied")
	}

	// 60/min replenishes one token per second.
	time.Sleep(1100 * time.Millisecond)

	if !limiter.Allow(key) {
		t.Error("request after replenishment should be allowed")
	}
}

func TestLimiterIsolatesShoppers(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	}
	limiter := New(cfg)
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("203.0.113.7")
	}

	if limiter.Allow("203.0.113.7") {
		t.Error("exhausted shopper should be rate limited")
	}

	if !limiter.Allow("203.0.113.8") {
		t.Error("a different shopper should not be rate limited")
	}
}

func TestLimiterReplenishesTokens(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 600,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	}
	limiter := New(cfg)
	defer limiter.Stop()

	key := "203.0.113.7"

	if !limiter.Allow(key) {
		t.Error("first request should be allowed")
	}
	if limiter.Allow(key) {
		t.Error("second immediate request should be denied")
	}

	// 600/min replenishes a token every 100ms.
	time.Sleep(110 * time.Millisecond)

	if !limiter.Allow(key) {
		t.Error("request after replenishment should be allowed")
	}
}

func TestMiddlewareReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         2,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	router := gin.New()
	router.Use(limiter.Middleware())
	router.GET("/widget", func(c *gin.Context) {
		c.String(200, "ok")
	})

	do := func() int {
		req := httptest.NewRequest("GET", "/widget", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := do(); code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", code)
	}
	if code := do(); code != http.StatusOK {
		t.Fatalf("second request = %d, want 200", code)
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", code)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestsPerMinute != 60 {
		t.Errorf("expected 60 requests/min, got %d", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("expected burst size 10, got %d", cfg.BurstSize)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("expected 1 minute cleanup interval, got %v", cfg.CleanupInterval)
	}
}
