package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wishpot/wishpot-backend/pkg/config"
)

func TestRateLimiterBurstThenReject(t *testing.T) {
	limiter := NewRateLimiter(config.RateLimitConfig{RedemptionPerSecond: 1, RedemptionBurst: 2})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("user:a"))
	assert.True(t, limiter.Allow("user:a"))
	assert.False(t, limiter.Allow("user:a"))
	assert.True(t, limiter.Allow("user:b"), "buckets are per caller")

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("user:a"), "one token refills per second")
}

func TestRateLimiterDisabledWhenRateZero(t *testing.T) {
	limiter := NewRateLimiter(config.RateLimitConfig{})
	for i := 0; i < 50; i++ {
		require.True(t, limiter.Allow("user:a"))
	}
}

func TestRateLimiterSweepsIdleEntries(t *testing.T) {
	limiter := NewRateLimiter(config.RateLimitConfig{RedemptionPerSecond: 1, RedemptionBurst: 1})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < limiterSweepTrigger; i++ {
		limiter.Allow("ip:" + time.Duration(i).String())
	}
	require.Len(t, limiter.entries, limiterSweepTrigger)

	now = now.Add(limiterIdleTTL + time.Minute)
	limiter.Allow("user:fresh")
	assert.Len(t, limiter.entries, 1)
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	limiter := NewRateLimiter(config.RateLimitConfig{RedemptionPerSecond: 0.001, RedemptionBurst: 1})
	handler := RateLimit(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/fulfillments", nil)
		req = req.WithContext(WithUserID(req.Context(), "user-1"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusCreated, send().Code)
	limited := send()
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "RateLimitExceeded")
}

func TestRateLimitKeyFallsBackToClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "ip:10.0.0.7", rateLimitKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "ip:203.0.113.9", rateLimitKey(req))
}
