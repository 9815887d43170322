package limiter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestIPRateLimiter_PerAddress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewIPRateLimiter(ctx, rate.Limit(0.001), 2)

	a := httptest.NewRequest(http.MethodGet, "/ws", nil)
	a.RemoteAddr = "10.0.0.1:5000"
	b := httptest.NewRequest(http.MethodGet, "/ws", nil)
	b.RemoteAddr = "10.0.0.2:5000"

	assert.True(t, l.Allow(a))
	assert.True(t, l.Allow(a))
	assert.False(t, l.Allow(a), "burst exhausted")
	assert.True(t, l.Allow(b), "other addresses have their own bucket")
	assert.Equal(t, 2, l.Size())
}

func TestIPRateLimiter_SweepDropsIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewIPRateLimiter(ctx, rate.Limit(1), 1)

	l.GetLimiter("10.0.0.1").Allow()
	l.GetLimiter("10.0.0.2")

	assert.Equal(t, 1, l.sweep(time.Now()), "only the untouched bucket is full")
	assert.Equal(t, 1, l.sweep(time.Now().Add(time.Hour)))
	assert.Zero(t, l.Size())
}

func TestMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewIPRateLimiter(ctx, rate.Limit(0.001), 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:1234"
	assert.Equal(t, "192.0.2.7", ClientIP(r))

	r.RemoteAddr = ""
	assert.Equal(t, "unknown_ip", ClientIP(r))
}
