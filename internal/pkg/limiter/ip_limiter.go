/*
Package limiter provides rate limiting keyed by client IP address.

It uses the token bucket algorithm (rate.Limiter) per IP and a cleanup goroutine
that removes idle limiters so the map does not grow without bound.
*/
package limiter

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"agora/internal/pkg/errs"
	"agora/internal/pkg/logx"
	"agora/internal/pkg/resp"
)

const cleanupInterval = 3 * time.Minute

// IPRateLimiter implements a rate limiter keyed by client IP address.
type IPRateLimiter struct {
	mu sync.RWMutex

	limits map[string]*rate.Limiter

	r rate.Limit
	b int
}

// NewIPRateLimiter creates an IPRateLimiter allowing r events per second with burst b.
// Idle limiters are swept until ctx is cancelled.
func NewIPRateLimiter(ctx context.Context, r rate.Limit, b int) *IPRateLimiter {
	i := &IPRateLimiter{
		limits: make(map[string]*rate.Limiter),
		r:      r,
		b:      b,
	}

	go i.cleanUpVisitors(ctx)

	return i
}

// GetLimiter returns the limiter for ip, creating it on first use.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.RLock()
	limiter, exists := i.limits[ip]
	i.mu.RUnlock()

	if !exists {
		i.mu.Lock()
		limiter, exists = i.limits[ip]
		if !exists {
			limiter = rate.NewLimiter(i.r, i.b)
			i.limits[ip] = limiter
		}
		i.mu.Unlock()
	}

	return limiter
}

// Allow reports whether a request from the client address of r may proceed.
func (i *IPRateLimiter) Allow(r *http.Request) bool {
	return i.GetLimiter(ClientIP(r)).Allow()
}

// Size returns the number of tracked addresses.
func (i *IPRateLimiter) Size() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.limits)
}

// sweep removes limiters whose bucket is full, i.e. addresses that have been idle long enough.
func (i *IPRateLimiter) sweep(now time.Time) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	count := 0
	for ip, limiter := range i.limits {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(i.limits, ip)
			count++
		}
	}
	return count
}

func (i *IPRateLimiter) cleanUpVisitors(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed := i.sweep(now)
			logx.Debug("Rate limiter cleanup finished", "removed", removed, "remaining", i.Size())
		}
	}
}

// Middleware rejects requests over the limit with 429 Too Many Requests.
func (i *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !i.Allow(r) {
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of r.RemoteAddr (already rewritten by chi's RealIP when enabled).
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	if ip == "" {
		ip = "unknown_ip"
	}

	return ip
}
