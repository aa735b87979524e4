package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
)

// RateLimiter is a per-client token bucket applied as a dispatch
// interceptor, so only requests that resolved to a handler consume tokens.
// A rejected request is answered with 429 from PreHandle and the handler is
// never invoked.
type RateLimiter struct {
	mvc.InterceptorBase

	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       float64 // tokens per second
	burst      int     // max tokens
	maxBuckets int     // max tracked clients
	key        func(*http.Request) string
	now        func() time.Time
}

type bucket struct {
	tokens    float64
	updatedAt time.Time
}

var _ mvc.Interceptor = (*RateLimiter)(nil)

// NewRateLimiter creates a limiter with the given sustained rate (requests
// per second) and burst size, keyed by client IP.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*bucket),
		rate:       rate,
		burst:      burst,
		maxBuckets: 100000,
		key:        clientIP,
		now:        time.Now,
	}
}

// KeyFunc replaces the client key, e.g. to limit per matched route.
func (rl *RateLimiter) KeyFunc(fn func(*http.Request) string) *RateLimiter {
	rl.key = fn
	return rl
}

// PreHandle takes a token or rejects the request.
func (rl *RateLimiter) PreHandle(w http.ResponseWriter, r *http.Request, _ any) (bool, error) {
	remaining, retryAfter, allowed := rl.allow(rl.key(r))

	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	if allowed {
		return true, nil
	}

	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retryAfter)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	return false, nil
}

// allow returns remaining tokens, seconds until the next token, and whether
// the request may proceed.
func (rl *RateLimiter) allow(key string) (remaining int, retryAfter float64, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists {
		if len(rl.buckets) >= rl.maxBuckets {
			return 0, 1.0 / rl.rate, false
		}
		b = &bucket{tokens: float64(rl.burst), updatedAt: now}
		rl.buckets[key] = b
	}

	b.tokens = math.Min(float64(rl.burst), b.tokens+now.Sub(b.updatedAt).Seconds()*rl.rate)
	b.updatedAt = now

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// StartCleanup removes buckets idle for longer than maxIdle every interval
// until ctx ends.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for k, b := range rl.buckets {
		if b.updatedAt.Before(cutoff) {
			delete(rl.buckets, k)
		}
	}
}

// Len returns the number of tracked buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// clientIP uses RemoteAddr only; forwarding headers can be spoofed.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
