// Package middleware holds the HTTP middleware shared by the API routes.
package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/CostsmpRTR/facebook-video-downloader/internal/domain"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int           // per client address
	Burst             int
	CleanupInterval   time.Duration // idle buckets older than this are dropped
	Logger            *slog.Logger
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 10,
		Burst:             3,
		CleanupInterval:   10 * time.Minute,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client address. Extraction and
// download both hit the upstream, so they share a single budget.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	idle     time.Duration
	logger   *slog.Logger
	buckets  map[string]*bucket
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a RateLimiter and starts its janitor goroutine.
func NewRateLimiter(cfg *RateLimitConfig) *RateLimiter {
	if cfg == nil {
		cfg = DefaultRateLimitConfig()
	}

	rl := &RateLimiter{
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:   cfg.Burst,
		idle:    cfg.CleanupInterval,
		logger:  cfg.Logger,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	if rl.burst < 1 {
		rl.burst = 1
	}
	if rl.idle <= 0 {
		rl.idle = 10 * time.Minute
	}
	if rl.logger == nil {
		rl.logger = slog.Default()
	}

	go rl.janitor()

	return rl
}

// Stop stops the janitor goroutine. It is safe to call twice.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// reserve takes a token for ip. When none is available it returns false and
// how long until one will be.
func (rl *RateLimiter) reserve(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()

	now := time.Now()
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := time.Now().Add(-rl.idle)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(threshold) {
			delete(rl.buckets, ip)
		}
	}
}

// RateLimitMiddleware rejects requests over the per-address budget with 429
// and a Retry-After hint in whole seconds.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := GetClientIP(r)

			ok, wait := rl.reserve(ip)
			if !ok {
				rl.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path, "retry_after", wait)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(&domain.ErrorResponse{
					Error: "Too many requests, slow down",
					Code:  "RATE_LIMIT",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetClientIP returns the caller's address without the port. Proxy headers
// are not read here; the router's RealIP middleware owns that decision and
// rewrites RemoteAddr before this runs.
func GetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
