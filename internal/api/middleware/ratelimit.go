package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second per IP.
	Rate rate.Limit
	// Burst is the per-IP burst allowance.
	Burst int
	// CleanupInterval is how often idle IPs are swept.
	CleanupInterval time.Duration
	// MaxAge is how long an idle IP's limiter survives before eviction.
	MaxAge time.Duration
}

// DefaultRateLimitConfig returns defaults sized for a dialer API:
// queries are cheap but each dial-out allocates a trunk channel, so
// the limit is kept low.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(10),
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// IPRateLimiter keeps one token bucket per client IP, evicting buckets
// that have been idle longer than MaxAge.
type IPRateLimiter struct {
	cfg    RateLimitConfig
	stopCh chan struct{}

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

// NewIPRateLimiter creates the limiter and starts its sweep goroutine.
// Call Stop when the server shuts down.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	rl := &IPRateLimiter{
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
	go rl.sweepLoop()
	return rl
}

// Allow reports whether a request from the given IP may proceed.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	bucket, ok := rl.buckets[ip]
	if !ok {
		bucket = rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)
		rl.buckets[ip] = bucket
	}
	rl.lastSeen[ip] = time.Now()
	rl.mu.Unlock()

	return bucket.Allow()
}

// Stop terminates the sweep goroutine.
func (rl *IPRateLimiter) Stop() {
	close(rl.stopCh)
}

func (rl *IPRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *IPRateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.cfg.MaxAge)
	removed := 0
	for ip, seen := range rl.lastSeen {
		if seen.Before(cutoff) {
			delete(rl.buckets, ip)
			delete(rl.lastSeen, ip)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("rate limiter sweep", "removed", removed, "remaining", len(rl.buckets))
	}
}

// RateLimit returns middleware that limits requests per client IP,
// answering 429 with a Retry-After header when the bucket is empty.
func RateLimit(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiter.Allow(ip) {
				slog.Warn("rate limit exceeded",
					"ip", ip,
					"method", r.Method,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. Chi's RealIP middleware
// runs first, so behind a proxy this is already the forwarded address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
