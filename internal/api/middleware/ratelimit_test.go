package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testLimiter(t *testing.T, cfg RateLimitConfig) *IPRateLimiter {
	t.Helper()
	rl := NewIPRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

func TestIPRateLimiterExhaustsBurst(t *testing.T) {
	rl := testLimiter(t, RateLimitConfig{
		Rate:            rate.Limit(1),
		Burst:           3,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
	})

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request allowed after burst exhausted")
	}
	// A different IP has its own bucket.
	if !rl.Allow("10.0.0.2") {
		t.Error("second IP denied on first request")
	}
}

func TestIPRateLimiterSweep(t *testing.T) {
	rl := testLimiter(t, RateLimitConfig{
		Rate:            rate.Limit(1),
		Burst:           1,
		CleanupInterval: time.Hour,
		MaxAge:          time.Minute,
	})

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	rl.sweep(time.Now().Add(2 * time.Minute))

	rl.mu.Lock()
	n := len(rl.buckets)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("buckets after sweep = %d, want 0", n)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := testLimiter(t, RateLimitConfig{
		Rate:            rate.Limit(1),
		Burst:           2,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
	})

	h := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil)
		req.RemoteAddr = "192.168.1.5:40000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil)
	req.RemoteAddr = "192.168.1.5:40000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.5:40000", "192.168.1.5"},
		{"[::1]:8080", "::1"},
		{"not-an-addr", "not-an-addr"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
