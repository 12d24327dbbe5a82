package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4", 3, time.Minute) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4", 3, time.Minute) {
		t.Error("fourth request should be denied")
	}
	// A different key has its own window.
	if !rl.Allow("5.6.7.8", 3, time.Minute) {
		t.Error("other key should be allowed")
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	rl := NewRateLimiter()

	if !rl.Allow("1.2.3.4", 1, 10*time.Millisecond) {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("1.2.3.4", 1, 10*time.Millisecond) {
		t.Fatal("second request should be denied")
	}
	time.Sleep(15 * time.Millisecond)
	if !rl.Allow("1.2.3.4", 1, 10*time.Millisecond) {
		t.Error("request after window reset should be allowed")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter()
	rl.Allow("1.2.3.4", 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	rl.Cleanup()

	rl.mu.Lock()
	n := len(rl.windows)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("windows = %d, want 0 after cleanup", n)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter()
	handler := RateLimit(rl, RealIP, 2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/api/auth/login", nil)
		req.RemoteAddr = "1.2.3.4:5678"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d, want 204", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest("POST", "/api/auth/login", nil)
	req.RemoteAddr = "1.2.3.4:5678"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := RealIP(req); got != "10.0.0.1" {
		t.Errorf("ip = %q, want 10.0.0.1", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := RealIP(req); got != "203.0.113.7" {
		t.Errorf("ip = %q, want first forwarded hop", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	if got := RealIP(req); got != "203.0.113.9" {
		t.Errorf("ip = %q, want 203.0.113.9", got)
	}
}
