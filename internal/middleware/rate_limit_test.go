package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func rateLimitedHandler(t *testing.T, perMinute int) http.Handler {
	t.Helper()
	return RateLimitByIP(RateLimitConfig{RequestsPerMinute: perMinute}, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
}

func TestRateLimitByIP_AllowsUpToLimit(t *testing.T) {
	handler := rateLimitedHandler(t, 3)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "203.0.113.1:1234"
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, recorder.Code)
		}
	}
}

func TestRateLimitByIP_RejectsOverLimit(t *testing.T) {
	handler := rateLimitedHandler(t, 2)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "203.0.113.2:1234"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", last.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(last.Body.Bytes(), &body); err != nil {
		t.Fatalf("429 body is not JSON: %v", err)
	}
	if body["error"] != "rate_limit_exceeded" {
		t.Errorf("unexpected error code %v", body["error"])
	}
}

func TestRateLimitByIP_BucketsAreSeparatePerIP(t *testing.T) {
	handler := rateLimitedHandler(t, 1)

	first := httptest.NewRequest("POST", "/auth/login", nil)
	first.RemoteAddr = "203.0.113.3:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first IP should be allowed, got %d", rec.Code)
	}

	// Exhausted bucket for the first IP
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first IP should now be limited, got %d", rec.Code)
	}

	other := httptest.NewRequest("POST", "/auth/login", nil)
	other.RemoteAddr = "203.0.113.4:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("second IP must have its own bucket, got %d", rec.Code)
	}
}

func TestRateLimitByIP_SpoofedForwardedForSharesBucket(t *testing.T) {
	// No trusted proxies configured: the forged header must not mint a
	// fresh bucket for the same peer.
	handler := rateLimitedHandler(t, 1)

	for i, forged := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "203.0.113.5:1234"
		req.Header.Set("X-Forwarded-For", forged)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i == 0 && rec.Code != http.StatusOK {
			t.Fatalf("first request should pass, got %d", rec.Code)
		}
		if i == 1 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("forged header must not reset the bucket, got %d", rec.Code)
		}
	}
}
