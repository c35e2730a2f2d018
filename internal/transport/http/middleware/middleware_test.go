package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{"remote addr", nil, "3.3.3.3:4567", "3.3.3.3"},
		{"ipv6", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"already stripped by RealIP", nil, "4.4.4.4", "4.4.4.4"},
		{"spoofed headers ignored", map[string]string{
			"CF-Connecting-IP": "1.1.1.1",
			"X-Real-IP":        "2.2.2.2",
			"X-Forwarded-For":  "5.5.5.5, 6.6.6.6",
		}, "3.3.3.3:1", "3.3.3.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, GetClientIP(r))
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerMinute: 1, Burst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/video/info", nil)
		r.RemoteAddr = ip + ":1000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1").Code)
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1").Code)

	limited := do("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too many requests, slow down","code":"RATE_LIMIT"}`, limited.Body.String())

	// Buckets are per address.
	assert.Equal(t, http.StatusNoContent, do("10.0.0.2").Code)
	assert.Len(t, rl.buckets, 2)
}

func TestRateLimitIgnoresForwardedHeaders(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerMinute: 1, Burst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// Rotating X-Forwarded-For must not buy a fresh bucket.
	for i, forwarded := range []string{"7.7.7.1", "7.7.7.2"} {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/video/info", nil)
		r.RemoteAddr = "10.0.0.9:1000"
		r.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		if i == 0 {
			assert.Equal(t, http.StatusNoContent, w.Code)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, w.Code)
		}
	}
	assert.Len(t, rl.buckets, 1)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerMinute: 60, Burst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	ok, _ := rl.reserve("10.0.0.1")
	require.True(t, ok)
	rl.buckets["10.0.0.1"].lastSeen = time.Now().Add(-2 * time.Minute)

	rl.cleanup()
	assert.Empty(t, rl.buckets)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.Contains(t, buf.String(), `"path":"/health"`)
	assert.Contains(t, buf.String(), `"status":418`)
}
