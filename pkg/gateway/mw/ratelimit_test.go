package mw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lumenlabs/lumen/pkg/gateway/apierror"
	"github.com/lumenlabs/lumen/pkg/gateway/ratelimit"
)

func TestRateLimitRejectsOverLimit(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RPS: 1, Burst: 1})
	h := RateLimit(limiter, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/validate-user?user_id=alice", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/validate-user?user_id=alice", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got == "" {
		t.Fatal("missing Retry-After header")
	}
	var env apierror.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if env.Error == nil || env.Error.Type != apierror.ErrRateLimit {
		t.Fatalf("error envelope = %+v, want rate_limit_error", env.Error)
	}
}

func TestRateLimitKeysByUser(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RPS: 1, Burst: 1})
	h := RateLimit(limiter, okHandler())

	for _, user := range []string{"alice", "bob"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/validate-user?user_id="+user, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("user %s status = %d, want 200", user, rec.Code)
		}
	}
}

func TestRateLimitSkipsOperationalPaths(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RPS: 1, Burst: 1})
	h := RateLimit(limiter, okHandler())

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		for range 5 {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("path %s status = %d, want 200", path, rec.Code)
			}
		}
	}
}

func TestRateLimitSkipsPreflightAndUpgrades(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RPS: 1, Burst: 1})
	h := RateLimit(limiter, okHandler())

	for range 5 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/validate-user", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("preflight status = %d, want 200", rec.Code)
		}
	}

	for range 5 {
		req := httptest.NewRequest(http.MethodGet, "/ws/abc?user_id=alice", nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("upgrade status = %d, want 200", rec.Code)
		}
	}
}

func TestRateLimitNilLimiterPassesThrough(t *testing.T) {
	h := RateLimit(nil, okHandler())

	for range 10 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/validate-user", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	}
}
