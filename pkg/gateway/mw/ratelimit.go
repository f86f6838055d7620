package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lumenlabs/lumen/pkg/gateway/apierror"
	"github.com/lumenlabs/lumen/pkg/gateway/ratelimit"
)

// RateLimit applies the per-client token bucket, keyed by user id when
// the request carries one and remote host otherwise. Health, metrics,
// preflight, and WebSocket upgrades pass through; upgrades are limited
// by the session cap instead.
func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions || isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		client := ratelimit.ClientKey(r.URL.Query().Get("user_id"), r.RemoteAddr)
		dec := limiter.AcquireRequest(client, time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			apierror.Write(w, &apierror.Error{
				Type:    apierror.ErrRateLimit,
				Message: "rate limit exceeded",
			}, reqID)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}
