package mw

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-callcore/pkg/core"
	"github.com/vango-go/vai-callcore/pkg/gateway/auth"
	"github.com/vango-go/vai-callcore/pkg/gateway/config"
	"github.com/vango-go/vai-callcore/pkg/gateway/ratelimit"
)

// RateLimit throttles per client. Admin callers share a bucket per API key;
// the provider and anonymous callers get per-address buckets kept apart, so
// admin probing from an address never starves call webhooks from it.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if !limiter.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health endpoints must remain cheap and reliable.
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := rateKey(r, cfg.TrustProxyHeaders)

		dec := limiter.Allow(key, time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			retryAfter := dec.RetryAfter
			writeJSONError(w, http.StatusTooManyRequests, &core.Error{
				Type:       core.ErrRateLimit,
				Message:    "rate limit exceeded",
				RequestID:  reqID,
				RetryAfter: &retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateKey(r *http.Request, trustProxy bool) string {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return "ip_" + ClientIP(r, trustProxy)
	}
	if p.IsAdmin() {
		return ratelimit.KeyFromSecret(p.APIKey)
	}
	source := p.Source
	if source == "" {
		source = ClientIP(r, trustProxy)
	}
	return string(p.Kind) + "_" + source
}

// ClientIP returns the caller address, honoring X-Forwarded-For only when
// proxy headers are trusted.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
