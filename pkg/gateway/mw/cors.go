package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/vai-callcore/pkg/core"
	"github.com/vango-go/vai-callcore/pkg/gateway/auth"
	"github.com/vango-go/vai-callcore/pkg/gateway/config"
)

const (
	corsAllowedHeaders = "Authorization, X-Request-ID"
	corsExposedHeaders = "X-Request-ID, Retry-After"
)

// CORS lets browser dashboards read the admin API from allowlisted origins.
// The admin API is read-only, so preflights may only ask for GET. Webhook and
// media stream routes are provider-to-server and never get CORS headers.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	allowed := cfg.CORSAllowedOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		_, originOK := allowed[origin]
		admin := auth.RouteFor(r.URL.Path) == auth.RouteAdmin

		wantMethod := strings.TrimSpace(r.Header.Get("Access-Control-Request-Method"))
		if r.Method == http.MethodOptions && wantMethod != "" {
			reqID, _ := RequestIDFrom(r.Context())
			var reason string
			switch {
			case !admin:
				reason = "cross-origin requests are not served on this route"
			case origin == "" || !originOK:
				reason = "origin not allowed"
			case wantMethod != http.MethodGet:
				reason = "the admin API is read-only"
			}
			if reason != "" {
				writeJSONError(w, http.StatusForbidden, &core.Error{
					Type:      core.ErrInvalidRequest,
					Message:   "cors preflight rejected: " + reason,
					Code:      "cors_rejected",
					RequestID: reqID,
				})
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET")
			h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if admin && origin != "" && originOK {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
		}
		next.ServeHTTP(w, r)
	})
}
