// Package auth identifies who is calling the gateway. Operators reach the
// admin API with bearer keys; the telephony provider reaches the webhook and
// media stream routes, which carry their own proof (an HMAC signature, or a
// call id a signed webhook registered).
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Route groups gateway paths by how their callers are authenticated.
type Route int

const (
	RouteAdmin Route = iota
	RouteHealth
	RouteWebhook
	RouteStream
)

// RouteFor classifies a request path. Anything not recognized is admin.
func RouteFor(path string) Route {
	switch {
	case path == "/healthz", path == "/readyz":
		return RouteHealth
	case strings.HasPrefix(path, "/webhooks/"):
		return RouteWebhook
	case strings.HasPrefix(path, "/v1/stream/"):
		return RouteStream
	default:
		return RouteAdmin
	}
}

// Kind is the sort of caller behind a request.
type Kind string

const (
	// KindAdmin presented a configured API key.
	KindAdmin Kind = "admin"
	// KindProvider is the telephony provider on a webhook or stream route.
	KindProvider Kind = "provider"
	// KindAnonymous reached the admin API without a key, when auth allows it.
	KindAnonymous Kind = "anonymous"
)

type Principal struct {
	Kind Kind
	// APIKey is set for admin callers only.
	APIKey string
	// Source is the client address.
	Source string
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Kind == KindAdmin && p.APIKey != ""
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer extracts the token from an Authorization header. The scheme is
// matched case-insensitively.
func ParseBearer(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
