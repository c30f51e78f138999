package auth

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestRouteFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want Route
	}{
		{"/healthz", RouteHealth},
		{"/readyz", RouteHealth},
		{"/webhooks/calls", RouteWebhook},
		{"/v1/stream/call-1", RouteStream},
		{"/v1/calls", RouteAdmin},
		{"/v1/calls/call-1/turns", RouteAdmin},
		{"/v1/scripts", RouteAdmin},
		{"/v1/streams", RouteAdmin},
		{"/", RouteAdmin},
	}
	for _, tc := range tests {
		if got := RouteFor(tc.path); got != tc.want {
			t.Fatalf("RouteFor(%q)=%v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestParseBearer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer sk_live", "sk_live", true},
		{"bearer  sk_live ", "sk_live", true},
		{"Basic dXNlcg==", "", false},
		{"Bearer", "", false},
		{"Bearer   ", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		req := httptest.NewRequest("GET", "/v1/calls", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got, ok := ParseBearer(req)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseBearer(%q)=(%q,%v), want (%q,%v)", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPrincipal(t *testing.T) {
	t.Parallel()

	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatalf("PrincipalFrom(empty) ok=true")
	}
	ctx := WithPrincipal(context.Background(), &Principal{Kind: KindProvider, Source: "10.0.0.1"})
	p, ok := PrincipalFrom(ctx)
	if !ok || p.Kind != KindProvider || p.IsAdmin() {
		t.Fatalf("principal=%+v ok=%v", p, ok)
	}
	if !(&Principal{Kind: KindAdmin, APIKey: "sk"}).IsAdmin() {
		t.Fatalf("admin principal not admin")
	}
	var nilP *Principal
	if nilP.IsAdmin() {
		t.Fatalf("nil principal is admin")
	}
}
