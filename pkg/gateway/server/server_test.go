package server

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/vango-go/vai-callcore/pkg/core/conversation"
	"github.com/vango-go/vai-callcore/pkg/core/live"
	"github.com/vango-go/vai-callcore/pkg/gateway/calls"
	"github.com/vango-go/vai-callcore/pkg/gateway/config"
	"github.com/vango-go/vai-callcore/pkg/gateway/handlers"
)

type fakeCalls struct {
	mu     sync.Mutex
	events []calls.CallEvent
}

func (f *fakeCalls) HandleCallEvent(ctx context.Context, ev calls.CallEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeCalls) HandleStreamConnected(context.Context, string, <-chan live.Frame, live.Sink) error {
	return nil
}
func (f *fakeCalls) HandleStreamDisconnected(string)          {}
func (f *fakeCalls) Lookup(string) (calls.SessionInfo, bool)  { return calls.SessionInfo{}, false }
func (f *fakeCalls) List() []calls.SessionInfo                { return nil }
func (f *fakeCalls) Turns(string) ([]conversation.Turn, bool) { return nil, false }
func (f *fakeCalls) ActiveCount() int                         { return 0 }
func (f *fakeCalls) Streaming() int                           { return 0 }

func testServer(cfg config.Config) (*Server, *fakeCalls) {
	fc := &fakeCalls{}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if cfg.AuthMode == "" {
		cfg.AuthMode = config.AuthModeRequired
	}
	if cfg.APIKeys == nil {
		cfg.APIKeys = map[string]struct{}{"sk_test": {}}
	}
	cfg.MaxSessions = 10
	cfg.CORSAllowedOrigins = map[string]struct{}{}
	return New(cfg, Dependencies{Calls: fc, Logger: logger}), fc
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s, _ := testServer(config.Config{AuthMode: config.AuthModeDisabled})

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestServer_AdminRoutesRequireKey(t *testing.T) {
	s, _ := testServer(config.Config{})

	for _, path := range []string{"/v1/calls", "/v1/calls/c1", "/v1/scripts"} {
		rr := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s without key status=%d", path, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/calls", nil)
	req.Header.Set("Authorization", "Bearer sk_test")
	rr := serve(s, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"object":"list"`) {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_HealthIsPublic(t *testing.T) {
	s, _ := testServer(config.Config{})
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestServer_WebhookUsesSignatureNotBearer(t *testing.T) {
	s, fc := testServer(config.Config{WebhookSecret: "whsec", WebhookSignatureRequired: true, MaxBodyBytes: 1 << 20})

	body := `{"event":"incoming_call","call_id":"c1"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/calls", strings.NewReader(body))
	req.Header.Set(handlers.SignatureHeader, "sha256="+hex.EncodeToString(handlers.Sign("whsec", []byte(body))))
	rr := serve(s, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if len(fc.events) != 1 || fc.events[0].Type != calls.EventRinging {
		t.Fatalf("events=%v", fc.events)
	}
}

func TestServer_StreamUnknownCall(t *testing.T) {
	s, _ := testServer(config.Config{})
	rr := serve(s, httptest.NewRequest(http.MethodGet, "/v1/stream/c1", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_ReadyzReflectsDraining(t *testing.T) {
	s, _ := testServer(config.Config{ReadHeaderTimeout: 1, ReadTimeout: 1})
	if rr := serve(s, httptest.NewRequest(http.MethodGet, "/readyz", nil)); rr.Code != http.StatusOK {
		t.Fatalf("ready status=%d body=%q", rr.Code, rr.Body.String())
	}
	s.Lifecycle().SetDraining(true)
	if rr := serve(s, httptest.NewRequest(http.MethodGet, "/readyz", nil)); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining status=%d", rr.Code)
	}
}
