package mw

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-go/vai-callcore/pkg/core"
	"github.com/vango-go/vai-callcore/pkg/gateway/auth"
	"github.com/vango-go/vai-callcore/pkg/gateway/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeErr(t *testing.T, body []byte) *core.Error {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode: %v body=%q", err, string(body))
	}
	if env.Error == nil {
		t.Fatalf("missing error in %q", string(body))
	}
	return env.Error
}

func TestRequestID_GeneratesAndPreserves(t *testing.T) {
	t.Parallel()

	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/calls", nil))
	if !strings.HasPrefix(seen, "req_") || rr.Header().Get("X-Request-ID") != seen {
		t.Fatalf("generated id=%q header=%q", seen, rr.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/calls", nil)
	req.Header.Set("X-Request-ID", "req_upstream")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "req_upstream" {
		t.Fatalf("id=%q, want req_upstream", seen)
	}
}

func TestAuth_Modes(t *testing.T) {
	t.Parallel()

	keys := map[string]struct{}{"sk_good": {}}
	tests := []struct {
		name   string
		mode   config.AuthMode
		path   string
		bearer string
		want   int
	}{
		{"required missing", config.AuthModeRequired, "/v1/calls", "", http.StatusUnauthorized},
		{"required bad key", config.AuthModeRequired, "/v1/calls", "sk_bad", http.StatusUnauthorized},
		{"required good key", config.AuthModeRequired, "/v1/calls", "sk_good", http.StatusOK},
		{"optional missing", config.AuthModeOptional, "/v1/calls", "", http.StatusOK},
		{"optional bad key", config.AuthModeOptional, "/v1/calls", "sk_bad", http.StatusUnauthorized},
		{"disabled", config.AuthModeDisabled, "/v1/calls", "", http.StatusOK},
		{"webhook public", config.AuthModeRequired, "/webhooks/calls", "", http.StatusOK},
		{"stream public", config.AuthModeRequired, "/v1/stream/call-1", "", http.StatusOK},
		{"health public", config.AuthModeRequired, "/healthz", "", http.StatusOK},
		{"invalid mode", config.AuthMode("weird"), "/v1/calls", "", http.StatusInternalServerError},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := Auth(config.Config{AuthMode: tc.mode, APIKeys: keys}, okHandler())
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tc.bearer)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status=%d, want %d body=%q", rr.Code, tc.want, rr.Body.String())
			}
			if tc.want == http.StatusUnauthorized {
				if e := decodeErr(t, rr.Body.Bytes()); e.Type != core.ErrAuthentication {
					t.Fatalf("type=%q, want %q", e.Type, core.ErrAuthentication)
				}
			}
		})
	}
}

func TestAuth_AttachesPrincipal(t *testing.T) {
	t.Parallel()

	var got *auth.Principal
	h := Auth(config.Config{AuthMode: config.AuthModeRequired, APIKeys: map[string]struct{}{"sk_good": {}}},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = auth.PrincipalFrom(r.Context())
		}))
	req := httptest.NewRequest(http.MethodGet, "/v1/calls", nil)
	req.Header.Set("Authorization", "Bearer sk_good")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got == nil || got.Kind != auth.KindAdmin || got.APIKey != "sk_good" || !got.IsAdmin() {
		t.Fatalf("principal=%+v", got)
	}
}

func TestAuth_PrincipalKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mode config.AuthMode
		path string
		want auth.Kind
	}{
		{"webhook", config.AuthModeRequired, "/webhooks/calls", auth.KindProvider},
		{"stream", config.AuthModeRequired, "/v1/stream/call-1", auth.KindProvider},
		{"optional without key", config.AuthModeOptional, "/v1/calls", auth.KindAnonymous},
		{"disabled", config.AuthModeDisabled, "/v1/scripts", auth.KindAnonymous},
		{"health", config.AuthModeRequired, "/readyz", ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var got *auth.Principal
			h := Auth(config.Config{AuthMode: tc.mode}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = auth.PrincipalFrom(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.RemoteAddr = "192.0.2.10:5060"
			h.ServeHTTP(httptest.NewRecorder(), req)
			if tc.want == "" {
				if got != nil {
					t.Fatalf("principal=%+v, want none", got)
				}
				return
			}
			if got == nil || got.Kind != tc.want || got.Source != "192.0.2.10" || got.IsAdmin() {
				t.Fatalf("principal=%+v, want kind %q from 192.0.2.10", got, tc.want)
			}
		})
	}
}

func TestRecover_WritesJSONError(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	h := RequestID(Recover(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/calls", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	e := decodeErr(t, rr.Body.Bytes())
	if e.Type != core.ErrAPI || e.RequestID == "" {
		t.Fatalf("err=%+v", e)
	}
	if !strings.Contains(logs.String(), `"msg":"panic"`) {
		t.Fatalf("missing panic log: %s", logs.String())
	}
}

func TestAccessLog_RecordsStatus(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	h := RequestID(AccessLog(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/calls", nil))

	var entry map[string]any
	if err := json.Unmarshal(logs.Bytes(), &entry); err != nil {
		t.Fatalf("decode log: %v (%s)", err, logs.String())
	}
	if entry["msg"] != "request" || entry["path"] != "/webhooks/calls" || entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("entry=%v", entry)
	}
	if id, _ := entry["request_id"].(string); !strings.HasPrefix(id, "req_") {
		t.Fatalf("request_id=%v", entry["request_id"])
	}
}

func TestStatusWriter_ForwardsFlushAndHijack(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr, status: 200}
	sw.Flush()
	if !rr.Flushed {
		t.Fatalf("expected flush to reach recorder")
	}
	if _, _, err := sw.Hijack(); err == nil {
		t.Fatalf("expected hijack error for recorder")
	}
	if sw.Unwrap() != rr {
		t.Fatalf("Unwrap did not return the underlying writer")
	}
}
