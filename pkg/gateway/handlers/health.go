package handlers

import (
	"net/http"
	"time"

	"github.com/vango-go/vai-callcore/pkg/gateway/config"
	"github.com/vango-go/vai-callcore/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// CallCounter reports live call load for readiness.
type CallCounter interface {
	ActiveCount() int
	Streaming() int
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Calls     CallCounter
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		Draining      bool     `json:"draining"`
		DrainingSince string   `json:"draining_since,omitempty"`
		AuthMode      string   `json:"auth_mode"`
		LimitsEnabled bool     `json:"limits_enabled"`
		ActiveCalls   int      `json:"active_calls"`
		Streaming     int      `json:"streaming"`
		MaxSessions   int      `json:"max_sessions"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.WebhookSignatureRequired && h.Config.WebhookSecret == "" {
		issues = append(issues, "webhook signatures required but no secret configured")
	}
	if h.Config.MaxSessions <= 0 {
		issues = append(issues, "max_sessions must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	since := h.Lifecycle.DrainingSince()
	draining := !since.IsZero()
	if draining {
		issues = append(issues, "draining")
	}

	resp := readyResp{
		Draining:      draining,
		AuthMode:      string(h.Config.AuthMode),
		LimitsEnabled: h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0,
		MaxSessions:   h.Config.MaxSessions,
		Issues:        issues,
	}
	if draining {
		resp.DrainingSince = since.UTC().Format(time.RFC3339)
	}
	if h.Calls != nil {
		resp.ActiveCalls = h.Calls.ActiveCount()
		resp.Streaming = h.Calls.Streaming()
	}
	resp.OK = len(issues) == 0

	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !resp.OK:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}
