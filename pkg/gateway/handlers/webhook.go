package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-callcore/pkg/core"
	"github.com/vango-go/vai-callcore/pkg/gateway/calls"
	"github.com/vango-go/vai-callcore/pkg/gateway/config"
	"github.com/vango-go/vai-callcore/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-callcore/pkg/gateway/mw"
)

const SignatureHeader = "X-Ringover-Signature"

// CallEventHandler applies provider lifecycle events.
type CallEventHandler interface {
	HandleCallEvent(ctx context.Context, ev calls.CallEvent) error
}

// WebhookHandler accepts signed call lifecycle notifications at
// POST /webhooks/calls.
type WebhookHandler struct {
	Config    config.Config
	Calls     CallEventHandler
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
	Clock     func() time.Time
}

type webhookPayload struct {
	Event      string         `json:"event"`
	Type       string         `json:"type"`
	CallID     string         `json:"call_id"`
	ID         string         `json:"id"`
	Direction  string         `json:"direction"`
	FromNumber string         `json:"from_number"`
	ToNumber   string         `json:"to_number"`
	Timestamp  string         `json:"timestamp"`
	CreatedAt  string         `json:"created_at"`
	Data       map[string]any `json:"data"`
}

type webhookResp struct {
	Status string `json:"status"`
	CallID string `json:"call_id,omitempty"`
	Event  string `json:"event,omitempty"`
}

func (h WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	limit := h.Config.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "request body too large", Code: "body_too_large"}, http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, r, core.NewInvalidRequestError("failed to read request body"))
		return
	}

	if h.Config.WebhookSecret != "" || h.Config.WebhookSignatureRequired {
		if !VerifySignature(h.Config.WebhookSecret, body, r.Header.Get(SignatureHeader)) {
			logger.Warn("webhook signature rejected", "request_id", reqID)
			writeCoreErrorJSON(w, reqID, &core.Error{
				Type:    core.ErrAuthentication,
				Message: "invalid webhook signature",
				Param:   SignatureHeader,
			}, http.StatusUnauthorized)
			return
		}
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		writeError(w, r, core.NewInvalidRequestError("invalid JSON payload"))
		return
	}
	name := firstNonEmpty(p.Event, p.Type)
	callID := strings.TrimSpace(firstNonEmpty(p.CallID, p.ID))
	if name == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("event is required", "event"))
		return
	}
	if callID == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("call_id is required", "call_id"))
		return
	}

	evType, ok := calls.ParseProviderEvent(name)
	if !ok {
		logger.Info("webhook event ignored", "event", name, "call_id", callID, "request_id", reqID)
		writeJSON(w, http.StatusAccepted, webhookResp{Status: "ignored", CallID: callID, Event: name})
		return
	}

	// New calls are refused while draining; updates to existing calls still apply.
	if h.Lifecycle.IsDraining() && evType == calls.EventRinging {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}

	ev := calls.CallEvent{
		CallID:    callID,
		Type:      evType,
		Timestamp: h.parseTimestamp(firstNonEmpty(p.Timestamp, p.CreatedAt)),
		Direction: calls.ParseDirection(p.Direction),
		From:      strings.TrimSpace(p.FromNumber),
		To:        strings.TrimSpace(p.ToNumber),
		Metadata:  flattenData(p.Data),
	}
	if err := h.Calls.HandleCallEvent(r.Context(), ev); err != nil {
		logger.Warn("webhook event failed", "event", name, "call_id", callID, "error", err, "request_id", reqID)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResp{Status: "ok", CallID: callID, Event: string(evType)})
}

func (h WebhookHandler) parseTimestamp(s string) time.Time {
	now := time.Now
	if h.Clock != nil {
		now = h.Clock
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return now()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return now()
}

// VerifySignature checks a hex HMAC-SHA256 of body, with or without a
// "sha256=" prefix.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, Sign(secret, body))
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// flattenData keeps scalar values as strings; nested values are dropped.
func flattenData(data map[string]any) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		switch t := v.(type) {
		case string:
			out[k] = t
		case bool:
			out[k] = strconv.FormatBool(t)
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case nil:
		default:
			if _, nested := v.(map[string]any); nested {
				continue
			}
			if _, list := v.([]any); list {
				continue
			}
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
