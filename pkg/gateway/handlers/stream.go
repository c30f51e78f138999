package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-callcore/pkg/core"
	"github.com/vango-go/vai-callcore/pkg/core/live"
	"github.com/vango-go/vai-callcore/pkg/gateway/calls"
	"github.com/vango-go/vai-callcore/pkg/gateway/config"
	"github.com/vango-go/vai-callcore/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-callcore/pkg/gateway/mw"
	"github.com/vango-go/vai-callcore/pkg/gateway/transport"
)

const streamPrefix = "/v1/stream/"

// StreamRegistry attaches media streams to registered calls.
type StreamRegistry interface {
	HandleStreamConnected(ctx context.Context, callID string, frames <-chan live.Frame, sink live.Sink) error
	HandleStreamDisconnected(callID string)
	Lookup(callID string) (calls.SessionInfo, bool)
}

// StreamHandler upgrades GET /v1/stream/{call_id} to the media websocket.
type StreamHandler struct {
	Config    config.Config
	Calls     StreamRegistry
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	callID := strings.Trim(strings.TrimPrefix(r.URL.Path, streamPrefix), "/")
	if callID == "" || strings.Contains(callID, "/") {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("call_id is required", "call_id"))
		return
	}
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}
	// Reject before upgrading so the streamer gets a plain HTTP status.
	if _, ok := h.Calls.Lookup(callID); !ok {
		writeError(w, r, core.NewNotFoundError("call not found"))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("stream upgrade failed", "call_id", callID, "error", err, "request_id", reqID)
		return
	}

	conn := transport.New(ws, callID, transport.Config{
		WriteTimeout:    h.Config.StreamWriteTimeout,
		PingInterval:    h.Config.StreamPingInterval,
		MaxMessageBytes: h.Config.StreamMaxMessageBytes,
		FrameBuffer:     h.Config.StreamFrameBuffer,
		SampleRate:      h.Config.SampleRate,
		Encoding:        h.Config.AudioEncoding,
	}, logger)

	// The request context is not tied to the socket after the upgrade.
	ctx := context.WithoutCancel(r.Context())
	if err := h.Calls.HandleStreamConnected(ctx, callID, conn.Frames(), conn); err != nil {
		logger.Warn("stream rejected", "call_id", callID, "error", err, "request_id", reqID)
		reason := "stream rejected"
		var ce *core.Error
		if errors.As(err, &ce) {
			reason = string(ce.Type)
		}
		_ = conn.CloseWithReason(reason)
		return
	}
	logger.Info("stream connected", "call_id", callID, "request_id", reqID)

	if err := conn.Run(ctx); err != nil {
		logger.Warn("stream read failed", "call_id", callID, "error", err)
	}
	h.Calls.HandleStreamDisconnected(callID)
	_ = conn.Close()
	logger.Info("stream disconnected", "call_id", callID, "frames", conn.FramesReceived())
}
