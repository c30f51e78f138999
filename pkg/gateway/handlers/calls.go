package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/vai-callcore/pkg/core"
	"github.com/vango-go/vai-callcore/pkg/core/conversation"
	"github.com/vango-go/vai-callcore/pkg/gateway/calls"
	"github.com/vango-go/vai-callcore/pkg/store"
)

const callsPrefix = "/v1/calls"

// CallRegistry is the read side of the call orchestrator.
type CallRegistry interface {
	List() []calls.SessionInfo
	Lookup(callID string) (calls.SessionInfo, bool)
	Turns(callID string) ([]conversation.Turn, bool)
}

// CallsHandler serves the admin call views:
//
//	GET /v1/calls
//	GET /v1/calls/{call_id}
//	GET /v1/calls/{call_id}/turns
//
// Ended calls that were already evicted are served from the archive when one
// is configured.
type CallsHandler struct {
	Calls   CallRegistry
	Archive store.Archive
	Logger  *slog.Logger
}

type callListResp struct {
	Object string              `json:"object"`
	Data   []calls.SessionInfo `json:"data"`
}

type turnListResp struct {
	Object string              `json:"object"`
	CallID string              `json:"call_id"`
	Source string              `json:"source"`
	Data   []conversation.Turn `json:"data"`
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, callsPrefix), "/")
	if rest == "" {
		list := h.Calls.List()
		if list == nil {
			list = []calls.SessionInfo{}
		}
		writeJSON(w, http.StatusOK, callListResp{Object: "list", Data: list})
		return
	}

	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		h.getCall(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "turns":
		h.getTurns(w, r, parts[0])
	default:
		NotFoundHandler{}.ServeHTTP(w, r)
	}
}

func (h CallsHandler) getCall(w http.ResponseWriter, r *http.Request, callID string) {
	if info, ok := h.Calls.Lookup(callID); ok {
		writeJSON(w, http.StatusOK, info)
		return
	}
	rec, err := h.archived(r, callID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h CallsHandler) getTurns(w http.ResponseWriter, r *http.Request, callID string) {
	if turns, ok := h.Calls.Turns(callID); ok {
		if turns == nil {
			turns = []conversation.Turn{}
		}
		writeJSON(w, http.StatusOK, turnListResp{Object: "list", CallID: callID, Source: "live", Data: turns})
		return
	}
	rec, err := h.archived(r, callID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	turns := rec.Turns
	if turns == nil {
		turns = []conversation.Turn{}
	}
	writeJSON(w, http.StatusOK, turnListResp{Object: "list", CallID: callID, Source: "archive", Data: turns})
}

func (h CallsHandler) archived(r *http.Request, callID string) (store.CallRecord, error) {
	if h.Archive == nil {
		return store.CallRecord{}, core.NewNotFoundError("call not found")
	}
	rec, err := h.Archive.GetCall(r.Context(), callID)
	if err != nil {
		var ce *core.Error
		if !errors.As(err, &ce) || ce.Type != core.ErrNotFound {
			logger := h.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("archive lookup failed", "call_id", callID, "error", err)
		}
		return store.CallRecord{}, err
	}
	return rec, nil
}

// ScriptLister names the scripts available to calls.
type ScriptLister interface {
	Names() []string
}

type ScriptsHandler struct {
	Scripts       ScriptLister
	DefaultScript string
}

func (h ScriptsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	type scriptsResp struct {
		Object  string   `json:"object"`
		Data    []string `json:"data"`
		Default string   `json:"default,omitempty"`
	}
	names := []string{}
	if h.Scripts != nil {
		names = append(names, h.Scripts.Names()...)
	}
	writeJSON(w, http.StatusOK, scriptsResp{Object: "list", Data: names, Default: h.DefaultScript})
}
