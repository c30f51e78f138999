// Package store archives ended calls and their turns.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-callcore/pkg/core/conversation"
)

// CallRecord is the archived form of one call.
type CallRecord struct {
	CallID     string              `json:"call_id"`
	Direction  string              `json:"direction"`
	FromNumber string              `json:"from_number,omitempty"`
	ToNumber   string              `json:"to_number,omitempty"`
	Status     string              `json:"status"`
	ScriptName string              `json:"script_name,omitempty"`
	FinalState string              `json:"final_state,omitempty"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	EndedAt    *time.Time          `json:"ended_at,omitempty"`
	Turns      []conversation.Turn `json:"turns"`
}

// Archive persists call records. Saving the same call twice updates the call
// row, adds turns not yet stored, and keeps stored script, state, metadata
// and end time the new record leaves empty.
type Archive interface {
	SaveCall(ctx context.Context, rec CallRecord) error
	// GetCall returns a not_found_error when the call was never archived.
	GetCall(ctx context.Context, callID string) (CallRecord, error)
	Close() error
}

// Config selects the archive backend. The first non-empty field wins.
type Config struct {
	DatabaseURL string // postgres://...
	MySQLDSN    string // user:pass@tcp(host:port)/db?parseTime=true
	SQLitePath  string // file path or ":memory:"
}

// Open connects the configured backend. It returns (nil, nil) when no backend
// is configured.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		a, err := OpenPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case strings.TrimSpace(cfg.MySQLDSN) != "":
		a, err := OpenMySQL(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		return a, nil
	case strings.TrimSpace(cfg.SQLitePath) != "":
		a, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, nil
	}
}

func wrap(op string, err error) error {
	return fmt.Errorf("store: %s: %w", op, err)
}
