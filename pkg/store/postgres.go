package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-callcore/pkg/core"
	"github.com/vango-go/vai-callcore/pkg/core/conversation"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	connectAttempts = 5
	connectBackoff  = 250 * time.Millisecond
)

// PostgresArchive stores calls in PostgreSQL through a pgx pool.
type PostgresArchive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects with exponential backoff, since the database often
// starts alongside the service.
func OpenPostgres(ctx context.Context, url string, logger *slog.Logger) (*PostgresArchive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var pool *pgxpool.Pool
	backoff := retry.WithMaxRetries(connectAttempts, retry.NewExponential(connectBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := pgxpool.New(ctx, url)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.Warn("postgres not ready, retrying", "error", err)
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, wrap("connect postgres", err)
	}
	return &PostgresArchive{pool: pool, logger: logger}, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, url string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return wrap("open postgres", err)
	}
	defer db.Close()

	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return wrap("migrations fs", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return wrap("goose provider", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return wrap("migrate up", err)
	}
	for _, r := range results {
		logger.Info("migration applied", "version", r.Source.Version, "duration_ms", r.Duration.Milliseconds())
	}
	return nil
}

func (a *PostgresArchive) SaveCall(ctx context.Context, rec CallRecord) error {
	meta, err := json.Marshal(nonNil(rec.Metadata))
	if err != nil {
		return wrap("marshal metadata", err)
	}
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return wrap("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO calls (call_id, direction, from_number, to_number, status, script_name, final_state, metadata, created_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (call_id) DO UPDATE SET
    status = EXCLUDED.status,
    script_name = COALESCE(NULLIF(EXCLUDED.script_name, ''), calls.script_name),
    final_state = COALESCE(NULLIF(EXCLUDED.final_state, ''), calls.final_state),
    metadata = CASE WHEN EXCLUDED.metadata = '{}'::jsonb THEN calls.metadata ELSE EXCLUDED.metadata END,
    ended_at = COALESCE(calls.ended_at, EXCLUDED.ended_at)`,
		rec.CallID, rec.Direction, rec.FromNumber, rec.ToNumber, rec.Status,
		rec.ScriptName, rec.FinalState, meta, rec.CreatedAt, rec.EndedAt)
	if err != nil {
		return wrap("upsert call", err)
	}

	for i, t := range rec.Turns {
		id, err := uuid.Parse(t.ID)
		if err != nil {
			id = uuid.New()
		}
		ents, err := json.Marshal(nonNil(t.Entities))
		if err != nil {
			return wrap("marshal entities", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO call_turns (id, call_id, seq, speaker, text, intent, entities, state_at_turn, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`,
			id, rec.CallID, i, string(t.Speaker), t.Text, t.Intent, ents, t.StateAtTurn, t.Timestamp)
		if err != nil {
			return wrap("insert turn", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return wrap("commit", err)
	}
	return nil
}

func (a *PostgresArchive) GetCall(ctx context.Context, callID string) (CallRecord, error) {
	var (
		rec  CallRecord
		meta []byte
	)
	err := a.pool.QueryRow(ctx, `
SELECT call_id, direction, from_number, to_number, status, script_name, final_state, metadata, created_at, ended_at
FROM calls WHERE call_id = $1`, callID).Scan(
		&rec.CallID, &rec.Direction, &rec.FromNumber, &rec.ToNumber, &rec.Status,
		&rec.ScriptName, &rec.FinalState, &meta, &rec.CreatedAt, &rec.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallRecord{}, core.NewNotFoundError(fmt.Sprintf("call %q not found", callID))
	}
	if err != nil {
		return CallRecord{}, wrap("get call", err)
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &rec.Metadata)
	}

	rows, err := a.pool.Query(ctx, `
SELECT id::text, speaker, text, intent, entities, state_at_turn, created_at
FROM call_turns WHERE call_id = $1 ORDER BY seq`, callID)
	if err != nil {
		return CallRecord{}, wrap("list turns", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t       conversation.Turn
			speaker string
			ents    []byte
		)
		if err := rows.Scan(&t.ID, &speaker, &t.Text, &t.Intent, &ents, &t.StateAtTurn, &t.Timestamp); err != nil {
			return CallRecord{}, wrap("scan turn", err)
		}
		t.Speaker = conversation.Speaker(speaker)
		if len(ents) > 0 {
			_ = json.Unmarshal(ents, &t.Entities)
		}
		rec.Turns = append(rec.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return CallRecord{}, wrap("list turns", err)
	}
	return rec, nil
}

func (a *PostgresArchive) Close() error {
	a.pool.Close()
	return nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
