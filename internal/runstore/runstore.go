// Package runstore is the optional run registry (SPEC_FULL.md supplemented
// feature 1, "Run registry (Postgres)"). Every run appends one row to
// digest_runs when DATABASE_URL is configured; it is purely observational
// — the idempotency decision itself always stays file-based (internal/persist),
// per spec §4.8.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store records completed and in-flight runs.
type Store struct {
	db *sqlx.DB
}

// New wraps db. A nil db produces a Store whose methods are all no-ops,
// so callers do not need a separate "is the registry configured" check.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Run is one row of the digest_runs audit table.
type Run struct {
	TraceID       string         `db:"trace_id"`
	DigestDate    string         `db:"digest_date"`
	User          string         `db:"user_email"`
	StartedAt     time.Time      `db:"started_at"`
	FinishedAt    sql.NullTime   `db:"finished_at"`
	Mode          string         `db:"mode"`
	TriggerReason string         `db:"trigger_reason"`
	Counters      []byte         `db:"counters"`
	Partial       bool           `db:"partial"`
	DegradeReason sql.NullString `db:"degrade_reason"`
	Folders       pq.StringArray `db:"folders"`
}

// Counters is the JSON-marshalled snapshot stored in Run.Counters.
type Counters struct {
	MessagesProcessed  int `json:"messages_processed"`
	MessagesWithAction int `json:"messages_with_actions"`
	ThreadsBuilt       int `json:"threads_built"`
	ChunksExtracted    int `json:"chunks_extracted"`
	ActionsExtracted   int `json:"actions_extracted"`
	LLMCallsMade       int `json:"llm_calls_made"`
	LLMCacheHits       int `json:"llm_cache_hits"`
}

// StartRun inserts the opening row for the run identified by traceID.
func (s *Store) StartRun(ctx context.Context, traceID, digestDate, user, mode, triggerReason string, folders []string, startedAt time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	query := `
		INSERT INTO digest_runs (trace_id, digest_date, user_email, started_at, mode, trigger_reason, folders, partial)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false)`
	_, err := s.db.ExecContext(ctx, query, traceID, digestDate, user, startedAt, mode, triggerReason, pq.Array(folders))
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a completed or degraded run.
func (s *Store) FinishRun(ctx context.Context, traceID string, finishedAt time.Time, counters Counters, partial bool, degradeReason string) error {
	if s == nil || s.db == nil {
		return nil
	}
	data, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}

	query := `
		UPDATE digest_runs SET
			finished_at = $2, counters = $3, partial = $4, degrade_reason = $5
		WHERE trace_id = $1`
	_, err = s.db.ExecContext(ctx, query, traceID, finishedAt, data, partial, nullIfEmpty(degradeReason))
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs for a user, newest first, for
// operational inspection (no CLI surface reads this yet).
func (s *Store) RecentRuns(ctx context.Context, user string, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := `
		SELECT trace_id, digest_date, user_email, started_at, finished_at,
		       mode, trigger_reason, counters, partial, degrade_reason
		FROM digest_runs
		WHERE user_email = $1
		ORDER BY started_at DESC
		LIMIT $2`
	var rows []Run
	if err := s.db.SelectContext(ctx, &rows, query, user, limit); err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return rows, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
