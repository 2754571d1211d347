// Package usage provides persistent per-invocation tracking for the
// bridge's tools. Records are append-only and indexed by timestamp and
// tool name for efficient aggregation queries.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Record represents a single tool invocation.
type Record struct {
	ID           string
	Timestamp    time.Time
	Tool         string
	Model        string
	InputTokens  int // prompt_eval_count from the backend, when reported
	OutputTokens int // eval_count from the backend, when reported
	DurationMS   int64
	CacheHit     bool
	Status       string // "ok" or the error kind
}

// Summary holds aggregated invocation totals.
type Summary struct {
	TotalCalls        int   `json:"total_calls"`
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
	CacheHits         int   `json:"cache_hits"`
	Errors            int   `json:"errors"`
}

// Store is an append-only SQLite store for invocation records. All
// public methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore creates a usage store at the given database path. The schema
// is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_invocations (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		tool          TEXT NOT NULL,
		model         TEXT,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms   INTEGER NOT NULL DEFAULT 0,
		cache_hit     INTEGER NOT NULL DEFAULT 0,
		status        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invocations_timestamp ON tool_invocations(timestamp);
	CREATE INDEX IF NOT EXISTS idx_invocations_tool ON tool_invocations(tool);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists an invocation record. If rec.ID is empty, a UUIDv7 is
// generated so record IDs sort by creation time.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_invocations
			(id, timestamp, tool, model, input_tokens, output_tokens, duration_ms, cache_hit, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Tool,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.DurationMS,
		boolToInt(rec.CacheHit),
		rec.Status,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns aggregated totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(cache_hit), 0),
		        COALESCE(SUM(CASE WHEN status != 'ok' THEN 1 ELSE 0 END), 0)
		 FROM tool_invocations
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalCalls, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.CacheHits, &sum.Errors); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByTool returns per-tool aggregated totals for records within
// [start, end), keyed by tool name.
func (s *Store) SummaryByTool(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool, COUNT(*),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(cache_hit), 0),
		        COALESCE(SUM(CASE WHEN status != 'ok' THEN 1 ELSE 0 END), 0)
		 FROM tool_invocations
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY tool`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by tool: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var tool string
		var sum Summary
		if err := rows.Scan(&tool, &sum.TotalCalls, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.CacheHits, &sum.Errors); err != nil {
			return nil, fmt.Errorf("scan usage by tool: %w", err)
		}
		result[tool] = &sum
	}
	return result, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
