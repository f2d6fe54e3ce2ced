package sink

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/omniroute/omniroute/pkg/routing"
)

//go:embed schema.sql
var schemaSQL string

// Pragma retry bounds for concurrent initialization of the same file.
const (
	pragmaRetries   = 5
	pragmaBaseDelay = 10 * time.Millisecond
)

// SQLite persists execution records and snapshots to a SQLite database.
// Write contention surfaces as "database is locked"; those errors are
// marked retriable so the flusher re-queues the batch.
type SQLite struct {
	db     *sql.DB
	dbPath string
}

// NewSQLite opens (or creates) the database at dbPath and applies the
// schema. ":memory:" is supported for tests.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dbPath != ":memory:" {
		err := os.MkdirAll(filepath.Dir(dbPath), 0o755)
		if err != nil {
			return nil, fmt.Errorf("create sink directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sink database: %w", err)
	}

	// busy_timeout must come first so the remaining pragmas wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		err = execWithRetry(db, pragma)
		if err != nil {
			db.Close()

			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(schemaSQL)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("init sink schema: %w", err)
	}

	return &SQLite{db: db, dbPath: dbPath}, nil
}

// execWithRetry executes a statement with exponential backoff on lock
// errors only.
func execWithRetry(db *sql.DB, stmt string) error {
	var lastErr error

	for attempt := range pragmaRetries {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}

		if !isLocked(err) {
			return err
		}

		lastErr = err
		time.Sleep(pragmaBaseDelay * time.Duration(1<<attempt))
	}

	return lastErr
}

func isLocked(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// WriteRecords implements Sink. The batch is written in one transaction;
// duplicate execution IDs are upserted so flush retries stay idempotent.
func (s *SQLite) WriteRecords(ctx context.Context, records []routing.ExecutionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLiteErr("begin record batch", err)
	}

	const insert = `INSERT OR REPLACE INTO executions
		(execution_id, adapter, task_kind, start_ts, end_ts, status, latency_ms, error_type, error_message, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for idx := range records {
		rec := &records[idx]

		var cost any
		if rec.CostUSD != nil {
			cost = rec.CostUSD.String()
		}

		_, err = tx.ExecContext(ctx, insert,
			rec.ExecutionID,
			string(rec.Adapter),
			string(rec.TaskKind),
			rec.StartTS.UTC().Format(time.RFC3339Nano),
			rec.EndTS.UTC().Format(time.RFC3339Nano),
			string(rec.Status),
			rec.LatencyMS,
			nullable(rec.ErrorType),
			nullable(rec.ErrorMessage),
			cost,
		)
		if err != nil {
			tx.Rollback()

			return wrapSQLiteErr("insert execution record", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return wrapSQLiteErr("commit record batch", err)
	}

	return nil
}

// WriteAggregate implements Sink.
func (s *SQLite) WriteAggregate(ctx context.Context, snap AggregateSnapshot) error {
	return s.writeSnapshot(ctx, "aggregate_snapshots", snap.TakenAt, snap)
}

// WriteScoring implements Sink.
func (s *SQLite) WriteScoring(ctx context.Context, snap ScoringSnapshot) error {
	return s.writeSnapshot(ctx, "scoring_snapshots", snap.TakenAt, snap)
}

func (s *SQLite) writeSnapshot(ctx context.Context, table string, takenAt time.Time, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (taken_at, payload) VALUES (?, ?)", table)

	_, err = s.db.ExecContext(ctx, stmt, takenAt.UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return wrapSQLiteErr("insert snapshot", err)
	}

	return nil
}

// Close implements Sink.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}

	return s.db.Close()
}

// wrapSQLiteErr wraps err, marking lock contention as retriable.
func wrapSQLiteErr(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if isLocked(err) {
		return MarkRetriable(wrapped)
	}

	return wrapped
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}
