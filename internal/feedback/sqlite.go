package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteSink appends task outcomes to a SQLite table.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and runs
// migrations.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_outcomes (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		task_type TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		session_id TEXT,
		worker_id TEXT,
		provider TEXT,
		model TEXT,
		success INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		queue_wait_ms INTEGER NOT NULL,
		error_kind TEXT,
		error TEXT,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_task_outcomes_task_id ON task_outcomes(task_id);
	CREATE INDEX IF NOT EXISTS idx_task_outcomes_provider ON task_outcomes(provider, model);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record implements Sink.
func (s *SQLiteSink) Record(ctx context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_outcomes
			(id, task_id, task_type, agent_type, session_id, worker_id, provider, model,
			 success, latency_ms, queue_wait_ms, error_kind, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), ev.TaskID, ev.TaskType, ev.AgentType, ev.SessionID, ev.WorkerID,
		ev.Provider, ev.Model, ev.Success, ev.LatencyMs, ev.QueueWaitMs, ev.ErrorKind, ev.Error,
		at.UTC())
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit outcomes, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, task_type, agent_type, session_id, worker_id, provider, model,
		       success, latency_ms, queue_wait_ms, error_kind, error, recorded_at
		FROM task_outcomes
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var sessionID, workerID, provider, model, errorKind, errText sql.NullString
		if err := rows.Scan(&ev.TaskID, &ev.TaskType, &ev.AgentType, &sessionID, &workerID,
			&provider, &model, &ev.Success, &ev.LatencyMs, &ev.QueueWaitMs, &errorKind, &errText,
			&ev.At); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		ev.SessionID = sessionID.String
		ev.WorkerID = workerID.String
		ev.Provider = provider.String
		ev.Model = model.String
		ev.ErrorKind = errorKind.String
		ev.Error = errText.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ProviderStats summarizes outcomes for one provider and model.
type ProviderStats struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Total        int     `json:"total"`
	Successes    int     `json:"successes"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Stats aggregates outcomes by provider and model.
func (s *SQLiteSink) Stats(ctx context.Context) ([]ProviderStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(provider, ''), COALESCE(model, ''), COUNT(*), SUM(success), AVG(latency_ms)
		FROM task_outcomes
		GROUP BY provider, model
		ORDER BY provider, model`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []ProviderStats
	for rows.Next() {
		var ps ProviderStats
		if err := rows.Scan(&ps.Provider, &ps.Model, &ps.Total, &ps.Successes, &ps.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close(context.Context) error {
	return s.db.Close()
}
