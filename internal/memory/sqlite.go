package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLite is a Store and History backed by a SQLite database file. It is
// safe for concurrent use; database/sql serializes access to the
// underlying connection pool.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if necessary) the database at path and ensures
// the schema exists. Use ":memory:" for an ephemeral database.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS memory (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id TEXT NOT NULL,
			goal TEXT NOT NULL,
			strategy TEXT NOT NULL,
			status TEXT NOT NULL,
			plan_json TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_goal ON runs(goal);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("init memory schema: %w", err)
		}
	}

	return &SQLite{db: db}, nil
}

// Read returns the value for key.
func (s *SQLite) Read(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM memory WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Write stores value under key, overwriting any existing value.
func (s *SQLite) Write(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory (key, value, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	return err
}

// Keys returns all keys with the given prefix, sorted ascending.
func (s *SQLite) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM memory WHERE key LIKE ? ESCAPE '\' ORDER BY key`,
		likePrefix(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// likePrefix turns a literal prefix into a LIKE pattern, escaping LIKE
// metacharacters in the prefix itself.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory WHERE key = ?`, key)
	return err
}

// SaveRun appends a run record.
func (s *SQLite) SaveRun(ctx context.Context, rec RunRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (plan_id, goal, strategy, status, plan_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.PlanID, rec.Goal, rec.Strategy, rec.Status, rec.PlanJSON, createdAt)
	return err
}

// RecentRuns returns up to limit records, newest first.
func (s *SQLite) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	return s.queryRuns(ctx,
		`SELECT id, plan_id, goal, strategy, status, plan_json, created_at
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
}

// RunsForGoal returns up to limit records for the given goal, newest first.
func (s *SQLite) RunsForGoal(ctx context.Context, goal string, limit int) ([]RunRecord, error) {
	return s.queryRuns(ctx,
		`SELECT id, plan_id, goal, strategy, status, plan_json, created_at
		 FROM runs WHERE goal = ? ORDER BY id DESC LIMIT ?`, goal, limit)
}

func (s *SQLite) queryRuns(ctx context.Context, query string, args ...any) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.ID, &rec.PlanID, &rec.Goal, &rec.Strategy, &rec.Status, &rec.PlanJSON, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
