// Package memory persists answered queries in SQLite.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"insightbot/internal/domain"
)

const defaultRecentLimit = 20

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.HistoryStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Record stores rec. Missing ID and CreatedAt are filled in.
func (s *SQLiteStore) Record(ctx context.Context, rec domain.QueryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_history (id, channel, query, property_id, agent_used, answer, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Channel, rec.Query, rec.PropertyID, rec.AgentUsed, rec.Answer, rec.Error,
		rec.Duration.Milliseconds(), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record query: %w", err)
	}
	return nil
}

// Recent returns the newest records first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.QueryRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, query, property_id, agent_used, answer, error, duration_ms, created_at
		 FROM query_history ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.QueryRecord
	for rows.Next() {
		var r domain.QueryRecord
		var ms int64
		if err := rows.Scan(&r.ID, &r.Channel, &r.Query, &r.PropertyID, &r.AgentUsed,
			&r.Answer, &r.Error, &ms, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// CountByAgent returns how many recorded queries each agent answered.
// Failed queries are counted under the empty agent name.
func (s *SQLiteStore) CountByAgent(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_used, COUNT(*) FROM query_history GROUP BY agent_used`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var agent string
		var n int
		if err := rows.Scan(&agent, &n); err != nil {
			return nil, err
		}
		counts[agent] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
