// Package history persists completed back-translation runs to SQLite for
// later inspection. It is a journal, not a cache; the translation memory
// owns memoization.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS back_translations (
		id TEXT PRIMARY KEY,
		input TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		intermediate_lang TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		intermediate_text TEXT,
		final_text TEXT,
		duration_ms INTEGER,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON back_translations(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_provider ON back_translations(provider_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Run is one recorded back-translation.
type Run struct {
	ID               string
	Input            string
	SourceLang       string
	IntermediateLang string
	ProviderID       string
	Intermediate     string
	Final            string
	Duration         time.Duration
	Error            string
	CreatedAt        time.Time
}

func (s *Store) SaveRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO back_translations (id, input, source_lang, intermediate_lang, provider_id, intermediate_text, final_text, duration_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Input, run.SourceLang, run.IntermediateLang, run.ProviderID,
		run.Intermediate, run.Final, run.Duration.Milliseconds(), run.Error, time.Now())
	return err
}

// ListRuns returns up to limit runs, most recent first. limit <= 0 returns
// everything.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, input, source_lang, intermediate_lang, provider_id,
		COALESCE(intermediate_text, ''), COALESCE(final_text, ''), duration_ms, COALESCE(error, ''), created_at
		FROM back_translations ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		var r Run
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.Input, &r.SourceLang, &r.IntermediateLang, &r.ProviderID,
			&r.Intermediate, &r.Final, &durationMs, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, r)
	}

	return results, rows.Err()
}

// RunStats summarises the journal.
type RunStats struct {
	TotalRuns     int
	Succeeded     int
	Failed        int
	AvgDurationMs float64
}

func (s *Store) Stats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN error = '' OR error IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN error != '' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM back_translations`).Scan(
		&stats.TotalRuns,
		&stats.Succeeded,
		&stats.Failed,
		&stats.AvgDurationMs,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ClearRuns removes all journal entries.
func (s *Store) ClearRuns(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM back_translations`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
