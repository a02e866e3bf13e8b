package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"seriesfetcher/internal/fetcher"
)

// SQLiteSink persists series rows and run outcomes to a SQLite database.
type SQLiteSink struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLiteSink opens (or creates) the database and runs migrations.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteSink{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("sqlite sink opened", "path", dbPath)
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS series_points (
			series     TEXT    NOT NULL,
			date       TEXT    NOT NULL,
			value      REAL,
			fetched_at INTEGER NOT NULL,
			PRIMARY KEY (series, date)
		)`,

		`CREATE TABLE IF NOT EXISTS collection_runs (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			run_at   INTEGER NOT NULL,
			series   TEXT    NOT NULL,
			source   TEXT    NOT NULL,
			status   TEXT    NOT NULL,
			reason   TEXT,
			attempts INTEGER NOT NULL,
			rows     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_series ON collection_runs(series)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// WriteSeries upserts every row of a series in one transaction
func (s *SQLiteSink) WriteSeries(ctx context.Context, res fetcher.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO series_points (series, date, value, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(series, date) DO UPDATE SET value = excluded.value, fetched_at = excluded.fetched_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().Unix()
	for _, p := range res.Points {
		value := sql.NullFloat64{Float64: p.Value, Valid: p.Valid}
		if _, err := stmt.ExecContext(ctx, res.Name, p.Date.Format(time.DateOnly), value, now); err != nil {
			return fmt.Errorf("upsert %s %s: %w", res.Name, p.Date.Format(time.DateOnly), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecordRun stores the outcome of one series
func (s *SQLiteSink) RecordRun(ctx context.Context, res fetcher.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO collection_runs
		(run_at, series, source, status, reason, attempts, rows)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.now().Unix(), res.Name, res.Source, string(res.Status), res.Reason, res.Attempts, len(res.Points))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Points reads back the stored rows of a series in date order
func (s *SQLiteSink) Points(ctx context.Context, series string) ([]fetcher.Point, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, value FROM series_points WHERE series = ? ORDER BY date`, series)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var out []fetcher.Point
	for rows.Next() {
		var (
			date  string
			value sql.NullFloat64
		)
		if err := rows.Scan(&date, &value); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, fmt.Errorf("parse stored date %q: %w", date, err)
		}
		out = append(out, fetcher.Point{Date: d, Value: value.Float64, Valid: value.Valid})
	}
	return out, rows.Err()
}

// Close closes the database
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
