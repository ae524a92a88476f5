package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/wayfinder/api/schemas"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_reports (
    session_id TEXT PRIMARY KEY,
    goal       TEXT NOT NULL,
    status     TEXT NOT NULL,
    iterations INTEGER NOT NULL,
    ended_at   TEXT NOT NULL,
    report     TEXT NOT NULL
)`

const (
	sqliteUpsert = `INSERT INTO session_reports (session_id, goal, status, iterations, ended_at, report)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET status = excluded.status, iterations = excluded.iterations,
ended_at = excluded.ended_at, report = excluded.report`
	sqliteLoad = `SELECT report FROM session_reports WHERE session_id = ?`
)

// SQLiteStore keeps reports in a single SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens the database file at dsn with the pure-Go driver.
func OpenSQLite(ctx context.Context, dsn string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s, err := NewSQLite(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite wraps db and creates the table if needed.
func NewSQLite(ctx context.Context, db *sql.DB, logger *zap.Logger) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db, log: logger.Named("store")}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, report *schemas.SessionReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsert,
		report.SessionID, string(report.Goal), string(report.Status), report.Iterations,
		report.EndedAt.UTC().Format("2006-01-02T15:04:05.000Z"), string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	s.log.Debug("Report saved.", zap.String("session_id", report.SessionID))
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*schemas.SessionReport, error) {
	var raw string
	if err := s.db.QueryRowContext(ctx, sqliteLoad, sessionID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, schemas.ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to load report %s: %w", sessionID, err)
	}
	var report schemas.SessionReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", sessionID, err)
	}
	return &report, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
