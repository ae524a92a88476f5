// Package store persists finished session reports.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS session_reports (
    session_id TEXT PRIMARY KEY,
    goal       TEXT NOT NULL,
    start_url  TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL,
    reason     TEXT NOT NULL DEFAULT '',
    result     TEXT NOT NULL DEFAULT '',
    iterations INTEGER NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    ended_at   TIMESTAMPTZ NOT NULL,
    report     JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS session_steps (
    session_id  TEXT NOT NULL REFERENCES session_reports(session_id) ON DELETE CASCADE,
    entry_id    TEXT NOT NULL,
    step        INTEGER NOT NULL,
    action_kind TEXT NOT NULL,
    status      TEXT NOT NULL,
    error_kind  TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (session_id, step)
);`

const (
	sqlUpsertReport = `
        INSERT INTO session_reports (session_id, goal, start_url, status, reason, result, iterations, started_at, ended_at, report)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (session_id) DO UPDATE SET
            status = EXCLUDED.status,
            reason = EXCLUDED.reason,
            result = EXCLUDED.result,
            iterations = EXCLUDED.iterations,
            ended_at = EXCLUDED.ended_at,
            report = EXCLUDED.report;
    `
	sqlDeleteSteps = `DELETE FROM session_steps WHERE session_id = $1;`
	sqlLoadReport  = `SELECT report FROM session_reports WHERE session_id = $1;`
)

var stepColumns = []string{"session_id", "entry_id", "step", "action_kind", "status", "error_kind", "detail", "recorded_at"}

// PostgresStore keeps reports in PostgreSQL: the full report as JSONB plus
// one row per history entry for querying.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres creates a new store instance and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save writes the report and replaces its step rows in one transaction.
func (s *PostgresStore) Save(ctx context.Context, report *schemas.SessionReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlUpsertReport,
		report.SessionID, string(report.Goal), report.StartURL, string(report.Status),
		report.Reason, report.Result, report.Iterations,
		report.StartedAt.UTC(), report.EndedAt.UTC(), raw,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert report: %w", err)
	}
	if _, err := tx.Exec(ctx, sqlDeleteSteps, report.SessionID); err != nil {
		return fmt.Errorf("failed to clear previous steps: %w", err)
	}
	if len(report.History) > 0 {
		if err := s.persistSteps(ctx, tx, report); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Report saved.", zap.String("session_id", report.SessionID), zap.Int("steps", len(report.History)))
	return nil
}

func (s *PostgresStore) persistSteps(ctx context.Context, tx pgx.Tx, report *schemas.SessionReport) error {
	rows := make([][]interface{}, len(report.History))
	for i, e := range report.History {
		kind := "none"
		if e.Action != nil {
			kind = string(e.Action.Kind)
		}
		rows[i] = []interface{}{
			report.SessionID, e.ID, e.Step, kind,
			string(e.Outcome.Status), string(e.Outcome.Kind), e.Outcome.Detail,
			e.Timestamp.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"session_steps"}, stepColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy steps: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied steps count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

// Load returns the stored report for sessionID.
func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*schemas.SessionReport, error) {
	var raw []byte
	if err := s.pool.QueryRow(ctx, sqlLoadReport, sessionID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schemas.ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to load report %s: %w", sessionID, err)
	}
	var report schemas.SessionReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", sessionID, err)
	}
	return &report, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
