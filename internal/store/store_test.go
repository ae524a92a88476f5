package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/wayfinder/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// reportJSON accepts the encoded report if it carries the session id.
func reportJSON(sessionID string) ArgumentMatcherFunc {
	return func(v interface{}) bool {
		raw, ok := v.([]byte)
		return ok && strings.Contains(string(raw), `"session_id":"`+sessionID+`"`)
	}
}

func testReport() *schemas.SessionReport {
	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	scroll := schemas.Scroll(schemas.ScrollDown)
	return &schemas.SessionReport{
		SessionID:  "sess-42",
		Goal:       "find the chair",
		StartURL:   "https://www.example.edu/",
		Status:     schemas.StatusFailedGoalUnreachable,
		Reason:     "budget_exceeded: step budget of 2 exhausted",
		Iterations: 2,
		StartedAt:  started,
		EndedAt:    started.Add(time.Minute),
		History: []schemas.HistoryEntry{
			{ID: "01J0", Step: 1, Action: &scroll, Outcome: schemas.Applied(""), Timestamp: started.Add(time.Second)},
			{ID: "01J1", Step: 2, Outcome: schemas.Failed(schemas.ErrKindDecision, "bad reply"), Timestamp: started.Add(2 * time.Second)},
		},
	}
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := NewPostgres(context.Background(), mockPool, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s, mockPool
}

func TestNewPostgres(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgres(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresMigrate(t *testing.T) {
	s, mockPool := newMockStore(t)
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS session_reports").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// expectReportRewrite expects the report upsert and the step delete that
// precede the step copy.
func expectReportRewrite(mockPool pgxmock.PgxPoolIface, report *schemas.SessionReport) {
	mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertReport)).
		WithArgs(report.SessionID, "find the chair", report.StartURL, "failed_goal_unreachable",
			report.Reason, "", 2, report.StartedAt, report.EndedAt, reportJSON(report.SessionID)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteSteps)).
		WithArgs(report.SessionID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
}

func TestPostgresSave(t *testing.T) {
	t.Run("should upsert the report and copy its steps", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		report := testReport()

		mockPool.ExpectBegin()
		expectReportRewrite(mockPool, report)
		mockPool.ExpectCopyFrom(pgx.Identifier{"session_steps"}, stepColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.Save(context.Background(), report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should skip the copy when there is no history", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		report := testReport()
		report.History = nil

		mockPool.ExpectBegin()
		expectReportRewrite(mockPool, report)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.Save(context.Background(), report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the copy count is short", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		report := testReport()

		mockPool.ExpectBegin()
		expectReportRewrite(mockPool, report)
		mockPool.ExpectCopyFrom(pgx.Identifier{"session_steps"}, stepColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.Save(context.Background(), report)
		assert.ErrorContains(t, err, "mismatch in copied steps count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate begin errors", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		beginErr := errors.New("connection reset")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err := s.Save(context.Background(), testReport())
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresLoad(t *testing.T) {
	t.Run("should decode the stored report", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		raw, err := json.Marshal(testReport())
		require.NoError(t, err)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLoadReport)).
			WithArgs("sess-42").
			WillReturnRows(pgxmock.NewRows([]string{"report"}).AddRow(raw))

		got, err := s.Load(context.Background(), "sess-42")
		require.NoError(t, err)
		assert.Equal(t, schemas.StatusFailedGoalUnreachable, got.Status)
		require.Len(t, got.History, 2)
		assert.Equal(t, schemas.ActionScroll, got.History[0].Action.Kind)
		assert.Nil(t, got.History[1].Action)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should map missing rows to ErrReportNotFound", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLoadReport)).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := s.Load(context.Background(), "missing")
		assert.ErrorIs(t, err, schemas.ErrReportNotFound)
	})
}
