package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSink(t *testing.T) (*SQLiteSink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))
	sink, err := NewSQLiteSink(db)
	require.NoError(t, err)
	return sink, mock
}

func TestSQLiteSinkRecordAssignsID(t *testing.T) {
	sink, mock := newMockSink(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	e := ActionEntry("RL-1", "email-intake", "REQUEST_RECEIVED", OutcomeSuccess, nil, auditTestNow)
	id, err := sink.Record(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, e.AuditID, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteSinkRecordFailure(t *testing.T) {
	sink, mock := newMockSink(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnError(errors.New("database is locked"))

	_, err := sink.Record(context.Background(), ErrorEntry("RL-1", "compliance-risk", "SYSTEM_ERROR", "x", auditTestNow))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert audit entry")
}

func TestSQLiteSinkQueryWindow(t *testing.T) {
	sink, mock := newMockSink(t)

	rows := sqlmock.NewRows([]string{
		"audit_id", "loan_lock_id", "timestamp", "entry_type", "agent_name", "action", "outcome", "details",
	}).AddRow("AUDIT-1", "RL-1", auditTestNow, "ACTION", "email-intake", "REQUEST_RECEIVED", "SUCCESS", `{"seq":1}`)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT audit_id, loan_lock_id, timestamp, entry_type, agent_name, action, outcome, details")).
		WithArgs("RL-1", auditTestNow.Add(-time.Hour).UTC(), auditTestNow.Add(time.Hour).UTC()).
		WillReturnRows(rows)

	got, err := sink.Query(context.Background(), "RL-1", auditTestNow.Add(-time.Hour), auditTestNow.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EntryAction, got[0].Type)
	assert.Equal(t, OutcomeSuccess, got[0].Outcome)
	assert.Equal(t, float64(1), got[0].Details["seq"])
}
