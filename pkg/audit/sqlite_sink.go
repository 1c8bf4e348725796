package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists audit entries append-only in SQLite. Entries are never
// updated or deleted.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		audit_id TEXT PRIMARY KEY,
		loan_lock_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		entry_type TEXT NOT NULL,
		agent_name TEXT,
		action TEXT,
		outcome TEXT,
		details JSON
	);
	CREATE INDEX IF NOT EXISTS idx_audit_loan_lock ON audit_entries(loan_lock_id, timestamp);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteSink) Record(ctx context.Context, e Entry) (string, error) {
	if e.AuditID == "" {
		e.AuditID = NewAuditID(e.Timestamp)
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return "", fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (audit_id, loan_lock_id, timestamp, entry_type, agent_name, action, outcome, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AuditID, e.LoanLockID, e.Timestamp.UTC(), string(e.Type), e.AgentName, e.Action, string(e.Outcome), details,
	)
	if err != nil {
		return "", fmt.Errorf("insert audit entry: %w", err)
	}
	return e.AuditID, nil
}

func (s *SQLiteSink) Query(ctx context.Context, loanLockID string, from, to time.Time) ([]Entry, error) {
	query := `
		SELECT audit_id, loan_lock_id, timestamp, entry_type, agent_name, action, outcome, details
		FROM audit_entries
		WHERE loan_lock_id = ?`
	args := []any{loanLockID}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var entryType, outcome string
		var details []byte
		if err := rows.Scan(&e.AuditID, &e.LoanLockID, &e.Timestamp, &entryType, &e.AgentName, &e.Action, &outcome, &details); err != nil {
			return nil, err
		}
		e.Type = EntryType(entryType)
		e.Outcome = Outcome(outcome)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("corrupt audit details %s: %w", e.AuditID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
