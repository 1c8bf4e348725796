package lock

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists loan-lock records in SQLite. The nested attribute bags
// live in a JSON body column; the columns the workflow queries on (status,
// version) are materialized for indexing and for the compare-and-set update.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS loan_locks (
		loan_application_id TEXT PRIMARY KEY,
		rate_lock_id TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		archived INTEGER NOT NULL DEFAULT 0,
		body JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loan_locks_status ON loan_locks(status);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, rec *LoanLock) error {
	rec.Version = 1
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal loan lock: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loan_locks (loan_application_id, rate_lock_id, status, version, archived, body)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.LoanApplicationID, rec.RateLockID, string(rec.Status), rec.Version, boolToInt(rec.Archived), body,
	)
	if err != nil {
		// SQLite reports the primary key violation as a generic error;
		// re-check existence so callers get the sentinel.
		if existing, gerr := s.Get(ctx, rec.LoanApplicationID); gerr == nil && existing != nil {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert loan lock: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, loanApplicationID string) (*LoanLock, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM loan_locks WHERE loan_application_id = ?`, loanApplicationID,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec LoanLock
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("corrupt loan lock %s: %w", loanApplicationID, err)
	}
	return &rec, nil
}

// Update writes the record only when the stored version still matches
// rec.Version, bumping the version on success.
func (s *SQLiteStore) Update(ctx context.Context, rec *LoanLock) error {
	prev := rec.Version
	rec.Version = prev + 1
	body, err := json.Marshal(rec)
	if err != nil {
		rec.Version = prev
		return fmt.Errorf("marshal loan lock: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE loan_locks
		SET rate_lock_id = ?, status = ?, version = ?, archived = ?, body = ?
		WHERE loan_application_id = ? AND version = ?`,
		rec.RateLockID, string(rec.Status), rec.Version, boolToInt(rec.Archived), body,
		rec.LoanApplicationID, prev,
	)
	if err != nil {
		rec.Version = prev
		return fmt.Errorf("update loan lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rec.Version = prev
		return err
	}
	if n == 0 {
		rec.Version = prev
		if _, gerr := s.Get(ctx, rec.LoanApplicationID); gerr == ErrNotFound {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*LoanLock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM loan_locks ORDER BY loan_application_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*LoanLock
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec LoanLock
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("corrupt loan lock row: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
