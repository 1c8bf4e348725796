package audit

import (
	"context"
	"log/slog"
)

// WriteResult reports a sink write that could not be persisted. The
// orchestrator drains these and decides whether to buffer-and-retry; the
// failure is never surfaced to the workflow path that produced the entry.
type WriteResult struct {
	Entry Entry
	Err   error
}

// SafeSink wraps a Sink so that audit writes never block workflow progress.
// Failed writes fall back to local structured-log emission and are pushed on
// the Failures channel; if nobody is draining, the result is dropped after
// the local emission (accepted tradeoff: audit is for reporting, not control
// flow).
type SafeSink struct {
	inner    Sink
	log      *slog.Logger
	failures chan WriteResult
}

func NewSafeSink(inner Sink, log *slog.Logger) *SafeSink {
	if log == nil {
		log = slog.Default()
	}
	return &SafeSink{
		inner:    inner,
		log:      log,
		failures: make(chan WriteResult, 256),
	}
}

// Failures exposes the failed-write stream for the retry drain.
func (s *SafeSink) Failures() <-chan WriteResult {
	return s.failures
}

// MustRecord records the entry, absorbing any write failure.
func (s *SafeSink) MustRecord(ctx context.Context, e Entry) string {
	id, err := s.inner.Record(ctx, e)
	if err == nil {
		return id
	}
	s.log.Warn("audit write failed, falling back to local emission",
		"loan_lock_id", e.LoanLockID,
		"entry_type", string(e.Type),
		"action", e.Action,
		"error", err,
	)
	select {
	case s.failures <- WriteResult{Entry: e, Err: err}:
	default:
		s.log.Error("audit retry buffer full, entry dropped", "audit_id", e.AuditID)
	}
	return e.AuditID
}

// Retry re-records a previously failed entry.
func (s *SafeSink) Retry(ctx context.Context, e Entry) error {
	_, err := s.inner.Record(ctx, e)
	return err
}
