// Package audit implements the append-only trail every workflow action and
// state transition is recorded into, plus the compliance/SLA reporting that
// reads it back. Ordering within a loan_lock_id is by timestamp and is
// significant for trail reconstruction.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryType categorizes audit entries.
type EntryType string

const (
	EntryAction          EntryType = "ACTION"
	EntryStateTransition EntryType = "STATE_TRANSITION"
	EntryError           EntryType = "ERROR"
	EntryComplianceCheck EntryType = "COMPLIANCE_CHECK"
	EntrySLAMetric       EntryType = "SLA_METRIC"
)

// Outcome is the result attached to an audit entry.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeWarning Outcome = "WARNING"
	OutcomePartial Outcome = "PARTIAL"
)

// Entry is an immutable audit fact. Entries are created by any agent and
// never mutated; they are retained for compliance reporting.
type Entry struct {
	AuditID    string         `json:"audit_id"`
	LoanLockID string         `json:"loan_lock_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       EntryType      `json:"entry_type"`
	AgentName  string         `json:"agent_name"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details,omitempty"`
	Outcome    Outcome        `json:"outcome,omitempty"`
}

// Sink records and queries audit entries. Record returns the assigned audit
// ID; a failed write is reported to the caller, who decides whether to retry
// (see SafeSink for the fire-and-forget path agents use).
type Sink interface {
	Record(ctx context.Context, e Entry) (string, error)
	Query(ctx context.Context, loanLockID string, from, to time.Time) ([]Entry, error)
}

// NewAuditID returns a prefixed unique audit entry ID.
func NewAuditID(now time.Time) string {
	return fmt.Sprintf("AUDIT-%s-%s", now.UTC().Format("20060102150405"), uuid.NewString()[:8])
}

// TransitionEntry builds a STATE_TRANSITION entry, including the duration
// spent in the prior state for SLA tracking.
func TransitionEntry(loanLockID, triggeredBy string, from, to string, inPrior time.Duration, now time.Time) Entry {
	return Entry{
		AuditID:    NewAuditID(now),
		LoanLockID: loanLockID,
		Timestamp:  now,
		Type:       EntryStateTransition,
		AgentName:  triggeredBy,
		Action:     "STATE_TRANSITION",
		Outcome:    OutcomeSuccess,
		Details: map[string]any{
			"from_state":        from,
			"to_state":          to,
			"triggered_by":      triggeredBy,
			"duration_in_state": inPrior.String(),
			"duration_ms":       inPrior.Milliseconds(),
		},
	}
}

// ActionEntry builds an ACTION entry.
func ActionEntry(loanLockID, agentName, action string, outcome Outcome, details map[string]any, now time.Time) Entry {
	return Entry{
		AuditID:    NewAuditID(now),
		LoanLockID: loanLockID,
		Timestamp:  now,
		Type:       EntryAction,
		AgentName:  agentName,
		Action:     action,
		Outcome:    outcome,
		Details:    details,
	}
}

// ComplianceEntry builds a COMPLIANCE_CHECK entry for one check.
func ComplianceEntry(loanLockID, agentName, checkType, result string, details map[string]any, now time.Time) Entry {
	if details == nil {
		details = map[string]any{}
	}
	details["check_type"] = checkType
	details["check_result"] = result
	return Entry{
		AuditID:    NewAuditID(now),
		LoanLockID: loanLockID,
		Timestamp:  now,
		Type:       EntryComplianceCheck,
		AgentName:  agentName,
		Action:     checkType,
		Outcome:    checkOutcome(result),
		Details:    details,
	}
}

// ErrorEntry builds an ERROR entry.
func ErrorEntry(loanLockID, agentName, errType, message string, now time.Time) Entry {
	return Entry{
		AuditID:    NewAuditID(now),
		LoanLockID: loanLockID,
		Timestamp:  now,
		Type:       EntryError,
		AgentName:  agentName,
		Action:     errType,
		Outcome:    OutcomeFailure,
		Details:    map[string]any{"error": message},
	}
}

func checkOutcome(result string) Outcome {
	switch result {
	case "PASS":
		return OutcomeSuccess
	case "WARNING":
		return OutcomeWarning
	default:
		return OutcomeFailure
	}
}
