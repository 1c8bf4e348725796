// Package lock defines the loan-lock record, its workflow state machine,
// and the record stores agents mutate through optimistic, status-gated writes.
package lock

import (
	"errors"
	"fmt"
	"time"
)

// Status is the workflow position of a loan-lock record. It is the single
// source of truth for which stage may write to the record.
type Status string

const (
	StatusPendingRequest     Status = "PendingRequest"
	StatusPendingContext     Status = "PendingContext"
	StatusRatesPresented     Status = "RatesPresented"
	StatusComplianceReviewed Status = "ComplianceReviewed"
	StatusLocked             Status = "Locked"
	StatusEscalated          Status = "Escalated"
	StatusRejected           Status = "Rejected"
	StatusExpired            Status = "Expired"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// transitions is the forward progression table. Escalated, Rejected and
// Expired are reachable from any non-terminal state and are handled in
// CanTransition rather than listed per-state.
var transitions = map[Status][]Status{
	StatusPendingRequest:     {StatusPendingContext},
	StatusPendingContext:     {StatusRatesPresented},
	StatusRatesPresented:     {StatusComplianceReviewed},
	StatusComplianceReviewed: {StatusLocked},
	// Escalated may re-enter any non-terminal state on human resolution,
	// or close as Rejected.
	StatusEscalated: {
		StatusPendingRequest, StatusPendingContext, StatusRatesPresented,
		StatusComplianceReviewed, StatusRejected,
	},
}

// IsTerminal reports whether s is a closed state. Terminal records are
// archived, never deleted.
func IsTerminal(s Status) bool {
	switch s {
	case StatusLocked, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if IsTerminal(from) {
		return false
	}
	// Any non-terminal state may divert to Escalated or close as
	// Rejected/Expired (unrecoverable error, timeout, SLA breach).
	if to == StatusEscalated || to == StatusRejected || to == StatusExpired {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves rec to the target status, stamping the transition time.
// It returns the duration spent in the prior state, which callers record on
// the STATE_TRANSITION audit entry for SLA tracking. Version bumps happen in
// Store.Update, not here.
func Transition(rec *LoanLock, to Status, triggeredBy string, now time.Time) (time.Duration, error) {
	if !CanTransition(rec.Status, to) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, to)
	}
	inPrior := now.Sub(rec.StatusSince)
	if to == StatusEscalated {
		rec.PriorStatus = rec.Status
	}
	rec.Status = to
	rec.StatusSince = now
	rec.Audit.UpdatedBy = triggeredBy
	rec.Audit.UpdatedAt = now
	if IsTerminal(to) {
		rec.Archived = true
	}
	return inPrior, nil
}
