//go:build property
// +build property

package lock

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allStatuses = []Status{
	StatusPendingRequest, StatusPendingContext, StatusRatesPresented,
	StatusComplianceReviewed, StatusLocked, StatusEscalated,
	StatusRejected, StatusExpired,
}

func genStatus() gopter.Gen {
	vals := make([]any, len(allStatuses))
	for i, s := range allStatuses {
		vals[i] = s
	}
	return gen.OneConstOf(vals...)
}

// TestStateMachineProperties checks the structural invariants of the
// transition table over every (from, to) pair.
func TestStateMachineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("terminal states never transition out", prop.ForAll(
		func(from, to Status) bool {
			if !IsTerminal(from) {
				return true
			}
			return !CanTransition(from, to)
		},
		genStatus(), genStatus(),
	))

	properties.Property("every non-terminal state can escalate and close", prop.ForAll(
		func(from Status) bool {
			if IsTerminal(from) || from == StatusEscalated {
				return true
			}
			return CanTransition(from, StatusEscalated) &&
				CanTransition(from, StatusRejected) &&
				CanTransition(from, StatusExpired)
		},
		genStatus(),
	))

	properties.Property("Transition errors exactly when CanTransition refuses", prop.ForAll(
		func(from, to Status) bool {
			now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
			rec := &LoanLock{Status: from, StatusSince: now.Add(-time.Minute)}
			_, err := Transition(rec, to, "checker", now)
			if CanTransition(from, to) {
				return err == nil && rec.Status == to && rec.Archived == IsTerminal(to)
			}
			return err != nil && rec.Status == from
		},
		genStatus(), genStatus(),
	))

	properties.TestingRun(t)
}
