package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stateTestNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"forward intake", StatusPendingRequest, StatusPendingContext, true},
		{"forward quote", StatusPendingContext, StatusRatesPresented, true},
		{"forward compliance", StatusRatesPresented, StatusComplianceReviewed, true},
		{"forward lock", StatusComplianceReviewed, StatusLocked, true},
		{"skip a stage", StatusPendingRequest, StatusRatesPresented, false},
		{"backward", StatusRatesPresented, StatusPendingContext, false},
		{"self transition", StatusPendingContext, StatusPendingContext, false},
		{"escalate from any stage", StatusRatesPresented, StatusEscalated, true},
		{"reject from any stage", StatusPendingRequest, StatusRejected, true},
		{"expire from any stage", StatusComplianceReviewed, StatusExpired, true},
		{"resume from escalated", StatusEscalated, StatusRatesPresented, true},
		{"close escalated as rejected", StatusEscalated, StatusRejected, true},
		{"escalated cannot lock directly", StatusEscalated, StatusLocked, false},
		{"locked is terminal", StatusLocked, StatusEscalated, false},
		{"rejected is terminal", StatusRejected, StatusPendingContext, false},
		{"expired is terminal", StatusExpired, StatusExpired, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusLocked))
	assert.True(t, IsTerminal(StatusRejected))
	assert.True(t, IsTerminal(StatusExpired))
	assert.False(t, IsTerminal(StatusEscalated))
	assert.False(t, IsTerminal(StatusPendingRequest))
}

func TestTransitionStampsRecord(t *testing.T) {
	rec := &LoanLock{
		RateLockID:  "RL-1",
		Status:      StatusPendingContext,
		StatusSince: stateTestNow.Add(-10 * time.Minute),
	}

	inPrior, err := Transition(rec, StatusRatesPresented, "rate-quote", stateTestNow)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, inPrior)
	assert.Equal(t, StatusRatesPresented, rec.Status)
	assert.Equal(t, stateTestNow, rec.StatusSince)
	assert.Equal(t, "rate-quote", rec.Audit.UpdatedBy)
	assert.False(t, rec.Archived)
}

func TestTransitionToEscalatedKeepsPriorStatus(t *testing.T) {
	rec := &LoanLock{Status: StatusRatesPresented, StatusSince: stateTestNow}

	_, err := Transition(rec, StatusEscalated, "exception-handler", stateTestNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusRatesPresented, rec.PriorStatus)

	// Resolution re-enters the prior state.
	_, err = Transition(rec, rec.PriorStatus, "exception-handler", stateTestNow.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusRatesPresented, rec.Status)
}

func TestTransitionTerminalArchives(t *testing.T) {
	rec := &LoanLock{Status: StatusComplianceReviewed, StatusSince: stateTestNow}

	_, err := Transition(rec, StatusLocked, "lock-confirmation", stateTestNow.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, rec.Archived)

	_, err = Transition(rec, StatusEscalated, "exception-handler", stateTestNow.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionInvalidLeavesRecordUntouched(t *testing.T) {
	rec := &LoanLock{Status: StatusPendingRequest, StatusSince: stateTestNow}

	_, err := Transition(rec, StatusLocked, "email-intake", stateTestNow.Add(time.Minute))
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPendingRequest, rec.Status)
	assert.Equal(t, stateTestNow, rec.StatusSince)
	assert.Empty(t, rec.Audit.UpdatedBy)
}
