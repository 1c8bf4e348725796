package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var auditTestNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestNewAuditID(t *testing.T) {
	id := NewAuditID(auditTestNow)
	assert.True(t, strings.HasPrefix(id, "AUDIT-20260310090000-"))
	assert.NotEqual(t, id, NewAuditID(auditTestNow))
}

func TestTransitionEntry(t *testing.T) {
	e := TransitionEntry("RL-1", "rate-quote", "PendingContext", "RatesPresented", 90*time.Second, auditTestNow)

	assert.Equal(t, EntryStateTransition, e.Type)
	assert.Equal(t, OutcomeSuccess, e.Outcome)
	assert.Equal(t, "PendingContext", e.Details["from_state"])
	assert.Equal(t, "RatesPresented", e.Details["to_state"])
	assert.Equal(t, "1m30s", e.Details["duration_in_state"])
	assert.Equal(t, int64(90000), e.Details["duration_ms"])
}

func TestComplianceEntryOutcome(t *testing.T) {
	pass := ComplianceEntry("RL-1", "compliance-risk", "lock_timing", "PASS", nil, auditTestNow)
	assert.Equal(t, OutcomeSuccess, pass.Outcome)
	assert.Equal(t, "PASS", pass.Details["check_result"])

	warn := ComplianceEntry("RL-1", "compliance-risk", "lock_timing", "WARNING", nil, auditTestNow)
	assert.Equal(t, OutcomeWarning, warn.Outcome)

	fail := ComplianceEntry("RL-1", "compliance-risk", "disclosures", "FAIL",
		map[string]any{"missing": []string{"rate_lock_disclosure"}}, auditTestNow)
	assert.Equal(t, OutcomeFailure, fail.Outcome)
	assert.Equal(t, "disclosures", fail.Action)
}

func TestTrack(t *testing.T) {
	met := Track("time_in_PendingContext", 20*time.Minute, 30*time.Minute)
	assert.True(t, met.SLAMet)
	assert.Equal(t, -33.33, met.VariancePercent)

	breach := Track("time_in_PendingContext", 50*time.Minute, 40*time.Minute)
	assert.False(t, breach.SLAMet)
	assert.Equal(t, 25.0, breach.VariancePercent)

	untracked := Track("time_in_Unknown", time.Hour, 0)
	assert.True(t, untracked.SLAMet)
	assert.Equal(t, 0.0, untracked.VariancePercent)
}

func TestSLAEntryOutcome(t *testing.T) {
	breach := SLAEntry("RL-1", "orchestrator", Track("m", 2*time.Hour, time.Hour), auditTestNow)
	assert.Equal(t, EntrySLAMetric, breach.Type)
	assert.Equal(t, OutcomeWarning, breach.Outcome)
	assert.Equal(t, false, breach.Details["sla_met"])

	met := SLAEntry("RL-1", "rate-quote", Track("m", time.Minute, time.Hour), auditTestNow)
	assert.Equal(t, OutcomeSuccess, met.Outcome)
}

func TestSLATrackerTarget(t *testing.T) {
	tracker := NewSLATracker(map[string]time.Duration{"PendingContext": 30 * time.Minute})

	d, ok := tracker.Target("PendingContext")
	assert.True(t, ok)
	assert.Equal(t, 30*time.Minute, d)

	_, ok = tracker.Target("Locked")
	assert.False(t, ok)
}

func TestMemorySinkQueryFiltersAndSorts(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	for i, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		e := ActionEntry("RL-1", "email-intake", "REQUEST_RECEIVED", OutcomeSuccess,
			map[string]any{"seq": i}, auditTestNow.Add(offset))
		_, err := sink.Record(ctx, e)
		require.NoError(t, err)
	}
	_, err := sink.Record(ctx, ActionEntry("RL-2", "email-intake", "REQUEST_RECEIVED", OutcomeSuccess, nil, auditTestNow))
	require.NoError(t, err)

	got, err := sink.Query(ctx, "RL-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))
	assert.True(t, got[1].Timestamp.Before(got[2].Timestamp))

	windowed, err := sink.Query(ctx, "RL-1", auditTestNow.Add(30*time.Minute), auditTestNow.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, auditTestNow.Add(time.Hour), windowed[0].Timestamp)
}

type failingSink struct {
	calls int
	err   error
}

func (f *failingSink) Record(ctx context.Context, e Entry) (string, error) {
	f.calls++
	return "", f.err
}

func (f *failingSink) Query(ctx context.Context, loanLockID string, from, to time.Time) ([]Entry, error) {
	return nil, f.err
}

func TestSafeSinkAbsorbsFailures(t *testing.T) {
	inner := &failingSink{err: errors.New("disk full")}
	safe := NewSafeSink(inner, nil)

	e := ErrorEntry("RL-1", "compliance-risk", "SYSTEM_ERROR", "boom", auditTestNow)
	id := safe.MustRecord(context.Background(), e)
	assert.Equal(t, e.AuditID, id)

	select {
	case failed := <-safe.Failures():
		assert.Equal(t, e.AuditID, failed.Entry.AuditID)
		assert.ErrorContains(t, failed.Err, "disk full")
	default:
		t.Fatal("expected a failed write on the retry stream")
	}
}

func TestSafeSinkRetry(t *testing.T) {
	inner := &failingSink{err: errors.New("transient")}
	safe := NewSafeSink(inner, nil)

	e := ActionEntry("RL-1", "email-intake", "REQUEST_RECEIVED", OutcomeSuccess, nil, auditTestNow)
	require.Error(t, safe.Retry(context.Background(), e))

	inner.err = nil
	require.NoError(t, safe.Retry(context.Background(), e))
	assert.Equal(t, 2, inner.calls)
}

func TestBuildTrail(t *testing.T) {
	entries := []Entry{
		ActionEntry("RL-1", "email-intake", "REQUEST_RECEIVED", OutcomeSuccess, nil, auditTestNow),
		TransitionEntry("RL-1", "email-intake", "PendingRequest", "PendingContext", time.Second, auditTestNow.Add(time.Second)),
		ComplianceEntry("RL-1", "compliance-risk", "lock_timing", "PASS", nil, auditTestNow.Add(time.Minute)),
		ComplianceEntry("RL-1", "compliance-risk", "borrower_capacity", "WARNING", nil, auditTestNow.Add(time.Minute)),
	}

	trail := BuildTrail("RL-1", entries, auditTestNow.Add(2*time.Minute))

	assert.Equal(t, 4, trail.TotalEntries)
	assert.Equal(t, 2, trail.CountsByType[string(EntryComplianceCheck)])
	assert.Equal(t, 2, trail.CountsByAgent["compliance-risk"])
	assert.Equal(t, auditTestNow, trail.Start)
	assert.Equal(t, auditTestNow.Add(time.Minute), trail.End)
	assert.Equal(t, CompliantWithWarnings, trail.ComplianceStatus)
}

func TestAssessCompliance(t *testing.T) {
	assert.Equal(t, NoChecksPerformed, AssessCompliance(nil))

	pass := []Entry{ComplianceEntry("RL-1", "compliance-risk", "lock_timing", "PASS", nil, auditTestNow)}
	assert.Equal(t, FullyCompliant, AssessCompliance(pass))

	failed := append(pass, ComplianceEntry("RL-1", "compliance-risk", "loan_status", "FAIL", nil, auditTestNow))
	assert.Equal(t, NonCompliant, AssessCompliance(failed))
}
