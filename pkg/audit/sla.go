package audit

import (
	"math"
	"time"
)

// SLAResult is the outcome of comparing a stage duration against its target.
type SLAResult struct {
	Metric          string        `json:"sla_metric"`
	Actual          time.Duration `json:"actual_duration"`
	Target          time.Duration `json:"target_duration"`
	SLAMet          bool          `json:"sla_met"`
	VariancePercent float64       `json:"variance_percent"`
}

// SLATracker compares time-in-state against per-transition targets. Targets
// are keyed by the state being left (the state the duration was spent in).
type SLATracker struct {
	targets map[string]time.Duration
}

func NewSLATracker(targets map[string]time.Duration) *SLATracker {
	if targets == nil {
		targets = map[string]time.Duration{}
	}
	return &SLATracker{targets: targets}
}

// Target returns the target for the given state, or zero when untracked.
func (t *SLATracker) Target(state string) (time.Duration, bool) {
	d, ok := t.targets[state]
	return d, ok
}

// Track computes whether the SLA was met and the variance percentage
// (actual-target)/target*100. Breaches are always recorded for reporting;
// whether a breach escalates is the orchestrator's decision.
func Track(metric string, actual, target time.Duration) SLAResult {
	r := SLAResult{Metric: metric, Actual: actual, Target: target}
	if target <= 0 {
		r.SLAMet = true
		return r
	}
	r.SLAMet = actual <= target
	variance := float64(actual-target) / float64(target) * 100
	r.VariancePercent = math.Round(variance*100) / 100
	return r
}

// SLAEntry builds an SLA_METRIC audit entry from a tracked result.
func SLAEntry(loanLockID, agentName string, r SLAResult, now time.Time) Entry {
	return Entry{
		AuditID:    NewAuditID(now),
		LoanLockID: loanLockID,
		Timestamp:  now,
		Type:       EntrySLAMetric,
		AgentName:  agentName,
		Action:     r.Metric,
		Outcome:    slaOutcome(r),
		Details: map[string]any{
			"sla_metric":       r.Metric,
			"actual_duration":  r.Actual.String(),
			"target_duration":  r.Target.String(),
			"sla_met":          r.SLAMet,
			"variance_percent": r.VariancePercent,
		},
	}
}

func slaOutcome(r SLAResult) Outcome {
	if r.SLAMet {
		return OutcomeSuccess
	}
	return OutcomeWarning
}
