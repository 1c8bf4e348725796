package audit

import "time"

// ComplianceStatus is the folded compliance posture of a trail.
type ComplianceStatus string

const (
	FullyCompliant        ComplianceStatus = "FULLY_COMPLIANT"
	CompliantWithWarnings ComplianceStatus = "COMPLIANT_WITH_WARNINGS"
	NonCompliant          ComplianceStatus = "NON_COMPLIANT"
	NoChecksPerformed     ComplianceStatus = "NO_CHECKS_PERFORMED"
)

// Trail is a reconstructed, grouped audit trail for one loan lock.
type Trail struct {
	LoanLockID       string             `json:"loan_lock_id"`
	GeneratedAt      time.Time          `json:"generated_at"`
	TotalEntries     int                `json:"total_entries"`
	ByType           map[string][]Entry `json:"entries"`
	CountsByType     map[string]int     `json:"counts_by_type"`
	CountsByAgent    map[string]int     `json:"counts_by_agent"`
	Start            time.Time          `json:"start,omitempty"`
	End              time.Time          `json:"end,omitempty"`
	ComplianceStatus ComplianceStatus   `json:"compliance_status"`
}

// BuildTrail groups entries by type and computes summary statistics and the
// overall compliance status. Entries are expected in timestamp order, as
// returned by Sink.Query.
func BuildTrail(loanLockID string, entries []Entry, now time.Time) Trail {
	t := Trail{
		LoanLockID:       loanLockID,
		GeneratedAt:      now,
		TotalEntries:     len(entries),
		ByType:           make(map[string][]Entry),
		CountsByType:     make(map[string]int),
		CountsByAgent:    make(map[string]int),
		ComplianceStatus: AssessCompliance(entries),
	}
	for _, e := range entries {
		key := string(e.Type)
		t.ByType[key] = append(t.ByType[key], e)
		t.CountsByType[key]++
		if e.AgentName != "" {
			t.CountsByAgent[e.AgentName]++
		}
		if t.Start.IsZero() || e.Timestamp.Before(t.Start) {
			t.Start = e.Timestamp
		}
		if e.Timestamp.After(t.End) {
			t.End = e.Timestamp
		}
	}
	return t
}

// AssessCompliance scans COMPLIANCE_CHECK entries: any FAIL dominates, then
// any WARNING, then fully compliant; no checks at all is its own status.
func AssessCompliance(entries []Entry) ComplianceStatus {
	checks := 0
	warnings := 0
	for _, e := range entries {
		if e.Type != EntryComplianceCheck {
			continue
		}
		checks++
		switch result(e) {
		case "FAIL":
			return NonCompliant
		case "WARNING":
			warnings++
		}
	}
	if checks == 0 {
		return NoChecksPerformed
	}
	if warnings > 0 {
		return CompliantWithWarnings
	}
	return FullyCompliant
}

func result(e Entry) string {
	if e.Details == nil {
		return ""
	}
	if r, ok := e.Details["check_result"].(string); ok {
		return r
	}
	return ""
}
