// Package escalation creates and tracks the cases handed to human staff when
// a workflow stage reports an unrecoverable condition.
package escalation

import "strings"

// Priority of an escalation case.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Classification determines how a case is routed and staffed.
type Classification struct {
	Category           string   `json:"category"`
	Priority           Priority `json:"priority"`
	Complexity         string   `json:"complexity"`
	RequiresSpecialist bool     `json:"requires_specialist"`
	BlockingIssue      bool     `json:"blocking_issue"`
}

// Static exception-type tables. These mirror lock-desk operating procedure
// and change rarely; anything unlisted gets the defaults.
var (
	highPriorityTypes = map[string]bool{
		"COMPLIANCE_FAILURE":   true,
		"REGULATORY_VIOLATION": true,
		"SYSTEM_ERROR":         true,
		"DATA_CORRUPTION":      true,
		"CRITICAL_DEADLINE":    true,
	}
	specialistTypes = map[string]bool{
		"COMPLEX_LOAN_SCENARIO":       true,
		"PRICING_ANOMALY":             true,
		"REGULATORY_INTERPRETATION":   true,
		"CUSTOM_PRODUCT_REQUIREMENTS": true,
	}
	blockingTypes = map[string]bool{
		"MISSING_REQUIRED_DOCUMENTATION": true,
		"BORROWER_ELIGIBILITY_ISSUE":     true,
		"PROPERTY_VALUATION_PROBLEM":     true,
		"CREDIT_ISSUE":                   true,
	}
)

// Classify maps an exception type onto category, priority, complexity and
// staffing flags.
func Classify(exceptionType string) Classification {
	c := Classification{
		Category:   "GENERAL",
		Priority:   PriorityMedium,
		Complexity: "STANDARD",
	}
	if highPriorityTypes[exceptionType] {
		c.Priority = PriorityHigh
	}
	if specialistTypes[exceptionType] {
		c.RequiresSpecialist = true
		c.Complexity = "COMPLEX"
	}
	if blockingTypes[exceptionType] {
		c.BlockingIssue = true
		c.Priority = PriorityHigh
	}
	switch {
	case strings.Contains(exceptionType, "COMPLIANCE"), strings.Contains(exceptionType, "REGULATORY"):
		c.Category = "COMPLIANCE"
	case strings.Contains(exceptionType, "PRICING"), strings.Contains(exceptionType, "RATE"):
		c.Category = "PRICING"
	case strings.Contains(exceptionType, "BORROWER"), strings.Contains(exceptionType, "ELIGIBILITY"):
		c.Category = "UNDERWRITING"
	case strings.Contains(exceptionType, "SYSTEM"), strings.Contains(exceptionType, "TECHNICAL"):
		c.Category = "TECHNICAL"
	}
	return c
}

var reasonTemplates = map[string]string{
	"COMPLIANCE_FAILURE":             "A compliance issue was detected that requires human review to ensure regulatory requirements are met.",
	"MISSING_REQUIRED_DOCUMENTATION": "Required documentation is missing and automated follow-up has been unsuccessful.",
	"PRICING_ANOMALY":                "The pricing engine returned unexpected results that need manual verification.",
	"BORROWER_ELIGIBILITY_ISSUE":     "Borrower eligibility concerns were identified that require underwriting review.",
	"SYSTEM_ERROR":                   "A technical error occurred that prevented automated processing from continuing.",
	"COMPLEX_LOAN_SCENARIO":          "The loan scenario is too complex for automated processing and requires expert review.",
	"CRITICAL_DEADLINE":              "A processing deadline was breached and the closing timeline is at risk.",
}

// Reason returns a human-readable escalation reason for the type, appending
// detail when available.
func Reason(exceptionType, detail string) string {
	base, ok := reasonTemplates[exceptionType]
	if !ok {
		base = "An exception occurred that requires human intervention."
	}
	if detail != "" {
		base += " Specific issue: " + detail
	}
	return base
}

// RecommendedActions returns the action checklist for the reviewer.
func RecommendedActions(exceptionType string) []string {
	switch exceptionType {
	case "COMPLIANCE_FAILURE":
		return []string{
			"Review compliance violation details",
			"Determine if rate lock can proceed with additional disclosures",
			"Consult with compliance team if necessary",
		}
	case "MISSING_REQUIRED_DOCUMENTATION":
		return []string{
			"Contact borrower to request missing documents",
			"Set deadline for document submission",
			"Consider extending rate lock if needed",
		}
	case "PRICING_ANOMALY":
		return []string{
			"Verify pricing engine configuration",
			"Check for market data issues",
			"Consider manual rate quote if needed",
		}
	case "BORROWER_ELIGIBILITY_ISSUE":
		return []string{
			"Review underwriting guidelines",
			"Determine if additional conditions can resolve issue",
			"Consider alternative loan products",
		}
	default:
		return []string{
			"Review exception details and context",
			"Determine appropriate resolution approach",
			"Update loan status based on findings",
		}
	}
}
