package lock

import (
	"math"
	"time"
)

// CheckStatus is the outcome of a single compliance check or of the folded
// overall result. Precedence when folding: FAIL > ERROR > WARNING > PASS.
type CheckStatus string

const (
	CheckPass    CheckStatus = "PASS"
	CheckWarning CheckStatus = "WARNING"
	CheckFail    CheckStatus = "FAIL"
	CheckError   CheckStatus = "ERROR"
)

// Borrower holds borrower attributes, populated incrementally by stages.
type Borrower struct {
	Name           string  `json:"name,omitempty"`
	Email          string  `json:"email,omitempty"`
	Phone          string  `json:"phone,omitempty"`
	CreditScore    int     `json:"credit_score,omitempty"`
	DebtToIncome   float64 `json:"debt_to_income,omitempty"`
	IncomeVerified bool    `json:"income_verified,omitempty"`
	AssetsVerified bool    `json:"assets_verified,omitempty"`
}

// Property holds subject-property attributes.
type Property struct {
	Address        string  `json:"address,omitempty"`
	City           string  `json:"city,omitempty"`
	State          string  `json:"state,omitempty"`
	PropertyType   string  `json:"property_type,omitempty"`
	Occupancy      string  `json:"occupancy,omitempty"`
	AppraisedValue float64 `json:"appraised_value,omitempty"`
}

// LoanDetails holds loan attributes fetched from the origination system.
type LoanDetails struct {
	Amount     float64 `json:"amount,omitempty"`
	LoanType   string  `json:"loan_type,omitempty"`
	Purpose    string  `json:"purpose,omitempty"`
	TermYears  int     `json:"term_years,omitempty"`
	RateType   string  `json:"rate_type,omitempty"`
	LoanStatus string  `json:"loan_status,omitempty"`
}

// RateOption is a single quoted lock option.
type RateOption struct {
	Rate               float64 `json:"rate"`
	Points             float64 `json:"points"`
	LockTermDays       int     `json:"lock_term_days"`
	ProductDescription string  `json:"product_description"`
	APR                float64 `json:"apr"`
	MonthlyPayment     float64 `json:"monthly_payment"`
	LockFee            float64 `json:"lock_fee"`
}

// TermRecommendation flags which lock terms fit the closing timeline.
type TermRecommendation struct {
	TermDays    int  `json:"term_days"`
	Recommended bool `json:"recommended"`
}

// SpecialProgram is an optional lock program variant (float-down,
// lock-and-shop) surfaced on the quote.
type SpecialProgram struct {
	ProgramType string  `json:"program_type"`
	Description string  `json:"description"`
	Fee         float64 `json:"fee"`
	Terms       string  `json:"terms"`
}

// CheckResult is one compliance check outcome.
type CheckResult struct {
	Status          CheckStatus `json:"status"`
	Issues          []string    `json:"issues,omitempty"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// ComplianceResult is the structured outcome of the compliance stage.
type ComplianceResult struct {
	OverallStatus       CheckStatus            `json:"overall_status"`
	Checks              map[string]CheckResult `json:"checks"`
	Exceptions          []string               `json:"exceptions,omitempty"`
	RequiredDisclosures []string               `json:"required_disclosures,omitempty"`
	NextActions         []string               `json:"next_actions,omitempty"`
	ValidatedBy         string                 `json:"validated_by"`
	ValidatedAt         time.Time              `json:"validated_at"`
}

// FoldCheckStatus folds per-check statuses into one overall status with
// precedence FAIL > ERROR > WARNING > PASS. Any single failing check
// dominates.
func FoldCheckStatus(checks map[string]CheckResult) CheckStatus {
	overall := CheckPass
	for _, c := range checks {
		switch c.Status {
		case CheckFail:
			return CheckFail
		case CheckError:
			overall = CheckError
		case CheckWarning:
			if overall == CheckPass {
				overall = CheckWarning
			}
		}
	}
	return overall
}

// NotificationResult records the best-effort fan-out of confirmation
// notifications; sub-step failures are reported, never rolled back.
type NotificationResult struct {
	BorrowerNotified    bool     `json:"borrower_notified"`
	LoanOfficerNotified bool     `json:"loan_officer_notified"`
	Errors              []string `json:"errors,omitempty"`
}

// LockConfirmation is the terminal artifact of a successful lock.
type LockConfirmation struct {
	LockID             string             `json:"lock_id"`
	ConfirmationNumber string             `json:"confirmation_number"`
	Rate               float64            `json:"rate"`
	Points             float64            `json:"points"`
	LockTermDays       int                `json:"lock_term_days"`
	LockDate           time.Time          `json:"lock_date"`
	ExpirationDate     time.Time          `json:"expiration_date"`
	PricingSource      string             `json:"pricing_source"`
	DocumentRef        string             `json:"document_ref,omitempty"`
	Notifications      NotificationResult `json:"notifications"`
}

// AuditStamp is the who/when back-reference onto the record. The full trail
// lives in the audit sink; this is not ownership.
type AuditStamp struct {
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// LoanLock is the central workflow entity. Exactly one stage owns write
// access at any time, enforced by Status; writers use compare-and-set on
// Version (see Store.Update).
type LoanLock struct {
	RateLockID        string `json:"rate_lock_id"`
	LoanApplicationID string `json:"loan_application_id"`

	Status      Status    `json:"status"`
	StatusSince time.Time `json:"status_since"`
	PriorStatus Status    `json:"prior_status,omitempty"`
	Version     int64     `json:"version"`
	Archived    bool      `json:"archived,omitempty"`

	Borrower    Borrower    `json:"borrower"`
	Property    Property    `json:"property"`
	LoanDetails LoanDetails `json:"loan_details"`

	EstimatedClosingDate time.Time `json:"estimated_closing_date,omitempty"`
	RequestedTermDays    int       `json:"requested_term_days,omitempty"`

	RateOptions         []RateOption         `json:"rate_options,omitempty"`
	SelectedRate        *RateOption          `json:"selected_rate,omitempty"`
	LockTermRecommended []TermRecommendation `json:"lock_term_recommendations,omitempty"`
	SpecialPrograms     []SpecialProgram     `json:"special_programs,omitempty"`
	QuoteExpiresAt      time.Time            `json:"quote_expires_at,omitempty"`

	ComplianceResult *ComplianceResult `json:"compliance_result,omitempty"`
	// LockAttemptAt marks an in-flight submission to the pricing system.
	// Set before the external call, cleared on failure or completion, so a
	// rival delivery cannot submit the same lock twice.
	LockAttemptAt    time.Time         `json:"lock_attempt_at,omitempty"`
	LockConfirmation *LockConfirmation `json:"lock_confirmation,omitempty"`

	Exceptions []string   `json:"exceptions,omitempty"`
	Audit      AuditStamp `json:"audit"`
}

// LTV returns the loan-to-value ratio as a percentage, or 0 when the
// appraised value is unknown.
func (r *LoanLock) LTV() float64 {
	if r.Property.AppraisedValue <= 0 {
		return 0
	}
	return math.Round(r.LoanDetails.Amount/r.Property.AppraisedValue*100*100) / 100
}

// MonthlyPayment computes the principal-and-interest payment for the given
// annual rate over numPayments months.
func MonthlyPayment(amount, annualRate float64, numPayments int) float64 {
	if numPayments <= 0 {
		return 0
	}
	if annualRate == 0 {
		return math.Round(amount/float64(numPayments)*100) / 100
	}
	monthly := annualRate / 100 / 12
	pow := math.Pow(1+monthly, float64(numPayments))
	payment := amount * (monthly * pow) / (pow - 1)
	return math.Round(payment*100) / 100
}
