// Package collab declares the external collaborator capabilities the
// workflow core calls. Implementations live outside this repository; the dev
// stubs here back local runs and tests.
package collab

import (
	"context"
	"time"

	"github.com/lockdesk/ratelock/pkg/lock"
)

// ExtractedFields is the structured output of email extraction.
type ExtractedFields struct {
	BorrowerName      string
	LoanApplicationID string
	PropertyAddress   string
	Phone             string
	RequestedTermDays int
}

// Extractor parses an inbound email body into structured fields. The real
// implementation is an NLP service; extraction quality is out of scope here.
type Extractor interface {
	Extract(ctx context.Context, emailBody string) (ExtractedFields, error)
}

// BorrowerDirectory validates sender identity against borrower records.
type BorrowerDirectory interface {
	ValidateBorrowerEmail(ctx context.Context, email, loanApplicationID string) (bool, error)
}

// LoanContext is the detail bundle the origination system returns.
type LoanContext struct {
	Borrower             lock.Borrower
	Property             lock.Property
	LoanDetails          lock.LoanDetails
	EstimatedClosingDate time.Time
}

// Staff identifies a human recipient of notifications or escalations.
type Staff struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// LoanOriginator is the LOS integration surface.
type LoanOriginator interface {
	GetLoanContext(ctx context.Context, loanApplicationID string) (LoanContext, error)
	UpdateRateLock(ctx context.Context, loanApplicationID string, conf lock.LockConfirmation) error
	GetLoanOfficer(ctx context.Context, loanApplicationID string) (Staff, error)
}

// PricingRequest is the profile sent to the pricing engine.
type PricingRequest struct {
	LoanApplicationID string
	LoanAmount        float64
	LoanType          string
	LoanPurpose       string
	PropertyType      string
	Occupancy         string
	PropertyState     string
	CreditScore       int
	LTVRatio          float64
	DebtToIncome      float64
	TermYears         int
	RateType          string
}

// LockSubmission is what the pricing engine returns for a confirmed lock.
type LockSubmission struct {
	LockID             string
	ConfirmationNumber string
	Status             string
	LockDate           time.Time
	ExpirationDate     time.Time
	PricingSource      string
}

// PricingEngine quotes and executes rate locks.
type PricingEngine interface {
	GetRates(ctx context.Context, req PricingRequest) ([]lock.RateOption, error)
	SubmitLock(ctx context.Context, req PricingRequest, selected lock.RateOption) (LockSubmission, error)
}

// DisclosureService reports presence and currency of required disclosures.
type DisclosureService interface {
	Exists(ctx context.Context, loanApplicationID, disclosureType string) (bool, error)
	Current(ctx context.Context, loanApplicationID, disclosureType string) (bool, error)
}

// Notifier delivers human-facing notifications. Channel failures are
// reported per-call; fan-out policy belongs to the caller.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendSMS(ctx context.Context, to, message string) error
	SendChat(ctx context.Context, message string) error
}

// StaffDirectory resolves specialists and supervisors for escalations.
type StaffDirectory interface {
	Specialist(ctx context.Context, category string) (Staff, error)
	Supervisor(ctx context.Context, staffID string) (Staff, error)
}

// DocumentService generates the lock confirmation document and returns an
// opaque reference to it.
type DocumentService interface {
	GenerateLockConfirmation(ctx context.Context, rec *lock.LoanLock, conf lock.LockConfirmation) (string, error)
}
