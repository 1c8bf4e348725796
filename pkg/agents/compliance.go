package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lockdesk/ratelock/pkg/audit"
	"github.com/lockdesk/ratelock/pkg/bus"
	"github.com/lockdesk/ratelock/pkg/collab"
	"github.com/lockdesk/ratelock/pkg/lock"
	"github.com/lockdesk/ratelock/pkg/rules"
)

// requiredDisclosures are the document types that must exist before a lock
// can be confirmed.
var requiredDisclosures = []string{
	"initial_loan_estimate",
	"rate_lock_disclosure",
	"good_faith_estimate",
	"truth_in_lending",
}

// Compliance selects the lock rate and runs the six validation checks,
// folding them into one overall status. FAIL and ERROR outcomes still
// advance the record to ComplianceReviewed; the exception path decides what
// happens next.
type Compliance struct {
	base
	engine      *rules.Engine
	disclosures collab.DisclosureService
}

func NewCompliance(store lock.Store, sink *audit.SafeSink, b bus.Bus, engine *rules.Engine, disclosures collab.DisclosureService, log *slog.Logger) *Compliance {
	return &Compliance{
		base:        newBase("compliance-risk", []lock.Status{lock.StatusRatesPresented}, store, sink, b, log),
		engine:      engine,
		disclosures: disclosures,
	}
}

func (a *Compliance) WithClock(clock func() time.Time) *Compliance {
	a.clock = clock
	return a
}

func (a *Compliance) WithSLA(t *audit.SLATracker) *Compliance {
	a.sla = t
	return a
}

func (a *Compliance) Name() string { return a.name }

func (a *Compliance) Accepts() []lock.Status { return a.accepts }

func (a *Compliance) Handle(ctx context.Context, msg bus.Message) (Result, error) {
	loanID := msg.LoanApplicationID
	rec, err := a.store.Get(ctx, loanID)
	if err != nil {
		if errors.Is(err, lock.ErrNotFound) {
			return a.discard(ctx, loanID, "no record for loan application", msg), nil
		}
		return Result{}, err
	}
	if !a.eligible(rec) {
		return a.discard(ctx, rec.RateLockID, "record not awaiting compliance: "+string(rec.Status), msg), nil
	}
	if len(rec.RateOptions) == 0 {
		return a.discard(ctx, rec.RateLockID, "no rate options on record", msg), nil
	}

	now := a.now()
	if !rec.QuoteExpiresAt.IsZero() && rec.QuoteExpiresAt.Before(now) {
		return a.handleExpiredQuote(ctx, rec, msg)
	}

	selected := selectRate(rec)
	result := a.runChecks(ctx, rec, now)

	rec, applied, err := a.apply(ctx, loanID, func(r *lock.LoanLock) (bool, []audit.Entry, error) {
		if !a.eligible(r) {
			return false, nil, nil
		}
		r.SelectedRate = &selected
		r.ComplianceResult = &result
		r.Exceptions = append(r.Exceptions, result.Exceptions...)
		staged, err := a.transition(r, lock.StatusComplianceReviewed)
		return err == nil, staged, err
	})
	if err != nil {
		return Result{}, err
	}
	if !applied {
		return a.discard(ctx, rec.RateLockID, "record moved on during compliance review", msg), nil
	}

	res := Result{Outcome: audit.OutcomeSuccess}
	payload := map[string]any{
		"loan_application_id": loanID,
		"rate_lock_id":        rec.RateLockID,
		"status":              string(rec.Status),
		"overall_status":      string(result.OverallStatus),
	}
	switch result.OverallStatus {
	case lock.CheckPass, lock.CheckWarning:
		out := bus.NewMessage(bus.MsgCompliancePassed, loanID, payload)
		if err := a.publish(ctx, &res, bus.TopicRateLockRequests, out); err != nil {
			return Result{}, err
		}
	default:
		res.Outcome = audit.OutcomeFailure
		out := bus.NewMessage(bus.MsgComplianceFailed, loanID, payload)
		if err := a.publish(ctx, &res, bus.TopicRateLockRequests, out); err != nil {
			return Result{}, err
		}
		detail := "compliance review failed: " + strings.Join(result.Exceptions, "; ")
		if len(result.Exceptions) == 0 {
			detail = "compliance review failed with status " + string(result.OverallStatus)
		}
		err := a.exceptionAlert(ctx, &res, loanID, "COMPLIANCE_FAILURE", detail, map[string]any{
			"rate_lock_id":   rec.RateLockID,
			"overall_status": string(result.OverallStatus),
		})
		if err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// handleExpiredQuote republishes the quote trigger once so the options are
// refreshed at current pricing. A quote that expires again after a refresh
// escalates instead of looping.
func (a *Compliance) handleExpiredQuote(ctx context.Context, rec *lock.LoanLock, msg bus.Message) (Result, error) {
	if requoted, _ := msg.Payload["requoted"].(bool); requoted {
		a.sink.MustRecord(ctx, audit.ErrorEntry(rec.RateLockID, a.name, "QUOTE_EXPIRED",
			"quote expired again after refresh", a.now()))
		res := Result{Outcome: audit.OutcomeFailure}
		err := a.exceptionAlert(ctx, &res, rec.LoanApplicationID, "CRITICAL_DEADLINE",
			"rate quote expired twice before compliance review", map[string]any{
				"rate_lock_id":     rec.RateLockID,
				"quote_expires_at": rec.QuoteExpiresAt.Format(time.RFC3339),
			})
		if err != nil {
			return Result{}, err
		}
		return res, nil
	}

	a.sink.MustRecord(ctx, audit.ActionEntry(rec.RateLockID, a.name, "QUOTE_REFRESH_REQUESTED",
		audit.OutcomeWarning, map[string]any{
			"quote_expires_at": rec.QuoteExpiresAt.Format(time.RFC3339),
		}, a.now()))
	res := Result{Outcome: audit.OutcomeWarning}
	out := bus.NewMessage(bus.MsgContextRetrieved, rec.LoanApplicationID, map[string]any{
		"loan_application_id": rec.LoanApplicationID,
		"rate_lock_id":        rec.RateLockID,
		"requoted":            true,
	})
	if err := a.publish(ctx, &res, bus.TopicRateLockRequests, out); err != nil {
		return Result{}, err
	}
	return res, nil
}

// selectRate picks the option matching the requested term, falling back to
// the recommended term, then the first option.
func selectRate(rec *lock.LoanLock) lock.RateOption {
	if rec.RequestedTermDays > 0 {
		for _, opt := range rec.RateOptions {
			if opt.LockTermDays == rec.RequestedTermDays {
				return opt
			}
		}
	}
	for _, term := range rec.LockTermRecommended {
		if !term.Recommended {
			continue
		}
		for _, opt := range rec.RateOptions {
			if opt.LockTermDays == term.TermDays {
				return opt
			}
		}
	}
	return rec.RateOptions[0]
}

// runChecks executes the six compliance checks and folds the results. One
// COMPLIANCE_CHECK audit entry is recorded per check.
func (a *Compliance) runChecks(ctx context.Context, rec *lock.LoanLock, now time.Time) lock.ComplianceResult {
	result := lock.ComplianceResult{
		Checks:      map[string]lock.CheckResult{},
		ValidatedBy: a.name,
		ValidatedAt: now,
	}

	result.Checks["lock_timing"] = checkTiming(rec, now)
	result.Checks["disclosures"] = a.checkDisclosures(ctx, rec, &result)
	result.Checks["regulatory"] = a.checkRegulatory(rec)
	result.Checks["lock_fees"] = a.checkFees(rec)
	result.Checks["loan_status"] = a.checkLoanStatus(rec, &result)
	result.Checks["borrower_capacity"] = a.checkBorrowerCapacity(rec)

	for name, check := range result.Checks {
		a.sink.MustRecord(ctx, audit.ComplianceEntry(rec.RateLockID, a.name, name,
			string(check.Status), map[string]any{"issues": check.Issues}, now))
	}

	result.OverallStatus = lock.FoldCheckStatus(result.Checks)
	return result
}

// checkTiming validates lock terms against the closing schedule. Under 15
// or over 90 days to closing is flagged, never failed.
func checkTiming(rec *lock.LoanLock, now time.Time) lock.CheckResult {
	check := lock.CheckResult{Status: lock.CheckPass}
	if rec.EstimatedClosingDate.IsZero() {
		check.Status = lock.CheckWarning
		check.Issues = append(check.Issues, "No estimated closing date provided")
		check.Recommendations = append(check.Recommendations, "Obtain estimated closing date for optimal lock term selection")
		return check
	}
	days := int(rec.EstimatedClosingDate.Sub(now).Hours() / 24)
	if days < 15 {
		check.Status = lock.CheckWarning
		check.Issues = append(check.Issues, fmt.Sprintf("Short timeline to closing (%d days)", days))
		check.Recommendations = append(check.Recommendations, "Consider 30-day lock maximum")
	}
	if days > 90 {
		check.Status = lock.CheckWarning
		check.Issues = append(check.Issues, fmt.Sprintf("Extended timeline to closing (%d days)", days))
		check.Recommendations = append(check.Recommendations, "Consider longer lock terms or delayed lock timing")
	}
	return check
}

func (a *Compliance) checkDisclosures(ctx context.Context, rec *lock.LoanLock, result *lock.ComplianceResult) lock.CheckResult {
	check := lock.CheckResult{Status: lock.CheckPass}
	if a.disclosures == nil {
		check.Status = lock.CheckWarning
		check.Issues = append(check.Issues, "Disclosure service not configured")
		return check
	}
	var missing []string
	for _, disclosureType := range requiredDisclosures {
		present, err := a.disclosures.Exists(ctx, rec.LoanApplicationID, disclosureType)
		if err != nil {
			return lock.CheckResult{
				Status: lock.CheckError,
				Issues: []string{"Failed to validate disclosures: " + err.Error()},
			}
		}
		if !present {
			missing = append(missing, disclosureType)
			check.Status = lock.CheckFail
			continue
		}
		current, err := a.disclosures.Current(ctx, rec.LoanApplicationID, disclosureType)
		if err != nil {
			return lock.CheckResult{
				Status: lock.CheckError,
				Issues: []string{"Failed to validate disclosures: " + err.Error()},
			}
		}
		if !current {
			check.Issues = append(check.Issues, disclosureType+" is outdated")
			if check.Status == lock.CheckPass {
				check.Status = lock.CheckWarning
			}
		}
	}
	if len(missing) > 0 {
		check.Issues = append(check.Issues, "Missing disclosures: "+strings.Join(missing, ", "))
		result.RequiredDisclosures = append(result.RequiredDisclosures, missing...)
		result.NextActions = append(result.NextActions, "Generate and send missing disclosures")
	}
	return check
}

// checkRegulatory evaluates the configured regulatory predicates. The TRID
// applicability rule gates whether the framework is in scope at all.
func (a *Compliance) checkRegulatory(rec *lock.LoanLock) lock.CheckResult {
	check := lock.CheckResult{Status: lock.CheckPass}
	applicable, err := a.engine.Eval("trid_applicable", map[string]any{
		"loan_amount": rec.LoanDetails.Amount,
	})
	if err != nil {
		return lock.CheckResult{
			Status: lock.CheckError,
			Issues: []string{"Failed to validate regulatory requirements: " + err.Error()},
		}
	}
	if applicable {
		check.Recommendations = append(check.Recommendations, "TRID disclosure timing requirements apply")
	}
	return check
}

func (a *Compliance) checkFees(rec *lock.LoanLock) lock.CheckResult {
	check := lock.CheckResult{Status: lock.CheckPass}
	var maxFee float64
	for _, opt := range rec.RateOptions {
		if opt.LockFee > maxFee {
			maxFee = opt.LockFee
		}
	}
	reasonable, err := a.engine.Eval("fee_reasonable", map[string]any{
		"max_lock_fee": maxFee,
	})
	if err != nil {
		return lock.CheckResult{
			Status: lock.CheckError,
			Issues: []string{"Failed to validate lock fees: " + err.Error()},
		}
	}
	if !reasonable {
		check.Status = lock.CheckWarning
		check.Issues = append(check.Issues, fmt.Sprintf("High lock fee: $%.2f", maxFee))
	}
	return check
}

func (a *Compliance) checkLoanStatus(rec *lock.LoanLock, result *lock.ComplianceResult) lock.CheckResult {
	check := lock.CheckResult{Status: lock.CheckPass}
	status := strings.ToLower(rec.LoanDetails.LoanStatus)
	eligible, err := a.engine.Eval("loan_status_eligible", map[string]any{
		"loan_status": status,
	})
	if err != nil {
		return lock.CheckResult{
			Status: lock.CheckError,
			Issues: []string{"Failed to validate loan status: " + err.Error()},
		}
	}
	if !eligible {
		check.Status = lock.CheckFail
		check.Issues = append(check.Issues, fmt.Sprintf("Loan status %q not eligible for rate lock", status))
		result.Exceptions = append(result.Exceptions, "Ineligible loan status: "+status)
	}
	return check
}

// checkBorrowerCapacity flags pending verifications and high DTI. All
// capacity findings are warnings; none block the lock on their own.
func (a *Compliance) checkBorrowerCapacity(rec *lock.LoanLock) lock.CheckResult {
	check := lock.CheckResult{Status: lock.CheckPass}
	if !rec.Borrower.IncomeVerified {
		check.Status = lock.CheckWarning
		check.Issues = append(check.Issues, "Income verification pending")
	}
	if !rec.Borrower.AssetsVerified {
		check.Status = lock.CheckWarning
		check.Issues = append(check.Issues, "Asset verification pending")
	}
	if dti := rec.Borrower.DebtToIncome; dti > 0 {
		acceptable, err := a.engine.Eval("dti_acceptable", map[string]any{
			"debt_to_income": dti,
		})
		if err != nil {
			return lock.CheckResult{
				Status: lock.CheckError,
				Issues: []string{"Failed to validate borrower capacity: " + err.Error()},
			}
		}
		if !acceptable {
			check.Status = lock.CheckWarning
			check.Issues = append(check.Issues, fmt.Sprintf("High debt-to-income ratio: %.1f%%", dti))
		}
	}
	return check
}
