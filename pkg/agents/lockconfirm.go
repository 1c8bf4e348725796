package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lockdesk/ratelock/pkg/audit"
	"github.com/lockdesk/ratelock/pkg/bus"
	"github.com/lockdesk/ratelock/pkg/collab"
	"github.com/lockdesk/ratelock/pkg/lock"
)

// ErrComplianceNotPassed is returned when lock execution is requested for a
// record whose compliance review did not pass.
var ErrComplianceNotPassed = errors.New("compliance review did not pass")

// LockConfirmation executes the lock with the pricing system and fans out
// the downstream updates: LOS, confirmation document and notifications.
// Fan-out sub-steps are best-effort; their failures are recorded on the
// confirmation and never roll back the executed lock.
type LockConfirmation struct {
	base
	pricing collab.PricingEngine
	los     collab.LoanOriginator
	docs    collab.DocumentService
}

func NewLockConfirmation(store lock.Store, sink *audit.SafeSink, b bus.Bus, pricing collab.PricingEngine, los collab.LoanOriginator, docs collab.DocumentService, log *slog.Logger) *LockConfirmation {
	return &LockConfirmation{
		base:    newBase("lock-confirmation", []lock.Status{lock.StatusComplianceReviewed}, store, sink, b, log),
		pricing: pricing,
		los:     los,
		docs:    docs,
	}
}

func (a *LockConfirmation) WithClock(clock func() time.Time) *LockConfirmation {
	a.clock = clock
	return a
}

func (a *LockConfirmation) WithSLA(t *audit.SLATracker) *LockConfirmation {
	a.sla = t
	return a
}

func (a *LockConfirmation) Name() string { return a.name }

func (a *LockConfirmation) Accepts() []lock.Status { return a.accepts }

func (a *LockConfirmation) Handle(ctx context.Context, msg bus.Message) (Result, error) {
	loanID := msg.LoanApplicationID
	rec, err := a.store.Get(ctx, loanID)
	if err != nil {
		if errors.Is(err, lock.ErrNotFound) {
			return a.discard(ctx, loanID, "no record for loan application", msg), nil
		}
		return Result{}, err
	}
	if !a.eligible(rec) {
		return a.discard(ctx, rec.RateLockID, "record not awaiting lock execution: "+string(rec.Status), msg), nil
	}

	// Hard refusal: a lock is never submitted over a failed review.
	if rec.ComplianceResult == nil ||
		rec.ComplianceResult.OverallStatus == lock.CheckFail ||
		rec.ComplianceResult.OverallStatus == lock.CheckError {
		a.sink.MustRecord(ctx, audit.ErrorEntry(rec.RateLockID, a.name, "LOCK_REFUSED",
			ErrComplianceNotPassed.Error(), a.now()))
		return Result{Outcome: audit.OutcomeFailure, Discarded: true}, nil
	}
	if rec.SelectedRate == nil {
		return a.discard(ctx, rec.RateLockID, "no selected rate on record", msg), nil
	}

	claimed, err := a.claim(ctx, loanID)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return a.discard(ctx, rec.RateLockID, "lock submission already in flight", msg), nil
	}

	submission, err := a.pricing.SubmitLock(ctx, buildPricingRequest(rec), *rec.SelectedRate)
	if err != nil {
		// Pricing system outage; release the claim and nack so the lock is
		// retried.
		a.release(ctx, loanID)
		return Result{}, fmt.Errorf("submit lock for %s: %w", loanID, err)
	}

	conf := lock.LockConfirmation{
		LockID:             submission.LockID,
		ConfirmationNumber: submission.ConfirmationNumber,
		Rate:               rec.SelectedRate.Rate,
		Points:             rec.SelectedRate.Points,
		LockTermDays:       rec.SelectedRate.LockTermDays,
		LockDate:           submission.LockDate,
		ExpirationDate:     submission.ExpirationDate,
		PricingSource:      submission.PricingSource,
	}
	a.fanOut(ctx, rec, &conf)

	res := Result{Outcome: audit.OutcomeSuccess}
	if err := a.notify(ctx, &res, rec, &conf); err != nil {
		conf.Notifications.Errors = append(conf.Notifications.Errors, err.Error())
	}

	rec, applied, err := a.apply(ctx, loanID, func(r *lock.LoanLock) (bool, []audit.Entry, error) {
		if !a.eligible(r) {
			return false, nil, nil
		}
		r.LockAttemptAt = time.Time{}
		r.LockConfirmation = &conf
		staged, err := a.transition(r, lock.StatusLocked)
		return err == nil, staged, err
	})
	if err != nil {
		return Result{}, err
	}
	if !applied {
		return a.discard(ctx, rec.RateLockID, "record moved on during lock execution", msg), nil
	}

	outcome := audit.OutcomeSuccess
	if len(conf.Notifications.Errors) > 0 {
		outcome = audit.OutcomePartial
	}
	a.sink.MustRecord(ctx, audit.ActionEntry(rec.RateLockID, a.name, "LOCK_EXECUTED", outcome,
		map[string]any{
			"lock_id":             conf.LockID,
			"confirmation_number": conf.ConfirmationNumber,
			"rate":                conf.Rate,
			"lock_term_days":      conf.LockTermDays,
			"expiration_date":     conf.ExpirationDate.Format(time.RFC3339),
			"fan_out_errors":      conf.Notifications.Errors,
		}, a.now()))
	res.Outcome = outcome

	out := bus.NewMessage(bus.MsgLockConfirmed, loanID, map[string]any{
		"loan_application_id": loanID,
		"rate_lock_id":        rec.RateLockID,
		"lock_id":             conf.LockID,
		"confirmation_number": conf.ConfirmationNumber,
	})
	if err := a.publish(ctx, &res, bus.TopicOutboundConfirmations, out); err != nil {
		return Result{}, err
	}
	return res, nil
}

// lockClaimTTL bounds how long an in-flight submission claim blocks rival
// deliveries. A claim abandoned by a crashed attempt frees up after this
// window.
const lockClaimTTL = 5 * time.Minute

// claim reserves the record for one submission to the pricing system. It
// returns false when the record moved on or another attempt holds a live
// claim.
func (a *LockConfirmation) claim(ctx context.Context, loanID string) (bool, error) {
	now := a.now()
	_, applied, err := a.apply(ctx, loanID, func(r *lock.LoanLock) (bool, []audit.Entry, error) {
		if !a.eligible(r) {
			return false, nil, nil
		}
		if !r.LockAttemptAt.IsZero() && now.Sub(r.LockAttemptAt) < lockClaimTTL {
			return false, nil, nil
		}
		r.LockAttemptAt = now
		return true, nil, nil
	})
	return applied, err
}

// release clears the submission claim after a failed external call so the
// redelivery can try again.
func (a *LockConfirmation) release(ctx context.Context, loanID string) {
	_, _, err := a.apply(ctx, loanID, func(r *lock.LoanLock) (bool, []audit.Entry, error) {
		if r.LockAttemptAt.IsZero() {
			return false, nil, nil
		}
		r.LockAttemptAt = time.Time{}
		return true, nil, nil
	})
	if err != nil {
		a.log.Warn("lock claim release failed", "loan_application_id", loanID, "error", err)
	}
}

// fanOut updates the LOS and generates the confirmation document. Failures
// are collected on the confirmation rather than aborting the lock.
func (a *LockConfirmation) fanOut(ctx context.Context, rec *lock.LoanLock, conf *lock.LockConfirmation) {
	if err := a.los.UpdateRateLock(ctx, rec.LoanApplicationID, *conf); err != nil {
		a.log.Warn("LOS update failed after lock execution",
			"loan_application_id", rec.LoanApplicationID, "error", err)
		conf.Notifications.Errors = append(conf.Notifications.Errors, "LOS update failed: "+err.Error())
	}
	if a.docs != nil {
		ref, err := a.docs.GenerateLockConfirmation(ctx, rec, *conf)
		if err != nil {
			a.log.Warn("confirmation document generation failed",
				"loan_application_id", rec.LoanApplicationID, "error", err)
			conf.Notifications.Errors = append(conf.Notifications.Errors, "document generation failed: "+err.Error())
		} else {
			conf.DocumentRef = ref
		}
	}
}

func (a *LockConfirmation) notify(ctx context.Context, res *Result, rec *lock.LoanLock, conf *lock.LockConfirmation) error {
	if rec.Borrower.Email != "" {
		msg := bus.NewMessage(bus.MsgSendEmail, rec.LoanApplicationID, map[string]any{
			"to":      rec.Borrower.Email,
			"subject": fmt.Sprintf("Rate Lock Confirmed - Loan Application %s", rec.LoanApplicationID),
			"body":    borrowerConfirmationBody(rec, conf),
		})
		if err := a.publish(ctx, res, bus.TopicOutboundEmail, msg); err != nil {
			conf.Notifications.Errors = append(conf.Notifications.Errors, "borrower email failed: "+err.Error())
		} else {
			conf.Notifications.BorrowerNotified = true
		}
	} else {
		conf.Notifications.Errors = append(conf.Notifications.Errors, "borrower email not available")
	}

	officer, err := a.los.GetLoanOfficer(ctx, rec.LoanApplicationID)
	if err != nil || officer.Email == "" {
		conf.Notifications.Errors = append(conf.Notifications.Errors, "loan officer email not available")
		return nil
	}
	msg := bus.NewMessage(bus.MsgSendEmail, rec.LoanApplicationID, map[string]any{
		"to":      officer.Email,
		"subject": fmt.Sprintf("Rate Lock Executed - %s", rec.LoanApplicationID),
		"body":    officerConfirmationBody(rec, conf),
	})
	if err := a.publish(ctx, res, bus.TopicOutboundEmail, msg); err != nil {
		conf.Notifications.Errors = append(conf.Notifications.Errors, "loan officer email failed: "+err.Error())
		return nil
	}
	conf.Notifications.LoanOfficerNotified = true
	return nil
}

func borrowerConfirmationBody(rec *lock.LoanLock, conf *lock.LockConfirmation) string {
	return fmt.Sprintf(`Dear %s,

Great news! Your rate lock has been successfully confirmed.

LOCK DETAILS:
- Lock ID: %s
- Interest Rate: %.3f%%
- Lock Period: %d days
- Lock Expires: %s

Your rate is now protected against market fluctuations until the lock expires.
Please ensure all required documentation is submitted promptly to meet your closing timeline.

Your loan officer will be in touch with next steps.

Best regards,
Mortgage Processing Team
`, borrowerSalutation(rec.Borrower.Name), conf.LockID, conf.Rate, conf.LockTermDays,
		conf.ExpirationDate.Format("January 2, 2006"))
}

func officerConfirmationBody(rec *lock.LoanLock, conf *lock.LockConfirmation) string {
	return fmt.Sprintf(`Rate lock has been successfully executed for loan application %s.

LOCK DETAILS:
- Lock ID: %s
- Borrower: %s
- Rate: %.3f%%
- Lock Period: %d days
- Expires: %s

The borrower has been notified of the confirmation.
Please proceed with loan processing to meet the closing timeline.
`, rec.LoanApplicationID, conf.LockID, rec.Borrower.Name, conf.Rate, conf.LockTermDays,
		conf.ExpirationDate.Format("January 2, 2006"))
}
