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

// ContextEnrichment fetches the loan's full context from the origination
// system and merges it into the record. The record stays PendingContext; the
// rate-quote stage owns the next transition.
type ContextEnrichment struct {
	base
	los collab.LoanOriginator
}

func NewContextEnrichment(store lock.Store, sink *audit.SafeSink, b bus.Bus, los collab.LoanOriginator, log *slog.Logger) *ContextEnrichment {
	return &ContextEnrichment{
		base: newBase("context-enrichment", []lock.Status{lock.StatusPendingContext}, store, sink, b, log),
		los:  los,
	}
}

func (a *ContextEnrichment) WithClock(clock func() time.Time) *ContextEnrichment {
	a.clock = clock
	return a
}

func (a *ContextEnrichment) WithSLA(t *audit.SLATracker) *ContextEnrichment {
	a.sla = t
	return a
}

func (a *ContextEnrichment) Name() string { return a.name }

func (a *ContextEnrichment) Accepts() []lock.Status { return a.accepts }

func (a *ContextEnrichment) Handle(ctx context.Context, msg bus.Message) (Result, error) {
	loanID := msg.LoanApplicationID
	rec, err := a.store.Get(ctx, loanID)
	if err != nil {
		if errors.Is(err, lock.ErrNotFound) {
			return a.discard(ctx, loanID, "no record for loan application", msg), nil
		}
		return Result{}, err
	}
	if !a.eligible(rec) {
		return a.discard(ctx, rec.RateLockID, "record not awaiting context: "+string(rec.Status), msg), nil
	}

	lc, err := a.los.GetLoanContext(ctx, loanID)
	if err != nil {
		if errors.Is(err, collab.ErrUnknownLoan) {
			return a.rejectUnknownLoan(ctx, rec, msg, err)
		}
		// Transient LOS failure; nack for redelivery.
		return Result{}, fmt.Errorf("loan context for %s: %w", loanID, err)
	}

	rec, applied, err := a.apply(ctx, loanID, func(r *lock.LoanLock) (bool, []audit.Entry, error) {
		if !a.eligible(r) {
			return false, nil, nil
		}
		mergeContext(r, lc)
		r.Audit.UpdatedBy = a.name
		r.Audit.UpdatedAt = a.now()
		return true, nil, nil
	})
	if err != nil {
		return Result{}, err
	}
	if !applied {
		return a.discard(ctx, rec.RateLockID, "record moved on during enrichment", msg), nil
	}

	a.sink.MustRecord(ctx, audit.ActionEntry(rec.RateLockID, a.name, "CONTEXT_RETRIEVED",
		audit.OutcomeSuccess, map[string]any{
			"loan_application_id": loanID,
			"loan_status":         rec.LoanDetails.LoanStatus,
			"loan_amount":         rec.LoanDetails.Amount,
		}, a.now()))

	res := Result{Outcome: audit.OutcomeSuccess}
	out := bus.NewMessage(bus.MsgContextRetrieved, loanID, map[string]any{
		"loan_application_id": loanID,
		"rate_lock_id":        rec.RateLockID,
		"status":              string(rec.Status),
	})
	if err := a.publish(ctx, &res, bus.TopicRateLockRequests, out); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (a *ContextEnrichment) rejectUnknownLoan(ctx context.Context, rec *lock.LoanLock, msg bus.Message, cause error) (Result, error) {
	a.sink.MustRecord(ctx, audit.ErrorEntry(rec.RateLockID, a.name, "UNKNOWN_LOAN", cause.Error(), a.now()))
	res := Result{Outcome: audit.OutcomeFailure}
	err := a.exceptionAlert(ctx, &res, rec.LoanApplicationID, "BORROWER_ELIGIBILITY_ISSUE",
		"loan application not found in origination system", map[string]any{
			"rate_lock_id": rec.RateLockID,
			"message_id":   msg.ID,
		})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// mergeContext overlays origination-system data onto the record, keeping
// contact details captured at intake when the context lacks them.
func mergeContext(rec *lock.LoanLock, lc collab.LoanContext) {
	email, phone, name := rec.Borrower.Email, rec.Borrower.Phone, rec.Borrower.Name
	addr := rec.Property.Address

	rec.Borrower = lc.Borrower
	if rec.Borrower.Email == "" {
		rec.Borrower.Email = email
	}
	if rec.Borrower.Phone == "" {
		rec.Borrower.Phone = phone
	}
	if rec.Borrower.Name == "" {
		rec.Borrower.Name = name
	}
	rec.Property = lc.Property
	if rec.Property.Address == "" {
		rec.Property.Address = addr
	}
	rec.LoanDetails = lc.LoanDetails
	rec.EstimatedClosingDate = lc.EstimatedClosingDate
}
