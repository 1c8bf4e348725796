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
)

// quoteTTL is how long a presented quote stays actionable before the
// compliance stage demands a refresh.
const quoteTTL = 4 * time.Hour

// RateQuote prices the lock request: fetches rate options, recommends lock
// terms against the closing timeline and surfaces special programs. It also
// accepts RatesPresented so an expired quote can be refreshed in place.
type RateQuote struct {
	base
	pricing collab.PricingEngine
}

func NewRateQuote(store lock.Store, sink *audit.SafeSink, b bus.Bus, pricing collab.PricingEngine, log *slog.Logger) *RateQuote {
	return &RateQuote{
		base: newBase("rate-quote",
			[]lock.Status{lock.StatusPendingContext, lock.StatusRatesPresented},
			store, sink, b, log),
		pricing: pricing,
	}
}

func (a *RateQuote) WithClock(clock func() time.Time) *RateQuote {
	a.clock = clock
	return a
}

func (a *RateQuote) WithSLA(t *audit.SLATracker) *RateQuote {
	a.sla = t
	return a
}

func (a *RateQuote) Name() string { return a.name }

func (a *RateQuote) Accepts() []lock.Status { return a.accepts }

func (a *RateQuote) Handle(ctx context.Context, msg bus.Message) (Result, error) {
	loanID := msg.LoanApplicationID
	rec, err := a.store.Get(ctx, loanID)
	if err != nil {
		if errors.Is(err, lock.ErrNotFound) {
			return a.discard(ctx, loanID, "no record for loan application", msg), nil
		}
		return Result{}, err
	}
	if !a.eligible(rec) {
		return a.discard(ctx, rec.RateLockID, "record not quotable: "+string(rec.Status), msg), nil
	}

	if missing := missingPricingFields(rec); len(missing) > 0 {
		return a.rejectIncomplete(ctx, rec, missing)
	}

	options, err := a.pricing.GetRates(ctx, buildPricingRequest(rec))
	if err != nil {
		// Pricing engine outage; nack for redelivery.
		return Result{}, fmt.Errorf("rate options for %s: %w", loanID, err)
	}

	now := a.now()
	terms := recommendTerms(rec.EstimatedClosingDate, now)
	programs := specialPrograms(rec.LoanDetails)

	rec, applied, err := a.apply(ctx, loanID, func(r *lock.LoanLock) (bool, []audit.Entry, error) {
		if !a.eligible(r) {
			return false, nil, nil
		}
		r.RateOptions = options
		r.LockTermRecommended = terms
		r.SpecialPrograms = programs
		r.QuoteExpiresAt = now.Add(quoteTTL)
		if r.Status == lock.StatusPendingContext {
			staged, err := a.transition(r, lock.StatusRatesPresented)
			return err == nil, staged, err
		}
		return true, nil, nil
	})
	if err != nil {
		return Result{}, err
	}
	if !applied {
		return a.discard(ctx, rec.RateLockID, "record moved on during quoting", msg), nil
	}

	a.sink.MustRecord(ctx, audit.ActionEntry(rec.RateLockID, a.name, "RATES_PRESENTED",
		audit.OutcomeSuccess, map[string]any{
			"option_count":     len(options),
			"quote_expires_at": rec.QuoteExpiresAt.Format(time.RFC3339),
			"special_programs": len(programs),
		}, a.now()))

	res := Result{Outcome: audit.OutcomeSuccess}
	payload := map[string]any{
		"loan_application_id": loanID,
		"rate_lock_id":        rec.RateLockID,
		"status":              string(rec.Status),
		"option_count":        len(options),
	}
	// A refresh request carries its marker through to the compliance stage
	// so an expired quote is only refreshed once.
	if requoted, _ := msg.Payload["requoted"].(bool); requoted {
		payload["requoted"] = true
	}
	out := bus.NewMessage(bus.MsgRatesPresented, loanID, payload)
	if err := a.publish(ctx, &res, bus.TopicRateLockRequests, out); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (a *RateQuote) rejectIncomplete(ctx context.Context, rec *lock.LoanLock, missing []string) (Result, error) {
	detail := "loan context incomplete for pricing: " + strings.Join(missing, ", ")
	a.sink.MustRecord(ctx, audit.ErrorEntry(rec.RateLockID, a.name, "VALIDATION_ERROR", detail, a.now()))
	res := Result{Outcome: audit.OutcomeFailure}
	err := a.exceptionAlert(ctx, &res, rec.LoanApplicationID, "VALIDATION_ERROR", detail, map[string]any{
		"rate_lock_id":   rec.RateLockID,
		"missing_fields": missing,
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// missingPricingFields lists the loan attributes pricing cannot proceed
// without.
func missingPricingFields(rec *lock.LoanLock) []string {
	var missing []string
	if rec.LoanDetails.Amount <= 0 {
		missing = append(missing, "loan_amount")
	}
	if rec.LoanDetails.LoanType == "" {
		missing = append(missing, "loan_type")
	}
	if rec.Property.PropertyType == "" {
		missing = append(missing, "property_type")
	}
	if rec.Property.Occupancy == "" {
		missing = append(missing, "occupancy")
	}
	return missing
}

func buildPricingRequest(rec *lock.LoanLock) collab.PricingRequest {
	return collab.PricingRequest{
		LoanApplicationID: rec.LoanApplicationID,
		LoanAmount:        rec.LoanDetails.Amount,
		LoanType:          rec.LoanDetails.LoanType,
		LoanPurpose:       rec.LoanDetails.Purpose,
		PropertyType:      rec.Property.PropertyType,
		Occupancy:         rec.Property.Occupancy,
		PropertyState:     rec.Property.State,
		CreditScore:       rec.Borrower.CreditScore,
		LTVRatio:          rec.LTV(),
		DebtToIncome:      rec.Borrower.DebtToIncome,
		TermYears:         rec.LoanDetails.TermYears,
		RateType:          rec.LoanDetails.RateType,
	}
}

// recommendTerms flags which lock terms fit the closing timeline: 30 days
// when closing is 25 days out or less, 45 days between 25 and 40, 60 days
// beyond 40. Without a closing date the 45-day middle term is the default.
func recommendTerms(closing time.Time, now time.Time) []lock.TermRecommendation {
	if closing.IsZero() {
		return []lock.TermRecommendation{
			{TermDays: 30, Recommended: false},
			{TermDays: 45, Recommended: true},
			{TermDays: 60, Recommended: false},
		}
	}
	days := int(closing.Sub(now).Hours() / 24)
	return []lock.TermRecommendation{
		{TermDays: 30, Recommended: days <= 25},
		{TermDays: 45, Recommended: days > 25 && days <= 40},
		{TermDays: 60, Recommended: days > 40},
	}
}

// specialPrograms surfaces lock program variants the loan qualifies for.
func specialPrograms(details lock.LoanDetails) []lock.SpecialProgram {
	var programs []lock.SpecialProgram
	switch details.LoanType {
	case "Conventional", "VA", "FHA":
		programs = append(programs, lock.SpecialProgram{
			ProgramType: "float_down",
			Description: "One-time rate reduction if rates improve",
			Fee:         250.0,
			Terms:       "Available once during lock period if rates drop by 0.25% or more",
		})
	}
	if details.Purpose == "Purchase" {
		programs = append(programs, lock.SpecialProgram{
			ProgramType: "lock_and_shop",
			Description: "Lock rate before finding property",
			Fee:         500.0,
			Terms:       "45-day rate lock while shopping for property",
		})
	}
	return programs
}
