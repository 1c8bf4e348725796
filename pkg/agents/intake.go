package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lockdesk/ratelock/pkg/audit"
	"github.com/lockdesk/ratelock/pkg/bus"
	"github.com/lockdesk/ratelock/pkg/collab"
	"github.com/lockdesk/ratelock/pkg/lock"
)

// Intake receives inbound email requests, validates the sender, extracts the
// request fields and opens the loan-lock record.
type Intake struct {
	base
	extractor collab.Extractor
	directory collab.BorrowerDirectory
}

func NewIntake(store lock.Store, sink *audit.SafeSink, b bus.Bus, extractor collab.Extractor, directory collab.BorrowerDirectory, log *slog.Logger) *Intake {
	return &Intake{
		base:      newBase("email-intake", nil, store, sink, b, log),
		extractor: extractor,
		directory: directory,
	}
}

// WithClock overrides the clock for deterministic testing.
func (a *Intake) WithClock(clock func() time.Time) *Intake {
	a.clock = clock
	return a
}

// WithSLA attaches the SLA tracker consulted at transitions.
func (a *Intake) WithSLA(t *audit.SLATracker) *Intake {
	a.sla = t
	return a
}

func (a *Intake) Name() string { return a.name }

// Accepts is empty: intake creates records rather than mutating existing
// ones. Duplicate requests are handled explicitly in Handle.
func (a *Intake) Accepts() []lock.Status { return nil }

func (a *Intake) Handle(ctx context.Context, msg bus.Message) (Result, error) {
	from := payloadString(msg.Payload, "from_address")
	emailBody := payloadString(msg.Payload, "email_body")

	fields, err := a.extractor.Extract(ctx, emailBody)
	if err != nil {
		return Result{}, fmt.Errorf("extract email fields: %w", err)
	}
	loanID := payloadString(msg.Payload, "loan_application_id")
	if loanID == "" {
		loanID = fields.LoanApplicationID
	}
	if loanID == "" {
		return a.discard(ctx, "", "no loan application id in request", msg), nil
	}

	valid, err := a.directory.ValidateBorrowerEmail(ctx, from, loanID)
	if err != nil {
		return Result{}, fmt.Errorf("validate sender: %w", err)
	}
	if !valid {
		return a.discard(ctx, loanID, "sender not a known borrower: "+from, msg), nil
	}

	now := a.now()
	rec := &lock.LoanLock{
		RateLockID:        fmt.Sprintf("RL-%s-%s", now.UTC().Format("20060102150405"), uuid.NewString()[:8]),
		LoanApplicationID: loanID,
		Status:            lock.StatusPendingRequest,
		StatusSince:       now,
		Borrower: lock.Borrower{
			Name:  fields.BorrowerName,
			Email: from,
			Phone: fields.Phone,
		},
		Property:          lock.Property{Address: fields.PropertyAddress},
		RequestedTermDays: fields.RequestedTermDays,
		Audit:             lock.AuditStamp{CreatedBy: a.name, CreatedAt: now},
	}

	if err := a.store.Create(ctx, rec); err != nil {
		if errors.Is(err, lock.ErrAlreadyExists) {
			return a.handleDuplicate(ctx, loanID, msg)
		}
		return Result{}, fmt.Errorf("create record: %w", err)
	}

	a.sink.MustRecord(ctx, audit.ActionEntry(rec.RateLockID, a.name, "REQUEST_RECEIVED",
		audit.OutcomeSuccess, map[string]any{
			"from_address":        from,
			"loan_application_id": loanID,
			"requested_term_days": rec.RequestedTermDays,
		}, now))

	staged, err := a.transition(rec, lock.StatusPendingContext)
	if err != nil {
		return Result{}, err
	}
	if err := a.store.Update(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("persist record: %w", err)
	}
	for _, e := range staged {
		a.sink.MustRecord(ctx, e)
	}

	res := Result{Outcome: audit.OutcomeSuccess}
	if err := a.sendAcknowledgment(ctx, &res, rec); err != nil {
		return Result{}, err
	}
	if err := a.publishContextNeeded(ctx, &res, rec); err != nil {
		return Result{}, err
	}
	return res, nil
}

// handleDuplicate covers redelivery of a request whose record already
// exists. A record still waiting on context gets its trigger republished so
// a lost publish cannot strand the workflow; anything further along is a
// stale duplicate.
func (a *Intake) handleDuplicate(ctx context.Context, loanID string, msg bus.Message) (Result, error) {
	rec, err := a.store.Get(ctx, loanID)
	if err != nil {
		return Result{}, err
	}
	if rec.Status != lock.StatusPendingContext {
		return a.discard(ctx, rec.RateLockID, "duplicate request for existing record", msg), nil
	}
	res := Result{Outcome: audit.OutcomeSuccess}
	if err := a.publishContextNeeded(ctx, &res, rec); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (a *Intake) publishContextNeeded(ctx context.Context, res *Result, rec *lock.LoanLock) error {
	msg := bus.NewMessage(bus.MsgContextRetrievalNeeded, rec.LoanApplicationID, map[string]any{
		"loan_application_id": rec.LoanApplicationID,
		"rate_lock_id":        rec.RateLockID,
		"status":              string(rec.Status),
	})
	return a.publish(ctx, res, bus.TopicRateLockRequests, msg)
}

func (a *Intake) sendAcknowledgment(ctx context.Context, res *Result, rec *lock.LoanLock) error {
	if rec.Borrower.Email == "" {
		return nil
	}
	body := fmt.Sprintf(`Dear %s,

We have received your rate lock request (ID: %s) and it is currently being processed.

Our system will automatically review your request and provide rate options shortly.

Thank you for choosing our services.

Best regards,
Mortgage Processing Team
`, borrowerSalutation(rec.Borrower.Name), rec.RateLockID)

	msg := bus.NewMessage(bus.MsgSendEmail, rec.LoanApplicationID, map[string]any{
		"to":      rec.Borrower.Email,
		"subject": "Rate Lock Request Received - Confirmation",
		"body":    body,
	})
	return a.publish(ctx, res, bus.TopicOutboundEmail, msg)
}

func borrowerSalutation(name string) string {
	if name == "" {
		return "Borrower"
	}
	return name
}
