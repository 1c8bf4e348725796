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
	"github.com/lockdesk/ratelock/pkg/escalation"
	"github.com/lockdesk/ratelock/pkg/lock"
)

// ExceptionHandler diverts records into Escalated, opens an escalation case
// and notifies the responsible human. Resolve closes the loop when a human
// disposes of the case.
type ExceptionHandler struct {
	base
	manager *escalation.Manager
	los     collab.LoanOriginator
}

func NewExceptionHandler(store lock.Store, sink *audit.SafeSink, b bus.Bus, manager *escalation.Manager, los collab.LoanOriginator, log *slog.Logger) *ExceptionHandler {
	return &ExceptionHandler{
		base: newBase("exception-handler", []lock.Status{
			lock.StatusPendingRequest, lock.StatusPendingContext,
			lock.StatusRatesPresented, lock.StatusComplianceReviewed,
		}, store, sink, b, log),
		manager: manager,
		los:     los,
	}
}

func (a *ExceptionHandler) WithClock(clock func() time.Time) *ExceptionHandler {
	a.clock = clock
	return a
}

func (a *ExceptionHandler) WithSLA(t *audit.SLATracker) *ExceptionHandler {
	a.sla = t
	return a
}

func (a *ExceptionHandler) Name() string { return a.name }

// Accepts covers every live workflow state: an exception can surface at any
// stage before a terminal outcome.
func (a *ExceptionHandler) Accepts() []lock.Status { return a.accepts }

func (a *ExceptionHandler) Handle(ctx context.Context, msg bus.Message) (Result, error) {
	loanID := payloadString(msg.Payload, "loan_application_id")
	if loanID == "" {
		loanID = msg.LoanApplicationID
	}
	exceptionType := payloadString(msg.Payload, "exception_type")
	detail := payloadString(msg.Payload, "detail")
	data, _ := msg.Payload["exception_data"].(map[string]any)

	rec, err := a.store.Get(ctx, loanID)
	if err != nil {
		if errors.Is(err, lock.ErrNotFound) {
			return a.discard(ctx, loanID, "no record for escalated loan application", msg), nil
		}
		return Result{}, err
	}
	if rec.Status == lock.StatusEscalated {
		// Already escalated; a second alert for the same record is noise.
		return a.discard(ctx, rec.RateLockID, "record already escalated", msg), nil
	}
	if !a.eligible(rec) {
		return a.discard(ctx, rec.RateLockID, "record in terminal state: "+string(rec.Status), msg), nil
	}

	rec, applied, err := a.apply(ctx, loanID, func(r *lock.LoanLock) (bool, []audit.Entry, error) {
		if !a.eligible(r) {
			return false, nil, nil
		}
		r.Exceptions = append(r.Exceptions, exceptionType)
		staged, err := a.transition(r, lock.StatusEscalated)
		return err == nil, staged, err
	})
	if err != nil {
		return Result{}, err
	}
	if !applied {
		return a.discard(ctx, rec.RateLockID, "record moved on before escalation", msg), nil
	}

	officer, err := a.los.GetLoanOfficer(ctx, loanID)
	if err != nil {
		a.log.Warn("loan officer lookup failed, routing without officer contact",
			"loan_application_id", loanID, "error", err)
	}

	c := a.manager.CreateCase(ctx, rec.RateLockID, loanID, exceptionType, detail, data, officer)
	out := a.manager.Notify(ctx, c)

	outcome := audit.OutcomeSuccess
	if !out.Success {
		outcome = audit.OutcomeFailure
	} else if len(out.Errors) > 0 {
		outcome = audit.OutcomePartial
	}
	a.sink.MustRecord(ctx, audit.ActionEntry(rec.RateLockID, a.name, "ESCALATION_CREATED", outcome,
		map[string]any{
			"escalation_id":     c.EscalationID,
			"exception_type":    exceptionType,
			"priority":          string(c.Classification.Priority),
			"target_type":       c.Target.Type,
			"channels_notified": out.Channels,
			"notify_errors":     out.Errors,
		}, a.now()))

	return Result{Outcome: outcome}, nil
}

// Resolve applies a human disposition to an open case: "reject" closes the
// record, anything else re-enters the state it was escalated from.
func (a *ExceptionHandler) Resolve(ctx context.Context, escalationID, disposition string) (*lock.LoanLock, error) {
	c, err := a.manager.Resolve(escalationID, disposition)
	if err != nil {
		return nil, err
	}

	rec, err := a.store.Get(ctx, c.LoanApplicationID)
	if err != nil {
		return nil, err
	}
	if rec.Status != lock.StatusEscalated {
		return nil, fmt.Errorf("record %s not escalated (status %s)", c.LoanApplicationID, rec.Status)
	}

	target := rec.PriorStatus
	if disposition == "reject" || target == "" {
		target = lock.StatusRejected
	}
	staged, err := a.transition(rec, target)
	if err != nil {
		return nil, err
	}
	if err := a.store.Update(ctx, rec); err != nil {
		return nil, err
	}
	for _, e := range staged {
		a.sink.MustRecord(ctx, e)
	}

	a.sink.MustRecord(ctx, audit.ActionEntry(rec.RateLockID, a.name, "ESCALATION_RESOLVED",
		audit.OutcomeSuccess, map[string]any{
			"escalation_id": escalationID,
			"disposition":   disposition,
			"resumed_state": string(target),
		}, a.now()))
	return rec, nil
}
