// Package agents implements the six autonomous workflow stages. Each agent
// consumes one message type, performs its stage against the loan-lock record
// and publishes the follow-on message. Handlers are idempotent: the record's
// status gates every write, and stale or duplicate messages are discarded as
// no-ops rather than retried.
package agents

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lockdesk/ratelock/pkg/audit"
	"github.com/lockdesk/ratelock/pkg/bus"
	"github.com/lockdesk/ratelock/pkg/lock"
)

// Result is the outcome of handling one message.
type Result struct {
	Outcome   audit.Outcome
	Published []string
	Discarded bool
}

// Handler is the stage-agent contract the orchestrator dispatches to.
// A returned error means the delivery should be nacked and redelivered;
// everything else, including a Discarded result, is acked.
type Handler interface {
	Name() string
	Accepts() []lock.Status
	Handle(ctx context.Context, msg bus.Message) (Result, error)
}

// base carries the dependencies every agent shares.
type base struct {
	name    string
	accepts []lock.Status
	store   lock.Store
	sink    *audit.SafeSink
	bus     bus.Bus
	sla     *audit.SLATracker
	log     *slog.Logger
	clock   func() time.Time
}

func newBase(name string, accepts []lock.Status, store lock.Store, sink *audit.SafeSink, b bus.Bus, log *slog.Logger) base {
	if log == nil {
		log = slog.Default()
	}
	return base{
		name:    name,
		accepts: accepts,
		store:   store,
		sink:    sink,
		bus:     b,
		log:     log.With("agent", name),
		clock:   time.Now,
	}
}

func (b *base) now() time.Time {
	return b.clock()
}

func (b *base) eligible(rec *lock.LoanLock) bool {
	for _, s := range b.accepts {
		if rec.Status == s {
			return true
		}
	}
	return false
}

// discard records a WARNING audit entry and returns the discard result. The
// message is acked; discards are terminal, never retried.
func (b *base) discard(ctx context.Context, loanLockID, reason string, msg bus.Message) Result {
	b.log.Warn("message discarded", "reason", reason,
		"loan_application_id", msg.LoanApplicationID, "message_type", msg.Type)
	b.sink.MustRecord(ctx, audit.ActionEntry(loanLockID, b.name, "MESSAGE_DISCARDED",
		audit.OutcomeWarning, map[string]any{
			"reason":       reason,
			"message_type": msg.Type,
			"message_id":   msg.ID,
		}, b.now()))
	return Result{Outcome: audit.OutcomeWarning, Discarded: true}
}

// apply reads the record, runs fn against it and writes it back with
// compare-and-set. On a version conflict it re-reads and re-runs fn once,
// letting fn re-check the status gate against the fresh record; a second
// conflict or a false gate means the record moved on and the message is a
// stale no-op. fn returns false to signal the gate no longer holds, plus
// any audit entries the mutation staged; entries are emitted only after the
// write lands, so a conflicted attempt records nothing.
func (b *base) apply(ctx context.Context, loanApplicationID string, fn func(*lock.LoanLock) (bool, []audit.Entry, error)) (*lock.LoanLock, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := b.store.Get(ctx, loanApplicationID)
		if err != nil {
			return nil, false, err
		}
		ok, staged, err := fn(rec)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return rec, false, nil
		}
		switch err := b.store.Update(ctx, rec); {
		case err == nil:
			for _, e := range staged {
				b.sink.MustRecord(ctx, e)
			}
			return rec, true, nil
		case errors.Is(err, lock.ErrVersionConflict):
			continue
		default:
			return nil, false, err
		}
	}
	return nil, false, nil
}

// transition moves the record and stages the STATE_TRANSITION entry plus an
// SLA_METRIC entry when the left state has a target. The caller emits the
// staged entries once the record write succeeds.
func (b *base) transition(rec *lock.LoanLock, to lock.Status) ([]audit.Entry, error) {
	now := b.now()
	from := rec.Status
	inPrior, err := lock.Transition(rec, to, b.name, now)
	if err != nil {
		return nil, err
	}
	staged := []audit.Entry{
		audit.TransitionEntry(rec.RateLockID, b.name, string(from), string(to), inPrior, now),
	}
	if b.sla != nil {
		if target, ok := b.sla.Target(string(from)); ok {
			r := audit.Track("time_in_"+string(from), inPrior, target)
			staged = append(staged, audit.SLAEntry(rec.RateLockID, b.name, r, now))
		}
	}
	return staged, nil
}

// publish sends the message and tracks it on the result.
func (b *base) publish(ctx context.Context, res *Result, topic string, msg bus.Message) error {
	if err := b.bus.Publish(ctx, topic, msg); err != nil {
		return err
	}
	res.Published = append(res.Published, msg.Type)
	return nil
}

// exceptionAlert publishes an exception_occurred message routed by priority.
func (b *base) exceptionAlert(ctx context.Context, res *Result, loanApplicationID, exceptionType, detail string, data map[string]any) error {
	priority := "MEDIUM"
	topic := bus.TopicExceptionAlerts
	if highPriority(exceptionType) {
		priority = "HIGH"
		topic = bus.TopicHighPriorityExceptions
	}
	msg := bus.NewMessage(bus.MsgExceptionOccurred, loanApplicationID, map[string]any{
		"exception_type":      exceptionType,
		"priority":            priority,
		"loan_application_id": loanApplicationID,
		"detail":              detail,
		"exception_data":      data,
	})
	return b.publish(ctx, res, topic, msg)
}

// highPriority mirrors the escalation classifier's high-priority set for
// topic routing; the classifier remains authoritative for case handling.
func highPriority(exceptionType string) bool {
	switch exceptionType {
	case "COMPLIANCE_FAILURE", "REGULATORY_VIOLATION", "SYSTEM_ERROR",
		"DATA_CORRUPTION", "CRITICAL_DEADLINE":
		return true
	}
	return false
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}
