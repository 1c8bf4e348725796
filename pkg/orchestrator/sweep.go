package orchestrator

import (
	"context"
	"time"

	"github.com/lockdesk/ratelock/pkg/audit"
	"github.com/lockdesk/ratelock/pkg/bus"
	"github.com/lockdesk/ratelock/pkg/lock"
)

// runSweep periodically scans live records for SLA breaches. Every breach is
// recorded; escalation is published once per (record, state) episode and
// only when the configured profile asks for it.
func (o *Orchestrator) runSweep(ctx context.Context) {
	if o.sla == nil {
		return
	}
	ticker := time.NewTicker(o.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepOnce(ctx)
		}
	}
}

func (o *Orchestrator) sweepOnce(ctx context.Context) {
	records, err := o.store.List(ctx)
	if err != nil {
		o.log.Error("SLA sweep: list records failed", "error", err)
		return
	}

	now := o.clock()
	for _, rec := range records {
		if lock.IsTerminal(rec.Status) || rec.Archived {
			continue
		}
		target, ok := o.sla.Target(string(rec.Status))
		if !ok {
			continue
		}
		inState := now.Sub(rec.StatusSince)
		if inState <= target {
			continue
		}

		epoch := rec.RateLockID + "|" + string(rec.Status) + "|" + rec.StatusSince.UTC().Format(time.RFC3339Nano)
		o.mu.Lock()
		already := o.swept[epoch]
		o.swept[epoch] = true
		o.mu.Unlock()
		if already {
			continue
		}

		result := audit.Track("time_in_"+string(rec.Status), inState, target)
		o.sink.MustRecord(ctx, audit.SLAEntry(rec.RateLockID, "orchestrator", result, now))
		o.log.Warn("SLA breach detected",
			"loan_application_id", rec.LoanApplicationID,
			"status", string(rec.Status),
			"in_state", inState.Round(time.Second).String(),
			"target", target.String(),
			"variance_percent", result.VariancePercent,
		)

		if !o.opts.EscalateOnBreach || rec.Status == lock.StatusEscalated {
			continue
		}
		msg := bus.NewMessage(bus.MsgExceptionOccurred, rec.LoanApplicationID, map[string]any{
			"exception_type":      "CRITICAL_DEADLINE",
			"priority":            "HIGH",
			"loan_application_id": rec.LoanApplicationID,
			"detail":              "record exceeded SLA target in state " + string(rec.Status),
			"exception_data": map[string]any{
				"state":            string(rec.Status),
				"in_state":         inState.String(),
				"target":           target.String(),
				"variance_percent": result.VariancePercent,
			},
		})
		if err := o.bus.Publish(ctx, bus.TopicHighPriorityExceptions, msg); err != nil {
			o.log.Error("SLA breach escalation publish failed",
				"loan_application_id", rec.LoanApplicationID, "error", err)
		}
	}
}
