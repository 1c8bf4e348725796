// Package orchestrator runs the stage agents: one paced polling loop per
// agent binding, plus the background loops for health reporting, SLA breach
// sweeping and audit write retries. Loops never terminate on error; they
// log, back off and continue until shutdown.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lockdesk/ratelock/pkg/agents"
	"github.com/lockdesk/ratelock/pkg/audit"
	"github.com/lockdesk/ratelock/pkg/bus"
	"github.com/lockdesk/ratelock/pkg/lock"
	"github.com/lockdesk/ratelock/pkg/observability"
)

// Binding attaches one agent to the topic and subscription it consumes.
// Routing is by construction, not by string lookup at dispatch time. Types
// narrows the binding to specific message types, standing in for the
// per-subscription filters of the production Service Bus layout; empty means
// every message on the topic.
type Binding struct {
	Agent        agents.Handler
	Topic        string
	Subscription string
	Types        []string
}

// Options tune the orchestrator loops. Zero values take the defaults.
type Options struct {
	PollInterval     time.Duration // pace between polls, default 250ms
	PollWait         time.Duration // bounded wait inside one poll, default 1s
	ErrorBackoff     time.Duration // sleep after a loop error, default 5s
	HeartbeatEvery   int           // heartbeat log every N polls, default 40
	HealthInterval   time.Duration // health report interval, default 1m
	SweepInterval    time.Duration // SLA breach sweep interval, default 1m
	EscalateOnBreach bool          // publish exceptions for breached records
	AuditRetries     int           // attempts per failed audit write, default 3
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.PollWait <= 0 {
		o.PollWait = time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 5 * time.Second
	}
	if o.HeartbeatEvery <= 0 {
		o.HeartbeatEvery = 40
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.AuditRetries <= 0 {
		o.AuditRetries = 3
	}
	return o
}

// bindingStats are the per-agent counters the health loop reports.
type bindingStats struct {
	mu        sync.Mutex
	polls     int64
	processed int64
	discarded int64
	failures  int64
}

func (s *bindingStats) snapshot() (polls, processed, discarded, failures int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls, s.processed, s.discarded, s.failures
}

// Orchestrator owns the agent loops and their shared infrastructure.
type Orchestrator struct {
	bindings  []Binding
	bus       bus.Bus
	store     lock.Store
	sink      *audit.SafeSink
	dedup     bus.DedupStore
	validator *bus.Validator
	sla       *audit.SLATracker
	obs       *observability.Provider
	log       *slog.Logger
	opts      Options
	clock     func() time.Time

	stats map[string]*bindingStats

	mu      sync.Mutex
	swept   map[string]bool // record+status epoch -> breach already escalated
	started time.Time
}

func New(bindings []Binding, b bus.Bus, store lock.Store, sink *audit.SafeSink, dedup bus.DedupStore, validator *bus.Validator, sla *audit.SLATracker, obs *observability.Provider, log *slog.Logger, opts Options) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	stats := make(map[string]*bindingStats, len(bindings))
	for _, binding := range bindings {
		stats[binding.Agent.Name()+"/"+binding.Topic] = &bindingStats{}
	}
	return &Orchestrator{
		bindings:  bindings,
		bus:       b,
		store:     store,
		sink:      sink,
		dedup:     dedup,
		validator: validator,
		sla:       sla,
		obs:       obs,
		log:       log.With("component", "orchestrator"),
		opts:      opts.withDefaults(),
		clock:     time.Now,
		stats:     stats,
		swept:     make(map[string]bool),
	}
}

// WithClock overrides the clock for deterministic testing.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// Run starts every loop and blocks until ctx is cancelled and all in-flight
// handlers have finished. The bus is closed on the way out.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.started = o.clock()
	o.log.Info("orchestrator starting",
		"bindings", len(o.bindings),
		"poll_interval", o.opts.PollInterval,
	)

	var wg sync.WaitGroup
	for _, binding := range o.bindings {
		wg.Add(1)
		go func(b Binding) {
			defer wg.Done()
			o.runBinding(ctx, b)
		}(binding)
	}

	wg.Add(3)
	go func() { defer wg.Done(); o.runHealth(ctx) }()
	go func() { defer wg.Done(); o.runSweep(ctx) }()
	go func() { defer wg.Done(); o.runAuditRetry(ctx) }()

	wg.Wait()

	uptime := o.clock().Sub(o.started)
	o.log.Info("orchestrator stopped", "uptime", uptime.Round(time.Second).String())
	return o.bus.Close()
}

// runBinding is one agent's polling loop: paced poll, sequential dispatch,
// heartbeat every Nth poll. Poll errors are logged and followed by a longer
// backoff; the loop only exits on shutdown.
func (o *Orchestrator) runBinding(ctx context.Context, b Binding) {
	key := b.Agent.Name() + "/" + b.Topic
	stats := o.stats[key]
	log := o.log.With("agent", b.Agent.Name(), "topic", b.Topic)
	limiter := rate.NewLimiter(rate.Every(o.opts.PollInterval), 1)

	var polls int64
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		polls++
		stats.mu.Lock()
		stats.polls = polls
		stats.mu.Unlock()

		if polls%int64(o.opts.HeartbeatEvery) == 0 {
			_, processed, discarded, failures := stats.snapshot()
			log.Debug("heartbeat", "polls", polls, "processed", processed,
				"discarded", discarded, "failures", failures)
		}

		deliveries, err := o.bus.Poll(ctx, b.Topic, b.Subscription, o.opts.PollWait)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrBusClosed) {
				return
			}
			log.Error("poll failed, backing off", "error", err)
			if !o.sleep(ctx, o.opts.ErrorBackoff) {
				return
			}
			continue
		}

		for _, d := range deliveries {
			if handleErr := o.dispatch(ctx, b, stats, d); handleErr != nil {
				log.Error("handler failed, delivery nacked", "error", handleErr,
					"message_type", d.Message.Type,
					"loan_application_id", d.Message.LoanApplicationID)
				if !o.sleep(ctx, o.opts.ErrorBackoff) {
					return
				}
			}
		}
	}
}

// dispatch validates, dedups and hands one delivery to the agent. Successful
// or discarded handling marks the dedup key and acks; a handler error nacks
// for redelivery with the key left unmarked.
func (o *Orchestrator) dispatch(ctx context.Context, b Binding, stats *bindingStats, d bus.Delivery) error {
	msg := d.Message

	if len(b.Types) > 0 && !slices.Contains(b.Types, msg.Type) {
		return d.Ack()
	}

	if o.validator != nil {
		if err := o.validator.ValidatePayload(msg.Type, msg.Payload); err != nil {
			o.log.Warn("malformed payload dropped", "message_type", msg.Type, "error", err)
			stats.mu.Lock()
			stats.discarded++
			stats.mu.Unlock()
			return d.Ack()
		}
	}

	if o.dedup != nil {
		seen, err := o.dedup.Seen(ctx, msg.DedupKey())
		if err != nil {
			// Dedup outage is not fatal; the status gate still protects.
			o.log.Warn("dedup check failed, dispatching anyway", "error", err)
		} else if seen {
			stats.mu.Lock()
			stats.discarded++
			stats.mu.Unlock()
			return d.Ack()
		}
	}

	handleCtx := ctx
	var done func(error)
	if o.obs != nil {
		handleCtx, done = o.obs.TrackMessage(ctx, b.Agent.Name(), msg.Type)
	}

	res, err := b.Agent.Handle(handleCtx, msg)
	if done != nil {
		done(err)
	}
	if err != nil {
		stats.mu.Lock()
		stats.failures++
		stats.mu.Unlock()
		if nackErr := d.Nack(); nackErr != nil {
			o.log.Error("nack failed", "error", nackErr)
		}
		return err
	}

	if o.dedup != nil {
		if markErr := o.dedup.Mark(ctx, msg.DedupKey()); markErr != nil {
			o.log.Warn("dedup mark failed", "error", markErr)
		}
	}

	stats.mu.Lock()
	if res.Discarded {
		stats.discarded++
	} else {
		stats.processed++
	}
	stats.mu.Unlock()
	return d.Ack()
}

// runHealth reports per-binding counters on a longer interval.
func (o *Orchestrator) runHealth(ctx context.Context) {
	ticker := time.NewTicker(o.opts.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for key, stats := range o.stats {
				polls, processed, discarded, failures := stats.snapshot()
				o.log.Info("agent health", "binding", key, "polls", polls,
					"processed", processed, "discarded", discarded, "failures", failures)
			}
		}
	}
}

// runAuditRetry drains failed audit writes and re-records them with capped
// retries. Entries that exhaust their retries are dropped with an error log;
// the local emission already happened at failure time.
func (o *Orchestrator) runAuditRetry(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case failed := <-o.sink.Failures():
			var err error
			for attempt := 1; attempt <= o.opts.AuditRetries; attempt++ {
				if err = o.sink.Retry(ctx, failed.Entry); err == nil {
					break
				}
				if !o.sleep(ctx, o.opts.ErrorBackoff) {
					return
				}
			}
			if err != nil {
				o.log.Error("audit entry dropped after retries",
					"audit_id", failed.Entry.AuditID, "error", err)
			}
		}
	}
}

// sleep waits for d or until shutdown; it reports false on shutdown.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
