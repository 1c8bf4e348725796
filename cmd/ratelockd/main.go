// ratelockd runs the rate lock workflow: the six stage agents polling the
// message bus under one orchestrator, until SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lockdesk/ratelock/pkg/agents"
	"github.com/lockdesk/ratelock/pkg/audit"
	"github.com/lockdesk/ratelock/pkg/bus"
	"github.com/lockdesk/ratelock/pkg/collab"
	"github.com/lockdesk/ratelock/pkg/config"
	"github.com/lockdesk/ratelock/pkg/escalation"
	"github.com/lockdesk/ratelock/pkg/lock"
	"github.com/lockdesk/ratelock/pkg/observability"
	"github.com/lockdesk/ratelock/pkg/orchestrator"
	"github.com/lockdesk/ratelock/pkg/rules"
)

const dedupTTL = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		slog.Error("ratelockd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("ratelockd starting", "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.SLAProfile)
	if err != nil {
		log.Warn("SLA profile not loaded, using defaults", "profile", cfg.SLAProfile, "error", err)
		profile = config.DefaultSLAProfile()
	}
	targets, err := profile.Targets()
	if err != nil {
		return fmt.Errorf("SLA profile %s: %w", profile.Code, err)
	}
	sla := audit.NewSLATracker(targets)

	engine, err := rules.NewEngine(rules.DefaultRules)
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}
	validator, err := bus.NewValidator()
	if err != nil {
		return fmt.Errorf("compile schemas: %w", err)
	}

	var (
		msgBus bus.Bus
		store  lock.Store
		sink   audit.Sink
		dedup  bus.DedupStore
	)
	if cfg.IsProd() {
		msgBus, store, sink, dedup, err = prodInfra(ctx, cfg)
	} else {
		msgBus, store, sink, dedup = devInfra()
	}
	if err != nil {
		return err
	}
	safe := audit.NewSafeSink(sink, log)

	var obs *observability.Provider
	if cfg.OTelEnabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Insecure = !cfg.IsProd()
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			return fmt.Errorf("observability: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := obs.Shutdown(shutdownCtx); err != nil {
				log.Warn("observability shutdown", "error", err)
			}
		}()
	}

	los, directory, pricing, disclosures, staff := collaborators()
	notifier := &collab.LogNotifier{Log: log}
	docs := documentService(log)
	manager := escalation.NewManager(staff, notifier, log)

	bindings := []orchestrator.Binding{
		{
			Agent:        agents.NewIntake(store, safe, msgBus, collab.DevExtractor{}, directory, log).WithSLA(sla),
			Topic:        bus.TopicInboundEmail,
			Subscription: "email-intake",
			Types:        []string{bus.MsgNewEmailRequest},
		},
		{
			Agent:        agents.NewContextEnrichment(store, safe, msgBus, los, log).WithSLA(sla),
			Topic:        bus.TopicRateLockRequests,
			Subscription: "context-enrichment",
			Types:        []string{bus.MsgContextRetrievalNeeded},
		},
		{
			Agent:        agents.NewRateQuote(store, safe, msgBus, pricing, log).WithSLA(sla),
			Topic:        bus.TopicRateLockRequests,
			Subscription: "rate-quote",
			Types:        []string{bus.MsgContextRetrieved},
		},
		{
			Agent:        agents.NewCompliance(store, safe, msgBus, engine, disclosures, log).WithSLA(sla),
			Topic:        bus.TopicRateLockRequests,
			Subscription: "compliance-risk",
			Types:        []string{bus.MsgRatesPresented},
		},
		{
			Agent:        agents.NewLockConfirmation(store, safe, msgBus, pricing, los, docs, log).WithSLA(sla),
			Topic:        bus.TopicRateLockRequests,
			Subscription: "lock-confirmation",
			Types:        []string{bus.MsgCompliancePassed},
		},
		{
			Agent:        agents.NewExceptionHandler(store, safe, msgBus, manager, los, log).WithSLA(sla),
			Topic:        bus.TopicExceptionAlerts,
			Subscription: "exception-handler",
			Types:        []string{bus.MsgExceptionOccurred},
		},
		{
			Agent:        agents.NewExceptionHandler(store, safe, msgBus, manager, los, log).WithSLA(sla),
			Topic:        bus.TopicHighPriorityExceptions,
			Subscription: "exception-handler",
			Types:        []string{bus.MsgExceptionOccurred},
		},
	}
	if err := subscribe(ctx, msgBus, bindings); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	opts := orchestrator.Options{
		PollInterval:     cfg.PollInterval,
		SweepInterval:    profile.Sweep(),
		EscalateOnBreach: profile.EscalateOnBreach,
	}
	orch := orchestrator.New(bindings, msgBus, store, safe, dedup, validator, sla, obs, log, opts)

	log.Info("ratelockd ready",
		"bindings", len(bindings),
		"sla_profile", profile.Code,
		"poll_interval", cfg.PollInterval.String(),
	)
	return orch.Run(ctx)
}

func newLogger(levelName string) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func devInfra() (bus.Bus, lock.Store, audit.Sink, bus.DedupStore) {
	return bus.NewMemoryBus(), lock.NewMemoryStore(), audit.NewMemorySink(), bus.NewMemoryDedup(dedupTTL)
}

func prodInfra(ctx context.Context, cfg *config.Config) (bus.Bus, lock.Store, audit.Sink, bus.DedupStore, error) {
	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open record db: %w", err)
	}
	store, err := lock.NewSQLiteStore(db)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("record store: %w", err)
	}

	auditDB, err := sql.Open("sqlite", cfg.AuditDBPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	sink, err := audit.NewSQLiteSink(auditDB)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("audit sink: %w", err)
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	return bus.NewRedisBus(cfg.RedisAddr, "", 0), store, sink, bus.NewRedisDedup(client, dedupTTL), nil
}

// collaborators returns the stub integrations. Real LOS, pricing and
// disclosure endpoints slot in here once their gateways exist.
func collaborators() (collab.LoanOriginator, collab.BorrowerDirectory, collab.PricingEngine, collab.DisclosureService, collab.StaffDirectory) {
	los := &collab.DevLoanOriginator{
		Contexts: map[string]collab.LoanContext{
			"LA100": {
				Borrower: lock.Borrower{
					Name:           "Jordan Blake",
					Email:          "jordan.blake@example.com",
					Phone:          "555-0100",
					CreditScore:    742,
					DebtToIncome:   38.5,
					IncomeVerified: true,
					AssetsVerified: true,
				},
				Property: lock.Property{
					Address:        "742 Evergreen Terrace",
					City:           "Springfield",
					State:          "IL",
					PropertyType:   "single_family",
					Occupancy:      "primary_residence",
					AppraisedValue: 500000,
				},
				LoanDetails: lock.LoanDetails{
					Amount:     400000,
					LoanType:   "Conventional",
					Purpose:    "Purchase",
					TermYears:  30,
					RateType:   "fixed",
					LoanStatus: "pre-approved",
				},
				EstimatedClosingDate: time.Now().AddDate(0, 0, 35),
			},
		},
		Officers: map[string]collab.Staff{
			"LA100": {ID: "LO-1", Name: "Pat Rivera", Email: "pat.rivera@lockdesk.example", Phone: "555-0199"},
		},
	}
	directory := &collab.DevBorrowerDirectory{
		Known: map[string]string{"jordan.blake@example.com": "LA100"},
	}
	staff := &collab.DevStaffDirectory{
		Specialists: map[string]collab.Staff{
			"COMPLIANCE": {ID: "SP-1", Name: "Morgan Lee", Email: "morgan.lee@lockdesk.example", Phone: "555-0150"},
			"PRICING":    {ID: "SP-2", Name: "Sam Ortiz", Email: "sam.ortiz@lockdesk.example", Phone: "555-0151"},
		},
		Boss: collab.Staff{ID: "SV-1", Name: "Alex Chen", Email: "alex.chen@lockdesk.example", Phone: "555-0160"},
	}
	return los, directory, &collab.DevPricingEngine{}, &collab.DevDisclosureService{}, staff
}

func documentService(log *slog.Logger) collab.DocumentService {
	key := os.Getenv("RATELOCK_DOC_SIGNING_KEY")
	if key == "" {
		key = uuid.NewString()
		log.Warn("RATELOCK_DOC_SIGNING_KEY unset, confirmation documents signed with an ephemeral key")
	}
	return collab.NewSignedDocumentService([]byte(key), "ratelockd")
}

func subscribe(ctx context.Context, b bus.Bus, bindings []orchestrator.Binding) error {
	for _, binding := range bindings {
		switch impl := b.(type) {
		case *bus.MemoryBus:
			impl.Subscribe(binding.Topic, binding.Subscription)
		case *bus.RedisBus:
			if err := impl.Subscribe(ctx, binding.Topic, binding.Subscription); err != nil {
				return err
			}
		}
	}
	return nil
}
