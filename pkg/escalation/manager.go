package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockdesk/ratelock/pkg/collab"
)

// CaseStatus is the lifecycle of an escalation case. Closing is a human
// action; this package models only the transition hook.
type CaseStatus string

const (
	CaseOpen     CaseStatus = "OPEN"
	CaseResolved CaseStatus = "RESOLVED"
)

// Target identifies who the case was routed to.
type Target struct {
	Type  string `json:"type"` // LOAN_OFFICER, *_SPECIALIST, SUPERVISOR
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Case is an escalation awaiting human resolution.
type Case struct {
	EscalationID        string         `json:"escalation_id"`
	LoanLockID          string         `json:"loan_lock_id"`
	LoanApplicationID   string         `json:"loan_application_id"`
	ExceptionType       string         `json:"exception_type"`
	ExceptionData       map[string]any `json:"exception_data,omitempty"`
	Classification      Classification `json:"classification"`
	Target              Target         `json:"target"`
	RecommendedActions  []string       `json:"recommended_actions"`
	Reason              string         `json:"reason"`
	Status              CaseStatus     `json:"status"`
	CreatedAt           time.Time      `json:"created_at"`
	EstimatedResolution time.Time      `json:"estimated_resolution"`
	ResolvedAt          time.Time      `json:"resolved_at,omitempty"`
	Disposition         string         `json:"disposition,omitempty"`
}

// NotificationOutcome reports the escalation fan-out. Success means at least
// one channel got through.
type NotificationOutcome struct {
	Success  bool     `json:"success"`
	Channels []string `json:"channels_notified,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

var ErrCaseNotFound = errors.New("escalation case not found")

// Manager creates cases, routes them, fans out notifications and tracks
// open cases until human resolution.
type Manager struct {
	mu       sync.Mutex
	cases    map[string]*Case
	staff    collab.StaffDirectory
	notifier collab.Notifier
	log      *slog.Logger
	clock    func() time.Time
}

func NewManager(staff collab.StaffDirectory, notifier collab.Notifier, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cases:    make(map[string]*Case),
		staff:    staff,
		notifier: notifier,
		log:      log,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// CreateCase classifies the exception, resolves the escalation target and
// opens a case with a resolution-time estimate.
func (m *Manager) CreateCase(ctx context.Context, loanLockID, loanApplicationID, exceptionType, detail string, data map[string]any, loanOfficer collab.Staff) *Case {
	now := m.clock()
	cls := Classify(exceptionType)

	c := &Case{
		EscalationID:        fmt.Sprintf("ESC-%s-%s", now.UTC().Format("20060102150405"), uuid.NewString()[:8]),
		LoanLockID:          loanLockID,
		LoanApplicationID:   loanApplicationID,
		ExceptionType:       exceptionType,
		ExceptionData:       data,
		Classification:      cls,
		Target:              m.resolveTarget(ctx, cls, loanOfficer),
		RecommendedActions:  RecommendedActions(exceptionType),
		Reason:              Reason(exceptionType, detail),
		Status:              CaseOpen,
		CreatedAt:           now,
		EstimatedResolution: now.Add(resolutionEstimate(cls)),
	}

	m.mu.Lock()
	m.cases[c.EscalationID] = c
	m.mu.Unlock()
	return c
}

// resolutionEstimate: 2h for HIGH priority, 1 day if a specialist is
// required, else the 4h default.
func resolutionEstimate(cls Classification) time.Duration {
	switch {
	case cls.Priority == PriorityHigh:
		return 2 * time.Hour
	case cls.RequiresSpecialist:
		return 24 * time.Hour
	default:
		return 4 * time.Hour
	}
}

func (m *Manager) resolveTarget(ctx context.Context, cls Classification, loanOfficer collab.Staff) Target {
	target := Target{Type: "LOAN_OFFICER", Name: loanOfficer.Name, Email: loanOfficer.Email, Phone: loanOfficer.Phone}

	if m.staff == nil {
		return target
	}
	switch cls.Category {
	case "COMPLIANCE", "PRICING", "TECHNICAL":
		if s, err := m.staff.Specialist(ctx, cls.Category); err == nil {
			return Target{Type: cls.Category + "_SPECIALIST", Name: s.Name, Email: s.Email, Phone: s.Phone}
		}
	}
	if cls.Priority == PriorityHigh {
		if s, err := m.staff.Supervisor(ctx, loanOfficer.ID); err == nil {
			return Target{Type: "SUPERVISOR", Name: s.Name, Email: s.Email, Phone: s.Phone}
		}
	}
	return target
}

// Notify fans out the case: email always, SMS only for HIGH priority with a
// known phone, chat webhook when configured. Channel failures are collected,
// not fatal.
func (m *Manager) Notify(ctx context.Context, c *Case) NotificationOutcome {
	out := NotificationOutcome{}
	if m.notifier == nil {
		out.Errors = append(out.Errors, "notifier not configured")
		return out
	}

	if c.Target.Email != "" {
		if err := m.notifier.SendEmail(ctx, c.Target.Email, emailSubject(c), emailBody(c)); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("email failed: %v", err))
		} else {
			out.Channels = append(out.Channels, "email")
		}
	}
	if c.Classification.Priority == PriorityHigh && c.Target.Phone != "" {
		if err := m.notifier.SendSMS(ctx, c.Target.Phone, smsBody(c)); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("sms failed: %v", err))
		} else {
			out.Channels = append(out.Channels, "sms")
		}
	}
	if err := m.notifier.SendChat(ctx, chatBody(c)); err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("chat failed: %v", err))
	} else {
		out.Channels = append(out.Channels, "chat")
	}

	out.Success = len(out.Channels) > 0
	if !out.Success {
		m.log.Error("escalation notification failed on every channel",
			"escalation_id", c.EscalationID, "errors", out.Errors)
	}
	return out
}

// Resolve closes the case with the human disposition, either "reject" or
// "resume"; the caller applies the matching record transition.
func (m *Manager) Resolve(escalationID, disposition string) (*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[escalationID]
	if !ok {
		return nil, ErrCaseNotFound
	}
	if c.Status == CaseResolved {
		return nil, fmt.Errorf("case %s already resolved", escalationID)
	}
	c.Status = CaseResolved
	c.ResolvedAt = m.clock()
	c.Disposition = disposition
	return c, nil
}

// Get returns a case by ID.
func (m *Manager) Get(escalationID string) (*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[escalationID]
	if !ok {
		return nil, ErrCaseNotFound
	}
	return c, nil
}

// OpenCases returns the currently open cases.
func (m *Manager) OpenCases() []*Case {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Case
	for _, c := range m.cases {
		if c.Status == CaseOpen {
			out = append(out, c)
		}
	}
	return out
}
