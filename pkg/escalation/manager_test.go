package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockdesk/ratelock/pkg/collab"
)

var testOfficer = collab.Staff{ID: "LO-1", Name: "Pat Rivera", Email: "pat@lockdesk.test", Phone: "+15551230000"}

func newTestManager(staff collab.StaffDirectory, notifier collab.Notifier) *Manager {
	m := NewManager(staff, notifier, nil)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return m.WithClock(func() time.Time { return base })
}

func TestClassify(t *testing.T) {
	tests := []struct {
		exceptionType string
		category      string
		priority      Priority
		specialist    bool
		blocking      bool
	}{
		{"COMPLIANCE_FAILURE", "COMPLIANCE", PriorityHigh, false, false},
		{"PRICING_ANOMALY", "PRICING", PriorityMedium, true, false},
		{"BORROWER_ELIGIBILITY_ISSUE", "UNDERWRITING", PriorityHigh, false, true},
		{"SYSTEM_ERROR", "TECHNICAL", PriorityHigh, false, false},
		{"CUSTOM_PRODUCT_REQUIREMENTS", "GENERAL", PriorityMedium, true, false},
		{"SOMETHING_ELSE", "GENERAL", PriorityMedium, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.exceptionType, func(t *testing.T) {
			c := Classify(tt.exceptionType)
			assert.Equal(t, tt.category, c.Category)
			assert.Equal(t, tt.priority, c.Priority)
			assert.Equal(t, tt.specialist, c.RequiresSpecialist)
			assert.Equal(t, tt.blocking, c.BlockingIssue)
		})
	}
}

func TestCreateCaseRoutesToSpecialist(t *testing.T) {
	staff := &collab.DevStaffDirectory{
		Specialists: map[string]collab.Staff{
			"COMPLIANCE": {ID: "CS-1", Name: "Dana Cho", Email: "dana@lockdesk.test"},
		},
		Boss: collab.Staff{ID: "SUP-1", Name: "Lee Marsh", Email: "lee@lockdesk.test"},
	}
	m := newTestManager(staff, &collab.RecordingNotifier{})

	c := m.CreateCase(context.Background(), "LL-1", "LA100", "COMPLIANCE_FAILURE", "TRID timing violation", nil, testOfficer)

	assert.Equal(t, "COMPLIANCE_SPECIALIST", c.Target.Type)
	assert.Equal(t, "dana@lockdesk.test", c.Target.Email)
	assert.Equal(t, CaseOpen, c.Status)
	assert.NotEmpty(t, c.RecommendedActions)
	assert.Contains(t, c.EscalationID, "ESC-")
}

func TestCreateCaseFallsBackToSupervisorThenOfficer(t *testing.T) {
	staff := &collab.DevStaffDirectory{Boss: collab.Staff{ID: "SUP-1", Name: "Lee Marsh", Email: "lee@lockdesk.test"}}
	m := newTestManager(staff, &collab.RecordingNotifier{})

	// High priority with no matching specialist routes to the supervisor.
	c := m.CreateCase(context.Background(), "LL-1", "LA100", "SYSTEM_ERROR", "bus outage", nil, testOfficer)
	assert.Equal(t, "SUPERVISOR", c.Target.Type)

	// Medium priority general exceptions stay with the loan officer.
	c = m.CreateCase(context.Background(), "LL-2", "LA101", "UNCLASSIFIED_THING", "odd request", nil, testOfficer)
	assert.Equal(t, "LOAN_OFFICER", c.Target.Type)
	assert.Equal(t, testOfficer.Email, c.Target.Email)
}

func TestResolutionEstimates(t *testing.T) {
	m := newTestManager(&collab.DevStaffDirectory{}, &collab.RecordingNotifier{})
	now := m.clock()

	high := m.CreateCase(context.Background(), "LL-1", "LA100", "CRITICAL_DEADLINE", "", nil, testOfficer)
	assert.Equal(t, now.Add(2*time.Hour), high.EstimatedResolution)

	specialist := m.CreateCase(context.Background(), "LL-2", "LA101", "COMPLEX_LOAN_SCENARIO", "", nil, testOfficer)
	assert.Equal(t, now.Add(24*time.Hour), specialist.EstimatedResolution)

	standard := m.CreateCase(context.Background(), "LL-3", "LA102", "UNCLASSIFIED_THING", "", nil, testOfficer)
	assert.Equal(t, now.Add(4*time.Hour), standard.EstimatedResolution)
}

func TestNotifyFanOut(t *testing.T) {
	notifier := &collab.RecordingNotifier{ChatEnabled: true}
	m := newTestManager(&collab.DevStaffDirectory{}, notifier)

	c := m.CreateCase(context.Background(), "LL-1", "LA100", "COMPLIANCE_FAILURE", "TRID timing", nil, testOfficer)
	out := m.Notify(context.Background(), c)

	require.True(t, out.Success)
	assert.ElementsMatch(t, []string{"email", "sms", "chat"}, out.Channels)
	assert.Empty(t, out.Errors)

	emails := notifier.ByChannel("email")
	require.Len(t, emails, 1)
	assert.Contains(t, emails[0].Subject, "URGENT")
	assert.Contains(t, emails[0].Body, "LA100")
	assert.Contains(t, emails[0].Body, "Recommended actions")
}

func TestNotifySMSOnlyForHighPriority(t *testing.T) {
	notifier := &collab.RecordingNotifier{ChatEnabled: true}
	m := newTestManager(&collab.DevStaffDirectory{}, notifier)

	c := m.CreateCase(context.Background(), "LL-1", "LA100", "UNCLASSIFIED_THING", "", nil, testOfficer)
	out := m.Notify(context.Background(), c)

	assert.True(t, out.Success)
	assert.NotContains(t, out.Channels, "sms")
	assert.Empty(t, notifier.ByChannel("sms"))
}

func TestNotifyPartialFailureStillSucceeds(t *testing.T) {
	notifier := &collab.RecordingNotifier{
		ChatEnabled:  true,
		FailChannels: map[string]bool{"email": true, "sms": true},
	}
	m := newTestManager(&collab.DevStaffDirectory{}, notifier)

	c := m.CreateCase(context.Background(), "LL-1", "LA100", "SYSTEM_ERROR", "", nil, testOfficer)
	out := m.Notify(context.Background(), c)

	assert.True(t, out.Success)
	assert.Equal(t, []string{"chat"}, out.Channels)
	assert.Len(t, out.Errors, 2)
}

func TestNotifyTotalFailure(t *testing.T) {
	notifier := &collab.RecordingNotifier{
		FailChannels: map[string]bool{"email": true, "sms": true},
	}
	m := newTestManager(&collab.DevStaffDirectory{}, notifier)

	c := m.CreateCase(context.Background(), "LL-1", "LA100", "SYSTEM_ERROR", "", nil, testOfficer)
	out := m.Notify(context.Background(), c)

	assert.False(t, out.Success)
	assert.Empty(t, out.Channels)
}

func TestResolve(t *testing.T) {
	m := newTestManager(&collab.DevStaffDirectory{}, &collab.RecordingNotifier{})
	c := m.CreateCase(context.Background(), "LL-1", "LA100", "CREDIT_ISSUE", "", nil, testOfficer)

	assert.Len(t, m.OpenCases(), 1)

	resolved, err := m.Resolve(c.EscalationID, "resume")
	require.NoError(t, err)
	assert.Equal(t, CaseResolved, resolved.Status)
	assert.Equal(t, "resume", resolved.Disposition)
	assert.False(t, resolved.ResolvedAt.IsZero())
	assert.Empty(t, m.OpenCases())

	_, err = m.Resolve(c.EscalationID, "resume")
	assert.Error(t, err)

	_, err = m.Resolve("ESC-missing", "reject")
	assert.ErrorIs(t, err, ErrCaseNotFound)
}
