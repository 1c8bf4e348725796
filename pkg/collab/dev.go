package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockdesk/ratelock/pkg/lock"
)

var ErrUnknownLoan = errors.New("loan application not found upstream")

// DevBorrowerDirectory validates against a static email -> loan map.
type DevBorrowerDirectory struct {
	Known map[string]string // email -> loan_application_id ("" = any loan)
}

func (d *DevBorrowerDirectory) ValidateBorrowerEmail(ctx context.Context, email, loanApplicationID string) (bool, error) {
	want, ok := d.Known[strings.ToLower(email)]
	if !ok {
		return false, nil
	}
	return want == "" || want == loanApplicationID, nil
}

// DevExtractor reads structured fields the upstream demo embeds in the email
// body as key: value lines. Real extraction is an external NLP concern.
type DevExtractor struct{}

func (DevExtractor) Extract(ctx context.Context, emailBody string) (ExtractedFields, error) {
	var f ExtractedFields
	for _, line := range strings.Split(emailBody, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "borrower":
			f.BorrowerName = v
		case "loan_application_id", "loan id":
			f.LoanApplicationID = v
		case "property":
			f.PropertyAddress = v
		case "phone":
			f.Phone = v
		case "requested_term_days", "term":
			_, _ = fmt.Sscanf(v, "%d", &f.RequestedTermDays)
		}
	}
	return f, nil
}

// DevLoanOriginator is an in-memory LOS keyed by loan application ID.
type DevLoanOriginator struct {
	mu       sync.RWMutex
	Contexts map[string]LoanContext
	Officers map[string]Staff
	Updates  []lock.LockConfirmation
}

func (d *DevLoanOriginator) GetLoanContext(ctx context.Context, loanApplicationID string) (LoanContext, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	lc, ok := d.Contexts[loanApplicationID]
	if !ok {
		return LoanContext{}, fmt.Errorf("%w: %s", ErrUnknownLoan, loanApplicationID)
	}
	return lc, nil
}

func (d *DevLoanOriginator) UpdateRateLock(ctx context.Context, loanApplicationID string, conf lock.LockConfirmation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Updates = append(d.Updates, conf)
	return nil
}

func (d *DevLoanOriginator) GetLoanOfficer(ctx context.Context, loanApplicationID string) (Staff, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	lo, ok := d.Officers[loanApplicationID]
	if !ok {
		return Staff{}, fmt.Errorf("no loan officer for %s", loanApplicationID)
	}
	return lo, nil
}

// DevPricingEngine quotes a fixed ladder off a configurable base rate. It
// records the loan application ID of every lock submission; FailSubmit
// forces submissions to fail for retry tests.
type DevPricingEngine struct {
	BaseRate   float64 // defaults to 6.25 when zero
	FailSubmit bool
	mu         sync.Mutex
	submitted  []string
	clock      func() time.Time
}

func (p *DevPricingEngine) WithClock(clock func() time.Time) *DevPricingEngine {
	p.clock = clock
	return p
}

func (p *DevPricingEngine) now() time.Time {
	if p.clock != nil {
		return p.clock()
	}
	return time.Now()
}

// LockFees is the static per-term fee schedule.
var LockFees = map[int]float64{30: 0.0, 45: 125.0, 60: 250.0}

func (p *DevPricingEngine) GetRates(ctx context.Context, req PricingRequest) ([]lock.RateOption, error) {
	base := p.BaseRate
	if base == 0 {
		base = 6.25
	}
	payments := req.TermYears * 12
	if payments == 0 {
		payments = 30 * 12
	}
	var opts []lock.RateOption
	for i, days := range []int{30, 45, 60} {
		rate := base + float64(i)*0.125
		desc := "30-Year Fixed"
		if days != 30 {
			desc = fmt.Sprintf("30-Year Fixed (%d-day lock)", days)
		}
		opts = append(opts, lock.RateOption{
			Rate:               rate,
			Points:             0.0,
			LockTermDays:       days,
			ProductDescription: desc,
			APR:                rate + 0.125,
			MonthlyPayment:     lock.MonthlyPayment(req.LoanAmount, rate, payments),
			LockFee:            LockFees[days],
		})
	}
	return opts, nil
}

func (p *DevPricingEngine) SubmitLock(ctx context.Context, req PricingRequest, selected lock.RateOption) (LockSubmission, error) {
	p.mu.Lock()
	p.submitted = append(p.submitted, req.LoanApplicationID)
	p.mu.Unlock()
	if p.FailSubmit {
		return LockSubmission{}, errors.New("pricing system unavailable")
	}
	now := p.now()
	stamp := now.UTC().Format("20060102150405")
	return LockSubmission{
		LockID:             "LOCK-" + stamp + "-" + uuid.NewString()[:8],
		ConfirmationNumber: "CNF" + stamp,
		Status:             "CONFIRMED",
		LockDate:           now,
		ExpirationDate:     now.AddDate(0, 0, selected.LockTermDays),
		PricingSource:      "DevPricingEngine",
	}, nil
}

// Submitted lists the loan application IDs of recorded lock submissions.
func (p *DevPricingEngine) Submitted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.submitted...)
}

// DevDisclosureService reports every disclosure as present and current
// unless listed as missing or stale.
type DevDisclosureService struct {
	Missing map[string]bool // disclosureType -> missing
	Stale   map[string]bool
}

func (d *DevDisclosureService) Exists(ctx context.Context, loanApplicationID, disclosureType string) (bool, error) {
	return !d.Missing[disclosureType], nil
}

func (d *DevDisclosureService) Current(ctx context.Context, loanApplicationID, disclosureType string) (bool, error) {
	return !d.Stale[disclosureType], nil
}

// SentNotification is one recorded delivery attempt.
type SentNotification struct {
	Channel string
	To      string
	Subject string
	Body    string
}

// RecordingNotifier records notifications instead of delivering them.
// FailChannels forces named channels to fail, for fan-out tests.
type RecordingNotifier struct {
	mu           sync.Mutex
	Sent         []SentNotification
	FailChannels map[string]bool
	ChatEnabled  bool
}

func (n *RecordingNotifier) SendEmail(ctx context.Context, to, subject, body string) error {
	return n.record("email", to, subject, body)
}

func (n *RecordingNotifier) SendSMS(ctx context.Context, to, message string) error {
	return n.record("sms", to, "", message)
}

func (n *RecordingNotifier) SendChat(ctx context.Context, message string) error {
	if !n.ChatEnabled {
		return errors.New("chat webhook not configured")
	}
	return n.record("chat", "", "", message)
}

func (n *RecordingNotifier) record(channel, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FailChannels[channel] {
		return fmt.Errorf("%s delivery failed", channel)
	}
	n.Sent = append(n.Sent, SentNotification{Channel: channel, To: to, Subject: subject, Body: body})
	return nil
}

// ByChannel returns recorded notifications for one channel.
func (n *RecordingNotifier) ByChannel(channel string) []SentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []SentNotification
	for _, s := range n.Sent {
		if s.Channel == channel {
			out = append(out, s)
		}
	}
	return out
}

// DevStaffDirectory resolves specialists per category and one supervisor.
type DevStaffDirectory struct {
	Specialists map[string]Staff // category -> specialist
	Boss        Staff
}

func (d *DevStaffDirectory) Specialist(ctx context.Context, category string) (Staff, error) {
	s, ok := d.Specialists[category]
	if !ok {
		return Staff{}, fmt.Errorf("no specialist for category %s", category)
	}
	return s, nil
}

func (d *DevStaffDirectory) Supervisor(ctx context.Context, staffID string) (Staff, error) {
	if d.Boss.Email == "" {
		return Staff{}, errors.New("no supervisor configured")
	}
	return d.Boss, nil
}
