package collab

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockdesk/ratelock/pkg/lock"
)

var collabTestNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestDevExtractor(t *testing.T) {
	body := strings.Join([]string{
		"Hello,",
		"borrower: Jordan Blake",
		"loan_application_id: LA100",
		"property: 742 Evergreen Terrace",
		"Phone: 555-0100",
		"term: 45",
		"no colon line is skipped",
	}, "\n")

	f, err := DevExtractor{}.Extract(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, "Jordan Blake", f.BorrowerName)
	assert.Equal(t, "LA100", f.LoanApplicationID)
	assert.Equal(t, "742 Evergreen Terrace", f.PropertyAddress)
	assert.Equal(t, "555-0100", f.Phone)
	assert.Equal(t, 45, f.RequestedTermDays)
}

func TestDevExtractorEmptyBody(t *testing.T) {
	f, err := DevExtractor{}.Extract(context.Background(), "just prose, nothing structured")
	require.NoError(t, err)
	assert.Empty(t, f.LoanApplicationID)
	assert.Zero(t, f.RequestedTermDays)
}

func TestDevBorrowerDirectory(t *testing.T) {
	d := &DevBorrowerDirectory{Known: map[string]string{
		"jordan.blake@example.com": "LA100",
		"any.loan@example.com":     "",
	}}
	ctx := context.Background()

	ok, err := d.ValidateBorrowerEmail(ctx, "Jordan.Blake@Example.com", "LA100")
	require.NoError(t, err)
	assert.True(t, ok, "matching is case-insensitive on the address")

	ok, err = d.ValidateBorrowerEmail(ctx, "jordan.blake@example.com", "LA999")
	require.NoError(t, err)
	assert.False(t, ok, "known sender, wrong loan")

	ok, err = d.ValidateBorrowerEmail(ctx, "any.loan@example.com", "LA777")
	require.NoError(t, err)
	assert.True(t, ok, "empty mapping accepts any loan")

	ok, err = d.ValidateBorrowerEmail(ctx, "stranger@example.com", "LA100")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDevPricingEngineLadder(t *testing.T) {
	p := (&DevPricingEngine{}).WithClock(func() time.Time { return collabTestNow })

	opts, err := p.GetRates(context.Background(), PricingRequest{
		LoanAmount: 400000, TermYears: 30, LoanType: "Conventional",
	})
	require.NoError(t, err)
	require.Len(t, opts, 3)

	assert.Equal(t, 30, opts[0].LockTermDays)
	assert.Equal(t, 6.25, opts[0].Rate)
	assert.Equal(t, 0.0, opts[0].LockFee)

	assert.Equal(t, 45, opts[1].LockTermDays)
	assert.Equal(t, 6.375, opts[1].Rate)
	assert.Equal(t, 125.0, opts[1].LockFee)

	assert.Equal(t, 60, opts[2].LockTermDays)
	assert.Equal(t, 6.5, opts[2].Rate)
	assert.Equal(t, 250.0, opts[2].LockFee)

	for _, o := range opts {
		assert.Equal(t, o.Rate+0.125, o.APR)
		assert.Greater(t, o.MonthlyPayment, 0.0)
	}
}

func TestDevPricingEngineSubmitLock(t *testing.T) {
	p := (&DevPricingEngine{}).WithClock(func() time.Time { return collabTestNow })

	sub, err := p.SubmitLock(context.Background(), PricingRequest{LoanAmount: 400000},
		lock.RateOption{Rate: 6.375, LockTermDays: 45})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sub.LockID, "LOCK-20260310090000-"))
	assert.Equal(t, "CONFIRMED", sub.Status)
	assert.Equal(t, collabTestNow.AddDate(0, 0, 45), sub.ExpirationDate)
}

func TestSignedDocumentRoundTrip(t *testing.T) {
	svc := NewSignedDocumentService([]byte("test-signing-key"), "ratelockd").
		WithClock(func() time.Time { return collabTestNow })

	rec := &lock.LoanLock{LoanApplicationID: "LA100", RateLockID: "RL-1"}
	conf := lock.LockConfirmation{
		LockID:         "LOCK-1",
		ExpirationDate: collabTestNow.AddDate(0, 0, 45),
	}

	ref, err := svc.GenerateLockConfirmation(context.Background(), rec, conf)
	require.NoError(t, err)

	docID, err := svc.VerifyDocumentRef(ref)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(docID, "DOC-20260310090000-"))
}

func TestSignedDocumentRejectsTampering(t *testing.T) {
	svc := NewSignedDocumentService([]byte("test-signing-key"), "ratelockd").
		WithClock(func() time.Time { return collabTestNow })

	rec := &lock.LoanLock{LoanApplicationID: "LA100"}
	conf := lock.LockConfirmation{LockID: "LOCK-1", ExpirationDate: collabTestNow.AddDate(0, 0, 45)}
	ref, err := svc.GenerateLockConfirmation(context.Background(), rec, conf)
	require.NoError(t, err)

	// Flip a character in the signature segment.
	tampered := ref[:len(ref)-2] + "xx"
	_, err = svc.VerifyDocumentRef(tampered)
	assert.Error(t, err)

	// A different key cannot verify the reference.
	other := NewSignedDocumentService([]byte("other-key"), "ratelockd")
	_, err = other.VerifyDocumentRef(ref)
	assert.Error(t, err)
}

func TestSignedDocumentExpiresWithLock(t *testing.T) {
	svc := NewSignedDocumentService([]byte("test-signing-key"), "ratelockd").
		WithClock(func() time.Time { return collabTestNow })

	rec := &lock.LoanLock{LoanApplicationID: "LA100"}
	conf := lock.LockConfirmation{LockID: "LOCK-1", ExpirationDate: collabTestNow.AddDate(0, 0, 45)}
	ref, err := svc.GenerateLockConfirmation(context.Background(), rec, conf)
	require.NoError(t, err)

	stale := NewSignedDocumentService([]byte("test-signing-key"), "ratelockd").
		WithClock(func() time.Time { return collabTestNow.AddDate(0, 0, 46) })
	_, err = stale.VerifyDocumentRef(ref)
	assert.Error(t, err, "reference outlives the lock term")
}

func TestRecordingNotifier(t *testing.T) {
	n := &RecordingNotifier{}
	ctx := context.Background()

	require.NoError(t, n.SendEmail(ctx, "a@example.com", "subject", "body"))
	require.NoError(t, n.SendSMS(ctx, "555-0100", "short"))
	// Chat needs an explicit opt-in, mirroring the unconfigured-webhook case.
	require.Error(t, n.SendChat(ctx, "channel message"))
	assert.Empty(t, n.ByChannel("chat"))

	n.ChatEnabled = true
	require.NoError(t, n.SendChat(ctx, "channel message"))

	assert.Len(t, n.ByChannel("email"), 1)
	assert.Len(t, n.ByChannel("sms"), 1)
	assert.Len(t, n.ByChannel("chat"), 1)
}
