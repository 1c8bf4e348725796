package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lockdesk/ratelock/pkg/lock"
)

// SignedDocumentService issues confirmation-document references as signed
// tokens. The token is the retrieval credential for the generated document;
// it expires with the lock, so a stale reference cannot fetch the artifact.
type SignedDocumentService struct {
	SigningKey []byte
	Issuer     string
	clock      func() time.Time
}

func NewSignedDocumentService(signingKey []byte, issuer string) *SignedDocumentService {
	return &SignedDocumentService{SigningKey: signingKey, Issuer: issuer, clock: time.Now}
}

func (s *SignedDocumentService) WithClock(clock func() time.Time) *SignedDocumentService {
	s.clock = clock
	return s
}

func (s *SignedDocumentService) GenerateLockConfirmation(ctx context.Context, rec *lock.LoanLock, conf lock.LockConfirmation) (string, error) {
	now := s.clock()
	docID := "DOC-" + now.UTC().Format("20060102150405") + "-" + uuid.NewString()[:8]
	claims := jwt.MapClaims{
		"iss":                 s.Issuer,
		"sub":                 docID,
		"loan_application_id": rec.LoanApplicationID,
		"lock_id":             conf.LockID,
		"doc_type":            "rate_lock_confirmation",
		"iat":                 now.Unix(),
		"exp":                 conf.ExpirationDate.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.SigningKey)
	if err != nil {
		return "", fmt.Errorf("sign document reference: %w", err)
	}
	return signed, nil
}

// VerifyDocumentRef parses and validates a document reference token,
// returning the document ID.
func (s *SignedDocumentService) VerifyDocumentRef(ref string) (string, error) {
	token, err := jwt.Parse(ref, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.SigningKey, nil
	}, jwt.WithTimeFunc(s.clock))
	if err != nil {
		return "", fmt.Errorf("verify document reference: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid document reference")
	}
	sub, _ := claims["sub"].(string)
	return sub, nil
}
