package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	domain "github.com/verifield/api/internal/domain"
)

const (
	defaultCodeLength  = 6
	defaultOTPValidity = 5 * time.Minute
	defaultMaxAttempts = 3

	codeEmailSubject = "Your verification code"
)

type credentialIssuer struct {
	mailer      Mailer
	clock       func() time.Time
	randInt     func(n int) int
	codeLength  int
	validity    time.Duration
	maxAttempts int
}

// CredentialIssuerDeps bundles constructor inputs for the credential issuer.
type CredentialIssuerDeps struct {
	Mailer Mailer
	Clock  func() time.Time
	// RandInt returns a uniform value in [0, n). Defaults to math/rand/v2;
	// the delivery channel, not the code itself, is the secret barrier.
	RandInt     func(n int) int
	CodeLength  int
	Validity    time.Duration
	MaxAttempts int
}

// NewCredentialIssuer creates the one-time-code issuer.
func NewCredentialIssuer(deps CredentialIssuerDeps) (CredentialIssuer, error) {
	if deps.Mailer == nil {
		return nil, fmt.Errorf("credential issuer: mailer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	randInt := deps.RandInt
	if randInt == nil {
		randInt = rand.IntN
	}
	codeLength := deps.CodeLength
	if codeLength <= 0 {
		codeLength = defaultCodeLength
	}
	validity := deps.Validity
	if validity <= 0 {
		validity = defaultOTPValidity
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &credentialIssuer{
		mailer:      deps.Mailer,
		clock:       func() time.Time { return clock().UTC() },
		randInt:     randInt,
		codeLength:  codeLength,
		validity:    validity,
		maxAttempts: maxAttempts,
	}, nil
}

// Issue generates a fresh decimal code, records hash and issue time on the
// session, resets the attempt counter, and emails the plaintext. On delivery
// failure the stored code stays valid; the caller surfaces the error and the
// user re-requests.
func (s *credentialIssuer) Issue(ctx context.Context, session *domain.Session) error {
	if session == nil {
		return NewFlowError(KindState, CodeInvalidState, "no session", nil)
	}

	code := s.generate()
	session.OTPHash = HashCode(code)
	session.OTPIssuedAt = s.clock()
	session.OTPAttempts = 0
	session.Authenticated = false

	body := fmt.Sprintf("Your one-time code is: %s\nIt is valid for %d minutes.", code, int(s.validity.Minutes()))
	if err := s.mailer.Send(ctx, session.Email, codeEmailSubject, body); err != nil {
		return NewFlowError(KindDelivery, CodeDeliveryFailed, "could not send the verification email", err)
	}
	return nil
}

// Verify checks the candidate against the stored hash. Expiry and the attempt
// cap are evaluated lazily against the injected clock; a successful
// verification authenticates the session and clears the hash so the code can
// never be replayed.
func (s *credentialIssuer) Verify(_ context.Context, session *domain.Session, candidate string) error {
	if session == nil {
		return NewFlowError(KindState, CodeInvalidState, "no session", nil)
	}
	if session.Authenticated {
		return nil
	}
	if session.OTPHash == "" {
		return NewFlowError(KindAuth, CodeCodeExpired, "no code outstanding, request a new one", nil)
	}

	now := s.clock()
	if now.Sub(session.OTPIssuedAt) > s.validity {
		// Expired codes force a fresh request; the stale hash is useless.
		session.OTPHash = ""
		return NewFlowError(KindAuth, CodeCodeExpired, "the code has expired, request a new one", nil)
	}
	if session.OTPAttempts >= s.maxAttempts {
		return NewFlowError(KindAuth, CodeTooManyAttempts, "too many attempts, request a new code", nil)
	}

	// Plain equality, not constant-time: the code is short-lived, attempts
	// are capped, and the mailbox is the actual secret barrier.
	if HashCode(strings.TrimSpace(candidate)) == session.OTPHash {
		session.Authenticated = true
		session.OTPHash = ""
		return nil
	}

	session.OTPAttempts++
	remaining := s.maxAttempts - session.OTPAttempts
	flowErr := NewFlowError(KindAuth, CodeCodeMismatch, fmt.Sprintf("incorrect code, %d attempts remaining", remaining), nil)
	flowErr.AttemptsRemaining = remaining
	return flowErr
}

func (s *credentialIssuer) generate() string {
	var b strings.Builder
	b.Grow(s.codeLength)
	for i := 0; i < s.codeLength; i++ {
		b.WriteByte(byte('0' + s.randInt(10)))
	}
	return b.String()
}

// HashCode returns the hex SHA-256 digest of a one-time code. Only digests
// are ever persisted.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
