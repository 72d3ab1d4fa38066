package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/verifield/api/internal/domain"
)

type gateFixture struct {
	gate     IdentityGate
	mailer   *stubMailer
	primary  *stubSubmissionLog
	fallback *stubSubmissionLog
	logger   *recordingWarnLogger
}

func newGateFixture(t *testing.T, now time.Time) *gateFixture {
	t.Helper()
	mailer := &stubMailer{}
	issuer := newTestIssuer(t, mailer, fixedClock(now))
	primary := &stubSubmissionLog{}
	fallback := &stubSubmissionLog{}
	logger := &recordingWarnLogger{}
	gate, err := NewIdentityGate(IdentityGateDeps{
		Master:         testMaster(1042),
		Primary:        primary,
		Fallback:       fallback,
		Issuer:         issuer,
		Clock:          fixedClock(now),
		Logger:         logger,
		AllowedDomains: []string{"globex.com"},
		Cooldown:       30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewIdentityGate: %v", err)
	}
	return &gateFixture{gate: gate, mailer: mailer, primary: primary, fallback: fallback, logger: logger}
}

func TestRequestCodeHappyPath(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	fx := newGateFixture(t, now)

	session := &domain.Session{ID: "s1"}
	if err := fx.gate.RequestCode(context.Background(), session, "priya@globex.com", "1042"); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	if session.Email != "priya@globex.com" || session.EmployeeID != 1042 {
		t.Fatalf("expected identity bound to the session, got %q / %d", session.Email, session.EmployeeID)
	}
	if session.OTPHash == "" {
		t.Fatalf("expected an outstanding code")
	}
	if len(fx.mailer.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(fx.mailer.sent))
	}
}

func TestRequestCodeRejectsForeignDomain(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	fx := newGateFixture(t, now)

	session := &domain.Session{ID: "s1"}
	err := fx.gate.RequestCode(context.Background(), session, "priya@evil.example", "1042")
	flowErr, ok := AsFlowError(err)
	if !ok || flowErr.Code != CodeInvalidDomain {
		t.Fatalf("expected invalid_domain, got %v", err)
	}
	if len(fx.mailer.sent) != 0 || session.OTPHash != "" {
		t.Fatalf("a rejected request must not issue a code")
	}
}

func TestRequestCodeRejectsUnknownEmployee(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	fx := newGateFixture(t, now)

	for _, id := range []string{"9999", "not-a-number", ""} {
		err := fx.gate.RequestCode(context.Background(), &domain.Session{ID: "s1"}, "priya@globex.com", id)
		flowErr, ok := AsFlowError(err)
		if !ok || flowErr.Code != CodeUnknownEmployee {
			t.Fatalf("id %q: expected unknown_employee, got %v", id, err)
		}
	}
	if len(fx.mailer.sent) != 0 {
		t.Fatalf("no mail should be sent for unknown ids")
	}
}

func TestRequestCodeRejectsAlreadySubmitted(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	fx := newGateFixture(t, now)
	fx.fallback.ids = map[int64]struct{}{1042: {}}

	err := fx.gate.RequestCode(context.Background(), &domain.Session{ID: "s1"}, "priya@globex.com", "1042")
	flowErr, ok := AsFlowError(err)
	if !ok || flowErr.Code != CodeAlreadySubmitted {
		t.Fatalf("expected already_submitted, got %v", err)
	}
}

func TestRequestCodeCooldown(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	fx := newGateFixture(t, now)

	session := &domain.Session{ID: "s1", OTPIssuedAt: now.Add(-10 * time.Second)}
	before := HashCode("existing")
	session.OTPHash = before

	err := fx.gate.RequestCode(context.Background(), session, "priya@globex.com", "1042")
	flowErr, ok := AsFlowError(err)
	if !ok || flowErr.Code != CodeCooldownActive {
		t.Fatalf("expected cooldown_active, got %v", err)
	}
	if flowErr.RetryAfterSeconds != 20 {
		t.Fatalf("expected 20s retry hint, got %d", flowErr.RetryAfterSeconds)
	}
	if session.OTPHash != before {
		t.Fatalf("a throttled request must leave the outstanding code unchanged")
	}
}

func TestRequestCodeAfterCooldownReissues(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	fx := newGateFixture(t, now)

	session := &domain.Session{ID: "s1", OTPIssuedAt: now.Add(-31 * time.Second), OTPHash: HashCode("old"), OTPAttempts: 2}
	if err := fx.gate.RequestCode(context.Background(), session, "priya@globex.com", "1042"); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	if session.OTPHash == HashCode("old") {
		t.Fatalf("expected a fresh code")
	}
	if session.OTPAttempts != 0 {
		t.Fatalf("expected the attempt counter reset, got %d", session.OTPAttempts)
	}
}

func TestAlreadySubmittedUnionsBothStores(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	fx := newGateFixture(t, now)
	fx.primary.ids = map[int64]struct{}{7: {}}
	fx.fallback.ids = map[int64]struct{}{8: {}}

	for _, id := range []int64{7, 8} {
		submitted, err := fx.gate.AlreadySubmitted(context.Background(), id)
		if err != nil {
			t.Fatalf("AlreadySubmitted(%d): %v", id, err)
		}
		if !submitted {
			t.Fatalf("expected %d to be flagged as submitted", id)
		}
	}

	submitted, err := fx.gate.AlreadySubmitted(context.Background(), 9)
	if err != nil {
		t.Fatalf("AlreadySubmitted(9): %v", err)
	}
	if submitted {
		t.Fatalf("9 has no submission in either store")
	}
}

func TestAlreadySubmittedSkipsUnreadableStore(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	fx := newGateFixture(t, now)
	fx.primary.listErr = errors.New("sheet unreachable")
	fx.fallback.ids = map[int64]struct{}{1042: {}}

	submitted, err := fx.gate.AlreadySubmitted(context.Background(), 1042)
	if err != nil {
		t.Fatalf("AlreadySubmitted: %v", err)
	}
	if !submitted {
		t.Fatalf("the fallback store should still answer")
	}
	if len(fx.logger.messages) == 0 {
		t.Fatalf("expected a warning for the unreadable store")
	}
}
