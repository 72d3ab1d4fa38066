package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	domain "github.com/verifield/api/internal/domain"
	"github.com/verifield/api/internal/repositories"
)

const defaultResendCooldown = 30 * time.Second

// WarnLogger is the minimal logging contract services use for non-fatal
// store failures.
type WarnLogger interface {
	Warnf(format string, args ...any)
}

type noopWarnLogger struct{}

func (noopWarnLogger) Warnf(string, ...any) {}

type identityGate struct {
	master   repositories.MasterDataRepository
	primary  repositories.SubmissionLogRepository
	fallback repositories.SubmissionLogRepository
	issuer   CredentialIssuer
	clock    func() time.Time
	logger   WarnLogger

	allowedDomains map[string]struct{}
	cooldown       time.Duration
}

// IdentityGateDeps bundles constructor inputs for the identity gate.
type IdentityGateDeps struct {
	Master   repositories.MasterDataRepository
	Primary  repositories.SubmissionLogRepository
	Fallback repositories.SubmissionLogRepository
	Issuer   CredentialIssuer
	Clock    func() time.Time
	Logger   WarnLogger
	// AllowedDomains is the closed set of acceptable email domains.
	AllowedDomains []string
	Cooldown       time.Duration
}

// NewIdentityGate creates the gate that fronts code issuance.
func NewIdentityGate(deps IdentityGateDeps) (IdentityGate, error) {
	if deps.Master == nil {
		return nil, fmt.Errorf("identity gate: master data repository is required")
	}
	if deps.Primary == nil {
		return nil, fmt.Errorf("identity gate: primary submission log is required")
	}
	if deps.Fallback == nil {
		return nil, fmt.Errorf("identity gate: fallback submission log is required")
	}
	if deps.Issuer == nil {
		return nil, fmt.Errorf("identity gate: credential issuer is required")
	}
	if len(deps.AllowedDomains) == 0 {
		return nil, fmt.Errorf("identity gate: at least one allowed email domain is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopWarnLogger{}
	}
	cooldown := deps.Cooldown
	if cooldown <= 0 {
		cooldown = defaultResendCooldown
	}

	domains := make(map[string]struct{}, len(deps.AllowedDomains))
	for _, d := range deps.AllowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains[d] = struct{}{}
		}
	}

	return &identityGate{
		master:         deps.Master,
		primary:        deps.Primary,
		fallback:       deps.Fallback,
		issuer:         deps.Issuer,
		clock:          func() time.Time { return clock().UTC() },
		logger:         logger,
		allowedDomains: domains,
		cooldown:       cooldown,
	}, nil
}

// RequestCode validates the request and delegates to the issuer. Every
// rejection leaves the session untouched: no code is sent and the stored hash
// is unchanged.
func (g *identityGate) RequestCode(ctx context.Context, session *domain.Session, email, employeeID string) error {
	if session == nil {
		return NewFlowError(KindState, CodeInvalidState, "no session", nil)
	}

	email = strings.TrimSpace(email)
	if !g.domainAllowed(email) {
		return NewFlowError(KindValidation, CodeInvalidDomain, "email domain is not allowed", nil)
	}

	id, err := strconv.ParseInt(strings.TrimSpace(employeeID), 10, 64)
	if err != nil {
		return NewFlowError(KindValidation, CodeUnknownEmployee, "invalid employee id", err)
	}
	exists, err := g.master.Exists(ctx, id)
	if err != nil {
		return NewFlowError(KindValidation, CodeUnknownEmployee, "could not look up employee id", err)
	}
	if !exists {
		return NewFlowError(KindValidation, CodeUnknownEmployee, "invalid employee id", nil)
	}

	submitted, err := g.AlreadySubmitted(ctx, id)
	if err != nil {
		return err
	}
	if submitted {
		return NewFlowError(KindValidation, CodeAlreadySubmitted, "a submission already exists for this employee id", nil)
	}

	if !session.OTPIssuedAt.IsZero() {
		elapsed := g.clock().Sub(session.OTPIssuedAt)
		if elapsed < g.cooldown {
			remaining := int(math.Ceil((g.cooldown - elapsed).Seconds()))
			flowErr := NewFlowError(KindValidation, CodeCooldownActive, fmt.Sprintf("wait %d seconds before requesting another code", remaining), nil)
			flowErr.RetryAfterSeconds = remaining
			return flowErr
		}
	}

	session.Email = email
	session.EmployeeID = id
	return g.issuer.Issue(ctx, session)
}

// AlreadySubmitted queries the union of both log stores. A store that cannot
// be read is skipped with a warning rather than blocking the flow; the
// recorder re-checks right before the append.
func (g *identityGate) AlreadySubmitted(ctx context.Context, employeeID int64) (bool, error) {
	if ids, err := g.primary.ListEmployeeIDs(ctx); err != nil {
		g.logger.Warnf("identity gate: primary log lookup failed: %v", err)
	} else if _, ok := ids[employeeID]; ok {
		return true, nil
	}

	if ids, err := g.fallback.ListEmployeeIDs(ctx); err != nil {
		g.logger.Warnf("identity gate: fallback log lookup failed: %v", err)
	} else if _, ok := ids[employeeID]; ok {
		return true, nil
	}

	return false, nil
}

func (g *identityGate) domainAllowed(email string) bool {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domainPart := strings.ToLower(email[at+1:])
	_, ok := g.allowedDomains[domainPart]
	return ok
}
