package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/verifield/api/internal/domain"
	"github.com/verifield/api/internal/repositories"
)

const defaultSessionTTL = 30 * time.Minute

type sessionController struct {
	sessions repositories.SessionRepository
	gate     IdentityGate
	issuer   CredentialIssuer
	reviewer FieldReviewer
	recorder SubmissionRecorder
	clock    func() time.Time
	newID    func() string
	ttl      time.Duration
}

// SessionControllerDeps bundles constructor inputs for the controller.
type SessionControllerDeps struct {
	Sessions repositories.SessionRepository
	Gate     IdentityGate
	Issuer   CredentialIssuer
	Reviewer FieldReviewer
	Recorder SubmissionRecorder
	Clock    func() time.Time
	// NewID generates session identifiers; defaults to ULIDs.
	NewID func() string
	// TTL bounds how long an abandoned session survives between suspend
	// points.
	TTL time.Duration
}

// NewSessionController creates the controller driving the verification flow.
func NewSessionController(deps SessionControllerDeps) (SessionController, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session controller: session repository is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("session controller: identity gate is required")
	}
	if deps.Issuer == nil {
		return nil, fmt.Errorf("session controller: credential issuer is required")
	}
	if deps.Reviewer == nil {
		return nil, fmt.Errorf("session controller: field reviewer is required")
	}
	if deps.Recorder == nil {
		return nil, fmt.Errorf("session controller: submission recorder is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	return &sessionController{
		sessions: deps.Sessions,
		gate:     deps.Gate,
		issuer:   deps.Issuer,
		reviewer: deps.Reviewer,
		recorder: deps.Recorder,
		clock:    func() time.Time { return clock().UTC() },
		newID:    newID,
		ttl:      ttl,
	}, nil
}

// Start implements SessionController.
func (c *sessionController) Start(ctx context.Context) (*domain.Session, error) {
	now := c.clock()
	session := &domain.Session{
		ID:        c.newID(),
		State:     domain.StateAnonymous,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	if err := c.sessions.Put(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// RequestCode implements SessionController. Allowed from Anonymous and, for
// resends, from CodeRequested. A delivery failure persists the issued hash so
// the cooldown still applies to the retry.
func (c *sessionController) RequestCode(ctx context.Context, sessionID, email, employeeID string) (*domain.Session, error) {
	session, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != domain.StateAnonymous && session.State != domain.StateCodeRequested {
		return nil, NewFlowError(KindState, CodeInvalidState, "a code cannot be requested at this point", nil)
	}

	gateErr := c.gate.RequestCode(ctx, session, email, employeeID)
	if gateErr != nil {
		if flowErr, ok := AsFlowError(gateErr); !ok || flowErr.Kind != KindDelivery {
			// Validation rejections have no side effects to persist.
			return nil, gateErr
		}
		// The hash was stored before delivery failed; keep it.
	}

	session.State = domain.StateCodeRequested
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}
	if gateErr != nil {
		return session, gateErr
	}
	return session, nil
}

// VerifyCode implements SessionController.
func (c *sessionController) VerifyCode(ctx context.Context, sessionID, code string) (*domain.Session, error) {
	session, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Authenticated {
		return session, nil
	}
	if session.State != domain.StateCodeRequested {
		return nil, NewFlowError(KindState, CodeInvalidState, "request a code first", nil)
	}

	verifyErr := c.issuer.Verify(ctx, session, code)
	if verifyErr != nil {
		if flowErr, ok := AsFlowError(verifyErr); ok && flowErr.Code == CodeCodeExpired {
			// Expired codes drop the flow back to the login step.
			session.State = domain.StateAnonymous
		}
		if err := c.save(ctx, session); err != nil {
			return nil, err
		}
		return nil, verifyErr
	}

	session.State = domain.StateAuthenticated
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Review implements SessionController.
func (c *sessionController) Review(ctx context.Context, sessionID string) (ReviewView, error) {
	session, err := c.loadReviewing(ctx, sessionID)
	if err != nil {
		return ReviewView{}, err
	}
	return c.reviewer.View(ctx, session)
}

// ApplyDecisions implements SessionController.
func (c *sessionController) ApplyDecisions(ctx context.Context, sessionID string, decisions []DecisionInput) (ReviewView, error) {
	session, err := c.loadReviewing(ctx, sessionID)
	if err != nil {
		return ReviewView{}, err
	}
	if err := c.reviewer.ApplyBatch(ctx, session, decisions); err != nil {
		return ReviewView{}, err
	}
	if err := c.save(ctx, session); err != nil {
		return ReviewView{}, err
	}
	return c.reviewer.View(ctx, session)
}

// ApplyNextDecision implements SessionController.
func (c *sessionController) ApplyNextDecision(ctx context.Context, sessionID string, decision DecisionInput) (ReviewView, error) {
	session, err := c.loadReviewing(ctx, sessionID)
	if err != nil {
		return ReviewView{}, err
	}
	if err := c.reviewer.ApplyNext(ctx, session, decision); err != nil {
		return ReviewView{}, err
	}
	if err := c.save(ctx, session); err != nil {
		return ReviewView{}, err
	}
	return c.reviewer.View(ctx, session)
}

// Submit implements SessionController. A successful write is terminal: the
// session is removed and the employee id becomes permanently ineligible via
// the log stores.
func (c *sessionController) Submit(ctx context.Context, sessionID string) (SubmitResult, error) {
	session, err := c.loadReviewing(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	result, err := c.recorder.Submit(ctx, session)
	if err != nil {
		return SubmitResult{}, err
	}

	session.State = domain.StateSubmitted
	if err := c.sessions.Delete(ctx, session.ID); err != nil {
		// The row is durably written; a stale session only blocks reuse.
		return result, nil
	}
	return result, nil
}

// loadReviewing fetches the session and moves Authenticated into Reviewing,
// the single allowed entry into the review step.
func (c *sessionController) loadReviewing(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.State {
	case domain.StateAuthenticated:
		session.State = domain.StateReviewing
		if err := c.save(ctx, session); err != nil {
			return nil, err
		}
	case domain.StateReviewing:
	default:
		return nil, NewFlowError(KindState, CodeInvalidState, "the review step is not available", nil)
	}
	return session, nil
}

func (c *sessionController) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		var repoErr *repositories.Error
		if errors.As(err, &repoErr) && repoErr.Code == repositories.ErrorNotFound {
			return nil, NewFlowError(KindState, CodeInvalidState, "unknown or expired session", err)
		}
		return nil, err
	}
	if !session.ExpiresAt.IsZero() && c.clock().After(session.ExpiresAt) {
		_ = c.sessions.Delete(ctx, session.ID)
		return nil, NewFlowError(KindState, CodeInvalidState, "unknown or expired session", nil)
	}
	return session, nil
}

func (c *sessionController) save(ctx context.Context, session *domain.Session) error {
	session.UpdatedAt = c.clock()
	return c.sessions.Put(ctx, session)
}
