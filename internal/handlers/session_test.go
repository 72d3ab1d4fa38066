package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verifield/api/internal/domain"
	"github.com/verifield/api/internal/platform/auth"
	"github.com/verifield/api/internal/services"
)

type stubController struct {
	startSession *domain.Session
	startErr     error
	startCalled  bool

	requestSession *domain.Session
	requestErr     error
	gotRequestID   string
	gotEmail       string
	gotEmployeeID  string

	verifySession *domain.Session
	verifyErr     error
	gotVerifyCode string

	reviewView services.ReviewView
	reviewErr  error

	applyView services.ReviewView
	applyErr  error
	gotBatch  []services.DecisionInput
	gotNext   services.DecisionInput

	submitResult services.SubmitResult
	submitErr    error
}

func (s *stubController) Start(context.Context) (*domain.Session, error) {
	s.startCalled = true
	return s.startSession, s.startErr
}

func (s *stubController) RequestCode(_ context.Context, sessionID, email, employeeID string) (*domain.Session, error) {
	s.gotRequestID = sessionID
	s.gotEmail = email
	s.gotEmployeeID = employeeID
	return s.requestSession, s.requestErr
}

func (s *stubController) VerifyCode(_ context.Context, sessionID, code string) (*domain.Session, error) {
	s.gotRequestID = sessionID
	s.gotVerifyCode = code
	return s.verifySession, s.verifyErr
}

func (s *stubController) Review(_ context.Context, sessionID string) (services.ReviewView, error) {
	s.gotRequestID = sessionID
	return s.reviewView, s.reviewErr
}

func (s *stubController) ApplyDecisions(_ context.Context, sessionID string, decisions []services.DecisionInput) (services.ReviewView, error) {
	s.gotRequestID = sessionID
	s.gotBatch = decisions
	return s.applyView, s.applyErr
}

func (s *stubController) ApplyNextDecision(_ context.Context, sessionID string, decision services.DecisionInput) (services.ReviewView, error) {
	s.gotRequestID = sessionID
	s.gotNext = decision
	return s.applyView, s.applyErr
}

func (s *stubController) Submit(_ context.Context, sessionID string) (services.SubmitResult, error) {
	s.gotRequestID = sessionID
	return s.submitResult, s.submitErr
}

func newTestTokenManager(t *testing.T) *auth.TokenManager {
	t.Helper()
	manager, err := auth.NewTokenManager(auth.TokenManagerDeps{
		SigningSecret: "handler-test-secret",
		TTL:           time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenManager returned error: %v", err)
	}
	return manager
}

func newSessionRouter(controller services.SessionController, tokens *auth.TokenManager) chi.Router {
	r := chi.NewRouter()
	NewSessionHandlers(controller, tokens, 100).Routes(r)
	return r
}

func TestRequestCodeStartsSessionAndReturnsToken(t *testing.T) {
	tokens := newTestTokenManager(t)
	controller := &stubController{
		startSession:   &domain.Session{ID: "sess-1", State: domain.StateAnonymous},
		requestSession: &domain.Session{ID: "sess-1", State: domain.StateCodeRequested},
	}
	router := newSessionRouter(controller, tokens)

	body := `{"email":"jane.smith@globex.com","employee_id":"1042"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if controller.gotRequestID != "sess-1" {
		t.Errorf("expected request against started session, got %s", controller.gotRequestID)
	}
	if controller.gotEmail != "jane.smith@globex.com" || controller.gotEmployeeID != "1042" {
		t.Errorf("unexpected request args: %s %s", controller.gotEmail, controller.gotEmployeeID)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	token, _ := resp["session_token"].(string)
	if token == "" {
		t.Fatal("expected session token in response")
	}
	sessionID, err := tokens.Verify(token)
	if err != nil || sessionID != "sess-1" {
		t.Fatalf("expected token bound to sess-1, got %s err=%v", sessionID, err)
	}
	if resp["state"] != string(domain.StateCodeRequested) {
		t.Errorf("unexpected state: %v", resp["state"])
	}
}

func TestRequestCodeReusesSessionFromToken(t *testing.T) {
	tokens := newTestTokenManager(t)
	controller := &stubController{
		requestSession: &domain.Session{ID: "sess-9", State: domain.StateCodeRequested},
	}
	router := newSessionRouter(controller, tokens)

	token, err := tokens.Issue("sess-9")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	body := `{"email":"jane.smith@globex.com","employee_id":"1042"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if controller.gotRequestID != "sess-9" {
		t.Errorf("expected resend on existing session, got %s", controller.gotRequestID)
	}
	if controller.startCalled {
		t.Errorf("start should not have been called for a resend")
	}
}

func TestRequestCodeCooldownError(t *testing.T) {
	tokens := newTestTokenManager(t)
	flowErr := services.NewFlowError(services.KindValidation, services.CodeCooldownActive, "code already sent recently", nil)
	flowErr.RetryAfterSeconds = 12
	controller := &stubController{
		startSession: &domain.Session{ID: "sess-1", State: domain.StateAnonymous},
		requestErr:   flowErr,
	}
	router := newSessionRouter(controller, tokens)

	body := `{"email":"jane.smith@globex.com","employee_id":"1042"}`
	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["error"] != services.CodeCooldownActive {
		t.Errorf("unexpected error code: %v", resp["error"])
	}
	if resp["retry_after_seconds"] != float64(12) {
		t.Errorf("expected retry_after_seconds 12, got %v", resp["retry_after_seconds"])
	}
}

func TestRequestCodeRejectsMissingFields(t *testing.T) {
	tokens := newTestTokenManager(t)
	router := newSessionRouter(&stubController{}, tokens)

	req := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(`{"email":"a@b.com"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestVerifyCodeRequiresToken(t *testing.T) {
	tokens := newTestTokenManager(t)
	router := newSessionRouter(&stubController{}, tokens)

	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(`{"code":"123456"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestVerifyCodeSuccess(t *testing.T) {
	tokens := newTestTokenManager(t)
	controller := &stubController{
		verifySession: &domain.Session{ID: "sess-1", State: domain.StateAuthenticated},
	}
	router := newSessionRouter(controller, tokens)

	token, err := tokens.Issue("sess-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(`{"code":"123456"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if controller.gotVerifyCode != "123456" {
		t.Errorf("unexpected code forwarded: %s", controller.gotVerifyCode)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["state"] != string(domain.StateAuthenticated) {
		t.Errorf("unexpected state: %v", resp["state"])
	}
}

func TestVerifyCodeMismatchReportsAttemptsRemaining(t *testing.T) {
	tokens := newTestTokenManager(t)
	flowErr := services.NewFlowError(services.KindAuth, services.CodeCodeMismatch, "incorrect code", nil)
	flowErr.AttemptsRemaining = 1
	controller := &stubController{verifyErr: flowErr}
	router := newSessionRouter(controller, tokens)

	token, err := tokens.Issue("sess-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(`{"code":"000000"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["attempts_remaining"] != float64(1) {
		t.Errorf("expected attempts_remaining 1, got %v", resp["attempts_remaining"])
	}
}

func TestRequestCodeRateLimited(t *testing.T) {
	tokens := newTestTokenManager(t)
	controller := &stubController{
		startSession:   &domain.Session{ID: "sess-1", State: domain.StateAnonymous},
		requestSession: &domain.Session{ID: "sess-1", State: domain.StateCodeRequested},
	}
	r := chi.NewRouter()
	NewSessionHandlers(controller, tokens, 1).Routes(r)

	body := `{"email":"jane.smith@globex.com","employee_id":"1042"}`
	first := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, first)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected first request accepted, got %d", rr.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/code", strings.NewReader(body))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, second)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request rate limited, got %d", rr.Code)
	}
}
