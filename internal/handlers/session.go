package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verifield/api/internal/platform/auth"
	"github.com/verifield/api/internal/platform/httpx"
	"github.com/verifield/api/internal/platform/requestctx"
	"github.com/verifield/api/internal/services"
)

const maxSessionBodySize = 8 * 1024

// SessionHandlers exposes the login endpoints: code request and code verification.
type SessionHandlers struct {
	controller services.SessionController
	tokens     *auth.TokenManager
	limiter    rateLimiter
}

// NewSessionHandlers constructs a SessionHandlers instance.
func NewSessionHandlers(controller services.SessionController, tokens *auth.TokenManager, codePerMinute int) *SessionHandlers {
	return &SessionHandlers{
		controller: controller,
		tokens:     tokens,
		limiter:    newSimpleRateLimiter(codePerMinute, time.Minute, nil),
	}
}

// Routes registers the /session endpoints. Code requests are open; verification
// requires the token returned by the code request.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/code", h.requestCode)
	r.Group(func(g chi.Router) {
		g.Use(auth.RequireSessionToken(h.tokens))
		g.Post("/verify", h.verifyCode)
	})
}

type requestCodeRequest struct {
	Email      string `json:"email"`
	EmployeeID string `json:"employee_id"`
}

type requestCodeResponse struct {
	SessionToken string `json:"session_token"`
	State        string `json:"state"`
}

type verifyCodeRequest struct {
	Code string `json:"code"`
}

type verifyCodeResponse struct {
	State string `json:"state"`
}

func (h *SessionHandlers) requestCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.controller == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "session service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxSessionBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req requestCodeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	email := strings.TrimSpace(req.Email)
	employeeID := strings.TrimSpace(req.EmployeeID)
	if email == "" || employeeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "email and employee_id are required", http.StatusBadRequest))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(email) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many code requests, slow down", http.StatusTooManyRequests))
		return
	}

	// Resends reuse the caller's existing session when a valid token accompanies
	// the request; otherwise a fresh session starts.
	sessionID := h.optionalSessionID(r)
	if sessionID == "" {
		session, err := h.controller.Start(ctx)
		if err != nil {
			writeFlowError(ctx, w, err)
			return
		}
		sessionID = session.ID
	}

	session, err := h.controller.RequestCode(ctx, sessionID, email, employeeID)
	if err != nil {
		writeFlowError(ctx, w, err)
		return
	}

	token, err := h.tokens.Issue(session.ID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to issue session token", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusAccepted, requestCodeResponse{
		SessionToken: token,
		State:        string(session.State),
	})
}

func (h *SessionHandlers) verifyCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.controller == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "session service unavailable", http.StatusServiceUnavailable))
		return
	}

	sessionID := requestctx.SessionID(ctx)
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "session token required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxSessionBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req verifyCodeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}

	session, err := h.controller.VerifyCode(ctx, sessionID, code)
	if err != nil {
		writeFlowError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, verifyCodeResponse{State: string(session.State)})
}

func (h *SessionHandlers) optionalSessionID(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	sessionID, err := h.tokens.Verify(strings.TrimSpace(parts[1]))
	if err != nil {
		return ""
	}
	return sessionID
}
