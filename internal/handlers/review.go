package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/verifield/api/internal/platform/auth"
	"github.com/verifield/api/internal/platform/httpx"
	"github.com/verifield/api/internal/platform/requestctx"
	"github.com/verifield/api/internal/services"
)

const maxReviewBodySize = 64 * 1024

// ReviewHandlers exposes the per-field review step and the final submission.
type ReviewHandlers struct {
	controller services.SessionController
	tokens     *auth.TokenManager
}

// NewReviewHandlers constructs a ReviewHandlers instance.
func NewReviewHandlers(controller services.SessionController, tokens *auth.TokenManager) *ReviewHandlers {
	return &ReviewHandlers{
		controller: controller,
		tokens:     tokens,
	}
}

// Routes registers the /review and /submit endpoints behind the session token.
func (h *ReviewHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireSessionToken(h.tokens))
	r.Get("/review", h.view)
	r.Post("/review/decisions", h.applyDecisions)
	r.Post("/review/next", h.applyNext)
	r.Post("/submit", h.submit)
}

type decisionPayload struct {
	Field    string `json:"field"`
	Confirm  bool   `json:"confirm"`
	NewValue string `json:"new_value,omitempty"`
}

type reviewFieldPayload struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Original string   `json:"original"`
	Options  []string `json:"options,omitempty"`
	Default  string   `json:"default,omitempty"`
	Decided  string   `json:"decided,omitempty"`
	NewValue string   `json:"new_value,omitempty"`
}

type reviewViewResponse struct {
	Fields   []reviewFieldPayload `json:"fields"`
	Cursor   int                  `json:"cursor"`
	Complete bool                 `json:"complete"`
}

type decisionsRequest struct {
	Decisions []decisionPayload `json:"decisions"`
}

type submitResponse struct {
	SubmittedAt  string `json:"submitted_at"`
	FallbackUsed bool   `json:"fallback_used"`
}

func (h *ReviewHandlers) view(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	view, err := h.controller.Review(ctx, sessionID)
	if err != nil {
		writeFlowError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildReviewViewResponse(view))
}

func (h *ReviewHandlers) applyDecisions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxReviewBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req decisionsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if len(req.Decisions) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "decisions are required", http.StatusBadRequest))
		return
	}

	view, err := h.controller.ApplyDecisions(ctx, sessionID, buildDecisionInputs(req.Decisions))
	if err != nil {
		writeFlowError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildReviewViewResponse(view))
}

func (h *ReviewHandlers) applyNext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxReviewBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req decisionPayload
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	view, err := h.controller.ApplyNextDecision(ctx, sessionID, services.DecisionInput{
		Field:    strings.TrimSpace(req.Field),
		Confirm:  req.Confirm,
		NewValue: req.NewValue,
	})
	if err != nil {
		writeFlowError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildReviewViewResponse(view))
}

func (h *ReviewHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	result, err := h.controller.Submit(ctx, sessionID)
	if err != nil {
		writeFlowError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, submitResponse{
		SubmittedAt:  formatTime(result.SubmittedAt),
		FallbackUsed: result.FallbackUsed,
	})
}

func (h *ReviewHandlers) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	if h.controller == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	sessionID := requestctx.SessionID(ctx)
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "session token required", http.StatusUnauthorized))
		return "", false
	}
	return sessionID, true
}

func buildDecisionInputs(payloads []decisionPayload) []services.DecisionInput {
	decisions := make([]services.DecisionInput, 0, len(payloads))
	for _, p := range payloads {
		decisions = append(decisions, services.DecisionInput{
			Field:    strings.TrimSpace(p.Field),
			Confirm:  p.Confirm,
			NewValue: p.NewValue,
		})
	}
	return decisions
}

func buildReviewViewResponse(view services.ReviewView) reviewViewResponse {
	fields := make([]reviewFieldPayload, 0, len(view.Fields))
	for _, f := range view.Fields {
		fields = append(fields, reviewFieldPayload{
			Name:     f.Name,
			Label:    f.Label,
			Type:     string(f.Type),
			Original: f.Original,
			Options:  f.Options,
			Default:  f.Default,
			Decided:  string(f.Decided),
			NewValue: f.NewValue,
		})
	}
	return reviewViewResponse{
		Fields:   fields,
		Cursor:   view.Cursor,
		Complete: view.Complete,
	}
}
