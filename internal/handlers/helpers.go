package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"encoding/json"

	"github.com/verifield/api/internal/platform/httpx"
	"github.com/verifield/api/internal/services"
)

const defaultMaxBodySize = 32 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// writeFlowError translates flow errors into the JSON envelope, attaching the
// retry and attempt hints the clients render.
func writeFlowError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	flowErr, ok := services.AsFlowError(err)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
		return
	}

	status := http.StatusBadRequest
	switch flowErr.Code {
	case services.CodeUnknownEmployee:
		status = http.StatusNotFound
	case services.CodeAlreadySubmitted, services.CodeInvalidState:
		status = http.StatusConflict
	case services.CodeCooldownActive, services.CodeTooManyAttempts:
		status = http.StatusTooManyRequests
	case services.CodeCodeExpired, services.CodeCodeMismatch:
		status = http.StatusUnauthorized
	case services.CodeDeliveryFailed:
		status = http.StatusBadGateway
	case services.CodeSubmissionFailed:
		status = http.StatusServiceUnavailable
	}

	out := httpx.NewError(flowErr.Code, flowErr.Message, status)

	details := map[string]any{}
	if flowErr.RetryAfterSeconds > 0 {
		details["retry_after_seconds"] = flowErr.RetryAfterSeconds
	}
	if flowErr.AttemptsRemaining >= 0 && flowErr.Code == services.CodeCodeMismatch {
		details["attempts_remaining"] = flowErr.AttemptsRemaining
	}
	if len(details) > 0 {
		out = out.WithDetails(details)
	}

	httpx.WriteError(ctx, w, out)
}
