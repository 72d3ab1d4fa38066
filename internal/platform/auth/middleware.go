package auth

import (
	"net/http"
	"strings"

	"github.com/verifield/api/internal/platform/httpx"
	"github.com/verifield/api/internal/platform/requestctx"
)

// RequireSessionToken verifies the Bearer token and stores the session identifier on the request context.
func RequireSessionToken(manager *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "missing bearer token", http.StatusUnauthorized))
				return
			}

			sessionID, err := manager.Verify(token)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "invalid or expired session token", http.StatusUnauthorized))
				return
			}

			ctx = requestctx.WithSessionID(ctx, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
