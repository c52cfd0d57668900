package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/drivelens/drivelens/internal/httputil"
)

type contextKey string

const sessionIDKey contextKey = "sessionID"

type Handler struct {
	secret string
}

func NewHandler(secret string) *Handler {
	return &Handler{secret: secret}
}

// IssueToken signs a token for sessionID.
func (h *Handler) IssueToken(sessionID string) (string, error) {
	return GenerateSessionToken(h.secret, sessionID)
}

// Middleware requires a valid session token, taken from the Authorization
// header or, for EventSource requests that cannot set headers, the token
// query parameter.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := tokenFromRequest(r)
		if !ok {
			httputil.WriteError(w, http.StatusUnauthorized, "session token required")
			return
		}

		claims, err := ValidateToken(h.secret, tokenStr)
		if err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), sessionIDKey, claims.SessionID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func SessionIDFromContext(ctx context.Context) string {
	sessionID, _ := ctx.Value(sessionIDKey).(string)
	return sessionID
}

func tokenFromRequest(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		tokenStr, found := strings.CutPrefix(authHeader, "Bearer ")
		return tokenStr, found && tokenStr != ""
	}
	if tokenStr := r.URL.Query().Get("token"); tokenStr != "" {
		return tokenStr, true
	}
	return "", false
}
