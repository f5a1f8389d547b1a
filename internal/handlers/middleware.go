package handlers

import (
	"context"
	"net/http"

	"github.com/shrimpsizemoose/trekker/logger"

	"qlsv/internal/session"
)

type contextKey string

const sessionContextKey contextKey = "session"

// RequireSession gates a handler behind a valid session cookie. The session
// data lands in the request context for downstream handlers.
func RequireSession(sessions session.Store, cookieName string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(cookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}

		data, err := sessions.Get(r.Context(), cookie.Value)
		if err != nil {
			logger.Error.Printf("Session lookup failed: %v", err)
			writeError(w, http.StatusInternalServerError, "session error")
			return
		}
		if data == nil {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, data)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFromContext returns the session attached by RequireSession, or nil.
func SessionFromContext(ctx context.Context) *session.Data {
	data, _ := ctx.Value(sessionContextKey).(*session.Data)
	return data
}
