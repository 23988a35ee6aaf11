package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gurnoornatt/code-chat/internal/api/handlers"
	"github.com/gurnoornatt/code-chat/internal/auth"
	"github.com/gurnoornatt/code-chat/internal/core"
	"github.com/gurnoornatt/code-chat/internal/logger"
)

type resolver func(ctx context.Context, token string) (auth.Principal, error)

// AuthMiddleware validates the Authorization header and attaches the principal to the request context.
type AuthMiddleware struct {
	guard *auth.Guard
	log   *logger.Logger
}

func NewAuthMiddleware(guard *auth.Guard, log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{guard: guard, log: log}
}

// Student admits only existing students.
func (m *AuthMiddleware) Student(next http.Handler) http.Handler {
	return m.require(m.guard.RequireStudent, next)
}

// Admin admits admin tokens; a valid student token gets 403.
func (m *AuthMiddleware) Admin(next http.Handler) http.Handler {
	return m.require(m.guard.RequireAdmin, next)
}

// Authenticated admits admins and existing students.
func (m *AuthMiddleware) Authenticated(next http.Handler) http.Handler {
	return m.require(m.guard.RequireAuthenticated, next)
}

func (m *AuthMiddleware) require(resolve resolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			handlers.WriteError(w, m.log, core.WithDetail(core.ErrUnauthorized, "Not authenticated"))
			return
		}

		p, err := resolve(r.Context(), token)
		if err != nil {
			m.log.Debug("auth rejected", "path", r.URL.Path, "error", err)
			handlers.WriteError(w, m.log, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
