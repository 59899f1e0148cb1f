package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

type sessionContextKey struct{}

// SessionLookup resolves a session token to its live session
type SessionLookup interface {
	Lookup(ctx context.Context, token string) (*session.Session, error)
}

// SessionMiddleware loads the session named by the session cookie, when
// there is one, and records it on the request context. Requests without a
// live session pass through untouched.
type SessionMiddleware struct {
	sessions SessionLookup
	cookie   session.CookieConfig
	logger   *observability.Logger
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(sessions SessionLookup, cookie session.CookieConfig, logger *observability.Logger) *SessionMiddleware {
	return &SessionMiddleware{
		sessions: sessions,
		cookie:   cookie,
		logger:   logger,
	}
}

// Handler wraps an HTTP handler with session loading
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := session.TokenFromRequest(r, m.cookie)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		s, err := m.sessions.Lookup(r.Context(), token)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				m.logger.WithError(err).Warn("Failed to load session")
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey{}, s)
		ctx = observability.WithAccountID(ctx, s.AccountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSession rejects requests that carry no live session with 401
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CurrentSession(r.Context()) == nil {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "not signed in")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CurrentSession returns the session loaded by SessionMiddleware, or nil
func CurrentSession(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionContextKey{}).(*session.Session)
	return s
}
