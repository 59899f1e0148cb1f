package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

type stubLookup map[string]*session.Session

func (s stubLookup) Lookup(_ context.Context, token string) (*session.Session, error) {
	if token == "broken" {
		return nil, errors.New("redis down")
	}
	if sess, ok := s[token]; ok {
		return sess, nil
	}
	return nil, session.ErrNotFound
}

func TestSessionMiddleware(t *testing.T) {
	cookie := session.CookieConfig{Name: "gh_session"}
	lookup := stubLookup{"good": {AccountID: 42, Email: "alice@example.com"}}
	mw := NewSessionMiddleware(lookup, cookie, quietLogger())

	var seen *session.Session
	var accountID int64
	var hasAccount bool
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CurrentSession(r.Context())
		accountID, hasAccount = observability.GetAccountID(r.Context())
	}))

	tests := []struct {
		name   string
		token  string
		wantID int64
	}{
		{"no cookie", "", 0},
		{"live session", "good", 42},
		{"unknown token", "stale", 0},
		{"store failure", "broken", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
			if tt.token != "" {
				r.AddCookie(&http.Cookie{Name: "gh_session", Value: tt.token})
			}
			handler.ServeHTTP(httptest.NewRecorder(), r)

			if tt.wantID == 0 {
				assert.Nil(t, seen)
				assert.False(t, hasAccount)
				return
			}
			if assert.NotNil(t, seen) {
				assert.Equal(t, "alice@example.com", seen.Email)
			}
			assert.True(t, hasAccount)
			assert.Equal(t, tt.wantID, accountID)
		})
	}
}

func TestRequireSession(t *testing.T) {
	mw := NewSessionMiddleware(stubLookup{"good": {AccountID: 1}}, session.CookieConfig{}, quietLogger())
	handler := mw.Handler(RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	r := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	r.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: "good"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
