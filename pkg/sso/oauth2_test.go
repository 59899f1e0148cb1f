package sso

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/config"
)

// fakeTwitter serves the token and user info endpoints
func fakeTwitter(t *testing.T, userInfo map[string]interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/2/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.FormValue("code") != "good-code" || r.FormValue("code_verifier") == "" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-token",
			"token_type":   "bearer",
			"expires_in":   7200,
		})
	})
	mux.HandleFunc("/2/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(userInfo)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestTwitterAdapter(srv *httptest.Server) *OAuth2Adapter {
	a := NewTwitterAdapter(config.OAuthClientConfig{ClientID: "client-id", ClientSecret: "client-secret"},
		"https://gatehouse.example.com/auth/twitter/callback", srv.Client())
	a.oauth2Config.Endpoint.AuthURL = srv.URL + "/i/oauth2/authorize"
	a.oauth2Config.Endpoint.TokenURL = srv.URL + "/2/oauth2/token"
	a.userInfoURL = srv.URL + "/2/users/me?user.fields=profile_image_url,confirmed_email"
	return a
}

func TestTwitterAdapter_BeginAuth(t *testing.T) {
	srv := fakeTwitter(t, nil)
	adapter := newTestTwitterAdapter(srv)

	req := httptest.NewRequest(http.MethodGet, "/auth/twitter", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, adapter.BeginAuth(rec, req, "state-123"))

	assert.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	q := location.Query()
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "https://gatehouse.example.com/auth/twitter/callback", q.Get("redirect_uri"))

	var verifier *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == verifierCookieName {
			verifier = c
		}
	}
	require.NotNil(t, verifier)
	assert.True(t, verifier.HttpOnly)
	assert.True(t, verifier.Secure)
}

func TestTwitterAdapter_ProduceAssertion(t *testing.T) {
	srv := fakeTwitter(t, map[string]interface{}{
		"data": map[string]interface{}{
			"id":                "1234567890",
			"name":              "Jane Doe",
			"username":          "jane",
			"confirmed_email":   "jane@example.com",
			"profile_image_url": "https://pbs.example.com/jane.jpg",
		},
	})
	adapter := newTestTwitterAdapter(srv)

	req := httptest.NewRequest(http.MethodGet, "/auth/twitter/callback?code=good-code&state=s", nil)
	req.AddCookie(&http.Cookie{Name: verifierCookieName, Value: "verifier-value-verifier-value-verifier-value"})

	assertion, err := adapter.ProduceAssertion(req.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, ProviderTwitter, assertion.ProviderID)
	assert.Equal(t, "1234567890", assertion.ExternalUID)
	assert.Equal(t, "jane@example.com", assertion.Email)
	assert.Equal(t, "Jane Doe", assertion.DisplayName)
	assert.Equal(t, "https://pbs.example.com/jane.jpg", assertion.AvatarURL)
	assert.Contains(t, assertion.RawAttributes, "data")
}

func TestTwitterAdapter_ProduceAssertion_Errors(t *testing.T) {
	srv := fakeTwitter(t, map[string]interface{}{"data": map[string]interface{}{"name": "No Id"}})
	adapter := newTestTwitterAdapter(srv)
	verifier := &http.Cookie{Name: verifierCookieName, Value: "verifier-value"}

	tests := []struct {
		name     string
		target   string
		cookie   *http.Cookie
		errorMsg string
		check    func(t *testing.T, err error)
	}{
		{
			name:   "provider error parameter",
			target: "/auth/twitter/callback?error=access_denied&error_description=user+cancelled",
			cookie: verifier,
			check: func(t *testing.T, err error) {
				var perr *ProviderError
				require.True(t, errors.As(err, &perr))
				assert.Equal(t, "access_denied", perr.Code)
				assert.Equal(t, "user cancelled", perr.Description)
			},
		},
		{
			name:     "missing code",
			target:   "/auth/twitter/callback",
			cookie:   verifier,
			errorMsg: "missing authorization code",
		},
		{
			name:     "missing verifier",
			target:   "/auth/twitter/callback?code=good-code",
			errorMsg: "missing PKCE verifier",
		},
		{
			name:     "rejected code",
			target:   "/auth/twitter/callback?code=bad-code",
			cookie:   verifier,
			errorMsg: "failed to exchange token",
		},
		{
			name:   "user info without id",
			target: "/auth/twitter/callback?code=good-code",
			cookie: verifier,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMissingAttribute)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}

			_, err := adapter.ProduceAssertion(req.Context(), req)
			require.Error(t, err)
			if tt.errorMsg != "" {
				assert.Contains(t, err.Error(), tt.errorMsg)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}
