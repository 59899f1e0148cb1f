package sso

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	stateCookieName    = "gatehouse_sso_state"
	verifierCookieName = "gatehouse_sso_verifier"
	stateMaxAge        = 600 // 10 minutes

	// relayInvitePrefix marks a SAML RelayState that carries an invitation
	// token instead of a random state
	relayInvitePrefix = "invite:"
)

// ErrStateMismatch is returned when a callback's state does not match the
// value issued when authentication began
var ErrStateMismatch = errors.New("invalid state parameter")

// NewState generates a random state token
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SetStateCookie remembers state for the callback
func SetStateCookie(w http.ResponseWriter, state string, secure bool) {
	setShortLivedCookie(w, stateCookieName, state, secure)
}

// VerifyState checks the callback state against the cookie. OAuth2 returns
// it as the state query parameter, SAML as the RelayState form value.
func VerifyState(r *http.Request) error {
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" {
		return fmt.Errorf("%w: missing state cookie", ErrStateMismatch)
	}

	got := r.URL.Query().Get("state")
	if got == "" {
		got = r.FormValue("RelayState")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(cookie.Value)) != 1 {
		return ErrStateMismatch
	}
	return nil
}

// InviteRelayState encodes an invitation token as SAML RelayState. The IdP
// posts it back verbatim, so it survives the cross-site callback that drops
// SameSite=Lax cookies.
func InviteRelayState(token string) string {
	return relayInvitePrefix + token
}

// InviteFromRelayState returns the invitation token carried in a SAML
// response's RelayState, or "" when there is none
func InviteFromRelayState(r *http.Request) string {
	token, ok := strings.CutPrefix(r.FormValue("RelayState"), relayInvitePrefix)
	if !ok {
		return ""
	}
	return token
}

// ClearStateCookies expires the state and PKCE cookies
func ClearStateCookies(w http.ResponseWriter) {
	for _, name := range []string{stateCookieName, verifierCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			MaxAge:   -1,
		})
	}
}

func setShortLivedCookie(w http.ResponseWriter, name, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   stateMaxAge,
	})
}
