package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

const (
	inviteCookieName = "gatehouse_invite"
	flashCookieName  = "gatehouse_flash"
	inviteMaxAge     = 600 // 10 minutes, the same window as the SSO state
	flashMaxAge      = 60
)

// login handles POST /users/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	email := httputil.FormValue(r, "session[email]", "email")
	password := r.FormValue("session[password]")
	if password == "" {
		password = r.FormValue("password")
	}

	previous := session.TokenFromRequest(r, s.cookie)
	result := s.service.Login(r.Context(), email, password, r.Host, previous)

	s.audit.LogOutcome(r, auth.ActionLogin, "", result.Outcome)
	s.respond(w, r, result)
}

// beginAuth handles GET /auth/{provider}. An invite_token parameter is kept
// in a cookie until the provider calls back; SAML also carries it in
// RelayState because the IdP's cross-site POST arrives without the cookie.
func (s *Server) beginAuth(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	token := r.FormValue("invite_token")
	if token != "" {
		s.setCookie(w, inviteCookieName, token, inviteMaxAge)
	}

	err := s.service.BeginAuth(w, r, provider, token)
	if err == nil {
		return
	}

	if errors.Is(err, sso.ErrProviderDisabled) {
		httputil.WriteNotFoundError(w, "unknown provider")
		return
	}

	observability.FromContext(r.Context()).WithError(err).WithField("provider", provider).Error("Failed to begin provider authentication")
	result := s.service.Failure(r.Context(), provider, auth.ReasonProviderError)
	s.audit.LogOutcome(r, auth.ActionFailure, provider, result.Outcome)
	s.respond(w, r, result)
}

// callbackFor binds a provider's fixed callback path
func (s *Server) callbackFor(provider string) http.Handler {
	h := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handleCallback(w, r, provider)
	}))
	if provider == sso.ProviderLDAP && s.limiter != nil {
		// LDAP callbacks carry a password like the local login form
		h = middleware.Throttle(s.limiter, s.logger, nil)(h)
	}
	return h
}

// callback handles GET|POST /auth/{provider}/callback
func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	s.handleCallback(w, r, mux.Vars(r)["provider"])
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request, provider string) {
	var inviteToken string
	if c, err := r.Cookie(inviteCookieName); err == nil {
		inviteToken = c.Value
		s.setCookie(w, inviteCookieName, "", -1)
	}

	previous := session.TokenFromRequest(r, s.cookie)
	result := s.service.Callback(r, provider, inviteToken, previous)
	sso.ClearStateCookies(w)

	s.audit.LogOutcome(r, auth.ActionCallback, provider, result.Outcome)
	s.respond(w, r, result)
}

// failure handles GET|POST /auth/failure?message=<code>&strategy=<provider>
func (s *Server) failure(w http.ResponseWriter, r *http.Request) {
	message := httputil.ParseQueryString(r, "message", auth.ReasonProviderError)
	provider := httputil.ParseQueryString(r, "strategy", "unknown")

	result := s.service.Failure(r.Context(), provider, message)
	sso.ClearStateCookies(w)

	s.audit.LogOutcome(r, auth.ActionFailure, provider, result.Outcome)
	s.respond(w, r, result)
}

// logout handles GET /users/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var accountID *int64
	if current := middleware.CurrentSession(r.Context()); current != nil {
		id := current.AccountID
		accountID = &id
	}

	redirect := s.service.Logout(r.Context(), session.TokenFromRequest(r, s.cookie))
	session.ClearCookie(w, s.cookie)

	s.audit.LogLogout(r, accountID)
	http.Redirect(w, r, redirect.Location, http.StatusFound)
}

// providersResponse describes the sign-in options
type providersResponse struct {
	Providers       []sso.ProviderInfo `json:"providers"`
	AllowUserSignup bool               `json:"allow_user_signup"`
	LDAP            bool               `json:"ldap"`
}

// listProviders handles GET /auth/providers
func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	registry := s.service.Providers()
	infos := registry.Describe()
	for i := range infos {
		infos[i].Login = s.root + infos[i].Login
	}

	_ = httputil.WriteSuccess(w, providersResponse{
		Providers:       infos,
		AllowUserSignup: registry.AllowUserSignup(),
		LDAP:            registry.LDAPEnabled(),
	})
}

// sessionResponse is the signed-in account plus any pending flash
type sessionResponse struct {
	*session.Session
	Flash *Flash `json:"flash,omitempty"`
}

// currentSession handles GET /auth/session
func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{Session: middleware.CurrentSession(r.Context())}
	if flash, ok := ReadFlash(r); ok {
		resp.Flash = &flash
		s.setCookie(w, flashCookieName, "", -1)
	}
	_ = httputil.WriteSuccess(w, resp)
}

// samlMetadata handles GET /auth/saml/metadata
func (s *Server) samlMetadata(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.service.Providers().Adapter(sso.ProviderSAML)
	if !ok {
		httputil.WriteNotFoundError(w, "saml is not enabled")
		return
	}
	mp, ok := adapter.(metadataProvider)
	if !ok {
		httputil.WriteNotFoundError(w, "saml metadata unavailable")
		return
	}

	body, err := mp.Metadata()
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to build SAML metadata")
		httputil.WriteInternalError(w, errors.New("failed to build metadata"))
		return
	}
	httputil.WriteXML(w, http.StatusOK, body)
}

// respond writes the session cookie and flash for result and redirects
func (s *Server) respond(w http.ResponseWriter, r *http.Request, result auth.Result) {
	if result.Outcome.Cause != nil {
		observability.FromContext(r.Context()).
			WithError(result.Outcome.Cause).
			WithField("outcome", result.Outcome.String()).
			Debug("Authentication attempt carried a cause")
	}

	if result.Token != "" {
		cookie := s.cookie
		if result.Session != nil {
			cookie.TTL = result.Session.ExpiresAt.Sub(result.Session.CreatedAt)
		}
		session.SetCookie(w, cookie, result.Token)
	}

	if result.Redirect.Flash != "" {
		s.setCookie(w, flashCookieName, Flash{Kind: result.Redirect.Flash, Message: result.Redirect.Message}.encode(), flashMaxAge)
	}

	http.Redirect(w, r, result.Redirect.Location, http.StatusFound)
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.cookie.Path,
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// Flash is a one-shot message for the next page the browser renders.
// Message is a reason code the front end localizes.
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (f Flash) encode() string {
	return url.Values{"kind": {f.Kind}, "message": {f.Message}}.Encode()
}

// ReadFlash returns the flash carried by r, if any
func ReadFlash(r *http.Request) (Flash, bool) {
	c, err := r.Cookie(flashCookieName)
	if err != nil || c.Value == "" {
		return Flash{}, false
	}
	values, err := url.ParseQuery(c.Value)
	if err != nil {
		return Flash{}, false
	}
	f := Flash{Kind: values.Get("kind"), Message: values.Get("message")}
	return f, f.Kind != ""
}
