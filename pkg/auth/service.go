package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

// Flash kinds attached to a redirect
const (
	FlashAlert   = "alert"
	FlashSuccess = "success"
)

// Paths are the application locations outcomes redirect to
type Paths struct {
	Root       string
	SignIn     string
	Activation string
}

// NewPaths builds the redirect targets under a relative URL root
func NewPaths(relativeRoot string) Paths {
	root := strings.TrimRight(relativeRoot, "/")
	return Paths{
		Root:       root + "/",
		SignIn:     root + "/signin",
		Activation: root + "/account_activation",
	}
}

// Redirect is where the browser goes after an attempt, with an optional
// flash message carrying a reason code
type Redirect struct {
	Location string
	Flash    string
	Message  string
}

// Result is an Outcome plus what the caller must do with it
type Result struct {
	Outcome  Outcome
	Redirect Redirect
	Token    string // new session token, set only for Login
	Session  *session.Session
}

// Sessions is the session lifecycle the service drives
type Sessions interface {
	Establish(ctx context.Context, previousToken string, account *identity.Account) (*session.Session, string, error)
	Terminate(ctx context.Context, token string) error
}

// Service is the inbound control surface: it binds provider adapters, the
// decision engine and sessions together.
type Service struct {
	credentials *CredentialAuthenticator
	federated   *FederatedLoginOrchestrator
	providers   *sso.Registry
	sessions    Sessions
	resolver    TenantResolver
	paths       Paths
	secure      bool
	opts        Options
}

// ServiceConfig carries the collaborators of a Service
type ServiceConfig struct {
	Credentials   *CredentialAuthenticator
	Federated     *FederatedLoginOrchestrator
	Providers     *sso.Registry
	Sessions      Sessions
	Resolver      TenantResolver
	Paths         Paths
	SecureCookies bool
	Options       Options
}

// NewService creates the control surface
func NewService(cfg ServiceConfig) *Service {
	if cfg.Paths.Root == "" {
		cfg.Paths = NewPaths("")
	}
	return &Service{
		credentials: cfg.Credentials,
		federated:   cfg.Federated,
		providers:   cfg.Providers,
		sessions:    cfg.Sessions,
		resolver:    cfg.Resolver,
		paths:       cfg.Paths,
		secure:      cfg.SecureCookies,
		opts:        cfg.Options.withDefaults(),
	}
}

// Providers returns the provider registry
func (s *Service) Providers() *sso.Registry {
	return s.providers
}

// Login handles a local email/password attempt from host
func (s *Service) Login(ctx context.Context, email, password, host, previousToken string) Result {
	tenant, ok := s.resolveTenant(host)
	outcome := s.credentials.Authenticate(ctx, strings.TrimSpace(email), password, tenant, ok)
	return s.finish(ctx, outcome, previousToken)
}

// BeginAuth starts authentication with provider. OAuth2 and OIDC attempts
// are bound to a state cookie checked on callback. A SAML attempt carries
// inviteToken in its RelayState.
func (s *Service) BeginAuth(w http.ResponseWriter, r *http.Request, provider, inviteToken string) error {
	adapter, ok := s.providers.Adapter(provider)
	if !ok {
		return fmt.Errorf("%w: %s", sso.ErrProviderDisabled, provider)
	}

	state, err := sso.NewState()
	if err != nil {
		return err
	}
	if requiresState(adapter.Family()) {
		sso.SetStateCookie(w, state, s.secure)
	}
	if adapter.Family() == sso.FamilySAML && inviteToken != "" {
		state = sso.InviteRelayState(inviteToken)
	}
	return adapter.BeginAuth(w, r, state)
}

// Callback completes a federated attempt: the adapter turns the provider
// response into an assertion, the orchestrator decides, and a Login
// establishes a fresh session. An inviteToken of "" falls back to the one a
// SAML response carries in RelayState.
func (s *Service) Callback(r *http.Request, provider, inviteToken, previousToken string) Result {
	ctx := r.Context()

	adapter, ok := s.providers.Adapter(provider)
	if !ok {
		return s.finish(ctx, s.federated.HandleProviderError(ctx, provider, fmt.Errorf("%w: %s", sso.ErrProviderDisabled, provider)), "")
	}

	if requiresState(adapter.Family()) {
		if err := sso.VerifyState(r); err != nil {
			return s.finish(ctx, s.federated.HandleProviderError(ctx, provider, err), "")
		}
	}
	if inviteToken == "" && adapter.Family() == sso.FamilySAML {
		inviteToken = sso.InviteFromRelayState(r)
	}

	assertion, err := s.produceAssertion(ctx, adapter, r)
	if errors.Is(err, sso.ErrInvalidCredentials) {
		s.opts.logger(ctx).WithField("provider", provider).Info("Provider rejected the credentials")
		return s.finish(ctx, Denied(ReasonInvalidCredentials), "")
	}
	if err != nil {
		return s.finish(ctx, s.federated.HandleProviderError(ctx, provider, err), "")
	}

	outcome := s.federated.HandleCallback(ctx, assertion, r.Host, inviteToken)
	return s.finish(ctx, outcome, previousToken)
}

// Failure reports a failure the provider sent back instead of a response.
// Known reason codes are passed through; anything else becomes omniauth_error.
func (s *Service) Failure(ctx context.Context, provider, message string) Result {
	outcome := s.federated.HandleProviderError(ctx, provider, fmt.Errorf("provider reported %q", message))
	if KnownReason(message) {
		outcome.Reason = message
	}
	return s.finish(ctx, outcome, "")
}

// Logout terminates the session behind token
func (s *Service) Logout(ctx context.Context, token string) Redirect {
	if err := s.sessions.Terminate(ctx, token); err != nil {
		s.opts.logger(ctx).WithError(err).Error("Failed to terminate session")
	}
	return Redirect{Location: s.paths.Root}
}

// RedirectFor maps an outcome to its redirect
func (s *Service) RedirectFor(outcome Outcome) Redirect {
	switch outcome.Kind {
	case KindLogin:
		return Redirect{Location: s.paths.Root}
	case KindPendingApproval:
		return Redirect{Location: s.paths.Root, Flash: FlashSuccess, Message: ReasonApprovalSignup}
	case KindRedirectToActivation:
		return Redirect{Location: s.paths.Activation + "?" + url.Values{"email": {outcome.Email}}.Encode()}
	case KindDenied:
		switch outcome.Reason {
		case ReasonInvalidUser, ReasonInvalidCredentials:
			return Redirect{Location: s.paths.SignIn, Flash: FlashAlert, Message: outcome.Reason}
		default:
			return Redirect{Location: s.paths.Root, Flash: FlashAlert, Message: outcome.Reason}
		}
	default:
		reason := outcome.Reason
		if reason == "" {
			reason = ReasonProviderError
		}
		return Redirect{Location: s.paths.Root, Flash: FlashAlert, Message: reason}
	}
}

func (s *Service) finish(ctx context.Context, outcome Outcome, previousToken string) Result {
	result := Result{Outcome: outcome}

	if outcome.IsLogin() {
		sess, token, err := s.sessions.Establish(ctx, previousToken, outcome.Account)
		if err != nil {
			result.Outcome = Failed(ReasonInternalError, err)
			s.opts.logger(ctx).WithError(err).WithField("account_id", outcome.Account.ID).Error("Failed to establish session")
		} else {
			result.Session = sess
			result.Token = token
		}
	}

	result.Redirect = s.RedirectFor(result.Outcome)
	return result
}

func (s *Service) produceAssertion(ctx context.Context, adapter sso.Adapter, r *http.Request) (assertion identity.Assertion, err error) {
	ctx, cancel := s.opts.bounded(ctx)
	defer cancel()

	assertion, err = adapter.ProduceAssertion(ctx, r)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("provider %s timed out: %w", adapter.Name(), err)
	}
	return assertion, err
}

func (s *Service) resolveTenant(host string) (string, bool) {
	if s.resolver == nil {
		return "", false
	}
	return s.resolver.Resolve(host)
}

// requiresState reports whether callbacks of family carry the state parameter.
// SAML posts cross-site so a SameSite=Lax cookie never arrives, and LDAP
// posts a same-site form.
func requiresState(family sso.Family) bool {
	return family == sso.FamilyOAuth2 || family == sso.FamilyOIDC
}
