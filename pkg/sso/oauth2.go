package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/identity"
)

// Twitter OAuth 2.0 endpoints
const (
	TwitterAuthURL     = "https://twitter.com/i/oauth2/authorize"
	TwitterTokenURL    = "https://api.twitter.com/2/oauth2/token"
	TwitterUserInfoURL = "https://api.twitter.com/2/users/me?user.fields=profile_image_url,confirmed_email"
)

// userInfoMapping names the dotted paths of assertion fields in a user info document
type userInfoMapping struct {
	UserID string
	Email  string
	Name   string
	Avatar string
}

var twitterMapping = userInfoMapping{
	UserID: "data.id",
	Email:  "data.confirmed_email",
	Name:   "data.name",
	Avatar: "data.profile_image_url",
}

// OAuth2Adapter implements a plain OAuth2 authorization-code flow with PKCE
// followed by a user info request
type OAuth2Adapter struct {
	name         string
	callbackURL  string
	userInfoURL  string
	mapping      userInfoMapping
	oauth2Config *oauth2.Config
	client       *http.Client
}

// NewTwitterAdapter creates the Twitter adapter
func NewTwitterAdapter(cfg config.OAuthClientConfig, callbackURL string, client *http.Client) *OAuth2Adapter {
	return &OAuth2Adapter{
		name:        ProviderTwitter,
		callbackURL: callbackURL,
		userInfoURL: TwitterUserInfoURL,
		mapping:     twitterMapping,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   TwitterAuthURL,
				TokenURL:  TwitterTokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			RedirectURL: callbackURL,
			Scopes:      []string{"tweet.read", "users.read", "users.email"},
		},
		client: client,
	}
}

// Name implements Adapter
func (a *OAuth2Adapter) Name() string { return a.name }

// Family implements Adapter
func (a *OAuth2Adapter) Family() Family { return FamilyOAuth2 }

// CallbackPath implements Adapter
func (a *OAuth2Adapter) CallbackPath() string { return pathOf(a.callbackURL) }

// BeginAuth redirects to the authorization endpoint with a PKCE challenge.
// The verifier is kept in a short-lived cookie until the callback.
func (a *OAuth2Adapter) BeginAuth(w http.ResponseWriter, r *http.Request, state string) error {
	verifier := oauth2.GenerateVerifier()
	setShortLivedCookie(w, verifierCookieName, verifier, strings.HasPrefix(a.callbackURL, "https://"))

	authURL := a.oauth2Config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// ProduceAssertion exchanges the code and maps the user info document
func (a *OAuth2Adapter) ProduceAssertion(ctx context.Context, r *http.Request) (identity.Assertion, error) {
	q := r.URL.Query()
	if code := q.Get("error"); code != "" {
		return identity.Assertion{}, &ProviderError{Provider: a.name, Code: code, Description: q.Get("error_description")}
	}

	code := q.Get("code")
	if code == "" {
		return identity.Assertion{}, fmt.Errorf("missing authorization code")
	}

	verifier, err := r.Cookie(verifierCookieName)
	if err != nil || verifier.Value == "" {
		return identity.Assertion{}, fmt.Errorf("missing PKCE verifier")
	}

	ctx = withHTTPClient(ctx, a.client)
	token, err := a.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(verifier.Value))
	if err != nil {
		return identity.Assertion{}, fmt.Errorf("failed to exchange token: %w", err)
	}

	info, err := a.fetchUserInfo(ctx, token)
	if err != nil {
		return identity.Assertion{}, err
	}

	assertion := identity.Assertion{
		ProviderID:    a.name,
		ExternalUID:   getStringValue(info, a.mapping.UserID),
		Email:         getStringValue(info, a.mapping.Email),
		DisplayName:   getStringValue(info, a.mapping.Name),
		AvatarURL:     getStringValue(info, a.mapping.Avatar),
		RawAttributes: flattenAttributes(info),
	}
	if assertion.ExternalUID == "" {
		return identity.Assertion{}, fmt.Errorf("%w: %s", ErrMissingAttribute, a.mapping.UserID)
	}
	return assertion, nil
}

func (a *OAuth2Adapter) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}

	resp, err := a.oauth2Config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var info map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return info, nil
}

// withHTTPClient makes oauth2 and oidc use client for outbound requests
func withHTTPClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}
