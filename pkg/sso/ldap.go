package sso

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/identity"
)

// ErrInvalidCredentials is returned when the directory rejects the user bind
var ErrInvalidCredentials = errors.New("invalid directory credentials")

// ldapConn is the subset of *ldap.Conn the adapter uses
type ldapConn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// LDAPDialer opens a directory connection
type LDAPDialer func(ctx context.Context, cfg config.LDAPConfig) (ldapConn, error)

// LDAPAdapter authenticates username-or-email and password against a directory
type LDAPAdapter struct {
	cfg          config.LDAPConfig
	callbackPath string
	dial         LDAPDialer
}

// NewLDAPAdapter creates the directory adapter. callbackPath is the fixed
// LDAP callback literal. dial may be nil to use a network connection.
func NewLDAPAdapter(cfg config.LDAPConfig, callbackPath string, dial LDAPDialer) *LDAPAdapter {
	if cfg.Port == 0 {
		cfg.Port = 389
	}
	if cfg.Method == "" {
		cfg.Method = "plain"
	}
	if dial == nil {
		dial = dialLDAP
	}
	return &LDAPAdapter{cfg: cfg, callbackPath: callbackPath, dial: dial}
}

// Name implements Adapter
func (a *LDAPAdapter) Name() string { return ProviderLDAP }

// Family implements Adapter
func (a *LDAPAdapter) Family() Family { return FamilyLDAP }

// CallbackPath implements Adapter
func (a *LDAPAdapter) CallbackPath() string { return a.callbackPath }

// BeginAuth renders the directory sign-in form posting to the fixed callback path
func (a *LDAPAdapter) BeginAuth(w http.ResponseWriter, r *http.Request, state string) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := fmt.Fprintf(w, ldapFormTemplate, html.EscapeString(a.callbackPath))
	return err
}

const ldapFormTemplate = `<!DOCTYPE html>
<html><body>
<form method="post" action="%s">
<label>Username or email <input type="text" name="username" autocomplete="username"></label>
<label>Password <input type="password" name="password" autocomplete="current-password"></label>
<button type="submit">Sign in</button>
</form>
</body></html>
`

// ProduceAssertion binds as the service account, finds the user by uid or
// mail, then binds as that user to check the password
func (a *LDAPAdapter) ProduceAssertion(ctx context.Context, r *http.Request) (identity.Assertion, error) {
	if err := r.ParseForm(); err != nil {
		return identity.Assertion{}, fmt.Errorf("failed to parse form: %w", err)
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		// An empty password would be an unauthenticated bind
		return identity.Assertion{}, ErrInvalidCredentials
	}

	conn, err := a.dial(ctx, a.cfg)
	if err != nil {
		return identity.Assertion{}, fmt.Errorf("failed to connect to directory: %w", err)
	}
	defer conn.Close()

	if err := conn.Bind(a.cfg.BindDN, a.cfg.Password); err != nil {
		return identity.Assertion{}, fmt.Errorf("service bind failed: %w", err)
	}

	filter := fmt.Sprintf("(|(%s=%s)(mail=%s))",
		a.cfg.UID, ldap.EscapeFilter(username), ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(
		a.cfg.Base,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		2, searchTimeLimit(ctx), false,
		filter,
		[]string{"dn", a.cfg.UID, "mail", "cn", "displayName", "givenName", "sn"},
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return identity.Assertion{}, fmt.Errorf("directory search failed: %w", err)
	}
	if len(result.Entries) != 1 {
		return identity.Assertion{}, ErrInvalidCredentials
	}
	entry := result.Entries[0]

	if err := conn.Bind(entry.DN, password); err != nil {
		var ldapErr *ldap.Error
		if errors.As(err, &ldapErr) && ldapErr.ResultCode == ldap.LDAPResultInvalidCredentials {
			return identity.Assertion{}, ErrInvalidCredentials
		}
		return identity.Assertion{}, fmt.Errorf("user bind failed: %w", err)
	}

	return ldapAssertion(entry, a.cfg.UID), nil
}

func ldapAssertion(entry *ldap.Entry, uidAttr string) identity.Assertion {
	name := firstNonEmpty(
		entry.GetAttributeValue("displayName"),
		entry.GetAttributeValue("cn"),
		joinName(entry.GetAttributeValue("givenName"), entry.GetAttributeValue("sn")),
	)

	raw := map[string]string{"dn": entry.DN}
	for _, attr := range entry.Attributes {
		if len(attr.Values) > 0 {
			raw[attr.Name] = attr.Values[0]
		}
	}

	return identity.Assertion{
		ProviderID:    ProviderLDAP,
		ExternalUID:   entry.DN,
		Email:         entry.GetAttributeValue("mail"),
		DisplayName:   firstNonEmpty(name, entry.GetAttributeValue(uidAttr)),
		RawAttributes: raw,
	}
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}

// searchTimeLimit converts the context deadline into the LDAP time limit in seconds
func searchTimeLimit(ctx context.Context) int {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	secs := int(time.Until(deadline).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// netConn adapts *ldap.Conn to ldapConn
type netConn struct {
	*ldap.Conn
}

func (c netConn) Close() error {
	c.Conn.Close()
	return nil
}

func dialLDAP(ctx context.Context, cfg config.LDAPConfig) (ldapConn, error) {
	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	dialer := &net.Dialer{Timeout: timeout}
	address := net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port))
	tlsConfig := &tls.Config{ServerName: cfg.Server, MinVersion: tls.VersionTLS12}

	var (
		conn *ldap.Conn
		err  error
	)
	switch cfg.Method {
	case "ssl":
		conn, err = ldap.DialURL("ldaps://"+address, ldap.DialWithDialer(dialer), ldap.DialWithTLSConfig(tlsConfig))
	default:
		conn, err = ldap.DialURL("ldap://"+address, ldap.DialWithDialer(dialer))
	}
	if err != nil {
		return nil, err
	}

	if cfg.Method == "tls" {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	conn.SetTimeout(timeout)
	return netConn{conn}, nil
}
