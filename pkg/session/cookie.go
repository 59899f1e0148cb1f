package session

import (
	"net/http"
	"time"
)

// DefaultCookieName is the session cookie name when none is configured
const DefaultCookieName = "gatehouse_session"

// CookieConfig controls the session cookie attributes
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
	TTL    time.Duration
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}

func (c CookieConfig) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// SetCookie writes the session token as an HttpOnly, SameSite=Lax cookie
func SetCookie(w http.ResponseWriter, cfg CookieConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.name(),
		Value:    token,
		Path:     cfg.path(),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(cfg.TTL.Seconds()),
	})
}

// ClearCookie expires the session cookie
func ClearCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.name(),
		Value:    "",
		Path:     cfg.path(),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// TokenFromRequest returns the session token carried by r, or ""
func TokenFromRequest(r *http.Request, cfg CookieConfig) string {
	c, err := r.Cookie(cfg.name())
	if err != nil {
		return ""
	}
	return c.Value
}
