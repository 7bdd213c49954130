package auth

import (
	"net/http"
	"strings"
	"time"
)

const (
	SessionCookieName = "bastion_session"
	CSRFCookieName    = "csrf_token"
)

// CookieConfig is shared by the session and CSRF cookies.
// An empty Domain scopes cookies to the current host.
type CookieConfig struct {
	Domain   string
	Secure   bool
	SameSite string // strict, lax or none
}

func (c CookieConfig) sameSite() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	}
	return http.SameSiteDefaultMode
}

// build returns a cookie for the whole site. maxAge <= 0 produces a deletion.
func (c CookieConfig) build(name, value string, maxAge time.Duration, httpOnly bool) *http.Cookie {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: c.sameSite(),
		MaxAge:   -1,
	}
	if maxAge > 0 {
		cookie.MaxAge = int(maxAge.Seconds())
		cookie.Expires = time.Now().Add(maxAge)
	}
	return cookie
}

// SetSessionCookie stores the session JWT out of reach of scripts.
func SetSessionCookie(w http.ResponseWriter, token string, maxAge time.Duration, config CookieConfig) {
	http.SetCookie(w, config.build(SessionCookieName, token, maxAge, true))
}

// SetCSRFTokenCookie is script-readable: clients echo it in X-CSRF-Token.
func SetCSRFTokenCookie(w http.ResponseWriter, csrfToken string, maxAge time.Duration, config CookieConfig) {
	http.SetCookie(w, config.build(CSRFCookieName, csrfToken, maxAge, false))
}

func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, config.build(SessionCookieName, "", 0, true))
}

func ClearCSRFTokenCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, config.build(CSRFCookieName, "", 0, false))
}

func GetSessionCookie(r *http.Request) (string, error) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}
