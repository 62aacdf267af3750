// cookies.go

// Session and CSRF cookie handling.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// CookieConfig is built once from config.Config.
type CookieConfig struct {
	SessionName string
	CSRFName    string
	Secure      bool
	Domain      string
}

const (
	DefaultSessionCookie = "cxo_session"
	DefaultCSRFCookie    = "cxo_csrf"
)

func (c CookieConfig) sessionName() string {
	if c.SessionName == "" {
		return DefaultSessionCookie
	}
	return c.SessionName
}

func (c CookieConfig) csrfName() string {
	if c.CSRFName == "" {
		return DefaultCSRFCookie
	}
	return c.CSRFName
}

// FormatSessionCookie builds the "<sessionId>.<rawToken>" cookie value.
func FormatSessionCookie(id uuid.UUID, rawToken string) string {
	return id.String() + "." + rawToken
}

// ParseSessionCookie splits a cookie value. ok is false for anything malformed.
func ParseSessionCookie(value string) (id uuid.UUID, rawToken string, ok bool) {
	idPart, token, found := strings.Cut(value, ".")
	if !found || token == "" || strings.Contains(token, ".") {
		return uuid.Nil, "", false
	}
	id, err := uuid.FromString(idPart)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, "", false
	}
	return id, token, true
}

// SetSessionCookie writes the HttpOnly session cookie expiring with the session.
func (c CookieConfig) SetSessionCookie(w http.ResponseWriter, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.sessionName(),
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  expiresAt,
		MaxAge:   max(1, int(time.Until(expiresAt).Seconds())),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie overwrites the session cookie with MaxAge=-1 to trigger browser deletion.
func (c CookieConfig) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.sessionName(),
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionCookieValue returns the raw session cookie, or "" when absent.
func (c CookieConfig) SessionCookieValue(r *http.Request) string {
	if ck, err := r.Cookie(c.sessionName()); err == nil {
		return ck.Value
	}
	return ""
}

// CSRFCookieValue returns the CSRF cookie, or "" when absent.
func (c CookieConfig) CSRFCookieValue(r *http.Request) string {
	if ck, err := r.Cookie(c.csrfName()); err == nil {
		return ck.Value
	}
	return ""
}
