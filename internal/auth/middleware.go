// middleware.go

// Session enforcement and security header middleware.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const sessionKey contextKey = "session"

// SessionFromContext returns the session RequireSession stored. ok is false if it hasn't run.
func SessionFromContext(ctx context.Context) (*ActiveSession, bool) {
	s, ok := ctx.Value(sessionKey).(*ActiveSession)
	return s, ok && s != nil
}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *ActiveSession) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// RequireSession returns middleware that admits only requests carrying a session
// meeting req. The session is available downstream via SessionFromContext.
// A stale session cookie is cleared on the way out.
func (h *AuthHandler) RequireSession(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie := h.Cookies.SessionCookieValue(r)
			active, err := h.GW.RequireSession(r.Context(), cookie, req)
			if err != nil {
				switch {
				case errors.Is(err, ErrUnauthenticated):
					if cookie != "" {
						h.Cookies.ClearSessionCookie(w)
					}
					logDebug(r, "require session failed", "reason", "unauthenticated")
				case errors.Is(err, ErrForbidden):
					logWarn(r, "require session failed", "reason", "forbidden", "account_id", active.accountID())
				case errors.Is(err, ErrPasswordChangeRequired):
					logInfo(r, "require session failed", "reason", "password_change_required", "account_id", active.accountID())
				}
				writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), active)))
		})
	}
}

func (s *ActiveSession) accountID() string {
	if s == nil || s.Account == nil {
		return ""
	}
	return s.Account.ID.String()
}

// securityHeaders are set on every response.
var securityHeaders = map[string]string{
	"Content-Security-Policy": "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https:; font-src 'self' https: data:; connect-src 'self'; " +
		"frame-ancestors 'self'; form-action 'self'; base-uri 'self'",
	"Referrer-Policy":        "no-referrer",
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"X-XSS-Protection":       "1; mode=block",
}

// SecurityHeaders sets the response hardening headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}
