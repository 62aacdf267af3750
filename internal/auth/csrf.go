// csrf.go -- Double-submit CSRF tokens.
//
// The token lives in a cookie readable by client code, which echoes it back in the
// X-CSRF-Token header or the csrf_token form field. Nothing is stored server side;
// the check rests on browsers refusing cross-origin cookie writes.
package auth

import (
	"crypto/subtle"
	"net/http"
)

const (
	CSRFHeader    = "X-CSRF-Token"
	CSRFFormField = "csrf_token"
)

// CSRFGuard issues and reads the CSRF cookie.
type CSRFGuard struct {
	Cookies CookieConfig
}

// Issue generates a fresh token and sets it as a non-HttpOnly cookie.
func (g CSRFGuard) Issue(w http.ResponseWriter) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.Cookies.csrfName(),
		Value:    token,
		Path:     "/",
		Domain:   g.Cookies.Domain,
		HttpOnly: false,
		Secure:   g.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// Ensure returns the request's existing CSRF cookie, issuing one if absent.
// Reusing the cookie keeps tokens already embedded in other open forms valid.
func (g CSRFGuard) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if token := g.Cookies.CSRFCookieValue(r); token != "" {
		return token, nil
	}
	return g.Issue(w)
}

// ValidateCSRFToken succeeds only when both values are non-empty and equal.
func ValidateCSRFToken(presented, cookie string) error {
	if presented == "" || cookie == "" {
		return ErrCSRFMismatch
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(cookie)) != 1 {
		return ErrCSRFMismatch
	}
	return nil
}

// PresentedCSRFToken reads the token from the header, falling back to the form field.
func PresentedCSRFToken(r *http.Request) string {
	if v := r.Header.Get(CSRFHeader); v != "" {
		return v
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return ""
	}
	return r.PostFormValue(CSRFFormField)
}

// CSRFMiddleware rejects mutating requests whose presented token does not match the cookie.
func (h *AuthHandler) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if err := ValidateCSRFToken(PresentedCSRFToken(r), h.Cookies.CSRFCookieValue(r)); err != nil {
			logWarn(r, "csrf check failed")
			h.GW.metrics().RecordCSRFRejected()
			writeAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
