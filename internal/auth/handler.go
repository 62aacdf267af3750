// handler.go -- AuthHandler and the /auth/* session endpoints.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/CharterXO/CXO-App-Directory/internal/store"
)

// maxBodyBytes caps request bodies; auth payloads are tiny.
const maxBodyBytes = 64 << 10

// HealthChecker pings a dependency.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// AuthHandler holds dependencies for all HTTP handlers and middleware.
type AuthHandler struct {
	GW      *Gateway
	Cookies CookieConfig
	CSRF    CSRFGuard
	AppName string

	// DB is required; Cache is nil when Redis is not configured.
	DB    HealthChecker
	Cache HealthChecker
}

// authFields are the inputs any /auth endpoint reads. Other body fields are ignored.
type authFields struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	CSRFToken       string `json:"csrf_token"`
}

// readFields reads authFields from a JSON object or a urlencoded/multipart form.
func readFields(w http.ResponseWriter, r *http.Request) (authFields, error) {
	var f authFields
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&f)
		return f, err
	}
	if err := r.ParseForm(); err != nil {
		return f, err
	}
	f.Username = r.PostForm.Get("username")
	f.Password = r.PostForm.Get("password")
	f.CurrentPassword = r.PostForm.Get("current_password")
	f.NewPassword = r.PostForm.Get("new_password")
	f.CSRFToken = r.PostForm.Get(CSRFFormField)
	return f, nil
}

// presentedToken prefers the header, then the body field.
func presentedToken(r *http.Request, f authFields) string {
	if v := r.Header.Get(CSRFHeader); v != "" {
		return v
	}
	return f.CSRFToken
}

type sessionView struct {
	AccountID          string    `json:"account_id"`
	Username           string    `json:"username"`
	Role               string    `json:"role"`
	MustChangePassword bool      `json:"must_change_password"`
	ExpiresAt          time.Time `json:"expires_at"`
	AppName            string    `json:"app_name,omitempty"`
}

func (h *AuthHandler) view(acct *store.Account, sess *store.Session) sessionView {
	return sessionView{
		AccountID:          acct.ID.String(),
		Username:           acct.Username,
		Role:               string(acct.Role),
		MustChangePassword: acct.MustChangePassword,
		ExpiresAt:          sess.ExpiresAt.UTC(),
		AppName:            h.AppName,
	}
}

// IssueCSRF handles GET /auth/csrf. Returns the browser's CSRF token, issuing one if absent.
// The token is mirrored in the X-CSRF-Token response header for page templates.
func (h *AuthHandler) IssueCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := h.CSRF.Ensure(w, r)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	w.Header().Set(CSRFHeader, token)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, struct {
		CSRFToken string `json:"csrf_token"`
	}{token})
}

// Login handles POST /auth/login.
// Every credential or lockout failure renders the same generic message.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		logWarn(r, "failed to decode login input", "error", err)
		BadRequest(w, r, "error decoding request body")
		return
	}

	ip := clientIP(r)
	issued, err := h.GW.Login(r.Context(), LoginRequest{
		Username:      fields.Username,
		Password:      fields.Password,
		CSRFPresented: presentedToken(r, fields),
		CSRFCookie:    h.Cookies.CSRFCookieValue(r),
		RateKey:       "login:ip:" + ip,
		IP:            ip,
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrTooManyAttempts):
			logInfo(r, "login failed", "reason", "rate_limited")
		case errors.Is(err, ErrCSRFMismatch):
			logInfo(r, "login failed", "reason", "csrf_mismatch")
		case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountLocked):
			logInfo(r, "login failed", "reason", err.Error())
		}
		writeAuthError(w, r, err)
		return
	}

	h.Cookies.SetSessionCookie(w, issued.CookieValue, issued.Session.ExpiresAt)
	logInfo(r, "user logged in successfully", "account_id", issued.Account.ID)
	writeJSON(w, http.StatusOK, h.view(issued.Account, issued.Session))
}

// Logout handles POST /auth/logout. Always clears the cookie; a missing session is not an error.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		fields = authFields{}
	}
	err = h.GW.Logout(r.Context(), h.Cookies.SessionCookieValue(r), presentedToken(r, fields), h.Cookies.CSRFCookieValue(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	h.Cookies.ClearSessionCookie(w)
	OK(w, "logged out")
}

// CurrentSession handles GET /auth/session. Mounted behind RequireSession.
func (h *AuthHandler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	active, ok := SessionFromContext(r.Context())
	if !ok {
		Unauthorized(w, r, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, h.view(active.Account, active.Session))
}
