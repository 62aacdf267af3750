// password_handler.go -- Password change and admin password reset handlers.
package auth

import (
	"errors"
	"net/http"
)

// ChangePassword handles POST /auth/change-password. Mounted behind RequireSession
// with AllowPasswordChange so flagged accounts can reach it.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	active, ok := SessionFromContext(r.Context())
	if !ok {
		Unauthorized(w, r, "unauthorized")
		return
	}
	fields, err := readFields(w, r)
	if err != nil {
		logWarn(r, "failed to decode password change input", "error", err)
		BadRequest(w, r, "error decoding request body")
		return
	}

	issued, err := h.GW.ChangePassword(r.Context(), ChangePasswordRequest{
		Session:         active,
		CurrentPassword: fields.CurrentPassword,
		NewPassword:     fields.NewPassword,
		CSRFPresented:   presentedToken(r, fields),
		CSRFCookie:      h.Cookies.CSRFCookieValue(r),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			BadRequest(w, r, "Invalid current password")
			return
		}
		writeAuthError(w, r, err)
		return
	}

	h.Cookies.SetSessionCookie(w, issued.CookieValue, issued.Session.ExpiresAt)
	logInfo(r, "password changed", "account_id", issued.Account.ID)
	writeJSON(w, http.StatusOK, h.view(issued.Account, issued.Session))
}

// ResetPassword handles POST /admin/users/{id}/reset-password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.adminTarget(w, r)
	if !ok {
		return
	}
	temp, err := h.GW.ForcePasswordReset(r.Context(), actor, target)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	logInfo(r, "password reset by admin", "actor_id", actor, "account_id", target)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, struct {
		AccountID         string `json:"account_id"`
		TemporaryPassword string `json:"temporary_password"`
	}{target.String(), temp})
}
