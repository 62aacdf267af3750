// admin_handler.go -- SUPER_ADMIN account management endpoints under /admin/users/{id}.
package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
)

// adminTarget reads the acting admin and the {id} URL param. Writes the error response itself.
func (h *AuthHandler) adminTarget(w http.ResponseWriter, r *http.Request) (actor, target uuid.UUID, ok bool) {
	active, found := SessionFromContext(r.Context())
	if !found {
		Unauthorized(w, r, "unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	target, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, "not found")
		return uuid.Nil, uuid.Nil, false
	}
	return active.Account.ID, target, true
}

// ClearLockout handles POST /admin/users/{id}/clear-lockout.
func (h *AuthHandler) ClearLockout(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.adminTarget(w, r)
	if !ok {
		return
	}
	if err := h.GW.ClearLockout(r.Context(), actor, target); err != nil {
		writeAuthError(w, r, err)
		return
	}
	logInfo(r, "lockout cleared", "actor_id", actor, "account_id", target)
	OK(w, "lockout cleared")
}

// RevokeSessions handles POST /admin/users/{id}/revoke-sessions.
func (h *AuthHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.adminTarget(w, r)
	if !ok {
		return
	}
	n, err := h.GW.InvalidateAllSessions(r.Context(), actor, target)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	logInfo(r, "sessions revoked", "actor_id", actor, "account_id", target, "count", n)
	writeJSON(w, http.StatusOK, struct {
		Revoked int64 `json:"revoked"`
	}{n})
}

// SetActive handles PUT /admin/users/{id}/active with body {"is_active": bool}.
func (h *AuthHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.adminTarget(w, r)
	if !ok {
		return
	}
	var input struct {
		IsActive *bool `json:"is_active"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.IsActive == nil {
		BadRequest(w, r, "is_active is required")
		return
	}
	if err := h.GW.SetAccountActive(r.Context(), actor, target, *input.IsActive); err != nil {
		writeAuthError(w, r, err)
		return
	}
	logInfo(r, "account active flag updated", "actor_id", actor, "account_id", target, "is_active", *input.IsActive)
	OK(w, "updated")
}
