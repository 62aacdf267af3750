// password_handler_test.go

// unit tests for the ChangePassword and ResetPassword handlers.
package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/CharterXO/CXO-App-Directory/internal/store"
)

// serveChangePassword runs ChangePassword behind the middleware it is mounted with.
func serveChangePassword(h *AuthHandler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.RequireSession(Requirement{AllowPasswordChange: true})(http.HandlerFunc(h.ChangePassword)).ServeHTTP(w, r)
	return w
}

func TestChangePasswordHandler(t *testing.T) {
	t.Run("success rotates the cookie", func(t *testing.T) {
		h, ms, _ := newTestHandler(t)
		seedAccount(t, ms, "alice", store.RoleUser, false)
		issued := mustLogin(t, h.GW, "alice", testPassword)

		r := withSession(jsonRequest(http.MethodPost, "/auth/change-password",
			`{"current_password":"`+testPassword+`","new_password":"brand-new-passphrase"}`), issued.CookieValue)
		w := serveChangePassword(h, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d: %s", w.Code, w.Body.String())
		}
		c := findCookie(w, DefaultSessionCookie)
		if c == nil || c.Value == issued.CookieValue {
			t.Fatal("expected a new session cookie")
		}
		if active, _ := h.GW.ResolveSession(t.Context(), issued.CookieValue); active != nil {
			t.Error("old cookie should no longer resolve")
		}
		if active, _ := h.GW.ResolveSession(t.Context(), c.Value); active == nil {
			t.Error("new cookie should resolve")
		}
	})

	t.Run("wrong current password", func(t *testing.T) {
		h, ms, _ := newTestHandler(t)
		seedAccount(t, ms, "alice", store.RoleUser, false)
		issued := mustLogin(t, h.GW, "alice", testPassword)

		r := withSession(jsonRequest(http.MethodPost, "/auth/change-password",
			`{"current_password":"nope","new_password":"brand-new-passphrase"}`), issued.CookieValue)
		assertStatusMessage(t, serveChangePassword(h, r), http.StatusBadRequest, "Invalid current password")
	})

	t.Run("policy failure lists reasons", func(t *testing.T) {
		h, ms, _ := newTestHandler(t)
		seedAccount(t, ms, "alice", store.RoleUser, false)
		issued := mustLogin(t, h.GW, "alice", testPassword)

		r := withSession(jsonRequest(http.MethodPost, "/auth/change-password",
			`{"current_password":"`+testPassword+`","new_password":"short"}`), issued.CookieValue)
		w := serveChangePassword(h, r)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status: expected 400, got %d", w.Code)
		}
		body := decodeBody(t, w)
		if failures, _ := body["failures"].([]any); len(failures) == 0 {
			t.Errorf("expected failures, got %v", body)
		}
	})

	t.Run("forced change needs no current password", func(t *testing.T) {
		h, ms, _ := newTestHandler(t)
		seedAccount(t, ms, "alice", store.RoleUser, true)
		issued := mustLogin(t, h.GW, "alice", testPassword)

		r := withSession(jsonRequest(http.MethodPost, "/auth/change-password",
			`{"new_password":"brand-new-passphrase"}`), issued.CookieValue)
		w := serveChangePassword(h, r)
		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if body := decodeBody(t, w); body["must_change_password"] != false {
			t.Errorf("flag should be cleared, got %v", body)
		}
	})

	t.Run("no session", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		w := serveChangePassword(h, jsonRequest(http.MethodPost, "/auth/change-password", `{}`))
		assertStatusMessage(t, w, http.StatusUnauthorized, "unauthorized")
	})
}

// withURLParam attaches a chi route context carrying id.
func withURLParam(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestResetPasswordHandler(t *testing.T) {
	t.Run("returns the temporary password once", func(t *testing.T) {
		h, ms, _ := newTestHandler(t)
		admin := seedAccount(t, ms, "root", store.RoleSuperAdmin, false)
		alice := seedAccount(t, ms, "alice", store.RoleUser, false)

		r := jsonRequest(http.MethodPost, "/admin/users/"+alice.ID.String()+"/reset-password", ``)
		r = withURLParam(r.WithContext(WithSession(r.Context(), &ActiveSession{Account: admin})), alice.ID.String())
		w := httptest.NewRecorder()
		h.ResetPassword(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if w.Header().Get("Cache-Control") != "no-store" {
			t.Error("temporary password response must not be cached")
		}
		body := decodeBody(t, w)
		temp, _ := body["temporary_password"].(string)
		if temp == "" {
			t.Fatalf("missing temporary_password: %v", body)
		}
		mustLogin(t, h.GW, "alice", temp)
	})

	t.Run("bad id is 404", func(t *testing.T) {
		h, ms, _ := newTestHandler(t)
		admin := seedAccount(t, ms, "root", store.RoleSuperAdmin, false)

		r := jsonRequest(http.MethodPost, "/admin/users/nope/reset-password", ``)
		r = withURLParam(r.WithContext(WithSession(r.Context(), &ActiveSession{Account: admin})), "nope")
		w := httptest.NewRecorder()
		h.ResetPassword(w, r)
		assertStatusMessage(t, w, http.StatusNotFound, "not found")
	})
}
