// cookies_test.go

// unit tests for session cookie formatting, parsing, and attributes.
package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
)

func TestParseSessionCookie(t *testing.T) {
	id := uuid.Must(uuid.NewV7())

	t.Run("round trips FormatSessionCookie", func(t *testing.T) {
		gotID, token, ok := ParseSessionCookie(FormatSessionCookie(id, "tok_en-1"))
		if !ok {
			t.Fatal("expected ok")
		}
		if gotID != id {
			t.Errorf("id: expected %s, got %s", id, gotID)
		}
		if token != "tok_en-1" {
			t.Errorf("token: expected tok_en-1, got %q", token)
		}
	})

	malformed := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"no separator", id.String()},
		{"empty token", id.String() + "."},
		{"empty id", ".token"},
		{"bad uuid", "not-a-uuid.token"},
		{"nil uuid", uuid.Nil.String() + ".token"},
		{"extra separator", id.String() + ".tok.en"},
	}
	for _, tc := range malformed {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			if _, _, ok := ParseSessionCookie(tc.value); ok {
				t.Errorf("expected %q to be rejected", tc.value)
			}
		})
	}
}

// findCookie returns the named cookie set on the recorder, or nil.
func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSetSessionCookie(t *testing.T) {
	t.Run("secure attributes", func(t *testing.T) {
		cfg := CookieConfig{Secure: true, Domain: "apps.example.com"}
		w := httptest.NewRecorder()
		cfg.SetSessionCookie(w, "v", time.Now().Add(time.Hour))

		c := findCookie(w, DefaultSessionCookie)
		if c == nil {
			t.Fatal("session cookie not set")
		}
		if !c.HttpOnly {
			t.Error("cookie should be HttpOnly")
		}
		if !c.Secure {
			t.Error("cookie should be Secure")
		}
		if c.SameSite != http.SameSiteLaxMode {
			t.Errorf("SameSite: expected Lax, got %v", c.SameSite)
		}
		if c.Path != "/" {
			t.Errorf("Path: expected /, got %q", c.Path)
		}
		if c.Domain != "apps.example.com" {
			t.Errorf("Domain: expected apps.example.com, got %q", c.Domain)
		}
		if c.MaxAge <= 0 || c.MaxAge > 3600 {
			t.Errorf("MaxAge: expected (0, 3600], got %d", c.MaxAge)
		}
	})

	t.Run("custom name", func(t *testing.T) {
		cfg := CookieConfig{SessionName: "sid"}
		w := httptest.NewRecorder()
		cfg.SetSessionCookie(w, "v", time.Now().Add(time.Hour))
		if findCookie(w, "sid") == nil {
			t.Error("expected cookie named sid")
		}
	})
}

func TestClearSessionCookie(t *testing.T) {
	w := httptest.NewRecorder()
	CookieConfig{}.ClearSessionCookie(w)

	c := findCookie(w, DefaultSessionCookie)
	if c == nil {
		t.Fatal("clearing cookie not set")
	}
	if c.MaxAge >= 0 {
		t.Errorf("MaxAge: expected negative, got %d", c.MaxAge)
	}
	if c.Value != "" {
		t.Errorf("Value: expected empty, got %q", c.Value)
	}
}

func TestCookieValues(t *testing.T) {
	cfg := CookieConfig{}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if cfg.SessionCookieValue(r) != "" || cfg.CSRFCookieValue(r) != "" {
		t.Error("expected empty values without cookies")
	}

	r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "s"})
	r.AddCookie(&http.Cookie{Name: DefaultCSRFCookie, Value: "c"})
	if got := cfg.SessionCookieValue(r); got != "s" {
		t.Errorf("session: expected s, got %q", got)
	}
	if got := cfg.CSRFCookieValue(r); got != "c" {
		t.Errorf("csrf: expected c, got %q", got)
	}
}
