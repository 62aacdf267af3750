// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. Fixed messages are plain ASCII and
// concatenated directly; anything carrying caller data goes through writeJSON.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// genericLoginFailure is shown for every credential or lockout failure.
const genericLoginFailure = "Invalid username or password"

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeMessage(w, http.StatusInternalServerError, "internal server error")
}

// BadRequest returns a 400 JSON response with the given message.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, http.StatusBadRequest, message)
}

// Unauthorized returns a 401 JSON response.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	writeMessage(w, http.StatusUnauthorized, message)
}

// Forbidden returns a 403 JSON response with a generic message.
func Forbidden(w http.ResponseWriter) {
	writeMessage(w, http.StatusForbidden, "forbidden")
}

// OK returns a 200 JSON response with the given message.
func OK(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusOK, message)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"message":"` + message + `"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeAuthError maps a Gateway error to its HTTP response.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *RateLimitError
	var pe *PolicyError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(time.Now())))
		writeMessage(w, http.StatusTooManyRequests, "Too many attempts. Try again later.")
	case errors.Is(err, ErrTooManyAttempts):
		writeMessage(w, http.StatusTooManyRequests, "Too many attempts. Try again later.")
	case errors.Is(err, ErrCSRFMismatch):
		writeMessage(w, http.StatusForbidden, "Session expired. Please try again.")
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountLocked):
		writeMessage(w, http.StatusBadRequest, genericLoginFailure)
	case errors.Is(err, ErrUnauthenticated):
		Unauthorized(w, r, "unauthorized")
	case errors.Is(err, ErrPasswordChangeRequired):
		writeMessage(w, http.StatusForbidden, "password change required")
	case errors.Is(err, ErrForbidden):
		Forbidden(w)
	case errors.Is(err, ErrNotFound):
		writeMessage(w, http.StatusNotFound, "not found")
	case errors.As(err, &pe):
		writeJSON(w, http.StatusBadRequest, struct {
			Message  string   `json:"message"`
			Failures []string `json:"failures"`
		}{"password does not meet policy", pe.Failures})
	case errors.Is(err, ErrTransientStore):
		logError(r, "transient store failure", "error", err)
		writeMessage(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		InternalServerError(w, r, err)
	}
}
