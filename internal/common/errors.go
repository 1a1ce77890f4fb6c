// Package common holds the sentinel errors shared by the store, the
// authenticator, the session layer and the HTTP handlers. Callers wrap them
// with fmt.Errorf("%w: ...") and match with errors.Is.
package common

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation means a required input was missing or malformed.
	ErrValidation = errors.New("validation error")

	// ErrConflict means the email is already registered.
	ErrConflict = errors.New("user already exists")

	// ErrInvalidCredentials covers both unknown users and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for ID tokens and session cookies that fail verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNotConfigured means a required server setting is missing.
	ErrNotConfigured = errors.New("server not configured")

	// ErrSession wraps failures of the session store.
	ErrSession = errors.New("session error")
)

// HTTPStatus maps an error to the status code the API reports for it.
// Anything outside the taxonomy is an internal error.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
