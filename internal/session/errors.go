package session

import (
	"errors"
	"strings"
)

var (
	// ErrNotAuthenticated is returned by Do when no identity is live.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionExpired is returned by Do when the backend rejected the token.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidToken marks a persisted token that cannot be used.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrBusy is returned when a login or registration is already in flight.
	ErrBusy = errors.New("authentication request already in progress")
)

// GenericRegistrationMessage is shown when the backend gives no reason.
const GenericRegistrationMessage = "Registration failed. Please try again."

// AuthenticationError reports bad credentials or an expired/invalid session.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return "authentication failed: " + e.Reason
	}
	return "authentication failed: " + e.Reason + ": " + e.Err.Error()
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RegistrationError carries the message to show the user verbatim.
type RegistrationError struct {
	Message string
	Err     error
}

func (e *RegistrationError) Error() string { return e.Message }

func (e *RegistrationError) Unwrap() error { return e.Err }

func newRegistrationError(message string, err error) *RegistrationError {
	message = strings.TrimSpace(message)
	if message == "" {
		message = GenericRegistrationMessage
	}
	return &RegistrationError{Message: message, Err: err}
}
