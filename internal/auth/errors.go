package auth

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MinPasswordLength is the shortest password accepted by sign-up and password changes.
const MinPasswordLength = 6

// ErrGuestSession is returned by operations that need a signed-in user.
var ErrGuestSession = errors.New("no active session")

// ErrUnusableSession is returned when the source hands back a session that
// carries no user or has already expired.
var ErrUnusableSession = errors.New("source returned an unusable session")

// ValidationError reports bad input rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AuthError reports that the session source rejected a request.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IntegrationError reports a failed best-effort step. Callers log it and move on.
type IntegrationError struct {
	Step string
	Err  error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("integration %s: %v", e.Step, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// PersistenceError reports unreadable or unwritable local storage.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisted slice %q: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var a *AuthError
	return errors.As(err, &a)
}

func validateCredentials(email, password string) error {
	if email == "" {
		return &ValidationError{Field: "email", Message: "is required"}
	}
	if password == "" {
		return &ValidationError{Field: "password", Message: "is required"}
	}
	return nil
}

// ValidatePassword checks a new password against the minimum length.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return &ValidationError{
			Field:   "password",
			Message: fmt.Sprintf("must be at least %d characters", MinPasswordLength),
		}
	}
	return nil
}
