package session

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSessionExpired means the session cannot be recovered and the user must log in again.
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidTokenResponse means a token endpoint succeeded without both access and refresh tokens.
	ErrInvalidTokenResponse = errors.New("token response missing access or refresh token")
)

// AuthenticationError represents a failed exchange with the identity endpoints.
type AuthenticationError struct {
	// Type is the type of authentication error.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the HTTP or envelope status code associated with the error.
	Code int `json:"code"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

var (
	// ErrRefreshFailed is the base error for a rejected or failed refresh exchange.
	ErrRefreshFailed = &AuthenticationError{
		Type:    "refresh_failed",
		Message: "Failed to refresh access token",
		Code:    http.StatusUnauthorized,
	}

	// ErrCodeExchangeFailed is the base error for a failed authorization code exchange.
	ErrCodeExchangeFailed = &AuthenticationError{
		Type:    "code_exchange_failed",
		Message: "Failed to exchange authorization code for tokens",
		Code:    http.StatusBadRequest,
	}

	// ErrNoRefreshToken is returned when a refresh is attempted without a stored refresh token.
	ErrNoRefreshToken = &AuthenticationError{
		Type:    "token_expired",
		Message: "No refresh token available",
		Code:    http.StatusUnauthorized,
	}
)

// NewAuthenticationError creates a new authentication error with a cause based on a base error.
// A non-empty message replaces the base message and code overrides the base code when non-zero.
func NewAuthenticationError(baseErr *AuthenticationError, message string, code int, cause error) *AuthenticationError {
	e := &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Code:    baseErr.Code,
		Cause:   cause,
	}
	if message != "" {
		e.Message = message
	}
	if code != 0 {
		e.Code = code
	}
	return e
}

// IsAuthenticationError checks if an error is an authentication error.
func IsAuthenticationError(err error) bool {
	var authenticationError *AuthenticationError
	return errors.As(err, &authenticationError)
}

// UserFriendlyMessage returns a message suitable for showing to the user.
func UserFriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrSessionExpired) {
		return SessionExpiredMessage
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		switch authErr.Type {
		case "token_expired":
			return SessionExpiredMessage
		case "invalid_token_response":
			return "The login server returned an incomplete response. Please try again."
		case "code_exchange_failed":
			return "Login failed. The authorization code may have expired; please try again."
		case "refresh_failed":
			return SessionExpiredMessage
		default:
			return "Authentication failed. Please try again."
		}
	}
	return "An unexpected error occurred. Please try again."
}
