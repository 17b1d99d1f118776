package provider

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNilParameter         = errors.New("nil parameter")
	ErrNotFound             = errors.New("not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInvalidIssuer        = errors.New("invalid issuer")
	ErrInvalidAudience      = errors.New("invalid audience")
	ErrExpiredToken         = errors.New("token is expired")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrMissingClaims        = errors.New("required claims are missing")
	ErrMissingKeyMaterial   = errors.New("key material is missing")
	ErrSessionNotFound      = errors.New("session not found")
)

// OAuth 2.0 / OIDC error codes surfaced verbatim to callers. See RFC 6749
// section 4.1.2.1 and 5.2, and OIDC core section 3.1.2.6.
const (
	ErrorInvalidRequest          = "invalid_request"
	ErrorInvalidClient           = "invalid_client"
	ErrorInvalidGrant            = "invalid_grant"
	ErrorUnauthorizedClient      = "unauthorized_client"
	ErrorUnsupportedGrantType    = "unsupported_grant_type"
	ErrorUnsupportedResponseType = "unsupported_response_type"
	ErrorInvalidScope            = "invalid_scope"
	ErrorAccessDenied            = "access_denied"
	ErrorLoginRequired           = "login_required"
	ErrorServerError             = "server_error"
	ErrorInvalidToken            = "invalid_token"
)

// OAuthError carries an OAuth-standard error code (plus an optional
// human-readable description and the request's echoed state) from the
// authorization state machine to the network boundary, which decides whether
// it becomes a redirect or a direct JSON response.
type OAuthError struct {
	// Code is one of the Error* constants above.
	Code string

	// Description is an optional error_description for the client developer.
	// It must never contain internal error text.
	Description string

	// State echoes the request's opaque state value when one was supplied.
	State string
}

// NewOAuthError creates an OAuthError with the given code and optional
// description.
func NewOAuthError(code string, description string) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
	}
}

// Error implements the error interface.
func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// AsOAuthError returns the *OAuthError in err's chain, or nil.
func AsOAuthError(err error) *OAuthError {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}
	return nil
}
