// Package serviceerr holds the error vocabulary shared by the authentication
// components and the HTTP surface. Codes are stable strings that end up in
// redirect query parameters and JSON bodies.
package serviceerr

import (
	"errors"
	"net/http"
)

// Repository level sentinels.
var (
	ErrConflict = errors.New("already exists")
	ErrNotFound = errors.New("not found")
)

type Code string

const (
	CodeInvalidProvider        Code = "invalid_provider"
	CodeProviderError          Code = "provider_error"
	CodeCallbackParamsMissing  Code = "callback_params_missing"
	CodeInvalidState           Code = "invalid_state"
	CodeInvalidCodeVerifier    Code = "invalid_code_verifier"
	CodeTokenRetrievalFailed   Code = "token_retrieval_failed"
	CodeInvalidToken           Code = "invalid_token"
	CodeFetchUserFailed        Code = "fetch_user_failed"
	CodeInvalidUserSchema      Code = "invalid_user_schema"
	CodeEmailRequired          Code = "email_required"
	CodeOIDCDiscoveryFailed    Code = "oidc_discovery_failed"
	CodeOIDCConfigInvalid      Code = "oidc_config_invalid"
	CodeInvalidNonce           Code = "invalid_nonce"
	CodePersistenceUnavailable Code = "persistence_unavailable"
	CodeNotProvisioned         Code = "not_provisioned"
	CodeProviderNotAllowed     Code = "provider_not_allowed"
	CodeServerError            Code = "server_error"

	CodeInvalidCredentials Code = "invalid_credentials"
	CodeInvalidRequest     Code = "invalid_request"
	CodeUnauthenticated    Code = "unauthenticated"
)

// Error is the only error type that leaves the authentication orchestrator.
type Error struct {
	Err         Code
	Description string
	Cause       error
}

var (
	ErrInvalidCredentials = &Error{Err: CodeInvalidCredentials, Description: "Invalid credentials"}
	ErrInvalidRequest     = &Error{Err: CodeInvalidRequest}
	ErrUnauthenticated    = &Error{Err: CodeUnauthenticated, Description: "Unauthenticated"}
)

func New(code Code, cause error) *Error {
	return &Error{Err: code, Description: code.Message(), Cause: cause}
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on the code so callers can compare against the predefined errors
// regardless of the attached cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Err == e.Err
}

func (e *Error) HTTPStatus() int { return e.Err.HTTPStatus() }

func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidRequest, CodeCallbackParamsMissing, CodeInvalidProvider, CodeEmailRequired:
		return http.StatusBadRequest
	case CodeInvalidCredentials, CodeUnauthenticated, CodeInvalidState, CodeInvalidCodeVerifier,
		CodeInvalidToken, CodeInvalidNonce, CodeInvalidUserSchema, CodeProviderError:
		return http.StatusUnauthorized
	case CodeNotProvisioned, CodeProviderNotAllowed:
		return http.StatusForbidden
	case CodePersistenceUnavailable, CodeTokenRetrievalFailed, CodeFetchUserFailed,
		CodeOIDCDiscoveryFailed, CodeOIDCConfigInvalid:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message is the user facing text for the code. Authentication failures
// share generic wording; provisioning failures are distinct.
func (c Code) Message() string {
	switch c {
	case CodeInvalidCredentials:
		return "Invalid credentials"
	case CodeInvalidRequest:
		return "Invalid request body"
	case CodeUnauthenticated:
		return "Unauthenticated"
	case CodeNotProvisioned:
		return "No account exists for this identity"
	case CodeProviderNotAllowed:
		return "This sign-in method is not enabled for the account"
	case CodeEmailRequired:
		return "Email is required but was not provided by the provider"
	case CodeInvalidProvider:
		return "Unsupported provider"
	case CodeCallbackParamsMissing:
		return "Missing callback parameters"
	case CodePersistenceUnavailable, CodeTokenRetrievalFailed, CodeFetchUserFailed,
		CodeOIDCDiscoveryFailed, CodeOIDCConfigInvalid:
		return "Service unavailable"
	case CodeServerError:
		return "Internal server error"
	default:
		return "Authentication failed"
	}
}

// From returns err as *Error, falling back to a server error carrying err.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return New(CodeServerError, err)
}
