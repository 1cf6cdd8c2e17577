package serviceerr_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openkcm/session-auth/internal/serviceerr"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name        string
		err         *serviceerr.Error
		expectedMsg string
	}{
		{
			name:        "Error with description",
			err:         &serviceerr.Error{Err: serviceerr.CodeInvalidState, Description: "state mismatch"},
			expectedMsg: "invalid_state: state mismatch",
		},
		{
			name:        "Error without description",
			err:         &serviceerr.Error{Err: serviceerr.CodeInvalidRequest},
			expectedMsg: "invalid_request",
		},
		{
			name:        "Predefined error - ErrInvalidCredentials",
			err:         serviceerr.ErrInvalidCredentials,
			expectedMsg: "invalid_credentials: Invalid credentials",
		},
		{
			name:        "New uses the code message",
			err:         serviceerr.New(serviceerr.CodeNotProvisioned, nil),
			expectedMsg: "not_provisioned: No account exists for this identity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedMsg, tt.err.Error())
		})
	}
}

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		name               string
		code               serviceerr.Code
		expectedHTTPStatus int
	}{
		{
			name:               "CodeInvalidRequest returns BadRequest",
			code:               serviceerr.CodeInvalidRequest,
			expectedHTTPStatus: http.StatusBadRequest,
		},
		{
			name:               "CodeCallbackParamsMissing returns BadRequest",
			code:               serviceerr.CodeCallbackParamsMissing,
			expectedHTTPStatus: http.StatusBadRequest,
		},
		{
			name:               "CodeInvalidCredentials returns Unauthorized",
			code:               serviceerr.CodeInvalidCredentials,
			expectedHTTPStatus: http.StatusUnauthorized,
		},
		{
			name:               "CodeInvalidNonce returns Unauthorized",
			code:               serviceerr.CodeInvalidNonce,
			expectedHTTPStatus: http.StatusUnauthorized,
		},
		{
			name:               "CodeProviderNotAllowed returns Forbidden",
			code:               serviceerr.CodeProviderNotAllowed,
			expectedHTTPStatus: http.StatusForbidden,
		},
		{
			name:               "CodePersistenceUnavailable returns ServiceUnavailable",
			code:               serviceerr.CodePersistenceUnavailable,
			expectedHTTPStatus: http.StatusServiceUnavailable,
		},
		{
			name:               "CodeOIDCDiscoveryFailed returns ServiceUnavailable",
			code:               serviceerr.CodeOIDCDiscoveryFailed,
			expectedHTTPStatus: http.StatusServiceUnavailable,
		},
		{
			name:               "CodeServerError returns InternalServerError",
			code:               serviceerr.CodeServerError,
			expectedHTTPStatus: http.StatusInternalServerError,
		},
		{
			name:               "Unknown code returns InternalServerError",
			code:               serviceerr.Code("something_else"),
			expectedHTTPStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &serviceerr.Error{Err: tt.code}
			assert.Equal(t, tt.expectedHTTPStatus, err.HTTPStatus())
		})
	}
}

func TestError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := serviceerr.New(serviceerr.CodeInvalidCredentials, cause)

	assert.ErrorIs(t, err, serviceerr.ErrInvalidCredentials)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, serviceerr.ErrUnauthenticated)
}

func TestFrom(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, serviceerr.From(nil))
	})

	t.Run("typed error passes through", func(t *testing.T) {
		in := serviceerr.New(serviceerr.CodeInvalidState, nil)
		assert.Same(t, in, serviceerr.From(in))
	})

	t.Run("untyped error becomes server error", func(t *testing.T) {
		cause := errors.New("boom")
		got := serviceerr.From(cause)
		assert.Equal(t, serviceerr.CodeServerError, got.Err)
		assert.ErrorIs(t, got, cause)
	})
}
