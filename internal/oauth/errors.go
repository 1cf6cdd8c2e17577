package oauth

import "errors"

var (
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidCodeVerifier = errors.New("invalid code verifier")
	ErrRetrieveToken       = errors.New("failed to retrieve token")
	ErrInvalidTokenSchema  = errors.New("invalid token response")
	ErrInvalidToken        = errors.New("invalid token")
	ErrInvalidNonce        = errors.New("invalid nonce")
	ErrFetchUser           = errors.New("failed to fetch user")
	ErrInvalidUserSchema   = errors.New("invalid user")
)
