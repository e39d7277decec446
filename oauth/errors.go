package oauth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAuthorizationURL = errors.New("could not construct authorization url")
	ErrSecureRandomUnavailable = errors.New("secure random source unavailable")
	ErrUserCancelled           = errors.New("authentication cancelled")
	ErrTimeout                 = errors.New("authorization attempt timed out")
	ErrMissingVerifier         = errors.New("missing pkce code verifier")
	ErrMalformedTokenResponse  = errors.New("could not parse token response")
	ErrStateMismatch           = errors.New("state parameter does not match authorization request")
	ErrNoAuthorizationCode     = errors.New("no authorization code received")
)

// ProviderError is an error the authorization server reported via the
// callback's error parameter.
type ProviderError struct {
	Code string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned error: %s", e.Code)
}

// StatusError is a non-2xx response from the token endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d", e.Code)
}
