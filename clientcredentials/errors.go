package clientcredentials

import (
	"errors"
	"fmt"
)

// ErrMissingCredentials is returned when no client id or secret is configured.
var ErrMissingCredentials = errors.New("missing client credentials")

// ErrUpstreamIssuance matches every UpstreamIssuanceError with errors.Is.
var ErrUpstreamIssuance = errors.New("token issuance failed")

var (
	errNoAccessToken = errors.New("no access token in response")
	errNoExpiresIn   = errors.New("no expires_in in response")
)

// UpstreamIssuanceError reports that the identity provider rejected the
// request or could not be reached.
type UpstreamIssuanceError struct {
	Err error
}

func (e *UpstreamIssuanceError) Error() string {
	return fmt.Sprintf("%v: %v", ErrUpstreamIssuance, e.Err)
}

func (e *UpstreamIssuanceError) Unwrap() error {
	return e.Err
}

// Is matches ErrUpstreamIssuance.
func (e *UpstreamIssuanceError) Is(target error) bool {
	return target == ErrUpstreamIssuance
}
