package auth

import "errors"

var (
	ErrNoCredential   = errors.New("no valid access credential available")
	ErrMalformedToken = errors.New("malformed token")
	ErrRefreshFailed  = errors.New("token refresh failed")
)
