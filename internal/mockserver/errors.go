package mockserver

import "errors"

var (
	ErrMissingToken   = errors.New("missing bearer token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrWrongTokenType = errors.New("wrong token type")
	ErrEmptySecret    = errors.New("signing secret cannot be empty")
)
