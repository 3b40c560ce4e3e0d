package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// across packages that only share pkg/types
var (
	ErrInvalidChannel  = errors.New("invalid channel name")
	ErrInvalidEnvelope = errors.New("message has no type field")
	ErrInvalidJSON     = errors.New("invalid JSON data")
)
