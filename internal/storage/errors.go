package storage

import (
	"errors"

	"learnsync/pkg/interfaces"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = interfaces.ErrNotFound

	ErrClosed        = errors.New("storage backend is closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrEmptyKey      = errors.New("storage key cannot be empty")
	ErrWriteTimeout  = errors.New("storage write timeout")
)
