package progress

import "errors"

var (
	ErrClosed       = errors.New("reconciler closed")
	ErrStaleRefresh = errors.New("refresh superseded by a newer one")
)
