package app

import "errors"

var (
	ErrNotStarted     = errors.New("application not started")
	ErrAlreadyStarted = errors.New("application already started")
)
