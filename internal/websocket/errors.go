package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Manager-related errors
var (
	ErrNilHandler         = errors.New("message handler cannot be nil")
	ErrNoCredential       = errors.New("no valid access credential")
	ErrChannelNotOpen     = errors.New("channel is not open")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
