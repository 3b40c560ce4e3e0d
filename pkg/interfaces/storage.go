package interfaces

import "context"

// SnapshotBackend is durable key/value storage for serialized session state.
// FUNCTIONAL DISCOVERY: one writer per key is assumed; concurrent writers get
// last-write-wins semantics
type SnapshotBackend interface {
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
