package interfaces

import "context"

// TokenProvider hands out a currently valid access credential.
// ARCHITECTURAL DISCOVERY: refresh happens behind this boundary so socket code
// never sees refresh tokens
type TokenProvider interface {
	// AccessToken returns a non-expired access token, refreshing if needed.
	// It returns an error when no valid credential can be produced.
	AccessToken(ctx context.Context) (string, error)
}
