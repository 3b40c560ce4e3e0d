package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"learnsync/pkg/interfaces"
)

// Refresher exchanges a refresh token for a new access token against the
// authentication endpoint.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
}

// TokenSource holds the signed-in user's credentials and hands out access
// tokens that are valid at the time of the call.
// ARCHITECTURAL DISCOVERY: refreshes are serialized under mu so concurrent
// channel reconnects trigger a single refresh request
type TokenSource struct {
	mu        sync.Mutex
	access    string
	refresh   string
	leeway    time.Duration
	refresher Refresher
	logger    *zap.Logger
	now       func() time.Time
}

var _ interfaces.TokenProvider = (*TokenSource)(nil)

// NewTokenSource creates a token source. refresher may be nil, in which case
// an expired access token cannot be renewed.
func NewTokenSource(access, refresh string, leeway time.Duration, refresher Refresher, logger *zap.Logger) *TokenSource {
	return &TokenSource{
		access:    access,
		refresh:   refresh,
		leeway:    leeway,
		refresher: refresher,
		logger:    logger.Named("auth"),
		now:       time.Now,
	}
}

// AccessToken returns a non-expired access token, refreshing it first when
// needed. It fails closed: any refresh problem yields ErrNoCredential.
func (s *TokenSource) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.access != "" && s.usable(s.access) {
		return s.access, nil
	}

	if s.refresh == "" || s.refresher == nil {
		return "", ErrNoCredential
	}
	if !s.usable(s.refresh) {
		s.logger.Warn("refresh token expired")
		return "", ErrNoCredential
	}

	access, err := s.refresher.RefreshAccessToken(ctx, s.refresh)
	if err != nil {
		s.logger.Warn("access token refresh failed", zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrNoCredential, err)
	}
	if !s.usable(access) {
		s.logger.Warn("refresh returned an unusable access token")
		return "", fmt.Errorf("%w: %w", ErrNoCredential, ErrRefreshFailed)
	}

	s.access = access
	s.logger.Debug("access token refreshed")
	return access, nil
}

// SetTokens replaces the held credentials, e.g. after sign-in.
func (s *TokenSource) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
}

// Clear drops all credentials (sign-out).
func (s *TokenSource) Clear() {
	s.SetTokens("", "")
}

// usable reports whether token parses and does not expire within the leeway.
func (s *TokenSource) usable(token string) bool {
	exp, err := TokenExpiry(token)
	if err != nil {
		return false
	}
	if exp.IsZero() {
		return true
	}
	return s.now().Add(s.leeway).Before(exp)
}

// TokenExpiry reads the exp claim without verifying the signature. The
// server remains the authority on validity; the client only needs to know
// whether sending the token is pointless. A token without exp returns the
// zero time.
func TokenExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}
