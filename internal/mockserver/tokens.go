package mockserver

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds carried in the typ claim.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// Claims are the JWT claims issued by the mock backend.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// Tokens is an issued credential pair.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (s *Server) sign(userID, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: kind,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// IssueTokens signs an access/refresh pair for userID.
func (s *Server) IssueTokens(userID string, accessTTL, refreshTTL time.Duration) (Tokens, error) {
	access, err := s.sign(userID, TokenAccess, accessTTL)
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err := s.sign(userID, TokenRefresh, refreshTTL)
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return Tokens{Access: access, Refresh: refresh}, nil
}

// verify checks signature, expiry and token kind and returns the subject.
func (s *Server) verify(token, kind string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Type != kind {
		return "", fmt.Errorf("%w: got %q", ErrWrongTokenType, claims.Type)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
