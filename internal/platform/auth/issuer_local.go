package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer mints delegated tokens. Transient failures must wrap
// ErrIssuerUnavailable so the caller can retry them.
type Issuer interface {
	Mint(ctx context.Context, req MintRequest) (*Token, error)
}

// MintRequest describes the token the service wants.
type MintRequest struct {
	Scopes   CapabilitySet
	Lifetime time.Duration
}

// LocalIssuer signs HS256 tokens in-process with a key shared with the
// directory service.
type LocalIssuer struct {
	key      []byte
	issuer   string
	subject  string
	audience string
	now      func() time.Time
}

// NewLocalIssuer creates an in-process issuer. The key must be at least
// 32 bytes.
func NewLocalIssuer(key []byte, issuer, subject, audience string) (*LocalIssuer, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("signing key must be at least 32 bytes, got %d", len(key))
	}
	return &LocalIssuer{
		key:      key,
		issuer:   issuer,
		subject:  subject,
		audience: audience,
		now:      time.Now,
	}, nil
}

func (l *LocalIssuer) Mint(_ context.Context, req MintRequest) (*Token, error) {
	now := l.now().UTC().Truncate(time.Second)
	claims := &DelegatedClaims{
		Scope: req.Scopes.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    l.issuer,
			Subject:   l.subject,
			Audience:  jwt.ClaimStrings{l.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(req.Lifetime)),
		},
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.key)
	if err != nil {
		return nil, fmt.Errorf("sign delegated token: %w", err)
	}
	return tokenFromClaims(raw, claims)
}

// Verify parses and validates a token minted by this issuer as of now.
func (l *LocalIssuer) Verify(raw string, now time.Time) (*Token, error) {
	claims := &DelegatedClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) { return l.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(l.issuer),
		jwt.WithAudience(l.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("verify delegated token: %w", err)
	}
	return tokenFromClaims(raw, claims)
}
