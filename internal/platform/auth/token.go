package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// MaxTokenLifetime is the hard ceiling on any delegated token.
const MaxTokenLifetime = 10 * time.Minute

var (
	ErrScopeViolation    = errors.New("requested scope exceeds the bot client's registered scopes")
	ErrIssuerUnavailable = errors.New("token issuer unavailable")
	ErrTokenExpired      = errors.New("delegated token expired")
	ErrTokenRevoked      = errors.New("delegated token revoked")
)

// Token is a short-lived delegated credential. It is held only in memory for
// the duration of the call that consumes it. String and zerolog rendering
// expose the identifier only.
type Token struct {
	ID        string
	Issuer    string
	Subject   string
	Audience  string
	Scopes    CapabilitySet
	IssuedAt  time.Time
	ExpiresAt time.Time

	raw string
}

// Bearer returns the serialized credential for an Authorization header.
func (t *Token) Bearer() string { return t.raw }

// Allows reports whether the token carries capability c.
func (t *Token) Allows(c Capability) bool { return t.Scopes.Has(c) }

// UsableAt fails with ErrTokenExpired once now reaches the expiry.
func (t *Token) UsableAt(now time.Time) error {
	if !now.Before(t.ExpiresAt) {
		return fmt.Errorf("%w: token %s expired at %s", ErrTokenExpired, t.ID, t.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func (t Token) String() string { return "token(" + t.ID + ")" }

func (t Token) GoString() string { return t.String() }

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (t *Token) MarshalZerologObject(e *zerolog.Event) {
	e.Str("token_id", t.ID).
		Str("scope", t.Scopes.String()).
		Time("expires_at", t.ExpiresAt)
}

// DelegatedClaims is the JWT body of a delegated token.
type DelegatedClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

func tokenFromClaims(raw string, c *DelegatedClaims) (*Token, error) {
	scopes, err := ParseCapabilities(c.Scope)
	if err != nil {
		return nil, err
	}
	tok := &Token{
		ID:      c.ID,
		Issuer:  c.Issuer,
		Subject: c.Subject,
		Scopes:  scopes,
		raw:     raw,
	}
	if len(c.Audience) > 0 {
		tok.Audience = c.Audience[0]
	}
	if c.IssuedAt != nil {
		tok.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		tok.ExpiresAt = c.ExpiresAt.Time
	}
	return tok, nil
}
