package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/carlosapgomes/eqmd-sub012/internal/platform/metrics"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/retry"
)

// ServiceConfig is the bot client's registration as seen by the token service.
type ServiceConfig struct {
	ClientID  string
	MaxScopes CapabilitySet
	Lifetime  time.Duration
	Retry     retry.Policy
}

// TokenService hands out delegated tokens on demand. Nothing it issues is
// persisted; the ledger keeps identifiers only.
type TokenService struct {
	issuer Issuer
	cfg    ServiceConfig
	ledger *Ledger
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a TokenService.
type Option func(*TokenService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) { s.now = now }
}

func NewTokenService(issuer Issuer, cfg ServiceConfig, ledger *Ledger, logger zerolog.Logger, opts ...Option) (*TokenService, error) {
	if issuer == nil {
		return nil, fmt.Errorf("issuer is required")
	}
	if cfg.MaxScopes.Empty() || !cfg.MaxScopes.Known() {
		return nil, fmt.Errorf("registered scope set is empty or invalid")
	}
	if cfg.Lifetime <= 0 || cfg.Lifetime > MaxTokenLifetime {
		cfg.Lifetime = MaxTokenLifetime
	}
	if ledger == nil {
		ledger = NewLedger()
	}
	s := &TokenService{
		issuer: issuer,
		cfg:    cfg,
		ledger: ledger,
		logger: logger.With().Str("component", "token-service").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ledger exposes the issued-token ledger.
func (s *TokenService) Ledger() *Ledger { return s.ledger }

// Issue returns a token carrying exactly the requested capabilities.
// Requests beyond the registered maximum fail with ErrScopeViolation before
// the issuer is contacted. An unavailable issuer is retried per the
// configured policy and then reported as ErrIssuerUnavailable.
func (s *TokenService) Issue(ctx context.Context, caps ...Capability) (*Token, error) {
	requested := NewCapabilitySet(caps...)
	if requested.Empty() {
		return nil, fmt.Errorf("at least one scope is required")
	}
	if !requested.SubsetOf(s.cfg.MaxScopes) {
		metrics.TokensIssued.WithLabelValues("scope_violation").Inc()
		return nil, fmt.Errorf("%w: requested %q, registered %q for client %q",
			ErrScopeViolation, requested.String(), s.cfg.MaxScopes.String(), s.cfg.ClientID)
	}

	req := MintRequest{Scopes: requested, Lifetime: s.cfg.Lifetime}
	var tok *Token
	err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) retry.Result {
		t, err := s.issuer.Mint(ctx, req)
		switch {
		case err == nil:
			tok = t
			return retry.OK()
		case errors.Is(err, ErrIssuerUnavailable):
			s.logger.Warn().Err(err).Msg("token issuer unavailable")
			return retry.Retry(err)
		default:
			return retry.Fail(err)
		}
	})
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, ErrIssuerUnavailable):
			outcome = "unavailable"
		case errors.Is(err, ErrScopeViolation):
			outcome = "scope_violation"
		}
		metrics.TokensIssued.WithLabelValues(outcome).Inc()
		return nil, fmt.Errorf("issue delegated token: %w", err)
	}

	if !tok.Scopes.SubsetOf(requested) {
		metrics.TokensIssued.WithLabelValues("scope_violation").Inc()
		return nil, fmt.Errorf("%w: issuer granted %q for request %q", ErrScopeViolation, tok.Scopes.String(), requested.String())
	}
	s.clampLifetime(tok)
	s.ledger.Record(tok)
	metrics.TokensIssued.WithLabelValues("ok").Inc()

	s.logger.Debug().Object("token", tok).Msg("delegated token issued")
	return tok, nil
}

// Check reports whether tok may still be presented to the directory.
func (s *TokenService) Check(tok *Token) error {
	if err := tok.UsableAt(s.now()); err != nil {
		return err
	}
	if s.ledger.IsRevoked(tok.ID) {
		return fmt.Errorf("%w: %s", ErrTokenRevoked, tok.ID)
	}
	return nil
}

// clampLifetime shortens the local validity window to the configured
// lifetime and never beyond MaxTokenLifetime, whatever the issuer returned.
func (s *TokenService) clampLifetime(tok *Token) {
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = s.now()
	}
	limit := tok.IssuedAt.Add(s.cfg.Lifetime)
	if tok.ExpiresAt.IsZero() || tok.ExpiresAt.After(limit) {
		tok.ExpiresAt = limit
	}
}
