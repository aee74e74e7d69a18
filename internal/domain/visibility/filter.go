// Package visibility applies the host system's patient-visibility rules
// to search candidates and selections.
package visibility

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carlosapgomes/eqmd-sub012/internal/domain/search"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/auth"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/directory"
)

// Decision is the outcome of a single visibility check.
type Decision int

const (
	Allowed Decision = iota
	Denied
	NotFound
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// DenialPolicy decides whether users may tell "denied" from "not found".
type DenialPolicy string

const (
	// PolicyDistinct reports denial and absence separately.
	PolicyDistinct DenialPolicy = "distinct"
	// PolicyUniform reports both as denial.
	PolicyUniform DenialPolicy = "uniform"
)

func ParseDenialPolicy(s string) (DenialPolicy, error) {
	switch p := DenialPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyDistinct, PolicyUniform:
		return p, nil
	case "":
		return PolicyDistinct, nil
	default:
		return "", fmt.Errorf("unknown denial policy %q (want distinct or uniform)", s)
	}
}

// Apply maps a decision to what the user is allowed to learn.
func (p DenialPolicy) Apply(d Decision) Decision {
	if p == PolicyUniform && d == NotFound {
		return Denied
	}
	return d
}

// Directory is the visibility half of the directory client.
type Directory interface {
	CanView(ctx context.Context, tok *auth.Token, identity, patientID uuid.UUID) (bool, error)
}

type TokenIssuer interface {
	Issue(ctx context.Context, caps ...auth.Capability) (*auth.Token, error)
}

type Filter struct {
	dir    Directory
	tokens TokenIssuer
	logger zerolog.Logger
}

func NewFilter(dir Directory, tokens TokenIssuer, logger zerolog.Logger) *Filter {
	return &Filter{
		dir:    dir,
		tokens: tokens,
		logger: logger.With().Str("component", "visibility").Logger(),
	}
}

// FilterVisible keeps the candidates identity may view, preserving order.
// Candidates the directory no longer knows are dropped as well.
func (f *Filter) FilterVisible(ctx context.Context, candidates []search.Candidate, identity uuid.UUID) ([]search.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	tok, err := f.tokens.Issue(ctx, auth.PatientRead)
	if err != nil {
		return nil, err
	}

	visible := make([]search.Candidate, 0, len(candidates))
	for _, c := range candidates {
		d, err := f.decide(ctx, tok, identity, c.PatientID)
		if err != nil {
			return nil, err
		}
		if d == Allowed {
			visible = append(visible, c)
		}
	}
	if dropped := len(candidates) - len(visible); dropped > 0 {
		f.logger.Debug().Int("dropped", dropped).Str("identity", identity.String()).Msg("candidates filtered")
	}
	return visible, nil
}

// Check decides a single patient, used again when a selection is resolved.
func (f *Filter) Check(ctx context.Context, identity, patientID uuid.UUID) (Decision, error) {
	tok, err := f.tokens.Issue(ctx, auth.PatientRead)
	if err != nil {
		return Denied, err
	}
	return f.decide(ctx, tok, identity, patientID)
}

func (f *Filter) decide(ctx context.Context, tok *auth.Token, identity, patientID uuid.UUID) (Decision, error) {
	ok, err := f.dir.CanView(ctx, tok, identity, patientID)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		return NotFound, nil
	case err != nil:
		return Denied, fmt.Errorf("visibility check: %w", err)
	case ok:
		return Allowed, nil
	default:
		return Denied, nil
	}
}
