// Package search queries the directory for in-care admissions and ranks
// them against a parsed search command.
package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/carlosapgomes/eqmd-sub012/internal/domain/command"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/auth"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/directory"
)

// Directory is the admission search half of the directory client.
type Directory interface {
	SearchAdmissions(ctx context.Context, tok *auth.Token, q directory.Query) ([]directory.Admission, error)
}

// TokenIssuer mints delegated tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, caps ...auth.Capability) (*auth.Token, error)
}

type Engine struct {
	dir    Directory
	tokens TokenIssuer
	limit  int
	logger zerolog.Logger
}

func NewEngine(dir Directory, tokens TokenIssuer, logger zerolog.Logger) *Engine {
	return &Engine{
		dir:    dir,
		tokens: tokens,
		limit:  MaxResults,
		logger: logger.With().Str("component", "search").Logger(),
	}
}

// Search returns up to MaxResults ranked candidates. Only INPATIENT and
// EMERGENCY admissions are ever requested or returned.
func (e *Engine) Search(ctx context.Context, s command.Search) ([]Candidate, error) {
	if s.Empty() {
		return nil, command.ErrEmptySearch
	}
	tok, err := e.tokens.Issue(ctx, auth.PatientSearch)
	if err != nil {
		return nil, err
	}

	admissions, err := e.dir.SearchAdmissions(ctx, tok, directory.Query{
		Statuses:     directory.InCareStatuses,
		Names:        s.Names,
		RecordNumber: s.RecordNumber,
		Bed:          s.Bed,
		Ward:         s.Ward,
	})
	if err != nil {
		return nil, fmt.Errorf("search admissions: %w", err)
	}

	ranked := Rank(admissions, s, e.limit)
	e.logger.Debug().
		Int("upstream", len(admissions)).
		Int("ranked", len(ranked)).
		Msg("search ranked")
	return ranked, nil
}
