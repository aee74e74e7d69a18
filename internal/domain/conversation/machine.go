package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carlosapgomes/eqmd-sub012/internal/domain/command"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/search"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/visibility"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/auth"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/directory"
)

// DefaultSelectionTTL is how long a result list accepts numeric replies.
const DefaultSelectionTTL = 5 * time.Minute

type Searcher interface {
	Search(ctx context.Context, s command.Search) ([]search.Candidate, error)
}

type VisibilityFilter interface {
	FilterVisible(ctx context.Context, candidates []search.Candidate, identity uuid.UUID) ([]search.Candidate, error)
	Check(ctx context.Context, identity, patientID uuid.UUID) (visibility.Decision, error)
}

type DemographicsSource interface {
	Demographics(ctx context.Context, tok *auth.Token, patientID uuid.UUID) (*directory.Demographics, error)
}

type TokenIssuer interface {
	Issue(ctx context.Context, caps ...auth.Capability) (*auth.Token, error)
}

// Input is one authorized command for a room.
type Input struct {
	RoomID   string
	Identity uuid.UUID
	Command  command.Command
}

// Reply is the text to send back and the action recorded for it.
type Reply struct {
	Text   string
	Action string
}

// Actions recorded in the audit trail and metrics.
const (
	ActionSearch           = "search"
	ActionNoResults        = "search_no_results"
	ActionSelect           = "select"
	ActionInvalidSelection = "select_invalid"
	ActionExpired          = "select_expired"
	ActionNoPending        = "select_no_pending"
	ActionDenied           = "select_denied"
	ActionNotFound         = "select_not_found"
	ActionUnavailable      = "unavailable"
)

type MachineConfig struct {
	TTL      time.Duration
	Policy   visibility.DenialPolicy
	Location *time.Location
	Now      func() time.Time
}

// Machine moves a room between Idle and AwaitingSelection. Callers must
// serialize Handle per room.
type Machine struct {
	store   Store
	search  Searcher
	filter  VisibilityFilter
	details DemographicsSource
	tokens  TokenIssuer
	cfg     MachineConfig
	logger  zerolog.Logger
}

func NewMachine(store Store, s Searcher, filter VisibilityFilter, details DemographicsSource, tokens TokenIssuer, cfg MachineConfig, logger zerolog.Logger) *Machine {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSelectionTTL
	}
	if cfg.Policy == "" {
		cfg.Policy = visibility.PolicyDistinct
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Machine{
		store:   store,
		search:  s,
		filter:  filter,
		details: details,
		tokens:  tokens,
		cfg:     cfg,
		logger:  logger.With().Str("component", "conversation").Logger(),
	}
}

// Handle applies one command and returns the reply. Upstream failures are
// logged and answered with a generic message.
func (m *Machine) Handle(ctx context.Context, in Input) Reply {
	log := m.logger.With().Str("room_id", in.RoomID).Logger()
	switch cmd := in.Command.(type) {
	case command.Search:
		return m.handleSearch(ctx, log, in, cmd)
	case command.Select:
		return m.handleSelect(ctx, log, in, cmd)
	default:
		return Reply{Text: command.HelpText, Action: ActionHelp}
	}
}

func (m *Machine) handleSearch(ctx context.Context, log zerolog.Logger, in Input, cmd command.Search) Reply {
	if prev, err := m.store.Get(ctx, in.RoomID); err == nil {
		if err := m.store.Delete(ctx, in.RoomID); err != nil {
			log.Error().Err(err).Msg("discard pending selection")
			return unavailable()
		}
		log.Info().Int("candidates", len(prev.Candidates)).Msg("pending selection discarded by new search")
	} else if !errors.Is(err, ErrNoPending) {
		log.Error().Err(err).Msg("load pending selection")
		return unavailable()
	}

	ranked, err := m.search.Search(ctx, cmd)
	if err != nil {
		log.Error().Err(err).Msg("search failed")
		return unavailable()
	}
	visible, err := m.filter.FilterVisible(ctx, ranked, in.Identity)
	if err != nil {
		log.Error().Err(err).Msg("visibility filter failed")
		return unavailable()
	}
	if len(visible) == 0 {
		return Reply{Text: msgNoResults, Action: ActionNoResults}
	}

	now := m.cfg.Now()
	sel := &PendingSelection{
		RoomID:    in.RoomID,
		Identity:  in.Identity,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}
	for _, c := range visible {
		sel.Candidates = append(sel.Candidates, c.PatientID)
	}
	if err := m.store.Put(ctx, sel); err != nil {
		log.Error().Err(err).Msg("store pending selection")
		return unavailable()
	}
	return Reply{Text: renderCandidates(visible), Action: ActionSearch}
}

func (m *Machine) handleSelect(ctx context.Context, log zerolog.Logger, in Input, cmd command.Select) Reply {
	sel, err := m.store.Get(ctx, in.RoomID)
	if errors.Is(err, ErrNoPending) {
		return Reply{Text: msgNoPending, Action: ActionNoPending}
	}
	if err != nil {
		log.Error().Err(err).Msg("load pending selection")
		return unavailable()
	}
	if sel.Identity != in.Identity {
		m.discard(ctx, log, in.RoomID)
		return Reply{Text: msgNoPending, Action: ActionNoPending}
	}

	now := m.cfg.Now()
	if !sel.ValidAt(now) {
		m.discard(ctx, log, in.RoomID)
		return Reply{Text: msgExpired, Action: ActionExpired}
	}
	if cmd.Index < 1 || cmd.Index > len(sel.Candidates) {
		return Reply{Text: msgInvalidSelection(len(sel.Candidates)), Action: ActionInvalidSelection}
	}
	patientID := sel.Candidates[cmd.Index-1]

	decision, err := m.filter.Check(ctx, in.Identity, patientID)
	if err != nil {
		log.Error().Err(err).Msg("visibility check failed")
		return unavailable()
	}
	if decision == visibility.Allowed {
		tok, err := m.tokens.Issue(ctx, auth.PatientRead)
		if err != nil {
			log.Error().Err(err).Msg("issue token for demographics")
			return unavailable()
		}
		d, err := m.details.Demographics(ctx, tok, patientID)
		switch {
		case errors.Is(err, directory.ErrNotFound):
			decision = visibility.NotFound
		case err != nil:
			log.Error().Err(err).Msg("fetch demographics")
			return unavailable()
		default:
			m.discard(ctx, log, in.RoomID)
			return Reply{Text: renderDemographics(d, m.cfg.Now(), m.cfg.Location), Action: ActionSelect}
		}
	}

	m.discard(ctx, log, in.RoomID)
	if m.cfg.Policy.Apply(decision) == visibility.NotFound {
		return Reply{Text: msgNotFound, Action: ActionNotFound}
	}
	return Reply{Text: msgDenied, Action: ActionDenied}
}

func (m *Machine) discard(ctx context.Context, log zerolog.Logger, roomID string) {
	if err := m.store.Delete(ctx, roomID); err != nil {
		log.Error().Err(err).Msg("delete pending selection")
	}
}

func unavailable() Reply {
	return Reply{Text: msgUnavailable, Action: ActionUnavailable}
}
