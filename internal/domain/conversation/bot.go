package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/carlosapgomes/eqmd-sub012/internal/domain/binding"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/command"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/audit"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/matrix"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/metrics"
)

type Resolver interface {
	Resolve(ctx context.Context, chatUserID string) (binding.Resolution, error)
}

type RoomChecker interface {
	IsUsersRoom(ctx context.Context, roomID string, key uuid.UUID) (bool, error)
}

type Sender interface {
	SendText(ctx context.Context, roomID, text string) (string, error)
}

// Actions decided before the state machine runs.
const (
	ActionUnbound      = "denied_unbound"
	ActionInactive     = "denied_inactive"
	ActionWrongRoom    = "wrong_room"
	ActionThrottled    = "throttled"
	ActionTooLong      = "too_long"
	ActionEmptySearch  = "empty_search"
	ActionBadFilter    = "invalid_filter"
	ActionHelp         = "help"
	actionInboundError = "invalid"
)

// Bot runs the inbound pipeline for one chat message: binding, room check,
// throttle, parse, state machine, reply. Every message yields an in and an
// out audit entry sharing an interaction id.
type Bot struct {
	resolver Resolver
	rooms    RoomChecker
	machine  *Machine
	sender   Sender
	audit    audit.Recorder
	limiter  *RoomLimiter
	now      func() time.Time
	logger   zerolog.Logger
}

func NewBot(resolver Resolver, rooms RoomChecker, machine *Machine, sender Sender, rec audit.Recorder, limiter *RoomLimiter, logger zerolog.Logger) *Bot {
	if limiter == nil {
		limiter = NewRoomLimiter(0, 1)
	}
	return &Bot{
		resolver: resolver,
		rooms:    rooms,
		machine:  machine,
		sender:   sender,
		audit:    rec,
		limiter:  limiter,
		now:      time.Now,
		logger:   logger.With().Str("component", "bot").Logger(),
	}
}

// HandleEvent processes one message. It must be called from the room's
// serialized worker.
func (b *Bot) HandleEvent(ctx context.Context, msg matrix.Message) {
	interaction := ulid.Make().String()
	log := b.logger.With().
		Str("room_id", msg.RoomID).
		Str("event_id", msg.EventID).
		Str("interaction_id", interaction).
		Logger()

	res, resolveErr := b.resolver.Resolve(ctx, msg.Sender)
	user := ""
	if resolveErr == nil {
		user = res.Key.String()
	}

	cmd, parseErr := command.Parse(msg.Body)
	inAction := actionInboundError
	if parseErr == nil {
		inAction = cmd.Action()
	}
	b.audit.Record(audit.Entry{
		TS:            b.now(),
		RoomID:        msg.RoomID,
		User:          user,
		Direction:     audit.In,
		Action:        inAction,
		Text:          msg.Body,
		InteractionID: interaction,
	})

	reply := unavailable()
	defer func() {
		b.respond(ctx, log, msg.RoomID, user, interaction, reply)
	}()

	reply = b.process(ctx, log, msg, res, resolveErr, cmd, parseErr)
}

func (b *Bot) process(ctx context.Context, log zerolog.Logger, msg matrix.Message, res binding.Resolution, resolveErr error, cmd command.Command, parseErr error) Reply {
	switch {
	case errors.Is(resolveErr, binding.ErrUnbound):
		log.Info().Str("sender", msg.Sender).Msg("message from unbound user")
		return Reply{Text: msgUnbound, Action: ActionUnbound}
	case resolveErr != nil:
		log.Error().Err(resolveErr).Msg("resolve binding")
		return unavailable()
	case !res.Active:
		log.Info().Str("sender", msg.Sender).Msg("message from inactive binding")
		return Reply{Text: msgInactive, Action: ActionInactive}
	}

	own, err := b.rooms.IsUsersRoom(ctx, msg.RoomID, res.Key)
	if err != nil {
		log.Error().Err(err).Msg("check dm room")
		return unavailable()
	}
	if !own {
		log.Warn().Str("surrogate_key", res.Key.String()).Msg("command outside the user's dm room")
		return Reply{Text: msgWrongRoom, Action: ActionWrongRoom}
	}

	if !b.limiter.AllowAt(msg.RoomID, b.now()) {
		return Reply{Text: msgThrottled, Action: ActionThrottled}
	}

	switch {
	case errors.Is(parseErr, command.ErrTooLong):
		return Reply{Text: msgTooLong(), Action: ActionTooLong}
	case errors.Is(parseErr, command.ErrEmptySearch):
		return Reply{Text: msgEmptySearch, Action: ActionEmptySearch}
	case errors.Is(parseErr, command.ErrInvalidFilter):
		return Reply{Text: msgInvalidFilter, Action: ActionBadFilter}
	case parseErr != nil:
		return Reply{Text: command.HelpText, Action: ActionHelp}
	}

	return b.machine.Handle(ctx, Input{RoomID: msg.RoomID, Identity: res.Key, Command: cmd})
}

func (b *Bot) respond(ctx context.Context, log zerolog.Logger, roomID, user, interaction string, reply Reply) {
	if _, err := b.sender.SendText(ctx, roomID, reply.Text); err != nil {
		log.Error().Err(err).Msg("send reply")
	}
	b.audit.Record(audit.Entry{
		TS:            b.now(),
		RoomID:        roomID,
		User:          user,
		Direction:     audit.Out,
		Action:        reply.Action,
		Text:          reply.Text,
		InteractionID: interaction,
	})
	metrics.CommandsTotal.WithLabelValues(reply.Action).Inc()
}
