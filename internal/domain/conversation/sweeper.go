package conversation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/carlosapgomes/eqmd-sub012/internal/platform/roomqueue"
)

// Submitter queues work behind a room's other events.
type Submitter interface {
	Submit(key string, job roomqueue.Job) error
}

// Sweeper periodically removes expired selections. Each removal is queued
// on the room's worker so it never races with that room's commands.
type Sweeper struct {
	store    Store
	queue    Submitter
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewSweeper(store Store, queue Submitter, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		queue:    queue,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("component", "selection-sweeper").Logger(),
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce queues a sweep for every room expired at this moment and
// returns how many were queued.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	rooms, err := s.store.Expired(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("list expired selections")
		return 0
	}
	queued := 0
	for _, room := range rooms {
		room := room
		err := s.queue.Submit(room, func(ctx context.Context) {
			// Re-checked at run time: a newer search may have replaced it.
			swept, err := s.store.Sweep(ctx, room, s.now())
			if err != nil {
				s.logger.Error().Err(err).Str("room_id", room).Msg("sweep selection")
				return
			}
			if swept {
				s.logger.Debug().Str("room_id", room).Msg("expired selection swept")
			}
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("room_id", room).Msg("sweep not queued")
			continue
		}
		queued++
	}
	return queued
}
