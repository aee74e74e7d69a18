package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/carlosapgomes/eqmd-sub012/internal/platform/metrics"
)

// Config controls where and how audit segments are written.
type Config struct {
	Dir           string
	Location      *time.Location
	RetentionDays int
	Buffer        int
}

// Recorder is the write side of the audit trail.
type Recorder interface {
	Record(e Entry)
}

// Logger appends entries to the current day's segment from a single writer
// goroutine, so each line is written whole and callers never block on disk.
// A new segment is opened at the first entry of each calendar day in the
// configured location; opening a segment also applies retention.
type Logger struct {
	cfg       Config
	retention Retention
	logger    zerolog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	done   chan struct{}

	// owned by the writer goroutine
	file *os.File
	day  string
}

// New creates the audit directory if needed and starts the writer.
func New(cfg Config, logger zerolog.Logger) (*Logger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit directory is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit directory %s: %w", cfg.Dir, err)
	}

	log := logger.With().Str("component", "audit").Logger()
	l := &Logger{
		cfg: cfg,
		retention: Retention{
			Dir:      cfg.Dir,
			Days:     cfg.RetentionDays,
			Location: cfg.Location,
			Logger:   log,
		},
		logger: log,
		now:    time.Now,
		queue:  make(chan Entry, cfg.Buffer),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Record queues e for writing. A zero timestamp is replaced with the current
// time. Entries recorded after Close are dropped with a warning.
//
// Entries are never dropped while open: when the queue is full Record logs
// a warning, counts the event and blocks until the writer catches up, which
// stalls the calling room worker.
func (l *Logger) Record(e Entry) {
	if e.TS.IsZero() {
		e.TS = l.now()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn().Str("room_id", e.RoomID).Str("action", e.Action).Msg("audit entry after close dropped")
		return
	}
	select {
	case l.queue <- e:
		return
	default:
	}

	metrics.AuditBackpressure.Inc()
	l.logger.Warn().
		Int("buffer", cap(l.queue)).
		Str("room_id", e.RoomID).
		Msg("audit queue full, waiting for writer")
	l.queue <- e
}

// Close flushes queued entries and closes the current segment.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

// Retention returns the policy applied at rotation.
func (l *Logger) Retention() Retention { return l.retention }

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.queue {
		l.write(e)
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			l.logger.Error().Err(err).Msg("close audit segment")
		}
	}
}

func (l *Logger) write(e Entry) {
	day := e.TS.In(l.cfg.Location).Format(dayLayout)
	if l.file == nil || day != l.day {
		if err := l.rotate(e.TS); err != nil {
			l.logger.Error().Err(err).Str("day", day).Msg("open audit segment")
			return
		}
	}

	line, err := e.marshal(l.cfg.Location)
	if err != nil {
		l.logger.Error().Err(err).Msg("encode audit entry")
		return
	}
	if _, err := l.file.Write(line); err != nil {
		l.logger.Error().Err(err).Str("segment", l.file.Name()).Msg("write audit entry")
		return
	}
	metrics.AuditEntries.WithLabelValues(string(e.Direction)).Inc()
}

func (l *Logger) rotate(ts time.Time) error {
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			l.logger.Error().Err(err).Msg("close audit segment")
		}
		l.file = nil
	}

	local := ts.In(l.cfg.Location)
	path := filepath.Join(l.cfg.Dir, SegmentName(local))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	l.file = f
	l.day = local.Format(dayLayout)
	l.logger.Info().Str("segment", path).Msg("audit segment opened")

	if _, err := l.retention.Prune(ts); err != nil {
		l.logger.Error().Err(err).Msg("audit retention")
	}
	return nil
}
