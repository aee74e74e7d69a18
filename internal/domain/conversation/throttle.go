package conversation

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RoomLimiter throttles commands per room with a token bucket.
type RoomLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu    sync.Mutex
	rooms map[string]*roomBucket
}

type roomBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRoomLimiter allows perMinute commands per room on average with the
// given burst. A non-positive perMinute disables throttling.
func NewRoomLimiter(perMinute, burst int) *RoomLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RoomLimiter{
		limit: limit,
		burst: burst,
		idle:  10 * time.Minute,
		rooms: make(map[string]*roomBucket),
	}
}

// AllowAt reports whether roomID may run another command at now.
func (l *RoomLimiter) AllowAt(roomID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.rooms[roomID]
	if !ok {
		if len(l.rooms) >= 1024 {
			l.pruneLocked(now)
		}
		b = &roomBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.rooms[roomID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *RoomLimiter) pruneLocked(now time.Time) {
	for room, b := range l.rooms {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.rooms, room)
		}
	}
}
