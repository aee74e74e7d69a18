package auth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrUnknownToken is returned when revoking an id the ledger never saw or
// has already forgotten.
var ErrUnknownToken = errors.New("unknown token id")

type ledgerEntry struct {
	Scopes    CapabilitySet
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// LedgerEntry is the public view of an issued token. It never contains the
// credential itself.
type LedgerEntry struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// Ledger tracks the identifiers of issued delegated tokens until they expire,
// so every issuance can be correlated with audit records and revoked early.
// Safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]ledgerEntry
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]ledgerEntry)}
}

// Record remembers tok until its expiry.
func (l *Ledger) Record(tok *Token) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[tok.ID] = ledgerEntry{
		Scopes:    tok.Scopes,
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
	}
}

// Revoke marks a live token as unusable.
func (l *Ledger) Revoke(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return ErrUnknownToken
	}
	e.Revoked = true
	l.entries[id] = e
	return nil
}

func (l *Ledger) IsRevoked(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.entries[id].Revoked
}

// Active returns the unexpired entries ordered by issuance time.
func (l *Ledger) Active(now time.Time) []LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LedgerEntry, 0, len(l.entries))
	for id, e := range l.entries {
		if !now.Before(e.ExpiresAt) {
			continue
		}
		out = append(out, LedgerEntry{
			ID:        id,
			Scope:     e.Scopes.String(),
			IssuedAt:  e.IssuedAt,
			ExpiresAt: e.ExpiresAt,
			Revoked:   e.Revoked,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}

// Cleanup forgets expired entries and returns how many were removed.
func (l *Ledger) Cleanup(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, e := range l.entries {
		if !now.Before(e.ExpiresAt) {
			delete(l.entries, id)
			n++
		}
	}
	return n
}

// Run calls Cleanup every interval until ctx is done.
func (l *Ledger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Cleanup(now)
		}
	}
}
