package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRetentionDays is the audit retention horizon.
const DefaultRetentionDays = 60

const (
	segmentPrefix = "audit-"
	segmentSuffix = ".jsonl"
	dayLayout     = "2006-01-02"
)

// SegmentName returns the file name holding entries for the given calendar day.
func SegmentName(day time.Time) string {
	return segmentPrefix + day.Format(dayLayout) + segmentSuffix
}

// segmentDay parses a segment file name back into its calendar day.
func segmentDay(name string, loc *time.Location) (time.Time, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
	day, err := time.ParseInLocation(dayLayout, raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// Retention deletes segments whose calendar day is older than the horizon.
type Retention struct {
	Dir      string
	Days     int
	Location *time.Location
	Logger   zerolog.Logger
}

// Cutoff returns the oldest calendar day still retained as of now.
func (r Retention) Cutoff(now time.Time) time.Time {
	days := r.Days
	if days <= 0 {
		days = DefaultRetentionDays
	}
	local := now.In(r.location())
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.location())
	return today.AddDate(0, 0, -days)
}

// Prune removes expired segments and returns their names in day order.
// Files that are not audit segments are left alone.
func (r Retention) Prune(now time.Time) ([]string, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("read audit directory %s: %w", r.Dir, err)
	}

	cutoff := r.Cutoff(now)
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		day, ok := segmentDay(entry.Name(), r.location())
		if !ok || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.Dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("remove audit segment %s: %w", entry.Name(), err)
		}
		removed = append(removed, entry.Name())
	}
	sort.Strings(removed)

	if len(removed) > 0 {
		r.Logger.Info().
			Int("count", len(removed)).
			Str("cutoff", cutoff.Format(dayLayout)).
			Msg("expired audit segments deleted")
	}
	return removed, nil
}

func (r Retention) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}
