package search

import (
	"sort"
	"strings"

	"github.com/carlosapgomes/eqmd-sub012/internal/domain/command"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/directory"
)

// MaxResults is how many candidates a search returns.
const MaxResults = 5

// Score weights. A single filter hit outweighs any name overlap.
const (
	filterHit   = 10
	nameExact   = 3
	namePrefix  = 2
	nameContain = 1
)

// Candidate is a ranked admission. Score is only meaningful relative to
// other candidates of the same search.
type Candidate struct {
	directory.Admission
	Score int
}

// Rank keeps the in-care admissions satisfying every criterion of s,
// orders them by score, then most recent admission, then patient id, and
// returns at most limit of them.
func Rank(admissions []directory.Admission, s command.Search, limit int) []Candidate {
	c := compile(s)
	var out []Candidate
	for _, a := range admissions {
		if !a.Status.InCare() {
			continue
		}
		score, ok := c.score(a)
		if !ok {
			continue
		}
		out = append(out, Candidate{Admission: a, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].AdmittedAt.Equal(out[j].AdmittedAt) {
			return out[i].AdmittedAt.After(out[j].AdmittedAt)
		}
		return out[i].PatientID.String() < out[j].PatientID.String()
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type criteria struct {
	names  []string
	record string
	bed    string
	ward   string
}

func compile(s command.Search) criteria {
	c := criteria{
		record: Fold(s.RecordNumber),
		bed:    Fold(s.Bed),
		ward:   Fold(s.Ward),
	}
	for _, n := range s.Names {
		c.names = append(c.names, tokens(Fold(n))...)
	}
	return c
}

// score returns false when any criterion misses.
func (c criteria) score(a directory.Admission) (int, bool) {
	total := 0
	if c.record != "" {
		if Fold(a.RecordNumber) != c.record {
			return 0, false
		}
		total += filterHit
	}
	if c.bed != "" {
		if Fold(a.Bed) != c.bed {
			return 0, false
		}
		total += filterHit
	}
	if c.ward != "" {
		if Fold(a.Ward) != c.ward && Fold(a.WardName) != c.ward {
			return 0, false
		}
		total += filterHit
	}
	if len(c.names) > 0 {
		nameTokens := tokens(Fold(a.FullName))
		for _, term := range c.names {
			best := termScore(term, nameTokens)
			if best == 0 {
				return 0, false
			}
			total += best
		}
	}
	return total, true
}

func termScore(term string, nameTokens []string) int {
	best := 0
	for _, tok := range nameTokens {
		s := 0
		switch {
		case tok == term:
			s = nameExact
		case strings.HasPrefix(tok, term):
			s = namePrefix
		case strings.Contains(tok, term):
			s = nameContain
		}
		if s > best {
			best = s
		}
	}
	return best
}
