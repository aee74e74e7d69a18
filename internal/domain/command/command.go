// Package command parses chat messages into bot commands.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxLength is the longest accepted message, in characters.
const MaxLength = 200

// SearchVerb starts a search command.
const SearchVerb = "/buscar"

// Filter prefixes, matched case-insensitively.
const (
	PrefixRecord = "reg:"
	PrefixBed    = "leito:"
	PrefixWard   = "enf:"
)

// HelpText is the reply to anything the parser does not recognize.
const HelpText = "Comando não reconhecido. Use:\n" +
	"/buscar <nome> [reg:<registro>] [leito:<leito>] [enf:<enfermaria>]\n" +
	"Depois responda com o número do paciente desejado."

var (
	ErrTooLong        = fmt.Errorf("command: message exceeds %d characters", MaxLength)
	ErrUnknownCommand = errors.New("command: unknown command")
	ErrEmptySearch    = errors.New("command: search needs at least one term")
	ErrInvalidFilter  = errors.New("command: invalid filter")
)

// Command is one of Search or Select.
type Command interface {
	// Action names the command in audit entries and metrics.
	Action() string
	isCommand()
}

// Search carries free-text name terms and typed filters. All of them
// must hold for a candidate to match.
type Search struct {
	Names        []string
	RecordNumber string
	Bed          string
	Ward         string
}

func (Search) Action() string { return "search" }
func (Search) isCommand()     {}

// Empty reports whether the search has no terms at all.
func (s Search) Empty() bool {
	return len(s.Names) == 0 && s.RecordNumber == "" && s.Bed == "" && s.Ward == ""
}

// Select is a bare numeric reply choosing a listed candidate (1-based).
type Select struct {
	Index int
}

func (Select) Action() string { return "select" }
func (Select) isCommand()     {}

// Parse turns raw message text into a Command. It never touches state or
// external services.
func Parse(raw string) (Command, error) {
	if utf8.RuneCountInString(raw) > MaxLength {
		return nil, ErrTooLong
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, ErrUnknownCommand
	}

	if isDigits(text) {
		n, err := strconv.Atoi(text)
		if err != nil {
			return nil, ErrUnknownCommand
		}
		return Select{Index: n}, nil
	}

	fields := strings.Fields(text)
	if !strings.EqualFold(fields[0], SearchVerb) {
		return nil, ErrUnknownCommand
	}
	return parseSearch(fields[1:])
}

func parseSearch(args []string) (Command, error) {
	var s Search
	for _, arg := range args {
		prefix, value, ok := splitFilter(arg)
		if !ok {
			// Terms without a letter or digit match nothing to rank on.
			if hasAlnum(arg) {
				s.Names = append(s.Names, arg)
			}
			continue
		}
		if value == "" {
			return nil, fmt.Errorf("%w: %s has no value", ErrInvalidFilter, prefix)
		}
		var dst *string
		switch prefix {
		case PrefixRecord:
			dst = &s.RecordNumber
		case PrefixBed:
			dst = &s.Bed
		case PrefixWard:
			dst = &s.Ward
		}
		if *dst != "" {
			return nil, fmt.Errorf("%w: %s given twice", ErrInvalidFilter, prefix)
		}
		*dst = value
	}
	if s.Empty() {
		return nil, ErrEmptySearch
	}
	return s, nil
}

func hasAlnum(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

func splitFilter(arg string) (prefix, value string, ok bool) {
	lower := strings.ToLower(arg)
	for _, p := range []string{PrefixRecord, PrefixBed, PrefixWard} {
		if strings.HasPrefix(lower, p) {
			return p, arg[len(p):], true
		}
	}
	return "", "", false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
