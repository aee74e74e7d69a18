package auth

import (
	"fmt"
	"strings"
)

// Capability is one narrow permission a delegated token may carry.
// The set is closed: only the constants below exist.
type Capability uint8

const (
	PatientSearch Capability = 1 << iota
	PatientRead

	allCapabilities = PatientSearch | PatientRead
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{PatientSearch, "patient:search"},
	{PatientRead, "patient:read"},
}

func (c Capability) String() string {
	for _, n := range capabilityNames {
		if n.cap == c {
			return n.name
		}
	}
	return fmt.Sprintf("capability(%d)", uint8(c))
}

// CapabilitySet is a bitset of capabilities.
type CapabilitySet uint8

// NewCapabilitySet builds a set from individual capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= CapabilitySet(c)
	}
	return s
}

func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// SubsetOf reports whether every capability in s is also in other.
func (s CapabilitySet) SubsetOf(other CapabilitySet) bool {
	return s&^other == 0
}

func (s CapabilitySet) Empty() bool { return s == 0 }

// Known reports whether s contains only declared capabilities.
func (s CapabilitySet) Known() bool {
	return s&^CapabilitySet(allCapabilities) == 0
}

// Names returns the scope strings in declaration order.
func (s CapabilitySet) Names() []string {
	var out []string
	for _, n := range capabilityNames {
		if s.Has(n.cap) {
			out = append(out, n.name)
		}
	}
	return out
}

// String renders the set in OAuth2 scope syntax (space separated).
func (s CapabilitySet) String() string {
	return strings.Join(s.Names(), " ")
}

// ParseCapabilities parses a comma or space separated scope list. Unknown
// scope strings are rejected rather than ignored.
func ParseCapabilities(list string) (CapabilitySet, error) {
	var s CapabilitySet
	fields := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	for _, f := range fields {
		c, ok := lookupCapability(f)
		if !ok {
			return 0, fmt.Errorf("unknown scope %q", f)
		}
		s |= CapabilitySet(c)
	}
	return s, nil
}

func lookupCapability(name string) (Capability, bool) {
	for _, n := range capabilityNames {
		if n.name == name {
			return n.cap, true
		}
	}
	return 0, false
}
