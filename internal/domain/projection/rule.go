// Package projection turns recognized text into a table of matched tokens
// driven by per-column substring rules.
package projection

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MatchMode is a substring predicate applied to every token.
// The numeric order is the evaluation order used by Project.
type MatchMode int

const (
	StartsWith MatchMode = iota
	EndsWith
	Contains
)

// AllModes lists every match mode in evaluation order.
var AllModes = []MatchMode{StartsWith, EndsWith, Contains}

var modeNames = map[MatchMode]string{
	StartsWith: "startsWith",
	EndsWith:   "endsWith",
	Contains:   "contains",
}

// ParseMatchMode resolves a wire name such as "startsWith" into a MatchMode.
func ParseMatchMode(s string) (MatchMode, error) {
	for mode, name := range modeNames {
		if name == s {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRule, s)
}

// String returns the wire name of the mode.
func (m MatchMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MatchMode(%d)", int(m))
}

// Valid reports whether m is one of the known modes.
func (m MatchMode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// Match applies the predicate to a single token.
func (m MatchMode) Match(token, value string) bool {
	switch m {
	case StartsWith:
		return strings.HasPrefix(token, value)
	case EndsWith:
		return strings.HasSuffix(token, value)
	case Contains:
		return strings.Contains(token, value)
	default:
		return false
	}
}

// MarshalJSON encodes the mode as its wire name.
func (m MatchMode) MarshalJSON() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRule, int(m))
	}
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a wire name.
func (m *MatchMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mode, err := ParseMatchMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}
