package projection

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

var (
	ErrInvalidIndex    = errors.New("column index out of range")
	ErrEmptyColumnName = errors.New("column name is empty")
	ErrInvalidRule     = errors.New("invalid match rule")
)

// ColumnSpec describes one output column of the projected table
type ColumnSpec struct {
	Name       string      `json:"name"`
	Rules      []MatchMode `json:"rules"`                 // Set semantics, insertion order kept for display
	MatchValue *string     `json:"match_value,omitempty"` // Nil or empty means the column never matches
}

// HasRule reports whether the column has the given mode enabled.
func (c ColumnSpec) HasRule(mode MatchMode) bool {
	return slices.Contains(c.Rules, mode)
}

// Value returns the match value, or "" when unset.
func (c ColumnSpec) Value() string {
	if c.MatchValue == nil {
		return ""
	}
	return *c.MatchValue
}

// Clone returns a deep copy of the column.
func (c ColumnSpec) Clone() ColumnSpec {
	out := ColumnSpec{
		Name:  c.Name,
		Rules: slices.Clone(c.Rules),
	}
	if c.MatchValue != nil {
		v := *c.MatchValue
		out.MatchValue = &v
	}
	return out
}

// CloneColumns deep-copies a column list.
func CloneColumns(columns []ColumnSpec) []ColumnSpec {
	out := make([]ColumnSpec, len(columns))
	for i, c := range columns {
		out[i] = c.Clone()
	}
	return out
}

// Store holds the ordered column definitions of a session.
// Every failed operation leaves the store unchanged.
type Store struct {
	mu      sync.RWMutex
	columns []ColumnSpec
}

// NewStore creates a store seeded with a copy of columns.
func NewStore(columns ...ColumnSpec) *Store {
	return &Store{columns: CloneColumns(columns)}
}

// AddColumn appends a column with no rules and no match value.
func (s *Store) AddColumn(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyColumnName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.columns = append(s.columns, ColumnSpec{Name: name, Rules: []MatchMode{}})
	return nil
}

// RemoveColumn drops the column at index.
func (s *Store) RemoveColumn(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inRange(index) {
		return ErrInvalidIndex
	}
	s.columns = slices.Delete(s.columns, index, index+1)
	return nil
}

// AddRule enables a match mode on a column. Adding a mode twice is a no-op.
func (s *Store) AddRule(index int, rule string) error {
	mode, err := ParseMatchMode(rule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inRange(index) {
		return ErrInvalidIndex
	}
	col := &s.columns[index]
	if !col.HasRule(mode) {
		col.Rules = append(col.Rules, mode)
	}
	return nil
}

// RemoveRule disables a match mode on a column. Removing an absent mode is a no-op.
func (s *Store) RemoveRule(index int, rule string) error {
	mode, err := ParseMatchMode(rule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inRange(index) {
		return ErrInvalidIndex
	}
	col := &s.columns[index]
	col.Rules = slices.DeleteFunc(col.Rules, func(m MatchMode) bool { return m == mode })
	return nil
}

// SetMatchValue replaces the match value of a column. An empty value disables matching.
func (s *Store) SetMatchValue(index int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inRange(index) {
		return ErrInvalidIndex
	}
	s.columns[index].MatchValue = &value
	return nil
}

// Replace swaps the whole column list, e.g. when a saved template is applied.
func (s *Store) Replace(columns []ColumnSpec) {
	cloned := CloneColumns(columns)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns = cloned
}

// Columns returns a deep copy of the current columns.
func (s *Store) Columns() []ColumnSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloneColumns(s.columns)
}

// Headers returns the column names in table order.
func (s *Store) Headers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Headers(s.columns)
}

// Len returns the number of columns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.columns)
}

func (s *Store) inRange(index int) bool {
	return index >= 0 && index < len(s.columns)
}

// Headers extracts the column names in order.
func Headers(columns []ColumnSpec) []string {
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = c.Name
	}
	return headers
}
