package projection

import (
	"strings"
	"unicode"

	"github.com/cloudflare/ahocorasick"
)

// Table is a projection result together with its header row.
type Table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// RowCount returns the number of data rows.
func (t Table) RowCount() int {
	return len(t.Rows)
}

// Tokenize splits text on runs of whitespace. Empty tokens are never produced.
func Tokenize(text string) []string {
	return strings.FieldsFunc(text, isSpace)
}

// isSpace follows the \s class: U+FEFF counts as a separator, U+0085 (NEL)
// does not.
func isSpace(r rune) bool {
	if r == '\u0085' {
		return false
	}
	return unicode.IsSpace(r) || r == '\uFEFF'
}

// Project tokenizes text and builds one row per match index across all columns.
// Shorter columns are padded with empty cells. Inputs are never mutated.
func Project(text string, columns []ColumnSpec) [][]string {
	return Align(MatchColumns(Tokenize(text), columns))
}

// ProjectTable is Project plus the header row of the columns.
func ProjectTable(text string, columns []ColumnSpec) Table {
	return Table{
		Header: Headers(columns),
		Rows:   Project(text, columns),
	}
}

// MatchColumns collects the matching tokens of every column.
// Modes are evaluated in the fixed order StartsWith, EndsWith, Contains;
// a token satisfying several modes appears once per mode.
func MatchColumns(tokens []string, columns []ColumnSpec) [][]string {
	matches := make([][]string, len(columns))
	if len(tokens) == 0 || len(columns) == 0 {
		return matches
	}

	idx := newCandidateIndex(tokens, columns)

	for j, col := range columns {
		value := col.Value()
		// An empty value would match every token
		if value == "" {
			continue
		}

		candidates := idx.candidates(value)
		for _, mode := range AllModes {
			if !col.HasRule(mode) {
				continue
			}
			for t, token := range tokens {
				if candidates[t] && mode.Match(token, value) {
					matches[j] = append(matches[j], token)
				}
			}
		}
	}

	return matches
}

// Align pads ragged match lists into a rectangular table.
// Zero matches yield an empty (non-nil) row slice.
func Align(matches [][]string) [][]string {
	maxRows := 0
	for _, m := range matches {
		maxRows = max(maxRows, len(m))
	}

	rows := make([][]string, 0, maxRows)
	for i := 0; i < maxRows; i++ {
		row := make([]string, len(matches))
		for j, m := range matches {
			if i < len(m) {
				row[j] = m[i]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// candidateIndex runs a single Aho-Corasick pass per token over every distinct
// match value. A token that does not contain a value cannot start or end with
// it either, so only flagged tokens need the exact predicate check.
type candidateIndex struct {
	byValue map[string][]bool // value -> per-token flag
}

func newCandidateIndex(tokens []string, columns []ColumnSpec) *candidateIndex {
	patternToIndex := make(map[string]int)
	patterns := make([]string, 0, len(columns))
	for _, col := range columns {
		v := col.Value()
		if v == "" || len(col.Rules) == 0 {
			continue
		}
		if _, exists := patternToIndex[v]; exists {
			continue
		}
		patternToIndex[v] = len(patterns)
		patterns = append(patterns, v)
	}

	flags := make([][]bool, len(patterns))
	for i := range flags {
		flags[i] = make([]bool, len(tokens))
	}

	if len(patterns) > 0 {
		matcher := ahocorasick.NewStringMatcher(patterns)
		for t, token := range tokens {
			for _, hit := range matcher.Match([]byte(token)) {
				if hit >= 0 && hit < len(flags) {
					flags[hit][t] = true
				}
			}
		}
	}

	byValue := make(map[string][]bool, len(patterns))
	for v, i := range patternToIndex {
		byValue[v] = flags[i]
	}
	return &candidateIndex{byValue: byValue}
}

// candidates returns the per-token flags for value; unknown values match nothing.
func (c *candidateIndex) candidates(value string) []bool {
	if flags, ok := c.byValue[value]; ok {
		return flags
	}
	return nil
}
