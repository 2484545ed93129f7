// Package faq matches free text against a small corpus of known questions.
package faq

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"greencycle/internal/domain"
)

// DefaultThreshold is the highest score still treated as a confident match.
const DefaultThreshold = 0.35

// Entry is one question/answer pair tagged with the intent it answers.
type Entry struct {
	Question string        `json:"question" yaml:"question"`
	Answer   string        `json:"answer" yaml:"answer"`
	Intent   domain.Intent `json:"intent" yaml:"intent"`
}

// Result is the best entry for a query and its dissimilarity score.
// Score is in [0,1]; 0 means identical.
type Result struct {
	Entry Entry
	Score float64
}

// Matcher searches a fixed corpus. Safe for concurrent use; it never mutates state.
type Matcher struct {
	entries   []Entry
	keys      [][]string // normalized question, answer, intent per entry
	threshold float64
}

// NewMatcher builds a matcher over entries. A threshold <= 0 uses DefaultThreshold.
func NewMatcher(entries []Entry, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m := &Matcher{
		entries:   make([]Entry, len(entries)),
		keys:      make([][]string, len(entries)),
		threshold: threshold,
	}
	copy(m.entries, entries)
	for i, e := range entries {
		m.keys[i] = []string{normalize(e.Question), normalize(e.Answer), normalize(string(e.Intent))}
	}
	return m
}

// Threshold returns the confidence cut-off.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Entries returns a copy of the corpus.
func (m *Matcher) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Match returns the closest entry for query. ok is false when the corpus is
// empty or the query has no searchable characters.
func (m *Matcher) Match(query string) (Result, bool) {
	q := normalize(query)
	if q == "" || len(m.entries) == 0 {
		return Result{}, false
	}

	best := Result{Score: 1}
	found := false
	for i, keys := range m.keys {
		for _, k := range keys {
			s := score(q, k)
			if !found || s < best.Score {
				best = Result{Entry: m.entries[i], Score: s}
				found = true
			}
		}
	}
	return best, found
}

// MatchConfident returns the best entry only when its score is at or below the threshold.
func (m *Matcher) MatchConfident(query string) (Result, bool) {
	r, ok := m.Match(query)
	if !ok || r.Score > m.threshold {
		return Result{}, false
	}
	return r, true
}

// score is the edit distance normalized by the longer string.
func score(a, b string) float64 {
	if b == "" {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	d := levenshtein.ComputeDistance(a, b)
	s := float64(d) / float64(longest)
	if s > 1 {
		s = 1
	}
	return s
}

// normalize lowercases, keeps letters, digits and apostrophes, and collapses whitespace.
func normalize(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			if space && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			space = false
			sb.WriteRune(r)
		default:
			space = true
		}
	}
	return sb.String()
}
