package engine

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lazypower/metacog/internal/store"
)

// Candidate size limits, in characters.
const (
	minCandidateChars = 5
	maxCandidateChars = 800
)

// cleanCandidateText trims whitespace, surrounding quotes and emphasis, and
// trailing punctuation.
func cleanCandidateText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`*_")
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return (unicode.IsPunct(r) && r != ')' && r != ']') || unicode.IsSpace(r)
	})
	return strings.TrimSpace(s)
}

// validateCandidate checks an extracted candidate for obvious garbage.
// Returns a cleaned copy and an error if the candidate should be rejected.
func validateCandidate(c Candidate) (Candidate, error) {
	t, ok := store.ParseType(string(c.Type))
	if !ok {
		return c, fmt.Errorf("invalid category %q", c.Type)
	}
	c.Type = t

	c.Text = cleanCandidateText(c.Text)
	if n := utf8.RuneCountInString(c.Text); n <= minCandidateChars {
		return c, fmt.Errorf("text too short (%d chars, need more than %d)", n, minCandidateChars)
	}

	if len(c.Text) > maxCandidateChars {
		c.Text = truncateClean(c.Text, maxCandidateChars)
	}
	return c, nil
}

// truncateClean truncates a string to maxLen bytes, cutting at the last word
// boundary to avoid mid-word breaks.
func truncateClean(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	truncated := s[:maxLen]
	for !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > 0 && idx > maxLen-200 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
