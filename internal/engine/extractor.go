package engine

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/lazypower/metacog/internal/store"
)

// Candidate is an insight found in free text, not yet stored.
type Candidate struct {
	Type store.Type
	Text string
}

// prefixTag matches an explicit marker line such as "OVERRIDE: ..." or
// "- curiosities: ...".
var prefixTag = regexp.MustCompile(`(?im)^[ \t]*(?:[-*+][ \t]+|\d+[.)][ \t]+)?(overrides?|curiosit(?:y|ies)|perceptions?|protections?|self[-_ ]observations?|decisions?)[ \t]*:[ \t]*(.+)$`)

type template struct {
	typ store.Type
	re  *regexp.Regexp
}

// sentence is the tail a template captures: everything up to the end of the
// sentence or line.
const sentence = `[^.!?\n]+`

// templates are phrasal patterns per category. Group 1 is the candidate.
var templates = []template{
	{store.Overrides, regexp.MustCompile(`(?i)\bi was wrong (?:about|that) (` + sentence + `)`)},
	{store.Overrides, regexp.MustCompile(`(?i)\bi (?:had|got) it wrong[:,]? (` + sentence + `)`)},
	{store.Overrides, regexp.MustCompile(`(?i)\bturns out(?: that)? (` + sentence + `)`)},

	{store.Curiosities, regexp.MustCompile(`(?i)\bi wonder (` + sentence + `)`)},
	{store.Curiosities, regexp.MustCompile(`(?i)\bi(?:'m| am) curious (?:about |whether |if |why |how )?(` + sentence + `)`)},
	{store.Curiosities, regexp.MustCompile(`(?i)\bopen question[:,]? (` + sentence + `)`)},

	{store.Decisions, regexp.MustCompile(`(?i)\b(?:i |we )?decided to (` + sentence + `)`)},
	{store.Decisions, regexp.MustCompile(`(?i)\bgoing forward,? ((?:i|we) will ` + sentence + `)`)},

	{store.Protections, regexp.MustCompile(`(?i)\b((?:i|we) (?:must|should) (?:always|never) ` + sentence + `)`)},
	{store.Protections, regexp.MustCompile(`(?i)\b(never ` + sentence + ` without ` + sentence + `)`)},

	{store.SelfObservations, regexp.MustCompile(`(?i)\b(i (?:tend to|often|keep|usually) ` + sentence + `)`)},
	{store.SelfObservations, regexp.MustCompile(`(?i)\b(i noticed (?:that )?i ` + sentence + `)`)},

	{store.Perceptions, regexp.MustCompile(`(?i)\b(?:i )?(?:learned|realized) that (` + sentence + `)`)},
	{store.Perceptions, regexp.MustCompile(`(?i)\b(users? (?:prefers?|wants?|likes?|dislikes?|expects?) ` + sentence + `)`)},
	{store.Perceptions, regexp.MustCompile(`(?i)\blesson learned[:,]? (` + sentence + `)`)},
}

var (
	heading        = regexp.MustCompile(`^[ \t]{0,3}#{1,6}[ \t]+(.*)$`)
	reflectionHead = regexp.MustCompile(`(?i)reflection|lesson|insight|takeaway|learning`)
	bullet         = regexp.MustCompile(`^[ \t]*(?:[-*+]|\d+[.)])[ \t]+(.+)$`)
)

// Extract scans text for candidates using three layers in order: explicit
// prefix tags, phrasal templates, and bullets under reflection headings.
// Candidates are cleaned and validated; the same lower-cased text is kept
// only once, from the first layer that found it.
func Extract(text string) []Candidate {
	var out []Candidate
	seen := make(map[string]bool)
	add := func(typ store.Type, s string) {
		c, err := validateCandidate(Candidate{Type: typ, Text: s})
		if err != nil {
			return
		}
		key := strings.ToLower(c.Text)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, c)
	}

	for _, m := range prefixTag.FindAllStringSubmatch(text, -1) {
		if t, ok := store.ParseType(m[1]); ok {
			add(t, m[2])
		}
	}

	for _, tpl := range templates {
		for _, m := range tpl.re.FindAllStringSubmatch(text, -1) {
			add(tpl.typ, m[1])
		}
	}

	for _, s := range reflectionBullets(text) {
		add(store.Perceptions, s)
	}
	return out
}

// reflectionBullets returns the bullet items under headings that name a
// reflection, lesson, insight or takeaway section. Tagged bullets are left
// to the prefix layer.
func reflectionBullets(text string) []string {
	var out []string
	inSection := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := heading.FindStringSubmatch(line); m != nil {
			inSection = reflectionHead.MatchString(m[1])
			continue
		}
		if !inSection {
			continue
		}
		m := bullet.FindStringSubmatch(line)
		if m == nil || prefixTag.MatchString(line) {
			continue
		}
		out = append(out, m[1])
	}
	return out
}

// ExtractResult summarizes an extraction run against a store.
type ExtractResult struct {
	Candidates int
	Added      int
	Merged     int
	Evicted    int
}

// ReadNotes reads every note file. An unreadable file fails the whole call
// before anything is extracted.
func ReadNotes(paths []string) ([]string, error) {
	notes := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read note: %w", err)
		}
		notes = append(notes, string(data))
	}
	return notes, nil
}

// Ingest extracts candidates from each note and feeds them through Add,
// then evicts down to MaxEntries.
func (e *Engine) Ingest(ctx context.Context, st *store.Store, notes ...string) ExtractResult {
	var res ExtractResult
	for _, note := range notes {
		for _, c := range Extract(note) {
			res.Candidates++
			_, merged, err := e.Add(ctx, st, c.Type, c.Text)
			if err != nil {
				e.Log.Warn("extract: skipped candidate", zap.String("text", c.Text), zap.Error(err))
				continue
			}
			if merged {
				res.Merged++
			} else {
				res.Added++
			}
		}
	}
	res.Evicted = e.Evict(st, e.MaxEntries)
	e.Log.Info("extract: complete",
		zap.Int("candidates", res.Candidates),
		zap.Int("added", res.Added),
		zap.Int("merged", res.Merged),
		zap.Int("evicted", res.Evicted))
	return res
}

// ExtractFiles reads the note files and ingests them into st.
func (e *Engine) ExtractFiles(ctx context.Context, st *store.Store, paths ...string) (ExtractResult, error) {
	notes, err := ReadNotes(paths)
	if err != nil {
		return ExtractResult{}, err
	}
	return e.Ingest(ctx, st, notes...), nil
}
