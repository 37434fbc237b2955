package store

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Bounds enforced on every mutation.
const (
	MaxStrength   = 3.0
	StrengthFloor = 0.05
	MaxEdgeWeight = 2.0
	EdgeFloor     = 0.1
)

// CurrentVersion is the persisted container version.
const CurrentVersion = 1

// Type is one of the six fixed insight categories.
type Type string

const (
	Perceptions      Type = "perceptions"
	Overrides        Type = "overrides"
	Protections      Type = "protections"
	SelfObservations Type = "self-observations"
	Decisions        Type = "decisions"
	Curiosities      Type = "curiosities"
)

// Types lists the categories in display order.
var Types = []Type{Perceptions, Overrides, Protections, SelfObservations, Decisions, Curiosities}

// ParseType accepts a category name in plural or singular form, with
// underscores or hyphens, case-insensitively.
func ParseType(s string) (Type, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	if t, ok := singular[s]; ok {
		return t, true
	}
	for _, t := range Types {
		if s == string(t) {
			return t, true
		}
	}
	return "", false
}

var singular = map[string]Type{
	"perception":       Perceptions,
	"override":         Overrides,
	"protection":       Protections,
	"self-observation": SelfObservations,
	"decision":         Decisions,
	"curiosity":        Curiosities,
}

// Stage is the lifecycle stage of a curiosity.
type Stage string

const (
	Born     Stage = "born"
	Active   Stage = "active"
	Evolving Stage = "evolving"
	Resolved Stage = "resolved"
)

// Curiosity is the payload carried only by curiosities entries.
type Curiosity struct {
	Stage Stage `json:"stage"`
}

// Entry is a single stored insight.
type Entry struct {
	ID             string     `json:"id"`
	Type           Type       `json:"type"`
	Text           string     `json:"text"`
	Strength       float64    `json:"strength"`
	Reinforcements int        `json:"reinforcements"`
	Created        time.Time  `json:"created"`
	LastReinforced time.Time  `json:"last_reinforced"`
	LastDecayed    time.Time  `json:"last_decayed,omitzero"`
	Curiosity      *Curiosity `json:"curiosity,omitempty"`
	Embedding      []float64  `json:"embedding,omitempty"`
}

// Stage returns the curiosity stage, or "" for other categories.
func (e *Entry) Stage() Stage {
	if e.Curiosity == nil {
		return ""
	}
	return e.Curiosity.Stage
}

// SetStrength assigns v clamped to [0, MaxStrength].
func (e *Entry) SetStrength(v float64) {
	if math.IsNaN(v) {
		v = 0
	}
	e.Strength = math.Max(0, math.Min(MaxStrength, v))
}

// DecayAnchor is the point from which undecayed time is measured.
func (e *Entry) DecayAnchor() time.Time {
	if e.LastDecayed.After(e.LastReinforced) {
		return e.LastDecayed
	}
	return e.LastReinforced
}

// Edge is an undirected relation between two entries, stored with
// Source < Target.
type Edge struct {
	Source      string    `json:"source"`
	Target      string    `json:"target"`
	Weight      float64   `json:"weight"`
	Created     time.Time `json:"created"`
	LastSeen    time.Time `json:"last_seen"`
	LastDecayed time.Time `json:"last_decayed,omitzero"`
}

// SetWeight assigns v clamped to [0, MaxEdgeWeight].
func (e *Edge) SetWeight(v float64) {
	if math.IsNaN(v) {
		v = 0
	}
	e.Weight = math.Max(0, math.Min(MaxEdgeWeight, v))
}

// DecayAnchor is the point from which undecayed time is measured.
func (e *Edge) DecayAnchor() time.Time {
	if e.LastDecayed.After(e.LastSeen) {
		return e.LastDecayed
	}
	return e.LastSeen
}

// Touches reports whether the edge references id.
func (e *Edge) Touches(id string) bool {
	return e.Source == id || e.Target == id
}

// Other returns the endpoint opposite id.
func (e *Edge) Other(id string) string {
	if e.Source == id {
		return e.Target
	}
	return e.Source
}

// Pair returns a and b in storage order.
func Pair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Store is the whole persisted state: every entry and every edge.
type Store struct {
	Version int      `json:"version"`
	Entries []*Entry `json:"entries"`
	Edges   []*Edge  `json:"edges"`
}

// New returns an empty store.
func New() *Store {
	return &Store{Version: CurrentVersion, Entries: []*Entry{}, Edges: []*Edge{}}
}

// Get returns the entry with id, or nil.
func (s *Store) Get(id string) *Entry {
	for _, e := range s.Entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// ByType returns the entries of one category, in store order.
func (s *Store) ByType(t Type) []*Entry {
	var out []*Entry
	for _, e := range s.Entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Add appends an entry.
func (s *Store) Add(e *Entry) {
	s.Entries = append(s.Entries, e)
}

// Remove deletes the entry with id and every edge referencing it.
// Returns the number of edges removed, or -1 when id was not present.
func (s *Store) Remove(id string) int {
	idx := -1
	for i, e := range s.Entries {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return -1
	}
	s.Entries = append(s.Entries[:idx], s.Entries[idx+1:]...)

	kept := s.Edges[:0]
	removed := 0
	for _, e := range s.Edges {
		if e.Touches(id) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.Edges = kept
	return removed
}

// Edge returns the edge between a and b in either order, or nil.
func (s *Store) Edge(a, b string) *Edge {
	a, b = Pair(a, b)
	for _, e := range s.Edges {
		if e.Source == a && e.Target == b {
			return e
		}
	}
	return nil
}

// AddEdge inserts a new edge between a and b. The caller must have checked
// that no edge exists for the pair.
func (s *Store) AddEdge(a, b string, weight float64, now time.Time) *Edge {
	src, dst := Pair(a, b)
	e := &Edge{Source: src, Target: dst, Created: now, LastSeen: now}
	e.SetWeight(weight)
	s.Edges = append(s.Edges, e)
	return e
}

// FilterEdges keeps only the edges for which keep returns true and returns
// the number dropped.
func (s *Store) FilterEdges(keep func(*Edge) bool) int {
	kept := s.Edges[:0]
	dropped := 0
	for _, e := range s.Edges {
		if keep(e) {
			kept = append(kept, e)
			continue
		}
		dropped++
	}
	s.Edges = kept
	return dropped
}

// Repair restores the invariants on a freshly loaded store: strengths
// clamped, entries below the strength floor and edges below the weight floor
// dropped, unknown categories and duplicate ids dropped, curiosity payloads
// confined to curiosities, edges normalized, deduplicated and pointing only
// at surviving entries. Returns the number of records dropped.
func (s *Store) Repair() int {
	dropped := 0
	seen := make(map[string]bool, len(s.Entries))
	entries := s.Entries[:0]
	for _, e := range s.Entries {
		if e == nil || e.ID == "" || seen[e.ID] {
			dropped++
			continue
		}
		t, ok := ParseType(string(e.Type))
		if !ok {
			dropped++
			continue
		}
		e.Type = t
		e.SetStrength(e.Strength)
		if e.Strength < StrengthFloor {
			dropped++
			continue
		}
		seen[e.ID] = true
		if e.Reinforcements < 1 {
			e.Reinforcements = 1
		}
		switch {
		case e.Type == Curiosities && e.Curiosity == nil:
			e.Curiosity = &Curiosity{Stage: Born}
		case e.Type != Curiosities:
			e.Curiosity = nil
		}
		entries = append(entries, e)
	}
	s.Entries = entries

	pairs := make(map[[2]string]bool, len(s.Edges))
	dropped += s.FilterEdges(func(e *Edge) bool {
		if e == nil || e.Source == e.Target || !seen[e.Source] || !seen[e.Target] {
			return false
		}
		e.SetWeight(e.Weight)
		if e.Weight < EdgeFloor {
			return false
		}
		e.Source, e.Target = Pair(e.Source, e.Target)
		key := [2]string{e.Source, e.Target}
		if pairs[key] {
			return false
		}
		pairs[key] = true
		return true
	})

	if s.Entries == nil {
		s.Entries = []*Entry{}
	}
	if s.Edges == nil {
		s.Edges = []*Edge{}
	}
	if s.Version == 0 {
		s.Version = CurrentVersion
	}
	return dropped
}

// SortedEntries returns a copy of the entries ordered by strength descending,
// then id.
func (s *Store) SortedEntries() []*Entry {
	out := make([]*Entry, len(s.Entries))
	copy(out, s.Entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].ID < out[j].ID
	})
	return out
}
