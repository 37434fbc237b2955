package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lazypower/metacog/internal/similarity"
	"github.com/lazypower/metacog/internal/store"
)

// Add records text under typ. When any existing entry, of any category, is
// close enough to count as the same insight, that entry is reinforced and
// absorbs the longer phrasing; otherwise a new entry is created. The bool
// result reports whether a merge happened.
func (e *Engine) Add(ctx context.Context, st *store.Store, typ store.Type, text string) (*store.Entry, bool, error) {
	t, ok := store.ParseType(string(typ))
	if !ok {
		return nil, false, fmt.Errorf("add %q: %w", typ, ErrInvalidType)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false, fmt.Errorf("add: %w", ErrEmptyText)
	}

	now := e.now()
	emb := e.Sim.Embed(ctx, text)
	if len(emb) > 0 {
		e.fillEmbeddings(ctx, st)
	}

	match, res := bestMatch(st, text, emb)
	if match != nil {
		prev := match.Stage()
		reinforce(match, now)
		if utf8.RuneCountInString(text) > utf8.RuneCountInString(match.Text) {
			match.Text = text
			match.Embedding = emb
		}
		advanceCuriosity(match, prev, true)
		e.Log.Debug("add: merged",
			zap.String("id", match.ID),
			zap.Float64("score", res.Score),
			zap.Stringer("mode", res.Mode))
		return match, true, nil
	}

	entry := &store.Entry{
		ID:             newID(st),
		Type:           t,
		Text:           text,
		Strength:       1.0,
		Reinforcements: 1,
		Created:        now,
		LastReinforced: now,
		Embedding:      emb,
	}
	if t == store.Curiosities {
		entry.Curiosity = &store.Curiosity{Stage: store.Born}
	}
	st.Add(entry)
	e.Log.Debug("add: created", zap.String("id", entry.ID), zap.String("type", string(t)))
	return entry, false, nil
}

// bestMatch returns the highest-scoring entry at or above the merge
// threshold for its scoring mode, or nil.
func bestMatch(st *store.Store, text string, emb []float64) (*store.Entry, similarity.Result) {
	var best *store.Entry
	var bestRes similarity.Result
	for _, cand := range st.Entries {
		res := similarity.Score(text, cand.Text, emb, cand.Embedding)
		if res.Score < similarity.MergeThreshold(res.Mode) {
			continue
		}
		if best == nil || res.Score > bestRes.Score {
			best, bestRes = cand, res
		}
	}
	return best, bestRes
}

// fillEmbeddings fetches and caches embeddings for entries that have none.
func (e *Engine) fillEmbeddings(ctx context.Context, st *store.Store) int {
	var missing []*store.Entry
	var texts []string
	for _, entry := range st.Entries {
		if len(entry.Embedding) == 0 {
			missing = append(missing, entry)
			texts = append(texts, entry.Text)
		}
	}
	if len(missing) == 0 {
		return 0
	}

	filled := 0
	for i, vec := range e.Sim.EmbedAll(ctx, texts, e.Workers) {
		if len(vec) > 0 {
			missing[i].Embedding = vec
			filled++
		}
	}
	return filled
}

func reinforce(entry *store.Entry, now time.Time) {
	entry.SetStrength(entry.Strength + ReinforceStep)
	entry.Reinforcements++
	entry.LastReinforced = now
}

// Feedback applies a positive or negative evaluation to the entry with id.
// Both directions refresh last_reinforced. An entry weakened below the floor
// is pruned along with its edges; the bool result reports that.
func (e *Engine) Feedback(st *store.Store, id string, positive bool) (*store.Entry, bool, error) {
	entry := st.Get(id)
	if entry == nil {
		return nil, false, fmt.Errorf("feedback %s: %w", id, ErrNotFound)
	}

	now := e.now()
	if positive {
		prev := entry.Stage()
		reinforce(entry, now)
		advanceCuriosity(entry, prev, false)
		return entry, false, nil
	}

	entry.SetStrength(entry.Strength - NegativeStep)
	entry.LastReinforced = now
	if entry.Strength < store.StrengthFloor {
		edges := st.Remove(entry.ID)
		e.Log.Info("feedback: pruned entry", zap.String("id", entry.ID), zap.Int("edges", edges))
		return entry, true, nil
	}
	return entry, false, nil
}

// Evict removes the weakest entries until at most limit remain. Ties go to the
// entry reinforced longest ago. A non-positive limit disables the cap.
func (e *Engine) Evict(st *store.Store, limit int) int {
	if limit <= 0 || len(st.Entries) <= limit {
		return 0
	}

	order := make([]*store.Entry, len(st.Entries))
	copy(order, st.Entries)
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Strength != order[j].Strength {
			return order[i].Strength < order[j].Strength
		}
		return order[i].LastReinforced.Before(order[j].LastReinforced)
	})

	n := len(st.Entries) - limit
	for _, victim := range order[:n] {
		st.Remove(victim.ID)
		e.Log.Debug("evict: removed entry", zap.String("id", victim.ID), zap.Float64("strength", victim.Strength))
	}
	e.Log.Info("evict: store over capacity", zap.Int("evicted", n), zap.Int("max", limit))
	return n
}
