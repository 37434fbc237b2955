package engine

// Decay algorithm:
//   - strength *= 0.5^(elapsed / half_life)
//   - half_life = 7 days * log2(reinforcements + 1), halved once resolved
//   - elapsed runs from the later of last_reinforced and last_decayed, so
//     repeated runs compound instead of re-applying the whole interval
//   - entries below 0.05 are pruned together with their edges
//   - edges use a 14-day half-life and are pruned below 0.1

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/metacog/internal/store"
)

// DecayResult counts what a decay run touched.
type DecayResult struct {
	Decayed      int
	Pruned       int
	EdgesDecayed int
	EdgesPruned  int
}

// HalfLife returns the effective half-life of an entry.
func HalfLife(entry *store.Entry) time.Duration {
	r := entry.Reinforcements
	if r < 1 {
		r = 1
	}
	hl := time.Duration(float64(BaseHalfLife) * math.Log2(float64(r+1)))
	if entry.Stage() == store.Resolved {
		hl /= 2
	}
	return hl
}

// decayFactor is 0.5^(elapsed/halfLife); non-positive elapsed gives 1.
func decayFactor(elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(elapsed)/float64(halfLife))
}

// Decay ages every entry and edge to the current time and prunes whatever
// falls below its floor.
func (e *Engine) Decay(st *store.Store) DecayResult {
	now := e.now()
	var res DecayResult

	var pruned []string
	for _, entry := range st.Entries {
		f := decayFactor(now.Sub(entry.DecayAnchor()), HalfLife(entry))
		if f == 1 {
			continue
		}
		entry.SetStrength(entry.Strength * f)
		entry.LastDecayed = now
		res.Decayed++
		if entry.Strength < store.StrengthFloor {
			pruned = append(pruned, entry.ID)
		}
	}
	for _, id := range pruned {
		edges := st.Remove(id)
		res.EdgesPruned += edges
		e.Log.Debug("decay: pruned entry", zap.String("id", id), zap.Int("edges", edges))
	}
	res.Pruned = len(pruned)

	decayed, edgesPruned := decayEdges(st, now)
	res.EdgesDecayed = decayed
	res.EdgesPruned += edgesPruned

	e.Log.Info("decay: complete",
		zap.Int("decayed", res.Decayed),
		zap.Int("pruned", res.Pruned),
		zap.Int("edges_decayed", res.EdgesDecayed),
		zap.Int("edges_pruned", res.EdgesPruned))
	return res
}

// decayEdges ages edge weights and drops edges that fall below the floor.
func decayEdges(st *store.Store, now time.Time) (decayed, pruned int) {
	pruned = st.FilterEdges(func(edge *store.Edge) bool {
		f := decayFactor(now.Sub(edge.DecayAnchor()), EdgeHalfLife)
		if f == 1 {
			return true
		}
		edge.SetWeight(edge.Weight * f)
		edge.LastDecayed = now
		decayed++
		return edge.Weight >= store.EdgeFloor
	})
	return decayed, pruned
}
