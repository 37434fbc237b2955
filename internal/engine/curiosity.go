package engine

import (
	"fmt"

	"github.com/lazypower/metacog/internal/store"
)

// advanceCuriosity applies the automatic stage transitions after a
// reinforcement. prev is the stage before the reinforcement; merged reports
// whether it came from restating the curiosity rather than feedback.
//
//	born   -> active    once reinforcements >= 2
//	active -> evolving  on a merge
//
// resolved is terminal and only reached through Resolve.
func advanceCuriosity(entry *store.Entry, prev store.Stage, merged bool) {
	if entry.Curiosity == nil {
		return
	}
	switch prev {
	case store.Active:
		if merged {
			entry.Curiosity.Stage = store.Evolving
		}
	case store.Born:
		if entry.Reinforcements >= 2 {
			entry.Curiosity.Stage = store.Active
		}
	}
}

// Resolve marks a curiosity as answered. Resolved curiosities decay at twice
// the normal rate. Resolving an already resolved curiosity is a no-op.
func (e *Engine) Resolve(st *store.Store, id string) (*store.Entry, error) {
	entry := st.Get(id)
	if entry == nil {
		return nil, fmt.Errorf("resolve %s: %w", id, ErrNotFound)
	}
	if entry.Type != store.Curiosities {
		return nil, fmt.Errorf("resolve %s (%s): %w", id, entry.Type, ErrNotCuriosity)
	}
	if entry.Curiosity == nil {
		entry.Curiosity = &store.Curiosity{}
	}
	entry.Curiosity.Stage = store.Resolved
	return entry, nil
}
