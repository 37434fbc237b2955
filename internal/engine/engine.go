// Package engine owns the lifecycle of stored insights: add-or-merge,
// feedback, decay and eviction, the curiosity stages, extraction from notes
// and the relationship graph.
package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lazypower/metacog/internal/similarity"
	"github.com/lazypower/metacog/internal/store"
)

// Operator-facing errors.
var (
	ErrInvalidType  = errors.New("invalid category")
	ErrNotFound     = errors.New("entry not found")
	ErrNotCuriosity = errors.New("entry is not a curiosity")
	ErrEmptyText    = errors.New("empty text")
)

// Tunables for reinforcement and decay.
const (
	ReinforceStep     = 0.2
	NegativeStep      = 0.3
	EdgeReinforceStep = 0.1
	ClusterBoost      = 0.05

	BaseHalfLife = 7 * 24 * time.Hour
	EdgeHalfLife = 2 * BaseHalfLife

	// DefaultMaxEntries caps the store after bulk extraction.
	DefaultMaxEntries = 500
)

// Engine applies lifecycle operations to a loaded store. It holds no store
// state of its own; every operation takes the store it mutates.
type Engine struct {
	Sim        *similarity.Engine
	Log        *zap.Logger
	Now        func() time.Time
	Workers    int
	MaxEntries int
}

// New creates an Engine. A nil similarity engine means lexical scoring only.
func New(sim *similarity.Engine, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if sim == nil {
		sim = similarity.NewEngine(nil, similarity.Unavailable, log)
	}
	return &Engine{
		Sim:        sim,
		Log:        log,
		Now:        func() time.Time { return time.Now().UTC() },
		Workers:    4,
		MaxEntries: DefaultMaxEntries,
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}

// newID returns the first 8 hex characters of a random UUID, unique in st.
func newID(st *store.Store) string {
	for {
		id := uuid.NewString()[:8]
		if st.Get(id) == nil {
			return id
		}
	}
}
