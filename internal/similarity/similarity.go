// Package similarity scores how close two insights are, preferring embedding
// cosine similarity and falling back to a local lexical ratio.
package similarity

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Availability is the process-scoped state of the embedding endpoint.
type Availability int

const (
	Untested Availability = iota
	Available
	Unavailable
)

func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	default:
		return "untested"
	}
}

// Mode records which scoring strategy produced a Result.
type Mode int

const (
	Lexical Mode = iota
	Embedding
)

func (m Mode) String() string {
	if m == Embedding {
		return "embedding"
	}
	return "lexical"
}

// Thresholds. The merge cutoff depends on the scoring mode because lexical
// ratios run lower than embedding cosines for the same pair of ideas.
const (
	EmbeddingMergeThreshold = 0.85
	LexicalMergeThreshold   = 0.72
	EdgeThreshold           = 0.35
)

// MergeThreshold returns the "same insight" cutoff for a mode.
func MergeThreshold(m Mode) float64 {
	if m == Embedding {
		return EmbeddingMergeThreshold
	}
	return LexicalMergeThreshold
}

// Related reports whether a result falls in the edge band [EdgeThreshold, merge).
func Related(r Result) bool {
	return r.Score >= EdgeThreshold && r.Score < MergeThreshold(r.Mode)
}

// Result is a similarity score in [0,1] and the mode that produced it.
type Result struct {
	Score float64
	Mode  Mode
}

// Engine wraps an optional Embedder with a tri-state availability flag.
// The first embed attempt decides availability; any failure marks the endpoint
// unavailable for the rest of the engine's life.
type Engine struct {
	embedder Embedder
	log      *zap.Logger

	mu    sync.Mutex
	state Availability
}

// NewEngine creates an engine. A nil embedder is always Unavailable.
func NewEngine(emb Embedder, state Availability, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if emb == nil {
		state = Unavailable
	}
	return &Engine{embedder: emb, state: state, log: log}
}

// State returns the current availability.
func (e *Engine) State() Availability {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Embed returns an embedding for text, or nil when the endpoint is (or just
// became) unavailable. Errors never escape.
func (e *Engine) Embed(ctx context.Context, text string) []float64 {
	if e.State() == Unavailable {
		return nil
	}

	vec, err := e.embedder.Embed(ctx, text)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		if e.state != Unavailable {
			e.log.Debug("similarity: embedding endpoint unavailable, using lexical fallback", zap.Error(err))
		}
		e.state = Unavailable
		return nil
	}
	if e.state == Untested {
		e.state = Available
	}
	return vec
}

// EmbedAll embeds texts with at most workers concurrent requests. The result
// is aligned with texts; entries are nil where no embedding was obtained.
func (e *Engine) EmbedAll(ctx context.Context, texts []string, workers int) [][]float64 {
	out := make([][]float64, len(texts))
	if e.State() == Unavailable || len(texts) == 0 {
		return out
	}
	if workers < 1 {
		workers = 1
	}

	// Embed the first text serially so a dead endpoint costs one timeout, not one per worker.
	out[0] = e.Embed(ctx, texts[0])
	if e.State() == Unavailable {
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 1; i < len(texts); i++ {
		g.Go(func() error {
			out[i] = e.Embed(gctx, texts[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Compare scores two texts, fetching missing embeddings when the endpoint is
// usable. Fetched vectors are not cached; callers that own the texts should
// prefer Score with their cached embeddings.
func (e *Engine) Compare(ctx context.Context, textA, textB string, embA, embB []float64) Result {
	if len(embA) == 0 {
		embA = e.Embed(ctx, textA)
	}
	if len(embB) == 0 && len(embA) > 0 {
		embB = e.Embed(ctx, textB)
	}
	return Score(textA, textB, embA, embB)
}

// Score compares two texts without any I/O: cosine when both embeddings are
// present and of equal length, lexical ratio otherwise.
func Score(textA, textB string, embA, embB []float64) Result {
	if len(embA) > 0 && len(embA) == len(embB) {
		return Result{Score: clamp01(CosineSimilarity(embA, embB)), Mode: Embedding}
	}
	return Result{Score: LexicalRatio(textA, textB), Mode: Lexical}
}

// ScoreSequences is Score over texts already prepared with NewSequence.
func ScoreSequences(a, b *Sequence, embA, embB []float64) Result {
	if len(embA) > 0 && len(embA) == len(embB) {
		return Result{Score: clamp01(CosineSimilarity(embA, embB)), Mode: Embedding}
	}
	return Result{Score: a.Ratio(b), Mode: Lexical}
}

// CosineSimilarity computes the cosine similarity between two vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
