package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lazypower/metacog/internal/similarity"
	"github.com/lazypower/metacog/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testEngine returns a lexical-only engine on a controllable clock.
func testEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()
	now := t0
	e := New(nil, zap.NewNop())
	e.Now = func() time.Time { return now }
	return e, &now
}

func entry(id string, typ store.Type, text string, strength float64) *store.Entry {
	e := &store.Entry{
		ID: id, Type: typ, Text: text, Strength: strength,
		Reinforcements: 1, Created: t0, LastReinforced: t0,
	}
	if typ == store.Curiosities {
		e.Curiosity = &store.Curiosity{Stage: store.Born}
	}
	return e
}

// stubEmbedder serves fixed vectors and fails for unknown text.
type stubEmbedder struct {
	vecs map[string][]float64
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	v, ok := s.vecs[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (s *stubEmbedder) Model() string { return "stub" }

func TestAddCreates(t *testing.T) {
	e, _ := testEngine(t)
	st := store.New()

	got, merged, err := e.Add(context.Background(), st, store.Perceptions, "  Users prefer concise answers  ")
	require.NoError(t, err)
	assert.False(t, merged)
	require.Len(t, st.Entries, 1)

	assert.Len(t, got.ID, 8)
	assert.Equal(t, store.Perceptions, got.Type)
	assert.Equal(t, "Users prefer concise answers", got.Text)
	assert.Equal(t, 1.0, got.Strength)
	assert.Equal(t, 1, got.Reinforcements)
	assert.Equal(t, t0, got.Created)
	assert.Equal(t, t0, got.LastReinforced)
	assert.Nil(t, got.Curiosity)
	assert.Empty(t, got.Embedding)
}

func TestAddAcceptsSingularType(t *testing.T) {
	e, _ := testEngine(t)
	st := store.New()

	got, _, err := e.Add(context.Background(), st, "curiosity", "Why do builds slow down on Mondays")
	require.NoError(t, err)
	assert.Equal(t, store.Curiosities, got.Type)
	assert.Equal(t, store.Born, got.Stage())
}

func TestAddErrors(t *testing.T) {
	e, _ := testEngine(t)
	st := store.New()

	_, _, err := e.Add(context.Background(), st, "feelings", "something real")
	assert.ErrorIs(t, err, ErrInvalidType)

	_, _, err = e.Add(context.Background(), st, store.Decisions, "   ")
	assert.ErrorIs(t, err, ErrEmptyText)

	assert.Empty(t, st.Entries)
}

func TestAddSameTextTwiceMerges(t *testing.T) {
	e, now := testEngine(t)
	st := store.New()
	ctx := context.Background()

	first, _, err := e.Add(ctx, st, store.Protections, "Always confirm before deleting files")
	require.NoError(t, err)

	*now = t0.Add(time.Minute)
	second, merged, err := e.Add(ctx, st, store.Protections, "Always confirm before deleting files")
	require.NoError(t, err)

	assert.True(t, merged)
	assert.Same(t, first, second)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, 2, second.Reinforcements)
	assert.InDelta(t, 1.2, second.Strength, 1e-9)
	assert.Equal(t, t0.Add(time.Minute), second.LastReinforced)
	assert.Equal(t, t0, second.Created)
}

func TestAddLexicalNearDuplicateAdoptsLongerText(t *testing.T) {
	e, _ := testEngine(t)
	st := store.New()
	ctx := context.Background()

	_, _, err := e.Add(ctx, st, store.Protections, "Always confirm before deleting files")
	require.NoError(t, err)
	got, merged, err := e.Add(ctx, st, store.Protections, "Always ask for confirmation before deleting files")
	require.NoError(t, err)

	assert.True(t, merged)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, "Always ask for confirmation before deleting files", got.Text)

	// A shorter restatement reinforces without replacing the text.
	got, merged, err = e.Add(ctx, st, store.Protections, "Always confirm before deleting files")
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, "Always ask for confirmation before deleting files", got.Text)
	assert.Equal(t, 3, got.Reinforcements)
}

func TestAddRelatedTextStaysDistinct(t *testing.T) {
	e, _ := testEngine(t)
	st := store.New()
	ctx := context.Background()

	_, _, err := e.Add(ctx, st, store.Perceptions, "Users prefer concise answers")
	require.NoError(t, err)
	_, merged, err := e.Add(ctx, st, store.SelfObservations, "Users dislike long rambling answers")
	require.NoError(t, err)

	assert.False(t, merged)
	assert.Len(t, st.Entries, 2)
}

func TestAddMergesAcrossCategories(t *testing.T) {
	e, _ := testEngine(t)
	st := store.New()
	ctx := context.Background()

	orig, _, err := e.Add(ctx, st, store.Decisions, "Check tests before committing code")
	require.NoError(t, err)
	got, merged, err := e.Add(ctx, st, store.Protections, "Always check tests before committing code")
	require.NoError(t, err)

	assert.True(t, merged)
	assert.Same(t, orig, got)
	assert.Equal(t, store.Decisions, got.Type, "merge keeps the existing category")
	assert.Len(t, st.Entries, 1)
}

func TestAddUsesEmbeddingsWhenAvailable(t *testing.T) {
	emb := &stubEmbedder{vecs: map[string][]float64{
		"Prefer small pull requests":          {1, 0, 0},
		"Keep each change narrowly scoped":    {0.99, 0.1, 0},
		"The staging cluster runs on Fridays": {0, 1, 0},
	}}
	e := New(similarity.NewEngine(emb, similarity.Untested, nil), nil)
	e.Now = func() time.Time { return t0 }
	st := store.New()
	ctx := context.Background()

	first, _, err := e.Add(ctx, st, store.Decisions, "Prefer small pull requests")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, first.Embedding)

	// Lexically unrelated but semantically the same.
	got, merged, err := e.Add(ctx, st, store.Decisions, "Keep each change narrowly scoped")
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Same(t, first, got)
	assert.Equal(t, "Keep each change narrowly scoped", got.Text)
	assert.Equal(t, []float64{0.99, 0.1, 0}, got.Embedding)

	_, merged, err = e.Add(ctx, st, store.Perceptions, "The staging cluster runs on Fridays")
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Len(t, st.Entries, 2)
	assert.Equal(t, similarity.Available, e.Sim.State())
}

func TestAddCachesMissingEmbeddings(t *testing.T) {
	emb := &stubEmbedder{vecs: map[string][]float64{
		"Old entry without a vector": {0, 0, 1},
		"Brand new insight here":     {1, 0, 0},
	}}
	e := New(similarity.NewEngine(emb, similarity.Untested, nil), nil)
	st := store.New()
	old := entry("old00000", store.Perceptions, "Old entry without a vector", 1)
	st.Add(old)

	_, merged, err := e.Add(context.Background(), st, store.Perceptions, "Brand new insight here")
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Equal(t, []float64{0, 0, 1}, old.Embedding)
}

func TestFeedbackPositive(t *testing.T) {
	e, now := testEngine(t)
	st := store.New()
	st.Add(entry("a", store.Perceptions, "Users prefer concise answers", 2.9))

	*now = t0.Add(time.Hour)
	got, pruned, err := e.Feedback(st, "a", true)
	require.NoError(t, err)
	assert.False(t, pruned)
	assert.Equal(t, store.MaxStrength, got.Strength)
	assert.Equal(t, 2, got.Reinforcements)
	assert.Equal(t, t0.Add(time.Hour), got.LastReinforced)
}

func TestFeedbackNegative(t *testing.T) {
	e, now := testEngine(t)
	st := store.New()
	st.Add(entry("a", store.Perceptions, "Users prefer concise answers", 1))

	*now = t0.Add(time.Hour)
	got, pruned, err := e.Feedback(st, "a", false)
	require.NoError(t, err)
	assert.False(t, pruned)
	assert.InDelta(t, 0.7, got.Strength, 1e-9)
	assert.Equal(t, 1, got.Reinforcements)
	assert.Equal(t, t0.Add(time.Hour), got.LastReinforced, "weakening still refreshes recency")
}

func TestFeedbackNegativePrunesBelowFloor(t *testing.T) {
	e, _ := testEngine(t)
	st := store.New()
	st.Add(entry("a", store.Perceptions, "Users prefer concise answers", 0.2))
	st.Add(entry("b", store.Perceptions, "Users dislike long rambling answers", 1))
	st.AddEdge("a", "b", 0.6, t0)

	got, pruned, err := e.Feedback(st, "a", false)
	require.NoError(t, err)
	assert.True(t, pruned)
	assert.Equal(t, 0.0, got.Strength)
	assert.Nil(t, st.Get("a"))
	assert.Empty(t, st.Edges)
}

func TestFeedbackUnknownID(t *testing.T) {
	e, _ := testEngine(t)
	_, _, err := e.Feedback(store.New(), "nope", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvict(t *testing.T) {
	e, _ := testEngine(t)
	st := store.New()
	a := entry("a", store.Perceptions, "alpha insight", 0.5)
	b := entry("b", store.Perceptions, "bravo insight", 0.5)
	b.LastReinforced = t0.Add(-time.Hour)
	st.Add(a)
	st.Add(b)
	st.Add(entry("c", store.Decisions, "charlie insight", 2))
	st.Add(entry("d", store.Overrides, "delta insight", 1))
	st.AddEdge("b", "c", 0.5, t0)

	assert.Equal(t, 0, e.Evict(st, 10))
	assert.Equal(t, 0, e.Evict(st, 0))

	require.Len(t, st.Entries, 4)
	assert.Equal(t, 1, e.Evict(st, 3))
	assert.Nil(t, st.Get("b"), "older of the tied weakest goes first")
	assert.Empty(t, st.Edges)

	assert.Equal(t, 1, e.Evict(st, 2))
	assert.Nil(t, st.Get("a"))
	assert.NotNil(t, st.Get("c"))
	assert.NotNil(t, st.Get("d"))
}
