package similarity

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexicalRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"abcd", "bcde", 0.75},
		{"Hello", "hello", 1.0},
		{"", "", 1.0},
		{"", "abc", 0.0},
		{"abc", "xyz", 0.0},
		{"Always confirm before deleting files", "Always ask for confirmation before deleting files", 0.8470588},
		{"Users prefer concise answers", "Users prefer short and concise answers overall", 0.7567568},
		{"Users prefer concise answers", "Users dislike long rambling answers", 0.6031746},
		{"Sky is blue", "Users prefer concise answers", 0.3076923},
	}

	for _, tt := range tests {
		got := LexicalRatio(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("LexicalRatio(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestLexicalRatioSymmetricBounds(t *testing.T) {
	pairs := [][2]string{
		{"decided to ship weekly", "shipping weekly was decided"},
		{"naïve café", "naive cafe"},
	}
	for _, p := range pairs {
		s := LexicalRatio(p[0], p[1])
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

const (
	longA = "The nightly export job retries three times before paging anyone, and the retry budget was tuned after the March incident when the warehouse connection pool was exhausted by parallel backfills running against the primary replica."
	longB = "Nightly backfills against the primary replica exhaust the warehouse connection pool, so the export job now pages after three retries instead of retrying forever when the pool is saturated during the March style incidents."
)

func TestLexicalRatioLongTexts(t *testing.T) {
	// No junk heuristic: frequent runes in long texts still count.
	assert.InDelta(t, 0.4053452, LexicalRatio(longA, longB), 1e-6)
}

func TestSequenceReuse(t *testing.T) {
	a, b := NewSequence(longA), NewSequence(longB)
	c := NewSequence("Sky is blue")
	assert.Equal(t, 228, a.Len())

	// Prepared sequences give the same ratio on every comparison.
	for i := 0; i < 3; i++ {
		assert.InDelta(t, LexicalRatio(longA, longB), a.Ratio(b), 1e-12)
		assert.InDelta(t, LexicalRatio("Sky is blue", longA), c.Ratio(a), 1e-12)
		assert.Equal(t, 1.0, a.Ratio(a))
	}
}

func BenchmarkLexicalRatio(b *testing.B) {
	for i := 0; i < b.N; i++ {
		LexicalRatio(longA, longB)
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 0, 0}, []float64{1, 0, 0}), 1e-10)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-10)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-10)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{0, 0}))
}

func TestScoreModes(t *testing.T) {
	r := Score("a", "b", []float64{1, 0}, []float64{1, 0})
	assert.Equal(t, Embedding, r.Mode)
	assert.InDelta(t, 1.0, r.Score, 1e-10)

	// Opposite vectors clamp to zero.
	r = Score("a", "b", []float64{1, 0}, []float64{-1, 0})
	assert.Equal(t, 0.0, r.Score)

	// Mismatched dimensions fall back to lexical.
	r = Score("same", "same", []float64{1}, []float64{1, 0})
	assert.Equal(t, Lexical, r.Mode)
	assert.Equal(t, 1.0, r.Score)

	r = Score("same", "same", nil, []float64{1})
	assert.Equal(t, Lexical, r.Mode)
}

func TestThresholds(t *testing.T) {
	assert.Equal(t, 0.85, MergeThreshold(Embedding))
	assert.Equal(t, 0.72, MergeThreshold(Lexical))

	assert.True(t, Related(Result{Score: 0.40, Mode: Lexical}))
	assert.True(t, Related(Result{Score: 0.80, Mode: Embedding}))
	assert.False(t, Related(Result{Score: 0.80, Mode: Lexical}))
	assert.False(t, Related(Result{Score: 0.34, Mode: Embedding}))
	assert.False(t, Related(Result{Score: 0.85, Mode: Embedding}))
}

// fakeEndpoint serves a deterministic embedding per input text.
func fakeEndpoint(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	r := chi.NewRouter()
	r.Post("/v1/embeddings", func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, req)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func vectorHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	vec := []float64{float64(len(req.Input)), 1, 0}
	json.NewEncoder(w).Encode(map[string]any{
		"data": []map[string]any{{"embedding": vec}},
	})
}

func TestHTTPEmbedder(t *testing.T) {
	srv, _ := fakeEndpoint(t, vectorHandler)
	emb := NewHTTPEmbedder(srv.URL+"/v1/embeddings", "nomic-embed-text", time.Second)

	vec, err := emb.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 1, 0}, vec)
	assert.Equal(t, "http:nomic-embed-text", emb.Model())
}

func TestHTTPEmbedderTruncatesInput(t *testing.T) {
	srv, _ := fakeEndpoint(t, vectorHandler)
	emb := NewHTTPEmbedder(srv.URL+"/v1/embeddings", "", time.Second)

	vec, err := emb.Embed(context.Background(), strings.Repeat("é", 5000))
	require.NoError(t, err)
	// The handler echoes the byte length; 2000 two-byte runes.
	assert.Equal(t, 4000.0, vec[0])
}

func TestHTTPEmbedderFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
		{"empty data", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":[]}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeEndpoint(t, tt.handler)
			emb := NewHTTPEmbedder(srv.URL+"/v1/embeddings", "", time.Second)
			_, err := emb.Embed(context.Background(), "hello")
			assert.Error(t, err)
		})
	}
}

func TestEngineFirstEmbedAvailable(t *testing.T) {
	srv, calls := fakeEndpoint(t, vectorHandler)
	eng := NewEngine(NewHTTPEmbedder(srv.URL+"/v1/embeddings", "", time.Second), Untested, nil)

	assert.Equal(t, Untested, eng.State())
	vec := eng.Embed(context.Background(), "abc")
	require.NotNil(t, vec)
	assert.Equal(t, Available, eng.State())
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestEngineUnavailableIsSticky(t *testing.T) {
	srv, calls := fakeEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	eng := NewEngine(NewHTTPEmbedder(srv.URL+"/v1/embeddings", "", time.Second), Untested, nil)

	assert.Nil(t, eng.Embed(context.Background(), "one"))
	assert.Equal(t, Unavailable, eng.State())

	// No further round-trips once the endpoint is known dead.
	assert.Nil(t, eng.Embed(context.Background(), "two"))
	r := eng.Compare(context.Background(), "abcd", "bcde", nil, nil)
	assert.Equal(t, Lexical, r.Mode)
	assert.InDelta(t, 0.75, r.Score, 1e-9)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestEngineTimeoutFallsBack(t *testing.T) {
	srv, _ := fakeEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		vectorHandler(w, r)
	})
	eng := NewEngine(NewHTTPEmbedder(srv.URL+"/v1/embeddings", "", 20*time.Millisecond), Untested, nil)

	r := eng.Compare(context.Background(), "Hello", "hello", nil, nil)
	assert.Equal(t, Lexical, r.Mode)
	assert.Equal(t, 1.0, r.Score)
	assert.Equal(t, Unavailable, eng.State())
}

func TestEngineNilEmbedder(t *testing.T) {
	eng := NewEngine(nil, Untested, nil)
	assert.Equal(t, Unavailable, eng.State())
	assert.Nil(t, eng.Embed(context.Background(), "x"))
}

func TestEngineCompareUsesEmbeddings(t *testing.T) {
	srv, _ := fakeEndpoint(t, vectorHandler)
	eng := NewEngine(NewHTTPEmbedder(srv.URL+"/v1/embeddings", "", time.Second), Untested, nil)

	r := eng.Compare(context.Background(), "abc", "xyz", nil, nil)
	assert.Equal(t, Embedding, r.Mode)
	assert.InDelta(t, 1.0, r.Score, 1e-9) // equal lengths give identical vectors
}

func TestEmbedAll(t *testing.T) {
	srv, calls := fakeEndpoint(t, vectorHandler)
	eng := NewEngine(NewHTTPEmbedder(srv.URL+"/v1/embeddings", "", time.Second), Untested, nil)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs := eng.EmbedAll(context.Background(), texts, 3)
	require.Len(t, vecs, len(texts))
	for i, v := range vecs {
		require.NotNil(t, v, "text %d", i)
		assert.Equal(t, float64(len(texts[i])), v[0])
	}
	assert.EqualValues(t, len(texts), atomic.LoadInt32(calls))
}

func TestEmbedAllDeadEndpointTriedOnce(t *testing.T) {
	srv, calls := fakeEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	eng := NewEngine(NewHTTPEmbedder(srv.URL+"/v1/embeddings", "", time.Second), Untested, nil)

	vecs := eng.EmbedAll(context.Background(), []string{"a", "b", "c"}, 4)
	for _, v := range vecs {
		assert.Nil(t, v)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestAvailabilityString(t *testing.T) {
	assert.Equal(t, "untested", Untested.String())
	assert.Equal(t, "available", Available.String())
	assert.Equal(t, "unavailable", Unavailable.String())
	assert.Equal(t, "lexical", Lexical.String())
	assert.Equal(t, "embedding", Embedding.String())
}
