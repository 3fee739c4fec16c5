package retrieval

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperwave/paperwave/pkg/embed"
	"github.com/paperwave/paperwave/pkg/index"
	"github.com/paperwave/paperwave/pkg/ingest"
)

// fakeEmbedder returns [1, 0] for every query so index scores equal the
// first component of each stored vector.
type fakeEmbedder struct {
	err     error
	queries []string
}

var _ embed.Embedder = (*fakeEmbedder)(nil)

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, f.err
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.queries = append(f.queries, text)
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) Dimensions() int { return 2 }
func (f *fakeEmbedder) Model() string   { return "fake" }

// vec builds a 2D unit vector whose inner product with [1, 0] equals score.
func vec(score float64) []float32 {
	return []float32{float32(score), float32(math.Sqrt(1 - score*score))}
}

func seed(t *testing.T, ix *index.Index, filename string, page int, score float64, text string) {
	t.Helper()
	require.NoError(t, ix.Add(
		[]ingest.Chunk{{Text: text, Filename: filename, PageNumber: page}},
		[][]float32{vec(score)},
	))
}

func TestRecommendShapesHits(t *testing.T) {
	t.Parallel()

	ix := index.New(2)
	seed(t, ix, "a.pdf", 1, 0.9, "alpha")
	seed(t, ix, "b.pdf", 2, 0.8, "beta")
	seed(t, ix, "c.pdf", 3, 0.7, "gamma")

	r := New(&fakeEmbedder{}, ix)
	hits, err := r.Recommend(t.Context(), Query{Text: "query", K: 2})
	require.NoError(t, err)

	require.Len(t, hits, 2)
	assert.Equal(t, "alpha", hits[0].Snippet)
	assert.Equal(t, "a.pdf", hits[0].Filename)
	assert.Equal(t, 1, hits[0].PageNumber)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.1, hits[0].Distance, 1e-6)
	assert.Equal(t, "beta", hits[1].Snippet)
}

func TestRecommendEmptyQueryText(t *testing.T) {
	t.Parallel()

	r := New(&fakeEmbedder{}, index.New(2))
	hits, err := r.Recommend(t.Context(), Query{Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRecommendEmbedderDown(t *testing.T) {
	t.Parallel()

	r := New(&fakeEmbedder{err: embed.ErrUnavailable}, index.New(2))
	_, err := r.Recommend(t.Context(), Query{Text: "query"})
	assert.ErrorIs(t, err, embed.ErrUnavailable)
}

func TestRecommendExcludesSelfPage(t *testing.T) {
	t.Parallel()

	ix := index.New(2)
	seed(t, ix, "a.pdf", 1, 0.95, "self page")
	seed(t, ix, "b.pdf", 4, 0.6, "other doc")

	r := New(&fakeEmbedder{}, ix)
	hits, err := r.Recommend(t.Context(), Query{
		Filename: "a.pdf", PageNumber: 1, K: 5, ExcludeSelf: true,
	})
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, "b.pdf", hits[0].Filename)
}

func TestRecommendFallsBackToBestSelf(t *testing.T) {
	t.Parallel()

	ix := index.New(2)
	seed(t, ix, "a.pdf", 1, 0.95, "best self chunk")
	seed(t, ix, "a.pdf", 1, 0.5, "weaker self chunk")
	// Other material exists but falls under the score floor.
	seed(t, ix, "b.pdf", 2, 0.1, "barely related")

	minScore := 0.4
	r := New(&fakeEmbedder{}, ix)
	hits, err := r.Recommend(t.Context(), Query{
		Filename: "a.pdf", PageNumber: 1, K: 5,
		MinScore: &minScore, ExcludeSelf: true,
	})
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, "best self chunk", hits[0].Snippet)
	assert.Equal(t, "a.pdf", hits[0].Filename)
	assert.Equal(t, 1, hits[0].PageNumber)
}

func TestRecommendSelfNotExcludedWithoutPage(t *testing.T) {
	t.Parallel()

	ix := index.New(2)
	seed(t, ix, "a.pdf", 1, 0.9, "same doc")

	r := New(&fakeEmbedder{}, ix)
	hits, err := r.Recommend(t.Context(), Query{Filename: "a.pdf", K: 5, ExcludeSelf: true})
	require.NoError(t, err)

	// Whole-file queries keep hits from the file itself.
	require.Len(t, hits, 1)
	assert.Equal(t, "a.pdf", hits[0].Filename)
}

func TestQueryTextPrefersExplicitText(t *testing.T) {
	t.Parallel()

	ix := index.New(2)
	seed(t, ix, "a.pdf", 1, 0.9, "page text")

	r := New(&fakeEmbedder{}, ix)
	assert.Equal(t, "explicit", r.QueryText(Query{Text: " explicit ", Filename: "a.pdf", PageNumber: 1}))
	assert.Equal(t, "page text", r.QueryText(Query{Filename: "a.pdf", PageNumber: 1}))
	assert.Equal(t, "page text", r.QueryText(Query{Filename: "a.pdf"}))
	assert.Empty(t, r.QueryText(Query{}))
}

func TestQueryTextCapsAggregatedText(t *testing.T) {
	t.Parallel()

	ix := index.New(2)
	long := strings.Repeat("x", 3000)
	seed(t, ix, "a.pdf", 1, 0.9, long)

	r := New(&fakeEmbedder{}, ix)
	got := r.QueryText(Query{Filename: "a.pdf", PageNumber: 1})
	assert.Len(t, got, 2000)

	// Explicit text is passed through untouched.
	assert.Len(t, r.QueryText(Query{Text: long}), 3000)
}

func TestCitationsDedupAndTruncate(t *testing.T) {
	t.Parallel()

	ix := index.New(2)
	seed(t, ix, "a.pdf", 1, 0.95, strings.Repeat("long ", 200))
	seed(t, ix, "a.pdf", 1, 0.90, "duplicate page")
	seed(t, ix, "b.pdf", 2, 0.85, "second")
	seed(t, ix, "c.pdf", 3, 0.80, "third")

	r := New(&fakeEmbedder{}, ix)
	citations := r.Citations(t.Context(), "topic", 2)

	require.Len(t, citations, 2)
	assert.Equal(t, "a.pdf", citations[0].Filename)
	assert.Equal(t, 1, citations[0].PageNumber)
	assert.LessOrEqual(t, len([]rune(citations[0].Snippet)), 500)
	assert.Equal(t, "b.pdf", citations[1].Filename)
}

func TestCitationsSwallowEmbedderFailure(t *testing.T) {
	t.Parallel()

	r := New(&fakeEmbedder{err: errors.New("down")}, index.New(2))
	assert.Empty(t, r.Citations(t.Context(), "topic", 3))
}
