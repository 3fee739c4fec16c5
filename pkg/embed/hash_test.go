package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	t.Parallel()

	embedder := NewHash(384)

	a, err := embedder.EmbedQuery(t.Context(), "The quick brown fox")
	require.NoError(t, err)
	b, err := embedder.EmbedQuery(t.Context(), "The quick brown fox")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHashDimensionsAndNorm(t *testing.T) {
	t.Parallel()

	embedder := NewHash(128)

	vectors, err := embedder.EmbedDocuments(t.Context(), []string{
		"Photosynthesis converts light into chemical energy.",
		"Mitochondria produce ATP.",
	})
	require.NoError(t, err)

	require.Len(t, vectors, 2)
	for _, v := range vectors {
		assert.Len(t, v, 128)
		assertUnitNorm(t, v)
	}
}

func TestHashSimilarTextScoresHigher(t *testing.T) {
	t.Parallel()

	embedder := NewHash(384)

	query, err := embedder.EmbedQuery(t.Context(), "solar energy panels convert sunlight")
	require.NoError(t, err)
	similar, err := embedder.EmbedQuery(t.Context(), "panels convert sunlight into solar energy")
	require.NoError(t, err)
	unrelated, err := embedder.EmbedQuery(t.Context(), "medieval castle fortification architecture")
	require.NoError(t, err)

	assert.Greater(t, dot(query, similar), dot(query, unrelated))
}

func TestHashDefaultDimensions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 384, NewHash(0).Dimensions())
	assert.Equal(t, "feature-hash", NewHash(0).Model())
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
