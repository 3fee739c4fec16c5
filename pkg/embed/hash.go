package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// Hash is a deterministic offline embedder: token and bigram features are
// hashed into D buckets with signed counts, then L2-normalized. It needs no
// network or model weights, which makes it the development and test
// default. Cosine similarity over its vectors still tracks lexical overlap.
type Hash struct {
	dims int
}

var _ Embedder = (*Hash)(nil)

func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = 384
	}
	return &Hash{dims: dims}
}

func (h *Hash) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = h.embed(text)
	}
	return vectors, nil
}

func (h *Hash) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.embed(text), nil
}

func (h *Hash) embed(text string) []float32 {
	vector := make([]float32, h.dims)

	tokens := tokenize(text)
	for i, token := range tokens {
		addFeature(vector, token)
		if i > 0 {
			addFeature(vector, tokens[i-1]+" "+token)
		}
	}

	return normalize(vector)
}

// addFeature hashes the feature into a bucket; one hash bit picks the sign
// so collisions tend to cancel rather than pile up.
func addFeature(vector []float32, feature string) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()

	bucket := int(sum % uint64(len(vector)))
	if sum&(1<<63) != 0 {
		vector[bucket]--
	} else {
		vector[bucket]++
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (h *Hash) Dimensions() int {
	return h.dims
}

func (h *Hash) Model() string {
	return "feature-hash"
}
