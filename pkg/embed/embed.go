package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/paperwave/paperwave/pkg/config"
	"github.com/paperwave/paperwave/pkg/environment"
)

// ErrUnavailable marks failures of the backing embedding service. Callers
// surface it as a retryable 5xx-class condition.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Embedder maps text to unit vectors of a fixed dimension.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
}

// New builds the configured embedding adapter.
func New(ctx context.Context, cfg config.Embedding, env environment.Provider) (Embedder, error) {
	switch cfg.Provider {
	case "", "gemini":
		return NewGemini(ctx, cfg, env)
	case "openai":
		return NewOpenAI(ctx, cfg, env)
	case "hash":
		return NewHash(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// normalize scales v to unit L2 norm in place. Zero vectors are returned
// unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

const defaultBatchSize = 50

// embedInBatches fans the texts out in fixed-size batches, at most
// maxConcurrency in flight, placing results by index so output order
// matches input order.
func embedInBatches(ctx context.Context, texts []string, batchSize, maxConcurrency int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	embeddings := make([][]float32, len(texts))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))

		g.Go(func() error {
			batch, err := fn(ctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(batch) != end-start {
				return fmt.Errorf("expected %d embeddings, got %d", end-start, len(batch))
			}

			mu.Lock()
			copy(embeddings[start:end], batch)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return embeddings, nil
}
