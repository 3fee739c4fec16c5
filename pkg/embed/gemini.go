package embed

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/paperwave/paperwave/pkg/config"
	"github.com/paperwave/paperwave/pkg/environment"
	"github.com/paperwave/paperwave/pkg/httpclient"
)

// Gemini embeds text through the genai embedding API.
type Gemini struct {
	client *genai.Client
	model  string
	dims   int
}

var _ Embedder = (*Gemini)(nil)

func NewGemini(ctx context.Context, cfg config.Embedding, env environment.Provider) (*Gemini, error) {
	apiKey := cmp.Or(env.Get(ctx, "GEMINI_API_KEY"), env.Get(ctx, "GOOGLE_API_KEY"))
	if apiKey == "" {
		return nil, &environment.RequiredEnvError{Missing: []string{"GEMINI_API_KEY"}}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpclient.NewHTTPClient(),
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Gemini embedder created", "model", cfg.Model, "dimensions", cfg.Dimensions)

	return &Gemini{
		client: client,
		model:  cmp.Or(cfg.Model, "gemini-embedding-001"),
		dims:   cfg.Dimensions,
	}, nil
}

func (g *Gemini) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, defaultBatchSize, 4, func(ctx context.Context, batch []string) ([][]float32, error) {
		return g.embed(ctx, batch, "RETRIEVAL_DOCUMENT")
	})
}

func (g *Gemini) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *Gemini) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	embedConfig := &genai.EmbedContentConfig{
		TaskType: taskType,
	}
	if g.dims > 0 {
		embedConfig.OutputDimensionality = genai.Ptr(int32(g.dims))
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, embedConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrUnavailable, len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, embedding := range resp.Embeddings {
		values := make([]float32, len(embedding.Values))
		copy(values, embedding.Values)
		vectors[i] = normalize(values)
	}

	return vectors, nil
}

func (g *Gemini) Dimensions() int {
	return g.dims
}

func (g *Gemini) Model() string {
	return g.model
}
