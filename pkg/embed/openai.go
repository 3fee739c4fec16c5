package embed

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/paperwave/paperwave/pkg/config"
	"github.com/paperwave/paperwave/pkg/environment"
	"github.com/paperwave/paperwave/pkg/httpclient"
)

// OpenAI embeds text through the OpenAI embeddings API.
type OpenAI struct {
	client openai.Client
	model  string
	dims   int
}

var _ Embedder = (*OpenAI)(nil)

func NewOpenAI(ctx context.Context, cfg config.Embedding, env environment.Provider) (*OpenAI, error) {
	apiKey := env.Get(ctx, "OPENAI_API_KEY")
	if apiKey == "" {
		return nil, &environment.RequiredEnvError{Missing: []string{"OPENAI_API_KEY"}}
	}

	model := cmp.Or(cfg.Model, "text-embedding-3-small")

	slog.Debug("OpenAI embedder created", "model", model, "dimensions", cfg.Dimensions)

	return &OpenAI{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(httpclient.NewHTTPClient()),
		),
		model: model,
		dims:  cfg.Dimensions,
	}, nil
}

func (o *OpenAI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, defaultBatchSize, 4, o.embed)
}

func (o *OpenAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (o *OpenAI) embed(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: o.model,
	}
	if o.dims > 0 {
		params.Dimensions = param.NewOpt(int64(o.dims))
	}

	response, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrUnavailable, len(texts), len(response.Data))
	}

	vectors := make([][]float32, len(response.Data))
	for i, data := range response.Data {
		values := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			values[j] = float32(v)
		}
		vectors[i] = normalize(values)
	}

	return vectors, nil
}

func (o *OpenAI) Dimensions() int {
	return o.dims
}

func (o *OpenAI) Model() string {
	return o.model
}
