package llm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/paperwave/paperwave/pkg/config"
	"github.com/paperwave/paperwave/pkg/environment"
	"github.com/paperwave/paperwave/pkg/httpclient"
)

// OpenAI generates text through the chat completions API.
type OpenAI struct {
	client openai.Client
	cfg    config.LLM
	model  string
}

var _ Provider = (*OpenAI)(nil)

func NewOpenAI(ctx context.Context, cfg config.LLM, env environment.Provider) (*OpenAI, error) {
	apiKey := env.Get(ctx, "OPENAI_API_KEY")
	if apiKey == "" {
		return nil, &environment.RequiredEnvError{Missing: []string{"OPENAI_API_KEY"}}
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpclient.NewHTTPClient()),
	)

	model := cmp.Or(cfg.Model, "gpt-4o-mini")
	slog.Debug("OpenAI text provider created", "model", model)

	return &OpenAI{client: client, cfg: cfg, model: model}, nil
}

func (o *OpenAI) Generate(ctx context.Context, prompt string, opts ...Opt) (string, error) {
	options := applyOptions(o.cfg, opts)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if options.system != "" {
		messages = append(messages, openai.SystemMessage(options.system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: messages,
	}
	if options.temperature != nil {
		params.Temperature = openai.Float(*options.temperature)
	}
	if options.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(options.maxTokens))
	}
	if options.jsonOutput {
		params.ResponseFormat.OfJSONObject = &openai.ResponseFormatJSONObjectParam{}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai generation failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("openai returned an empty response")
	}

	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) Model() string {
	return o.model
}
