package llm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/paperwave/paperwave/pkg/config"
	"github.com/paperwave/paperwave/pkg/environment"
	"github.com/paperwave/paperwave/pkg/httpclient"
)

const defaultAnthropicMaxTokens = 4096

// Anthropic generates text through the messages API. There is no native
// JSON response mode; callers needing JSON must ask for it in the prompt.
type Anthropic struct {
	client anthropic.Client
	cfg    config.LLM
	model  string
}

var _ Provider = (*Anthropic)(nil)

func NewAnthropic(ctx context.Context, cfg config.LLM, env environment.Provider) (*Anthropic, error) {
	apiKey := env.Get(ctx, "ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, &environment.RequiredEnvError{Missing: []string{"ANTHROPIC_API_KEY"}}
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpclient.NewHTTPClient()),
	)

	model := cmp.Or(cfg.Model, "claude-sonnet-4-0")
	slog.Debug("Anthropic text provider created", "model", model)

	return &Anthropic{client: client, cfg: cfg, model: model}, nil
}

func (a *Anthropic) Generate(ctx context.Context, prompt string, opts ...Opt) (string, error) {
	options := applyOptions(a.cfg, opts)

	maxTokens := options.maxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if options.temperature != nil {
		params.Temperature = param.NewOpt(*options.temperature)
	}
	if options.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: options.system}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic generation failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}

	text := sb.String()
	if text == "" {
		return "", errors.New("anthropic returned an empty response")
	}
	return text, nil
}

func (a *Anthropic) Model() string {
	return a.model
}
