package llm

import (
	"context"
	"fmt"

	"github.com/paperwave/paperwave/pkg/config"
	"github.com/paperwave/paperwave/pkg/environment"
)

// Provider generates text from a single prompt. Implementations are safe
// for concurrent use.
type Provider interface {
	Generate(ctx context.Context, prompt string, opts ...Opt) (string, error)
	Model() string
}

// GenerateOptions hold per-call overrides on top of the configured model
// parameters.
type GenerateOptions struct {
	temperature *float64
	maxTokens   int
	jsonOutput  bool
	system      string
}

type Opt func(*GenerateOptions)

func WithTemperature(t float64) Opt {
	return func(o *GenerateOptions) {
		o.temperature = &t
	}
}

func WithMaxTokens(n int) Opt {
	return func(o *GenerateOptions) {
		o.maxTokens = n
	}
}

// WithJSONOutput asks the model for a JSON object response. Providers
// without a native JSON mode rely on the prompt alone.
func WithJSONOutput() Opt {
	return func(o *GenerateOptions) {
		o.jsonOutput = true
	}
}

func WithSystemPrompt(s string) Opt {
	return func(o *GenerateOptions) {
		o.system = s
	}
}

func applyOptions(cfg config.LLM, opts []Opt) GenerateOptions {
	options := GenerateOptions{
		maxTokens: cfg.MaxTokens,
	}
	if cfg.Temperature > 0 {
		options.temperature = &cfg.Temperature
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// New builds the text generation provider named by the configuration.
func New(ctx context.Context, cfg config.LLM, env environment.Provider) (Provider, error) {
	switch cfg.Provider {
	case "", "gemini":
		return NewGemini(ctx, cfg, env)
	case "openai":
		return NewOpenAI(ctx, cfg, env)
	case "anthropic":
		return NewAnthropic(ctx, cfg, env)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
