package llm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/paperwave/paperwave/pkg/config"
	"github.com/paperwave/paperwave/pkg/environment"
	"github.com/paperwave/paperwave/pkg/httpclient"
)

// Gemini generates text through the genai API.
type Gemini struct {
	client *genai.Client
	cfg    config.LLM
	model  string
}

var _ Provider = (*Gemini)(nil)

func NewGemini(ctx context.Context, cfg config.LLM, env environment.Provider) (*Gemini, error) {
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

	model := cmp.Or(cfg.Model, "gemini-2.5-flash")
	slog.Debug("Gemini text provider created", "model", model)

	return &Gemini{client: client, cfg: cfg, model: model}, nil
}

func (g *Gemini) Generate(ctx context.Context, prompt string, opts ...Opt) (string, error) {
	options := applyOptions(g.cfg, opts)

	generateConfig := &genai.GenerateContentConfig{}
	if options.maxTokens > 0 {
		generateConfig.MaxOutputTokens = int32(options.maxTokens)
	}
	if options.temperature != nil {
		generateConfig.Temperature = genai.Ptr(float32(*options.temperature))
	}
	if options.jsonOutput {
		generateConfig.ResponseMIMEType = "application/json"
	}
	if options.system != "" {
		generateConfig.SystemInstruction = genai.NewContentFromText(options.system, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, generateConfig)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
		break
	}

	text := sb.String()
	if text == "" {
		return "", errors.New("gemini returned an empty response")
	}
	return text, nil
}

func (g *Gemini) Model() string {
	return g.model
}
