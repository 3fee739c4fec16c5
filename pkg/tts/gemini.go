package tts

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/paperwave/paperwave/pkg/environment"
	"github.com/paperwave/paperwave/pkg/httpclient"
	"github.com/paperwave/paperwave/pkg/script"
)

const geminiTTSModel = "gemini-2.5-flash-preview-tts"

// Gemini renders speech through the genai speech-generation models. It is
// the only adapter that can voice a two-speaker script in a single call.
// The client is built lazily so that a missing API key surfaces as an
// AuthFailure on the chain rather than a startup error.
type Gemini struct {
	env   environment.Provider
	model string

	mu     sync.Mutex
	client *genai.Client
}

var (
	_ Provider     = (*Gemini)(nil)
	_ PCMDescriber = (*Gemini)(nil)
)

func NewGemini(env environment.Provider) *Gemini {
	return &Gemini{env: env, model: geminiTTSModel}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) SupportsMultiSpeaker() bool { return true }

func (g *Gemini) OutputFormat() Format { return FormatPCM }

// PCMFormat reports the fixed layout of the speech models' inline audio.
func (g *Gemini) PCMFormat() PCMFormat {
	return PCMFormat{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
}

func (g *Gemini) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	voice = cmp.Or(voice, "Kore")

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	return g.generate(ctx, text, config)
}

func (g *Gemini) SynthesizeDialogue(ctx context.Context, lines []script.Line, voices Voices) ([]byte, error) {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			MultiSpeakerVoiceConfig: &genai.MultiSpeakerVoiceConfig{
				SpeakerVoiceConfigs: []*genai.SpeakerVoiceConfig{
					speakerVoice("Speaker 1", cmp.Or(voices.A, "Kore")),
					speakerVoice("Speaker 2", cmp.Or(voices.B, "Puck")),
				},
			},
		},
	}

	var sb strings.Builder
	sb.WriteString("TTS the following conversation:\n")
	for _, line := range lines {
		fmt.Fprintf(&sb, "Speaker %d: %s\n", line.Speaker, line.Text)
	}

	return g.generate(ctx, sb.String(), config)
}

func speakerVoice(speaker, voice string) *genai.SpeakerVoiceConfig {
	return &genai.SpeakerVoiceConfig{
		Speaker: speaker,
		VoiceConfig: &genai.VoiceConfig{
			PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
		},
	}
}

func (g *Gemini) generate(ctx context.Context, prompt string, config *genai.GenerateContentConfig) ([]byte, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini speech generation failed: %w", err)
	}

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}

	return nil, &ProviderError{
		Provider: g.Name(),
		Kind:     KindTransient,
		Err:      fmt.Errorf("gemini returned no audio data"),
	}
}

func (g *Gemini) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}

	apiKey := cmp.Or(g.env.Get(ctx, "GEMINI_API_KEY"), g.env.Get(ctx, "GOOGLE_API_KEY"))
	if apiKey == "" {
		return nil, &ProviderError{
			Provider: g.Name(),
			Kind:     KindAuthFailure,
			Err:      &environment.RequiredEnvError{Missing: []string{"GEMINI_API_KEY"}},
		}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpclient.NewHTTPClient(),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client init failed: %w", err)
	}

	g.client = client
	return client, nil
}
