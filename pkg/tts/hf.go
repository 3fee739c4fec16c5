package tts

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/paperwave/paperwave/pkg/environment"
	"github.com/paperwave/paperwave/pkg/httpclient"
	"github.com/paperwave/paperwave/pkg/script"
)

const (
	hfInferenceBaseURL = "https://api-inference.huggingface.co/models/"
	hfDefaultModel     = "nari-labs/Dia-1.6B"
)

// HuggingFace speaks through the hosted inference API. The voice argument
// names the model to run; a cold model answers 503 while it loads, which
// classifies as Transient so the chain moves on without waiting.
type HuggingFace struct {
	env     environment.Provider
	client  *http.Client
	baseURL string
}

var _ Provider = (*HuggingFace)(nil)

func NewHuggingFace(env environment.Provider) *HuggingFace {
	return &HuggingFace{
		env:     env,
		client:  httpclient.NewHTTPClient(),
		baseURL: hfInferenceBaseURL,
	}
}

func (h *HuggingFace) Name() string { return "hf" }

func (h *HuggingFace) SupportsMultiSpeaker() bool { return false }

func (h *HuggingFace) OutputFormat() Format { return FormatMP3 }

func (h *HuggingFace) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	token := cmp.Or(h.env.Get(ctx, "HUGGINGFACE_API_TOKEN"), h.env.Get(ctx, "HF_TOKEN"))
	if token == "" {
		return nil, &ProviderError{
			Provider: h.Name(),
			Kind:     KindAuthFailure,
			Err:      &environment.RequiredEnvError{Missing: []string{"HUGGINGFACE_API_TOKEN"}},
		}
	}

	model := cmp.Or(voice, hfDefaultModel)

	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+model, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hf inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProviderError{
			Provider: h.Name(),
			Kind:     ClassifyStatus(resp.StatusCode),
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("hf inference returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hf inference read failed: %w", err)
	}
	if len(audio) == 0 {
		return nil, &ProviderError{
			Provider: h.Name(),
			Kind:     KindTransient,
			Err:      fmt.Errorf("hf inference returned no audio"),
		}
	}
	return audio, nil
}

func (h *HuggingFace) SynthesizeDialogue(context.Context, []script.Line, Voices) ([]byte, error) {
	return nil, fmt.Errorf("hf inference has no multi-speaker mode")
}
