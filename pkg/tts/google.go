package tts

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/paperwave/paperwave/pkg/httpclient"
	"github.com/paperwave/paperwave/pkg/script"
)

// googleMaxChunkRunes is the longest query the translate endpoint accepts
// per request. Longer text is split and the MP3 payloads concatenated.
const googleMaxChunkRunes = 200

// GoogleTranslate speaks through the unofficial Google Translate speech
// endpoint. The voice argument is a host TLD ("com", "co.uk", ...) that
// localizes the accent; there are no named voices.
type GoogleTranslate struct {
	client  *http.Client
	baseURL string // overrides the per-TLD host when set, used by tests
}

var _ Provider = (*GoogleTranslate)(nil)

func NewGoogleTranslate() *GoogleTranslate {
	return &GoogleTranslate{client: httpclient.NewHTTPClient()}
}

func (g *GoogleTranslate) Name() string { return "google" }

func (g *GoogleTranslate) SupportsMultiSpeaker() bool { return false }

func (g *GoogleTranslate) OutputFormat() Format { return FormatMP3 }

func (g *GoogleTranslate) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	tld := cmp.Or(voice, "com")

	var audio bytes.Buffer
	for _, chunk := range splitForSynthesis(text, googleMaxChunkRunes) {
		payload, err := g.fetch(ctx, chunk, tld)
		if err != nil {
			return nil, err
		}
		audio.Write(payload)
	}

	if audio.Len() == 0 {
		return nil, &ProviderError{
			Provider: g.Name(),
			Kind:     KindTransient,
			Err:      fmt.Errorf("translate speech returned no audio"),
		}
	}
	return audio.Bytes(), nil
}

func (g *GoogleTranslate) SynthesizeDialogue(context.Context, []script.Line, Voices) ([]byte, error) {
	return nil, fmt.Errorf("google translate speech has no multi-speaker mode")
}

func (g *GoogleTranslate) fetch(ctx context.Context, text, tld string) ([]byte, error) {
	host := g.baseURL
	if host == "" {
		host = "https://translate.google." + tld
	}

	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("client", "tw-ob")
	query.Set("tl", "en")
	query.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/translate_tts?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "https://translate.google.com/")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("translate speech request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Provider: g.Name(),
			Kind:     ClassifyStatus(resp.StatusCode),
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("translate speech returned status %d", resp.StatusCode),
		}
	}

	return io.ReadAll(resp.Body)
}

// AccentTLD maps a spoken accent hint onto the translate host TLD that
// localizes it. Unknown hints that already look like a TLD pass through;
// anything else falls back to the default host.
func AccentTLD(accent string) string {
	switch strings.ToLower(strings.TrimSpace(accent)) {
	case "", "us", "american":
		return "com"
	case "uk", "british", "england":
		return "co.uk"
	case "au", "australian":
		return "com.au"
	case "in", "indian":
		return "co.in"
	case "ca", "canadian":
		return "ca"
	case "ie", "irish":
		return "ie"
	case "za", "south african":
		return "co.za"
	}
	if accent == strings.ToLower(accent) && !strings.ContainsAny(accent, " /:") {
		return accent
	}
	return "com"
}

// splitForSynthesis breaks text into pieces of at most maxRunes runes each,
// cutting at sentence boundaries where possible and at word boundaries
// otherwise. Adjacent short sentences are merged back greedily to keep the
// request count down.
func splitForSynthesis(text string, maxRunes int) []string {
	var pieces []string
	for _, sentence := range splitSentences(text) {
		if utf8.RuneCountInString(sentence) <= maxRunes {
			pieces = append(pieces, sentence)
			continue
		}
		pieces = append(pieces, splitLongSentence(sentence, maxRunes)...)
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0
	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if currentLen > 0 && currentLen+1+n > maxRunes {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
		if currentLen > 0 {
			current.WriteByte(' ')
			currentLen++
		}
		current.WriteString(piece)
		currentLen += n
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range strings.TrimSpace(text) {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func splitLongSentence(sentence string, maxRunes int) []string {
	var parts []string
	var current strings.Builder
	count := 0

	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
			count = 0
		}
	}

	for _, word := range strings.Fields(sentence) {
		runes := []rune(word)
		for len(runes) > maxRunes {
			flush()
			parts = append(parts, string(runes[:maxRunes]))
			runes = runes[maxRunes:]
		}
		if len(runes) == 0 {
			continue
		}
		if count > 0 && count+1+len(runes) > maxRunes {
			flush()
		}
		if count > 0 {
			current.WriteByte(' ')
			count++
		}
		current.WriteString(string(runes))
		count += len(runes)
	}
	flush()
	return parts
}
