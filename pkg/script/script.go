package script

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/kofalt/go-memoize"
	"github.com/patrickmn/go-cache"

	"github.com/paperwave/paperwave/pkg/llm"
)

// ErrSynthFailed marks a failed script generation.
var ErrSynthFailed = errors.New("script synthesis failed")

// Mode selects the script shape.
type Mode int

const (
	Narration Mode = iota
	Dialogue
)

// Hints carry the style knobs that shape the prompt. All of them are part
// of the cache identity.
type Hints struct {
	Podcast        bool
	EntirePDF      bool
	Accent         string
	Style          string
	Expressiveness string // low | medium | high
}

// Line is one utterance attributed to a canonical speaker slot (1 or 2).
type Line struct {
	Speaker int    `json:"speaker"`
	Text    string `json:"text"`
}

// Label returns the canonical display label for the line's speaker slot.
func (l Line) Label() string {
	return fmt.Sprintf("Speaker %d", l.Speaker)
}

// Script is a synthesized narration or dialogue. Lines is populated only
// for dialogue mode.
type Script struct {
	Key   string `json:"key"`
	Text  string `json:"text"`
	Lines []Line `json:"lines,omitempty"`
}

// Clone returns an independent copy so cached scripts cannot be mutated
// through a returned pointer.
func (s *Script) Clone() *Script {
	dup := *s
	dup.Lines = slices.Clone(s.Lines)
	return &dup
}

// keyRunes bounds how much source text participates in the cache key.
// Longer inputs only differ in the key when their first keyRunes normalized
// runes differ.
const keyRunes = 1000

// CacheKey derives the deterministic identity of a script request: the
// normalized source prefix folded together with every flag and tag that
// changes the prompt. 32 lowercase hex characters.
func CacheKey(sourceText string, mode Mode, hints Hints) string {
	normalized := strings.Join(strings.Fields(sourceText), " ")
	runes := []rune(normalized)
	if len(runes) > keyRunes {
		runes = runes[:keyRunes]
	}

	canonical := fmt.Sprintf("%s|podcast=%t|two_speakers=%t|entire_pdf=%t|accent=%s|style=%s|expressiveness=%s",
		string(runes), hints.Podcast, mode == Dialogue, hints.EntirePDF,
		hints.Accent, hints.Style, hints.Expressiveness)

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}

// Synthesizer turns source text into scripts, memoizing by CacheKey for the
// process lifetime. Concurrent identical requests share one generation.
type Synthesizer struct {
	provider llm.Provider
	memo     *memoize.Memoizer
}

func NewSynthesizer(provider llm.Provider) *Synthesizer {
	return &Synthesizer{
		provider: provider,
		memo:     memoize.NewMemoizer(cache.NoExpiration, cache.NoExpiration),
	}
}

// Synthesize returns the script for the given source and hints, generating
// it on first request. Nothing is cached on error or cancellation.
func (s *Synthesizer) Synthesize(ctx context.Context, sourceText string, mode Mode, hints Hints) (*Script, error) {
	key := CacheKey(sourceText, mode, hints)

	result, err, cached := memoize.Call(s.memo, key, func() (*Script, error) {
		return s.generate(ctx, key, sourceText, mode, hints)
	})
	if err != nil {
		return nil, err
	}
	if cached {
		slog.Debug("script cache hit", "key", key)
	}

	return result.Clone(), nil
}

func (s *Synthesizer) generate(ctx context.Context, key, sourceText string, mode Mode, hints Hints) (*Script, error) {
	prompt := buildPrompt(sourceText, mode, hints)

	raw, err := s.provider.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthFailed, err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response", ErrSynthFailed)
	}

	result := &Script{Key: key, Text: raw}
	if mode == Dialogue {
		lines, err := ParseDialogue(raw)
		if err != nil {
			return nil, err
		}
		result.Lines = lines
	}

	slog.Debug("script synthesized", "key", key, "mode", mode, "length", len(raw), "lines", len(result.Lines))
	return result, nil
}

func buildPrompt(sourceText string, mode Mode, hints Hints) string {
	words := wordBudget(hints.Expressiveness)

	var sb strings.Builder
	if mode == Dialogue {
		sb.WriteString("Transform the following content into a lively two-person podcast conversation suitable for text-to-speech.\n")
		sb.WriteString("Rules:\n")
		sb.WriteString("- Exactly two speakers. Start every line with \"Speaker 1:\" or \"Speaker 2:\".\n")
		sb.WriteString("- Alternate naturally, with short reactions, follow-up questions and the occasional interruption.\n")
		sb.WriteString("- Stay grounded in the provided content; do not invent facts.\n")
		fmt.Fprintf(&sb, "- Keep the whole conversation under %d words.\n", words)
		sb.WriteString("- No lists, no bullets, no URLs, no stage directions.\n")
	} else {
		sb.WriteString("Transform the following content into a natural, spoken narration suitable for text-to-speech.\n")
		sb.WriteString("Guidelines: conversational tone, clear and concise, avoid lists/bullets, no URLs.\n")
		if hints.Podcast {
			sb.WriteString("Frame it as a solo podcast segment with a brief welcome and sign-off.\n")
		}
		fmt.Fprintf(&sb, "Keep it under %d words.\n", words)
	}
	if hints.Style != "" {
		fmt.Fprintf(&sb, "Tone: %s.\n", hints.Style)
	}
	if hints.Accent != "" {
		fmt.Fprintf(&sb, "Write for a %s English-speaking audience.\n", hints.Accent)
	}
	sb.WriteString("\nContent:\n")
	sb.WriteString(sourceText)
	return sb.String()
}

func wordBudget(expressiveness string) int {
	switch strings.ToLower(expressiveness) {
	case "low":
		return 150
	case "high":
		return 600
	default:
		return 300
	}
}
