// Package pipeline orchestrates one audio generation end to end: resolve
// the source text, synthesize or recall the script, render speech through
// the provider chain, and merge the clips into a chapter-annotated
// artifact. Identical requests collapse onto one in-flight generation and
// replay from cache afterwards, across process restarts.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/paperwave/paperwave/pkg/concurrent"
	"github.com/paperwave/paperwave/pkg/config"
	"github.com/paperwave/paperwave/pkg/mux"
	"github.com/paperwave/paperwave/pkg/script"
	"github.com/paperwave/paperwave/pkg/tts"
)

// Request describes one audio generation. Exactly one source form must be
// set: free text, a (filename, page_number) pair, or a filename with
// entire_pdf.
type Request struct {
	Text       string `json:"text,omitempty"`
	Filename   string `json:"filename,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
	EntirePDF  bool   `json:"entire_pdf,omitempty"`

	Podcast          bool              `json:"podcast,omitempty"`
	TwoSpeakers      bool              `json:"two_speakers,omitempty"`
	Accent           string            `json:"accent,omitempty"`
	Style            string            `json:"style,omitempty"`
	Expressiveness   string            `json:"expressiveness,omitempty"`
	SpeakersOverride map[string]string `json:"speakers_override,omitempty"`
}

// InvalidRequestError rejects a request whose inputs are missing or
// inconsistent before any work is done.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return e.Reason
}

// TextSource resolves a document location to its extractable text.
type TextSource interface {
	PageText(ctx context.Context, filename string, pageNumber int) (string, error)
	FileText(ctx context.Context, filename string) (string, error)
}

// VoiceResolver produces the per-provider voice slots for one request.
type VoiceResolver func(accent string, override map[string]string) tts.VoiceMap

// Pipeline owns the artifact cache and the generation flow behind it.
type Pipeline struct {
	synth      *script.Synthesizer
	dispatcher *tts.Dispatcher
	muxer      *mux.Muxer
	source     TextSource
	voices     VoiceResolver
	audioDir   string
	timeout    time.Duration
	tracer     trace.Tracer

	flight    singleflight.Group
	artifacts *concurrent.Map[string, *mux.Artifact]
}

type Opt func(*Pipeline)

// WithRequestTimeout bounds one whole generation, LLM call included.
func WithRequestTimeout(d time.Duration) Opt {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithTracer enables span emission around generations.
func WithTracer(tracer trace.Tracer) Opt {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

func New(synth *script.Synthesizer, dispatcher *tts.Dispatcher, muxer *mux.Muxer, source TextSource, voices VoiceResolver, audioDir string, opts ...Opt) *Pipeline {
	p := &Pipeline{
		synth:      synth,
		dispatcher: dispatcher,
		muxer:      muxer,
		source:     source,
		voices:     voices,
		audioDir:   audioDir,
		artifacts:  concurrent.NewMap[string, *mux.Artifact](),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ArtifactKey derives the deterministic identity of a finished artifact
// from the script identity and the voices that will speak it. It is
// computable before any model call, so a warm cache answers repeat
// requests without touching the LLM or a provider.
func ArtifactKey(scriptKey string, voices tts.VoiceMap) string {
	var sb strings.Builder
	sb.WriteString(scriptKey)
	for _, name := range config.KnownProviders {
		v, ok := voices[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "|%s=%s+%s", name, v.A, v.B)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:16])
}

// GenerateAudio runs or replays one generation. Concurrent identical
// requests share a single execution; a finished artifact is returned from
// memory on every request after the first.
func (p *Pipeline) GenerateAudio(ctx context.Context, req Request) (*mux.Artifact, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	ctx, span := p.startSpan(ctx, "audio.generate", trace.WithAttributes(
		attribute.Bool("request.two_speakers", req.TwoSpeakers),
		attribute.Bool("request.entire_pdf", req.EntirePDF),
		attribute.String("request.filename", req.Filename),
	))
	defer span.End()

	sourceText, err := p.resolveText(ctx, req)
	if err != nil {
		return nil, err
	}

	mode := script.Narration
	if req.TwoSpeakers {
		mode = script.Dialogue
	}
	hints := script.Hints{
		Podcast:        req.Podcast,
		EntirePDF:      req.EntirePDF,
		Accent:         req.Accent,
		Style:          req.Style,
		Expressiveness: req.Expressiveness,
	}

	scriptKey := script.CacheKey(sourceText, mode, hints)
	voices := p.voices(req.Accent, req.SpeakersOverride)
	key := ArtifactKey(scriptKey, voices)
	span.SetAttributes(attribute.String("artifact.key", key))

	if art, ok := p.cached(key); ok {
		slog.Debug("Artifact cache hit", "key", key)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return art, nil
	}

	treq := tts.Request{Voices: voices, Style: req.Style}
	v, err, shared := p.flight.Do(key, func() (any, error) {
		return p.generate(ctx, key, sourceText, mode, hints, treq)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("Coalesced onto in-flight generation", "key", key)
	}
	return v.(*mux.Artifact), nil
}

// WarmArtifacts loads the artifact sidecars written by previous runs so
// repeat requests replay without regenerating anything. Returns the number
// of artifacts restored.
func (p *Pipeline) WarmArtifacts() int {
	arts := mux.ScanSidecars(p.audioDir)
	for _, art := range arts {
		p.artifacts.Store(art.Key, art)
	}
	return len(arts)
}

// generate is the single-flighted slow path: script, speech, merge, commit.
func (p *Pipeline) generate(ctx context.Context, key, sourceText string, mode script.Mode, hints script.Hints, treq tts.Request) (*mux.Artifact, error) {
	scr, err := p.synth.Synthesize(ctx, sourceText, mode, hints)
	if err != nil {
		return nil, err
	}

	var art *mux.Artifact
	if mode == script.Dialogue {
		art, err = p.dialogue(ctx, key, scr, treq)
	} else {
		art, err = p.narration(ctx, key, scr, treq)
	}
	if err != nil {
		return nil, err
	}

	art.ScriptKey = scr.Key
	return p.commit(ctx, art)
}

func (p *Pipeline) narration(ctx context.Context, key string, scr *script.Script, treq tts.Request) (*mux.Artifact, error) {
	clip, err := p.dispatcher.SynthesizeLine(ctx, scr.Text, 1, treq)
	if err != nil {
		return nil, err
	}
	return p.muxer.Narration(ctx, key, clip, scr.Text)
}

// dialogue prefers a single multi-speaker call through the head provider
// and falls back to per-line fan-out when that is unsupported or fails.
// Lines that fail every provider are dropped from the merge and mark the
// artifact degraded instead of sinking the request.
func (p *Pipeline) dialogue(ctx context.Context, key string, scr *script.Script, treq tts.Request) (*mux.Artifact, error) {
	if p.dispatcher.SupportsMultiSpeaker() {
		clip, err := p.dispatcher.SynthesizeDialogue(ctx, scr.Lines, treq)
		if err == nil {
			return p.muxer.Dialogue(ctx, key, clip, scr.Lines)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("One-call dialogue failed, falling back to per-line synthesis", "error", err)
	}

	results, err := p.dispatcher.SynthesizeLines(ctx, scr.Lines, treq)
	if err != nil {
		return nil, err
	}

	clips := make([]tts.ClipRef, 0, len(results))
	lines := make([]script.Line, 0, len(results))
	var firstErr error
	for i, res := range results {
		if res.Err != nil {
			if firstErr == nil {
				firstErr = res.Err
			}
			slog.Error("Line synthesis failed", "line", i, "speaker", scr.Lines[i].Speaker, "error", res.Err)
			continue
		}
		clips = append(clips, res.Clip)
		lines = append(lines, scr.Lines[i])
	}
	if len(clips) == 0 {
		return nil, firstErr
	}

	art, err := p.muxer.Mux(ctx, key, clips, lines)
	if err != nil {
		return nil, err
	}
	if firstErr != nil {
		art.Degraded = true
	}
	return art, nil
}

// commit records a finished artifact for future requests: sidecar on disk,
// entry in memory. Cancelled work commits nothing. Degraded artifacts are
// returned to the caller but never committed, so a later retry can heal
// what this run could not.
func (p *Pipeline) commit(ctx context.Context, art *mux.Artifact) (*mux.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if art.Degraded {
		return art, nil
	}
	if err := mux.WriteSidecar(p.audioDir, art); err != nil {
		slog.Warn("Writing artifact sidecar failed", "key", art.Key, "error", err)
	}
	p.artifacts.Store(art.Key, art)
	return art, nil
}

// cached returns a committed artifact, re-checking that its merged audio is
// still on disk. A missing file invalidates the entry so the next request
// regenerates it.
func (p *Pipeline) cached(key string) (*mux.Artifact, bool) {
	art, ok := p.artifacts.Load(key)
	if !ok {
		return nil, false
	}
	if art.Path != "" {
		if _, err := os.Stat(art.Path); err != nil {
			slog.Warn("Cached artifact missing on disk, regenerating", "key", key)
			p.artifacts.Delete(key)
			return nil, false
		}
	}
	return art, true
}

func (p *Pipeline) resolveText(ctx context.Context, req Request) (string, error) {
	if text := strings.TrimSpace(req.Text); text != "" {
		return text, nil
	}

	var (
		text string
		err  error
	)
	if req.EntirePDF {
		text, err = p.source.FileText(ctx, req.Filename)
	} else {
		text, err = p.source.PageText(ctx, req.Filename, req.PageNumber)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", &InvalidRequestError{Reason: "no extractable text for the requested source"}
	}
	return text, nil
}

func (p *Pipeline) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, name, opts...)
}

func validate(req Request) error {
	hasText := strings.TrimSpace(req.Text) != ""
	hasFile := req.Filename != ""
	switch {
	case hasText && hasFile:
		return &InvalidRequestError{Reason: "text and filename are mutually exclusive"}
	case !hasText && !hasFile:
		return &InvalidRequestError{Reason: "provide text, or filename with page_number or entire_pdf"}
	case hasText && (req.PageNumber != 0 || req.EntirePDF):
		return &InvalidRequestError{Reason: "page_number and entire_pdf require filename"}
	case hasFile && req.EntirePDF && req.PageNumber != 0:
		return &InvalidRequestError{Reason: "page_number and entire_pdf are mutually exclusive"}
	case hasFile && !req.EntirePDF && req.PageNumber < 1:
		return &InvalidRequestError{Reason: "page_number must be at least 1, or set entire_pdf"}
	}
	return nil
}
