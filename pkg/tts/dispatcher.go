package tts

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/paperwave/paperwave/pkg/audio"
	"github.com/paperwave/paperwave/pkg/concurrent"
	"github.com/paperwave/paperwave/pkg/config"
	"github.com/paperwave/paperwave/pkg/environment"
	"github.com/paperwave/paperwave/pkg/script"
)

// VoiceMap resolves the two speaker slots for every provider in the chain.
// It is computed once per request and held constant within it.
type VoiceMap map[string]Voices

// Request carries the per-request knobs shared by every synthesis unit of
// one script.
type Request struct {
	Voices VoiceMap
	Style  string
}

// LineResult pairs the clip synthesized for one line with the error that
// prevented it. Index i always corresponds to input line i.
type LineResult struct {
	Clip ClipRef
	Err  error
}

// Dispatcher drives the ordered provider chain, the on-disk clip cache, and
// the bounded fan-out pool.
type Dispatcher struct {
	providers []Provider
	toolchain audio.Toolchain
	audioDir  string
	workers   int
	timeout   time.Duration
	clips     *concurrent.Map[string, ClipRef]
}

type DispatcherOpt func(*Dispatcher)

// WithWorkers bounds the per-line fan-out pool.
func WithWorkers(n int) DispatcherOpt {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithProviderTimeout bounds each individual provider attempt.
func WithProviderTimeout(timeout time.Duration) DispatcherOpt {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithToolchain sets the audio toolchain used to normalize clips to the MP3
// target. Without one, clips stay in their native format.
func WithToolchain(tc audio.Toolchain) DispatcherOpt {
	return func(d *Dispatcher) {
		d.toolchain = tc
	}
}

func NewDispatcher(providers []Provider, audioDir string, opts ...DispatcherOpt) *Dispatcher {
	d := &Dispatcher{
		providers: providers,
		audioDir:  audioDir,
		workers:   2,
		timeout:   60 * time.Second,
		clips:     concurrent.NewMap[string, ClipRef](),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// BuildProviders constructs the adapters named by the configured fallback
// order. A forced provider has already collapsed the order to one entry.
func BuildProviders(cfg *config.Config, env environment.Provider) []Provider {
	var providers []Provider
	for _, name := range cfg.ProviderOrder() {
		switch name {
		case "gemini":
			providers = append(providers, NewGemini(env))
		case "google":
			providers = append(providers, NewGoogleTranslate())
		case "edge":
			providers = append(providers, NewEdge())
		case "hf":
			providers = append(providers, NewHuggingFace(env))
		case "offline":
			providers = append(providers, NewOffline())
		}
	}
	return providers
}

// ResolveVoices builds the per-provider voice slots for one request. The
// request-level override wins over the configured defaults; the accent hint
// picks the translate host for the google adapter, which localizes by
// region instead of naming voices.
func ResolveVoices(cfg *config.Config, accent string, override map[string]string) VoiceMap {
	vm := make(VoiceMap, len(config.KnownProviders))
	for _, name := range config.KnownProviders {
		voice := cfg.VoiceFor(name)
		switch name {
		case "google":
			tld := AccentTLD(cmp.Or(accent, voice.Accent))
			vm[name] = Voices{A: tld, B: tld}
		case "offline":
			vm[name] = Voices{
				A: cmp.Or(overrideVoice(override, 1), voice.Speaker1, "alto"),
				B: cmp.Or(overrideVoice(override, 2), voice.Speaker2, "baritone"),
			}
		default:
			vm[name] = Voices{
				A: cmp.Or(overrideVoice(override, 1), voice.Speaker1),
				B: cmp.Or(overrideVoice(override, 2), voice.Speaker2),
			}
		}
	}
	return vm
}

// overrideVoice finds the override entry for a 1-based speaker, accepting
// labels like "1", "2", "speaker 1", or "Speaker 2".
func overrideVoice(override map[string]string, speaker int) string {
	for label, voice := range override {
		normalized := strings.ToLower(strings.Join(strings.Fields(label), " "))
		normalized = strings.TrimSpace(strings.TrimPrefix(normalized, "speaker"))
		if normalized == strconv.Itoa(speaker) {
			return voice
		}
	}
	return ""
}

// SupportsMultiSpeaker reports whether the preferred provider can voice a
// whole dialogue in one call.
func (d *Dispatcher) SupportsMultiSpeaker() bool {
	return len(d.providers) > 0 && d.providers[0].SupportsMultiSpeaker()
}

// Providers returns the names of the chain in order.
func (d *Dispatcher) Providers() []string {
	names := make([]string, 0, len(d.providers))
	for _, p := range d.providers {
		names = append(names, p.Name())
	}
	return names
}

// SynthesizeLine renders one unit of speech through the fallback chain.
func (d *Dispatcher) SynthesizeLine(ctx context.Context, text string, speaker int, req Request) (ClipRef, error) {
	return d.run(ctx, req,
		func(p Provider, v Voices) string {
			return ClipKey(text, v.Voice(speaker), p.Name(), req.Style)
		},
		func(ctx context.Context, p Provider, v Voices) ([]byte, error) {
			return p.Synthesize(ctx, text, v.Voice(speaker))
		})
}

// SynthesizeLines fans the lines out over the worker pool. A failed line
// never cancels its siblings; callers inspect per-index results to decide
// between full and degraded output. The returned error is reserved for
// request cancellation.
func (d *Dispatcher) SynthesizeLines(ctx context.Context, lines []script.Line, req Request) ([]LineResult, error) {
	results := make([]LineResult, len(lines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, line := range lines {
		g.Go(func() error {
			clip, err := d.SynthesizeLine(gctx, line.Text, line.Speaker, req)
			results[i] = LineResult{Clip: clip, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// SynthesizeDialogue renders a parsed two-speaker script in a single call
// through the preferred provider. There is no chain behind it: callers fall
// back to per-line fan-out when the one call fails.
func (d *Dispatcher) SynthesizeDialogue(ctx context.Context, lines []script.Line, req Request) (ClipRef, error) {
	if len(d.providers) == 0 {
		return ClipRef{}, errors.New("no tts providers configured")
	}
	p := d.providers[0]
	if !p.SupportsMultiSpeaker() {
		return ClipRef{}, fmt.Errorf("provider %s does not support multi-speaker synthesis", p.Name())
	}

	v := req.Voices[p.Name()]
	key := ClipKey(dialogueText(lines), v.A+"+"+v.B, p.Name(), req.Style)

	if clip, ok := d.cachedClip(key, p); ok {
		slog.Debug("Dialogue clip cache hit", "clip", filepath.Base(clip.Path))
		return clip, nil
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	data, err := p.SynthesizeDialogue(cctx, lines, v)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ClipRef{}, ctx.Err()
		}
		perr := Classify(p.Name(), err)
		slog.Warn("Multi-speaker synthesis failed", "provider", p.Name(), "kind", perr.Kind, "error", perr.Err)
		return ClipRef{}, perr
	}

	return d.persist(ctx, p, key, data)
}

func dialogueText(lines []script.Line) string {
	var sb strings.Builder
	for _, line := range lines {
		fmt.Fprintf(&sb, "Speaker %d: %s\n", line.Speaker, line.Text)
	}
	return sb.String()
}

// run executes the fallback chain for one synthesis unit: probe every
// provider's cache slot first, then attempt synthesis in order, classifying
// and logging each failure before moving on.
func (d *Dispatcher) run(ctx context.Context, req Request,
	keyFor func(Provider, Voices) string,
	call func(context.Context, Provider, Voices) ([]byte, error),
) (ClipRef, error) {
	// Any provider's prior rendering of this unit wins before the first
	// network call is made.
	for _, p := range d.providers {
		key := keyFor(p, req.Voices[p.Name()])
		if clip, ok := d.cachedClip(key, p); ok {
			slog.Debug("Clip cache hit", "clip", filepath.Base(clip.Path))
			return clip, nil
		}
	}

	var attempts []*ProviderError
	for _, p := range d.providers {
		if err := ctx.Err(); err != nil {
			return ClipRef{}, err
		}

		v := req.Voices[p.Name()]
		cctx, cancel := context.WithTimeout(ctx, d.timeout)
		data, err := call(cctx, p, v)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ClipRef{}, ctx.Err()
			}
			perr := Classify(p.Name(), err)
			attempts = append(attempts, perr)
			if perr.Retryable() {
				slog.Warn("TTS provider failed, trying next", "provider", p.Name(), "kind", perr.Kind, "error", perr.Err)
			} else {
				slog.Error("TTS provider rejected request, trying next", "provider", p.Name(), "kind", perr.Kind, "error", perr.Err)
			}
			continue
		}

		clip, err := d.persist(ctx, p, keyFor(p, v), data)
		if err != nil {
			attempts = append(attempts, Classify(p.Name(), err))
			slog.Error("Persisting clip failed, trying next provider", "provider", p.Name(), "error", err)
			continue
		}
		return clip, nil
	}

	return ClipRef{}, &AllProvidersFailedError{Attempts: attempts}
}

// persist writes the synthesized bytes under their deterministic name,
// wrapping raw PCM into a WAV container first and then normalizing to the
// MP3 target on a best-effort basis.
func (d *Dispatcher) persist(ctx context.Context, p Provider, key string, data []byte) (ClipRef, error) {
	format := p.OutputFormat()
	if format == FormatPCM {
		pcm, ok := p.(PCMDescriber)
		if !ok {
			return ClipRef{}, fmt.Errorf("provider %s emits pcm without describing its layout", p.Name())
		}
		layout := pcm.PCMFormat()
		wrapped, err := audio.WrapPCM(data, layout.SampleRate, layout.Channels, layout.BitsPerSample)
		if err != nil {
			return ClipRef{}, fmt.Errorf("wrapping %s pcm: %w", p.Name(), err)
		}
		data = wrapped
		format = FormatWAV
	}

	name := ClipBasename(key, p.Name(), format)
	path := filepath.Join(d.audioDir, name)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return ClipRef{}, fmt.Errorf("writing clip %s: %w", name, err)
	}

	clip := ClipRef{Path: path, URL: "/audio/" + name, Format: format, Provider: p.Name()}

	if format != FormatMP3 && d.toolchain != nil {
		mp3Name := ClipBasename(key, p.Name(), FormatMP3)
		mp3Path := filepath.Join(d.audioDir, mp3Name)
		if err := d.toolchain.Convert(ctx, path, mp3Path); err != nil {
			slog.Warn("Clip normalization failed, keeping native format", "clip", name, "error", err)
		} else {
			clip = ClipRef{Path: mp3Path, URL: "/audio/" + mp3Name, Format: FormatMP3, Provider: p.Name()}
		}
	}

	d.clips.Store(key, clip)
	return clip, nil
}

// cachedClip looks the key up in process memory and then on disk, probing
// the normalized MP3 name before the provider's native format.
func (d *Dispatcher) cachedClip(key string, p Provider) (ClipRef, bool) {
	if clip, ok := d.clips.Load(key); ok {
		return clip, true
	}

	candidates := []Format{FormatMP3}
	if native := p.OutputFormat(); native != FormatMP3 {
		candidates = append(candidates, native)
	}
	for _, format := range candidates {
		name := ClipBasename(key, p.Name(), format)
		path := filepath.Join(d.audioDir, name)
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			continue
		}
		if format == FormatPCM {
			format = FormatWAV
		}
		clip := ClipRef{Path: path, URL: "/audio/" + name, Format: format, Provider: p.Name()}
		d.clips.Store(key, clip)
		return clip, true
	}
	return ClipRef{}, false
}

// WarmCache scans the audio directory and records every clip already on
// disk so cache hits survive restarts. Returns the number of clips mapped.
func (d *Dispatcher) WarmCache() int {
	entries, err := os.ReadDir(d.audioDir)
	if err != nil {
		slog.Warn("Audio cache scan failed", "dir", d.audioDir, "error", err)
		return 0
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, clip, ok := parseClipName(entry.Name())
		if !ok {
			continue
		}
		clip.Path = filepath.Join(d.audioDir, entry.Name())
		// The normalized rendering wins over a native-format sibling.
		if existing, ok := d.clips.Load(key); ok && existing.Format == FormatMP3 {
			continue
		}
		d.clips.Store(key, clip)
		count++
	}

	slog.Debug("Audio cache warmed", "dir", d.audioDir, "clips", count)
	return count
}

// parseClipName decodes the deterministic tts_<key>_<provider>.<ext>
// basenames produced by persist.
func parseClipName(name string) (string, ClipRef, bool) {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	parts := strings.SplitN(stem, "_", 3)
	if len(parts) != 3 || parts[0] != "tts" || len(parts[1]) != 32 {
		return "", ClipRef{}, false
	}

	var format Format
	switch ext {
	case "mp3":
		format = FormatMP3
	case "wav":
		format = FormatWAV
	default:
		return "", ClipRef{}, false
	}

	clip := ClipRef{URL: "/audio/" + name, Format: format, Provider: parts[2]}
	return parts[1], clip, true
}
