// Package tts renders script text to audio through an ordered chain of
// speech providers with per-clip disk caching.
package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/paperwave/paperwave/pkg/script"
)

// Format is the encoding a provider hands back.
type Format string

const (
	FormatMP3 Format = "mp3"
	FormatWAV Format = "wav"
	FormatPCM Format = "pcm"
)

// Ext returns the on-disk file extension for the format. Raw PCM is wrapped
// in a WAV container before it is written, so it shares the wav extension.
func (f Format) Ext() string {
	if f == FormatPCM {
		return "wav"
	}
	return string(f)
}

// Voices holds the provider-specific identifiers for the two canonical
// speaker slots of a dialogue.
type Voices struct {
	A string
	B string
}

// Voice returns the identifier for a 1-based speaker label. Any label other
// than 1 maps to the second slot.
func (v Voices) Voice(speaker int) string {
	if speaker == 1 {
		return v.A
	}
	return v.B
}

// PCMFormat describes the raw samples emitted by providers whose output
// format is FormatPCM.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// PCMDescriber is implemented by providers that emit headerless PCM. The
// dispatcher uses the reported layout to build the WAV container.
type PCMDescriber interface {
	PCMFormat() PCMFormat
}

// ClipRef points at a synthesized clip on disk.
type ClipRef struct {
	Path     string
	URL      string
	Format   Format
	Provider string
}

// Provider synthesizes speech. Implementations map their native failure
// modes onto *ProviderError so the dispatcher can decide how loudly to log
// before moving down the chain.
type Provider interface {
	Name() string
	SupportsMultiSpeaker() bool
	OutputFormat() Format
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
	// SynthesizeDialogue voices a parsed two-speaker script in a single
	// call. Providers that cannot do this return an error and report
	// SupportsMultiSpeaker false.
	SynthesizeDialogue(ctx context.Context, lines []script.Line, voices Voices) ([]byte, error)
}

// ClipKey derives the deterministic cache key for one unit of synthesized
// speech. The same text, voice, provider, and style always map to the same
// key, so a disk scan alone can identify cache hits across restarts.
func ClipKey(text, voice, provider, style string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(voice))
	h.Write([]byte{0})
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(style))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// ClipBasename is the on-disk name for a clip: the cache key plus the
// provider tag, so the provenance of every file is readable from a
// directory listing.
func ClipBasename(key, provider string, format Format) string {
	return fmt.Sprintf("tts_%s_%s.%s", key, provider, format.Ext())
}
