package tts

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/paperwave/paperwave/pkg/audio"
	"github.com/paperwave/paperwave/pkg/script"
)

const (
	offlineSampleRate     = 22050
	offlineCharsPerSecond = 10
	offlineMaxSeconds     = 600
)

// Offline renders a deterministic formant-stacked waveform paced at roughly
// ten characters per second. It needs no network or credentials and never
// fails, which is why it anchors the end of the fallback chain.
type Offline struct{}

var _ Provider = (*Offline)(nil)

func NewOffline() *Offline { return &Offline{} }

func (o *Offline) Name() string { return "offline" }

func (o *Offline) SupportsMultiSpeaker() bool { return false }

func (o *Offline) OutputFormat() Format { return FormatWAV }

func (o *Offline) Synthesize(_ context.Context, text, voice string) ([]byte, error) {
	pcm := renderSpeechTone(text, baseFrequency(voice))
	return audio.WrapPCM(pcm, offlineSampleRate, 1, 16)
}

func (o *Offline) SynthesizeDialogue(context.Context, []script.Line, Voices) ([]byte, error) {
	return nil, fmt.Errorf("offline synthesis has no multi-speaker mode")
}

// baseFrequency picks the fundamental pitch for a voice identifier.
// Distinct identifiers land on distinct pitches so the two dialogue
// speakers stay apart even in placeholder audio.
func baseFrequency(voice string) float64 {
	if voice == "" {
		return 185
	}
	sum := sha256.Sum256([]byte(voice))
	return 140 + float64(sum[0]%8)*15
}

func renderSpeechTone(text string, baseFreq float64) []byte {
	seconds := float64(len(text)) / offlineCharsPerSecond
	seconds = max(seconds, 0.8)
	seconds = min(seconds, offlineMaxSeconds)

	numSamples := int(offlineSampleRate * seconds)
	pcm := make([]byte, numSamples*2)

	wordCount := max(len(strings.Fields(text)), 1)
	samplesPerWord := max(numSamples/wordCount, 1000)
	const pauseSamples = 500

	sampleIndex := 0
	for wordIndex := 0; wordIndex < wordCount && sampleIndex < numSamples; wordIndex++ {
		wordSamples := min(samplesPerWord, numSamples-sampleIndex)
		renderWord(pcm[sampleIndex*2:], wordSamples, baseFreq, wordIndex)
		sampleIndex += wordSamples
		// The gap between words is already zeroed.
		sampleIndex += min(pauseSamples, numSamples-sampleIndex)
	}
	return pcm
}

// renderWord writes one word's waveform: four stacked formants under an
// attack/decay envelope, plus a little deterministic noise so the result
// does not ring like a pure tone.
func renderWord(buf []byte, samples int, baseFreq float64, wordIndex int) {
	for i := range samples {
		t := float64(i) / offlineSampleRate
		progress := float64(i) / float64(samples)

		freq := baseFreq * (1 + 0.3*math.Sin(progress*math.Pi*4))
		waveform := 0.6*math.Sin(2*math.Pi*freq*t) +
			0.3*math.Sin(2*math.Pi*freq*2.5*t) +
			0.15*math.Sin(2*math.Pi*freq*4.2*t) +
			0.08*math.Sin(2*math.Pi*freq*6.8*t)

		switch {
		case progress < 0.1:
			waveform *= progress * 10
		case progress > 0.8:
			waveform *= (1 - progress) * 5
		default:
			waveform *= 0.8 + 0.2*math.Sin(progress*math.Pi*6)
		}

		waveform += (float64((i*31+wordIndex*47)%200)/200 - 0.5) * 0.1

		// Soft-clip the peaks.
		if waveform > 0.7 {
			waveform = 0.7 + (waveform-0.7)*0.3
		} else if waveform < -0.7 {
			waveform = -0.7 + (waveform+0.7)*0.3
		}

		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(waveform*12000)))
	}
}
