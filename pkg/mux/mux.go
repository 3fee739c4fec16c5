// Package mux merges synthesized clips into a single request-keyed audio
// artifact and annotates it with a chapter map. When the audio toolchain is
// unavailable or fails, it degrades to returning the individual parts with
// per-clip timestamps instead of failing the whole request.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/paperwave/paperwave/pkg/audio"
	"github.com/paperwave/paperwave/pkg/script"
	"github.com/paperwave/paperwave/pkg/tts"
)

// NarratorLabel is the speaker attribution used for single-voice artifacts.
const NarratorLabel = "Narrator"

// Chapter annotates one contiguous span of an artifact with the spoken text
// and its speaker. In degraded artifacts the offsets are relative to the
// individual part named by PartURL rather than to a merged file.
type Chapter struct {
	Index   int    `json:"index"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	PartURL string `json:"part_url,omitempty"`
}

// Artifact is the final product of a generation request: the merged audio,
// its chapter map, and enough identity to locate it again. Degraded
// artifacts carry no merged URL; Parts lists the playable clips instead.
type Artifact struct {
	Key       string    `json:"key"`
	ScriptKey string    `json:"script_key"`
	URL       string    `json:"url,omitempty"`
	Parts     []string  `json:"parts,omitempty"`
	Chapters  []Chapter `json:"chapters"`
	Provider  string    `json:"provider"`
	Degraded  bool      `json:"degraded,omitempty"`

	Path string `json:"-"`
}

// Duration reports the artifact length derived from its last chapter.
func (a *Artifact) Duration() time.Duration {
	if a.Degraded || len(a.Chapters) == 0 {
		return 0
	}
	return time.Duration(a.Chapters[len(a.Chapters)-1].EndMS) * time.Millisecond
}

// MixBasename returns the on-disk name of the merged audio for a request key.
func MixBasename(key string) string {
	return fmt.Sprintf("mix_%s.mp3", key)
}

// SidecarBasename returns the on-disk name of the chapter sidecar for a
// request key.
func SidecarBasename(key string) string {
	return fmt.Sprintf("mix_%s.json", key)
}

// Muxer assembles artifacts under a single audio directory.
type Muxer struct {
	tc       audio.Toolchain
	audioDir string
}

// New returns a Muxer writing merged files into audioDir. toolchain may be
// nil, in which case every produced artifact is degraded.
func New(toolchain audio.Toolchain, audioDir string) *Muxer {
	return &Muxer{tc: toolchain, audioDir: audioDir}
}

// Narration wraps a single narrator clip into an artifact with one chapter
// spanning the whole file.
func (m *Muxer) Narration(ctx context.Context, key string, clip tts.ClipRef, text string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	art := &Artifact{Key: key, Provider: clip.Provider}

	dur, err := m.probe(ctx, clip.Path)
	if err == nil {
		err = m.emit(ctx, clip, key)
	}
	if err != nil {
		slog.Warn("Narration mux degraded", "key", key, "error", err)
		art.Degraded = true
		art.Parts = []string{clip.URL}
		art.Chapters = []Chapter{{Speaker: NarratorLabel, Text: text, PartURL: clip.URL}}
		return art, nil
	}

	art.URL = "/audio/" + MixBasename(key)
	art.Path = filepath.Join(m.audioDir, MixBasename(key))
	art.Chapters = []Chapter{{Speaker: NarratorLabel, Text: text, EndMS: dur.Milliseconds()}}
	return art, nil
}

// Dialogue wraps a single multi-speaker clip, apportioning the total runtime
// across lines by their share of the spoken text. The last chapter absorbs
// rounding so its end always meets the clip's end.
func (m *Muxer) Dialogue(ctx context.Context, key string, clip tts.ClipRef, lines []script.Line) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("mux: dialogue with no lines")
	}
	art := &Artifact{Key: key, Provider: clip.Provider}

	total, err := m.probe(ctx, clip.Path)
	if err == nil {
		err = m.emit(ctx, clip, key)
	}
	if err != nil {
		slog.Warn("Dialogue mux degraded", "key", key, "error", err)
		art.Degraded = true
		art.Parts = []string{clip.URL}
		art.Chapters = make([]Chapter, len(lines))
		for i, ln := range lines {
			art.Chapters[i] = Chapter{Index: i, Speaker: ln.Label(), Text: ln.Text, PartURL: clip.URL}
		}
		return art, nil
	}

	art.URL = "/audio/" + MixBasename(key)
	art.Path = filepath.Join(m.audioDir, MixBasename(key))
	art.Chapters = apportion(total, lines)
	return art, nil
}

// Mux concatenates one clip per line into a merged artifact. clips[i] voices
// lines[i]; the caller passes only the lines that actually synthesized. Any
// probe or concat failure degrades the artifact to its parts.
func (m *Muxer) Mux(ctx context.Context, key string, clips []tts.ClipRef, lines []script.Line) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("mux: no clips to merge")
	}
	if len(clips) != len(lines) {
		return nil, fmt.Errorf("mux: %d clips for %d lines", len(clips), len(lines))
	}

	art := &Artifact{Key: key, Provider: providerTag(clips)}

	durs := make([]time.Duration, len(clips))
	var fail error
	for i, clip := range clips {
		d, err := m.probe(ctx, clip.Path)
		if err != nil {
			fail = fmt.Errorf("probe %s: %w", filepath.Base(clip.Path), err)
			break
		}
		durs[i] = d
	}
	if fail == nil {
		fail = m.concat(ctx, clips, key)
	}
	if fail != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slog.Warn("Mux degraded to parts", "key", key, "clips", len(clips), "error", fail)
		art.Degraded = true
		art.Parts = make([]string, len(clips))
		art.Chapters = make([]Chapter, len(clips))
		for i, clip := range clips {
			art.Parts[i] = clip.URL
			art.Chapters[i] = Chapter{
				Index:   i,
				Speaker: lines[i].Label(),
				Text:    lines[i].Text,
				EndMS:   durs[i].Milliseconds(),
				PartURL: clip.URL,
			}
		}
		return art, nil
	}

	art.URL = "/audio/" + MixBasename(key)
	art.Path = filepath.Join(m.audioDir, MixBasename(key))
	art.Chapters = make([]Chapter, len(clips))
	var cursor time.Duration
	for i := range clips {
		next := cursor + durs[i]
		art.Chapters[i] = Chapter{
			Index:   i,
			Speaker: lines[i].Label(),
			Text:    lines[i].Text,
			StartMS: cursor.Milliseconds(),
			EndMS:   next.Milliseconds(),
		}
		cursor = next
	}
	slog.Debug("Merged clips", "key", key, "clips", len(clips), "duration", cursor)
	return art, nil
}

func (m *Muxer) probe(ctx context.Context, path string) (time.Duration, error) {
	if m.tc == nil {
		return 0, fmt.Errorf("mux: no audio toolchain")
	}
	return m.tc.Probe(ctx, path)
}

// emit materializes the merged file for a single-clip artifact. Clips that
// are already mp3 are copied byte for byte; anything else is transcoded.
func (m *Muxer) emit(ctx context.Context, clip tts.ClipRef, key string) error {
	dst := filepath.Join(m.audioDir, MixBasename(key))
	if clip.Format == tts.FormatMP3 {
		data, err := os.ReadFile(clip.Path)
		if err != nil {
			return err
		}
		return atomic.WriteFile(dst, bytes.NewReader(data))
	}
	if m.tc == nil {
		return fmt.Errorf("mux: no audio toolchain")
	}
	return m.tc.Convert(ctx, clip.Path, dst)
}

func (m *Muxer) concat(ctx context.Context, clips []tts.ClipRef, key string) error {
	if len(clips) == 1 {
		return m.emit(ctx, clips[0], key)
	}
	if m.tc == nil {
		return fmt.Errorf("mux: no audio toolchain")
	}
	srcs := make([]string, len(clips))
	for i, clip := range clips {
		srcs[i] = clip.Path
	}
	return m.tc.Concat(ctx, srcs, filepath.Join(m.audioDir, MixBasename(key)))
}

// apportion splits total across lines proportionally to their rune counts.
func apportion(total time.Duration, lines []script.Line) []Chapter {
	weights := make([]int, len(lines))
	sum := 0
	for i, ln := range lines {
		w := len([]rune(ln.Text))
		if w == 0 {
			w = 1
		}
		weights[i] = w
		sum += w
	}

	chapters := make([]Chapter, len(lines))
	var cursor time.Duration
	for i, ln := range lines {
		end := cursor + time.Duration(int64(total)*int64(weights[i])/int64(sum))
		if i == len(lines)-1 {
			end = total
		}
		chapters[i] = Chapter{
			Index:   i,
			Speaker: ln.Label(),
			Text:    ln.Text,
			StartMS: cursor.Milliseconds(),
			EndMS:   end.Milliseconds(),
		}
		cursor = end
	}
	return chapters
}

// providerTag names the providers behind a set of clips, joined with "+" in
// first-appearance order.
func providerTag(clips []tts.ClipRef) string {
	var names []string
	for _, clip := range clips {
		if clip.Provider == "" {
			continue
		}
		found := false
		for _, n := range names {
			if n == clip.Provider {
				found = true
				break
			}
		}
		if !found {
			names = append(names, clip.Provider)
		}
	}
	return strings.Join(names, "+")
}
