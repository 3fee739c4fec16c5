package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Toolchain abstracts the external audio tooling so tests can inject fakes.
type Toolchain interface {
	// Convert re-encodes src into dst; the target codec follows from the
	// dst extension. MP3 targets are normalized to 44.1 kHz 160 kbps.
	Convert(ctx context.Context, src, dst string) error
	// Probe returns the exact duration of the file at path.
	Probe(ctx context.Context, path string) (time.Duration, error)
	// Concat joins srcs in order into dst, re-encoding to the target.
	Concat(ctx context.Context, srcs []string, dst string) error
}

// mp3Args normalizes every merged or converted clip to one target encoding
// so concatenation never mixes sample rates.
var mp3Args = []string{"-codec:a", "libmp3lame", "-b:a", "160k", "-ar", "44100"}

// FFmpeg shells out to ffmpeg/ffprobe.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

var _ Toolchain = (*FFmpeg)(nil)

type Opt func(*FFmpeg)

func WithFFmpegPath(path string) Opt {
	return func(f *FFmpeg) {
		f.ffmpegPath = path
	}
}

func WithFFprobePath(path string) Opt {
	return func(f *FFmpeg) {
		f.ffprobePath = path
	}
}

func NewFFmpeg(opts ...Opt) *FFmpeg {
	f := &FFmpeg{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FFmpeg) Convert(ctx context.Context, src, dst string) error {
	args := []string{"-y", "-i", src}
	if strings.EqualFold(filepath.Ext(dst), ".mp3") {
		args = append(args, mp3Args...)
	}
	args = append(args, dst)

	return f.run(ctx, f.ffmpegPath, args...)
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	return parseProbeDuration(stdout.String())
}

func (f *FFmpeg) Concat(ctx context.Context, srcs []string, dst string) error {
	if len(srcs) == 0 {
		return fmt.Errorf("nothing to concatenate into %s", dst)
	}

	list, err := os.CreateTemp(filepath.Dir(dst), "concat-*.txt")
	if err != nil {
		return fmt.Errorf("creating concat list: %w", err)
	}
	defer os.Remove(list.Name())

	if _, err := list.WriteString(concatList(srcs)); err != nil {
		list.Close()
		return fmt.Errorf("writing concat list: %w", err)
	}
	if err := list.Close(); err != nil {
		return err
	}

	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", list.Name()}
	if strings.EqualFold(filepath.Ext(dst), ".mp3") {
		args = append(args, mp3Args...)
	}
	args = append(args, dst)

	return f.run(ctx, f.ffmpegPath, args...)
}

func (f *FFmpeg) run(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", bin, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// concatList renders the ffmpeg concat demuxer list. Single quotes in paths
// are escaped with the '\'' idiom.
func concatList(srcs []string) string {
	var sb strings.Builder
	for _, src := range srcs {
		sb.WriteString("file '")
		sb.WriteString(strings.ReplaceAll(src, "'", `'\''`))
		sb.WriteString("'\n")
	}
	return sb.String()
}

func parseProbeDuration(out string) (time.Duration, error) {
	value := strings.TrimSpace(out)
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing ffprobe duration %q: %w", value, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
