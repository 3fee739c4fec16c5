package root

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/paperwave/paperwave/pkg/app"
	"github.com/paperwave/paperwave/pkg/cli"
	"github.com/paperwave/paperwave/pkg/mux"
	"github.com/paperwave/paperwave/pkg/pipeline"
	"github.com/paperwave/paperwave/pkg/tts"
)

type generateFlags struct {
	text           string
	file           string
	page           int
	entirePDF      bool
	podcast        bool
	twoSpeakers    bool
	accent         string
	style          string
	expressiveness string
	voices         map[string]string
	output         string
}

func newGenerateCmd() *cobra.Command {
	var flags generateFlags

	cmd := &cobra.Command{
		Use:     "generate",
		Short:   "Generate audio from text or a library document",
		Long:    `Synthesize a script from raw text or a document page and render it to audio through the configured speech providers`,
		GroupID: "core",
		Example: `  paperwave generate --text "Dark matter makes up most of the universe."
  paperwave generate --file paper.pdf --page 3 --podcast
  paperwave generate --file paper.pdf --entire --two-speakers -o reading.mp3`,
		Args: cobra.NoArgs,
		RunE: flags.runGenerate,
	}

	cmd.Flags().StringVar(&flags.text, "text", "", "Text to narrate")
	cmd.Flags().StringVar(&flags.file, "file", "", "PDF path or library filename")
	cmd.Flags().IntVar(&flags.page, "page", 0, "Page to narrate (1-based, requires --file)")
	cmd.Flags().BoolVar(&flags.entirePDF, "entire", false, "Narrate the whole document (requires --file)")
	cmd.Flags().BoolVar(&flags.podcast, "podcast", false, "Synthesize a two-host podcast script")
	cmd.Flags().BoolVar(&flags.twoSpeakers, "two-speakers", false, "Alternate two voices over the reading")
	cmd.Flags().StringVar(&flags.accent, "accent", "", "Voice accent hint (e.g. \"british\")")
	cmd.Flags().StringVar(&flags.style, "style", "", "Delivery style (e.g. \"calm\", \"energetic\")")
	cmd.Flags().StringVar(&flags.expressiveness, "expressiveness", "", "Script expressiveness: low, medium, or high")
	cmd.Flags().StringToStringVar(&flags.voices, "voice", nil, "Override a speaker voice as label=id (repeatable)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Copy the merged artifact to this path")

	cmd.MarkFlagsOneRequired("text", "file")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	cmd.MarkFlagsMutuallyExclusive("page", "entire")

	return cmd
}

func (f *generateFlags) runGenerate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cli.NewPrinter(cmd.OutOrStdout())

	a, _, err := newApp(cmd)
	if err != nil {
		return err
	}
	recoverState(cmd, a)

	filename := f.file
	if filename != "" {
		filename, err = resolveFile(cmd, a, filename)
		if err != nil {
			return err
		}
	}

	artifact, err := a.GenerateAudio(ctx, pipeline.Request{
		Text:             f.text,
		Filename:         filename,
		PageNumber:       f.page,
		EntirePDF:        f.entirePDF,
		Podcast:          f.podcast,
		TwoSpeakers:      f.twoSpeakers,
		Accent:           f.accent,
		Style:            f.style,
		Expressiveness:   f.expressiveness,
		SpeakersOverride: f.voices,
	})
	if err != nil {
		if attempts, ok := errors.AsType[*tts.AllProvidersFailedError](err); ok {
			out.PrintError(errors.New("every speech provider failed:"))
			for _, attempt := range attempts.Attempts {
				out.Printf(" - %s: %s (%v)\n", attempt.Provider, attempt.Kind, attempt.Err)
			}
			return RuntimeError{Err: err}
		}
		return err
	}

	printArtifact(out, artifact)

	if f.output != "" {
		if artifact.Path == "" {
			return fmt.Errorf("no merged artifact to copy: generation was degraded to individual clips")
		}
		if err := copyFile(artifact.Path, f.output); err != nil {
			return fmt.Errorf("copying artifact to %s: %w", f.output, err)
		}
		out.Println("Saved " + f.output)
	}

	return nil
}

// resolveFile maps --file to a library filename. An existing local path is
// saved into the library first; anything else is assumed to already be there.
func resolveFile(cmd *cobra.Command, a *app.App, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return filepath.Base(path), nil
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer src.Close()

	doc, err := a.SaveUpload(filepath.Base(path), src)
	if err != nil {
		return "", err
	}
	if err := a.IndexLibraryFile(cmd.Context(), doc.Filename); err != nil {
		// Generation only needs the document on disk; retrieval catches up later.
		slog.Warn("Failed to index document", "file", doc.Filename, "error", err)
	}
	return doc.Filename, nil
}

func printArtifact(out *cli.Printer, artifact *mux.Artifact) {
	if artifact.Degraded {
		out.Println("Merged artifact unavailable; individual clips were kept:")
		for _, part := range artifact.Parts {
			out.Println("  " + part)
		}
	} else {
		out.Println("Audio: " + artifact.URL)
	}
	out.Println("Provider: " + artifact.Provider)

	if len(artifact.Chapters) > 0 {
		out.PrintHeading("Chapters:")
		for _, chapter := range artifact.Chapters {
			out.Printf("  %s  %-10s %s\n", formatTimestamp(chapter.StartMS), chapter.Speaker, excerpt(chapter.Text, 60))
		}
	}
}

func formatTimestamp(ms int64) string {
	seconds := ms / 1000
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func excerpt(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
