package root

import (
	"cmp"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/paperwave/paperwave/pkg/cli"
	"github.com/paperwave/paperwave/pkg/logging"
	"github.com/paperwave/paperwave/pkg/server"
)

type serveFlags struct {
	addr  string
	watch bool
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API server",
		Long:    `Start the HTTP server exposing upload, ingestion, retrieval, insights, and audio generation`,
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE:    flags.runServe,
	}

	cmd.Flags().StringVarP(&flags.addr, "addr", "a", "", "Address to listen on (default from config; supports unix:// and fd://)")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "Watch the library directory and index documents dropped into it")

	return cmd
}

// setupServeLogging points slog at stderr for the lifetime of the server.
// With --debug the rotating debug file installed at startup keeps receiving
// records alongside stderr.
func setupServeLogging(cmd *cobra.Command) {
	debug, _ := cmd.Flags().GetBool("debug")

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	stderrHandler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})

	if debug {
		slog.SetDefault(slog.New(logging.NewTeeHandler(stderrHandler, slog.Default().Handler())))
		return
	}
	slog.SetDefault(slog.New(stderrHandler))
}

func (f *serveFlags) runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	setupServeLogging(cmd)

	a, cfg, err := newApp(cmd)
	if err != nil {
		return err
	}

	addr := cmp.Or(f.addr, cfg.Server.Addr)
	ln, err := server.Listen(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	out := cli.NewPrinter(cmd.OutOrStdout())
	out.Println("Listening on " + ln.Addr().String())

	slog.Debug("Starting server", "addr", ln.Addr().String(), "library", cfg.LibraryDir, "audio", cfg.AudioDir)

	recoverState(cmd, a)

	if f.watch {
		if err := a.Watch(ctx); err != nil {
			slog.Warn("Library watch unavailable", "error", err)
		}
	}

	return server.New(cfg, a).Serve(ctx, ln)
}
