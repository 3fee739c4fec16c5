package root

import (
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/paperwave/paperwave/pkg/app"
	"github.com/paperwave/paperwave/pkg/config"
	"github.com/paperwave/paperwave/pkg/environment"
)

// loadConfig reads the config file named by the persistent --config flag,
// falling back to the default path. The file is optional either way.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// newEnvironment builds the credential lookup chain. Files named by
// --env-from-file take precedence over the process environment.
func newEnvironment(cmd *cobra.Command) (environment.Provider, error) {
	files, err := cmd.Flags().GetStringSlice("env-from-file")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return environment.NewDefaultProvider(), nil
	}
	fileProvider, err := environment.NewEnvFilesProvider(files)
	if err != nil {
		return nil, err
	}
	return environment.NewMultiProvider(fileProvider, environment.NewDefaultProvider()), nil
}

// newApp assembles the application from the persistent flags. The tracer is
// a no-op unless --otel installed a real provider.
func newApp(cmd *cobra.Command) (*app.App, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	env, err := newEnvironment(cmd)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cmd.Context(), cfg, env, app.WithTracer(otel.Tracer(AppName)))
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

// recoverState replays the on-disk library and clip cache into memory.
// Failure leaves the command running against whatever did load.
func recoverState(cmd *cobra.Command, a *app.App) {
	if err := a.Recover(cmd.Context()); err != nil {
		slog.Warn("State recovery failed", "error", err)
	}
}
