// Package main is the entry point for the cronrun CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/flemzord/cronrun/internal/config"
	"github.com/flemzord/cronrun/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	config    string
	logLevel  string
	logFormat string
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "cronrun",
		Short:         "Minute-granularity job scheduler with cross-process locks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.config, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error, critical)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format (text or json)")

	root.AddCommand(
		versionCmd(),
		runCmd(g),
		listCmd(g),
		nextCmd(),
		describeCmd(),
		locksCmd(g),
		historyCmd(g),
		configCmd(g),
		serveCmd(g),
		serviceCmd(g),
		mcpCmd(g),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cronrun %s (commit: %s, built: %s, %s)\n",
				version, commit, date, runtime.Version())
		},
	}
}

// loadConfig resolves the configuration and applies the log flags.
func (g *globalFlags) loadConfig() (*config.Config, string, error) {
	cfg, path, err := app.LoadConfig(g.config)
	if err != nil {
		return nil, "", err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	return cfg, path, nil
}

// build loads the configuration and wires an App logging to stderr. The
// caller closes the App.
func (g *globalFlags) build(ctx context.Context, stderr io.Writer) (*app.App, error) {
	a, _, err := g.buildWithPath(ctx, stderr)
	return a, err
}

// buildWithPath is build that also returns the configuration file path,
// empty when the built-in defaults were used.
func (g *globalFlags) buildWithPath(ctx context.Context, stderr io.Writer) (*app.App, string, error) {
	cfg, path, err := g.loadConfig()
	if err != nil {
		return nil, "", err
	}
	logger, err := app.NewLogger(stderr, cfg)
	if err != nil {
		return nil, "", err
	}
	slog.SetDefault(logger)
	if path != "" {
		logger.Debug("configuration loaded", "path", path)
	}
	a, err := app.Build(ctx, cfg, app.Options{Version: version, Logger: logger})
	if err != nil {
		return nil, "", err
	}
	return a, path, nil
}

// closeApp closes a and reports failures on the logger.
func closeApp(ctx context.Context, a *app.App) {
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		a.Logger.Warn("close failed", "error", err)
	}
}
