package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flemzord/cronrun/pkg/app"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var opts app.ServeOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the diagnostics gateway and, with --tick, the scheduler loop",
		Long: "Serve the HTTP diagnostics gateway until SIGINT or SIGTERM.\n" +
			"With --tick the scheduler also runs every minute in-process, replacing the crontab entry.\n" +
			"SIGHUP, or a file change with --watch, reloads the jobs section of the configuration.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			reloads := make(chan struct{})
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						select {
						case reloads <- struct{}{}:
						case <-ctx.Done():
							return
						}
					}
				}
			}()
			opts.Reload = reloads

			return serve(ctx, g, cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Tick, "tick", false, "Run the scheduler every minute")
	cmd.Flags().BoolVar(&opts.Gateway, "gateway", true, "Serve the HTTP gateway")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Reload jobs when the configuration file changes")
	return cmd
}

// serve builds the App and blocks in app.Serve until ctx is done. Reloads
// are enabled when the configuration came from a file.
func serve(ctx context.Context, g *globalFlags, cmd *cobra.Command, opts app.ServeOptions) error {
	a, path, err := g.buildWithPath(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeApp(ctx, a)
	opts.ConfigPath = path
	return app.Serve(ctx, a, opts)
}
