package main

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/flemzord/cronrun/internal/mcptools"
)

func mcpCmd(g *globalFlags) *cobra.Command {
	var allowWrite bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve scheduler tools over MCP on stdio",
		Long: "Expose list_jobs, next_runs, describe_schedule, list_locks and recent_results\n" +
			"to an MCP client on stdin/stdout. --allow-write adds release_lock.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := g.build(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			s := mcptools.NewServer(version, mcptools.Deps{
				Registry: a.Registry,
				Locks:    a.Locks,
				History:  a.History,
				Clock:    a.Clock,
			}, allowWrite)
			return server.ServeStdio(s)
		},
	}
	cmd.Flags().BoolVar(&allowWrite, "allow-write", false, "Register tools that modify locks")
	return cmd
}
