package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flemzord/cronrun/internal/cron"
)

func configCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate configuration and build every job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := g.build(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			if _, err := a.Gateway(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			names := a.Registry.Names()
			_, _ = fmt.Fprintf(out, "Configuration OK (%d %s, lock backend %s)\n",
				len(names), plural(len(names), "job", "jobs"), a.Config.Locks.Backend)
			for _, name := range names {
				_, _ = fmt.Fprintf(out, "  %s\n", name)
			}
			return nil
		},
	}, &cobra.Command{
		Use:   "types",
		Short: "List the job types available to the jobs section",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, tabwriterPadding, ' ', 0)
			_, _ = fmt.Fprintln(w, "TYPE\tDEFAULT SCHEDULE\tDESCRIPTION")
			for _, t := range cron.Builtins().Types() {
				sched := t.DefaultSchedule
				if sched == "" {
					sched = "-"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, sched, t.Description)
			}
			_ = w.Flush()
		},
	})
	return cmd
}
