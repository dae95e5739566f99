package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/flemzord/cronrun/internal/lock"
)

func locksCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and release scheduler and job locks",
	}
	cmd.AddCommand(locksListCmd(g), locksCleanupCmd(g), locksReleaseCmd(g))
	return cmd
}

func locksListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List held locks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := g.build(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			statuses, err := a.Locks.List(ctx)
			if err != nil {
				return err
			}
			printLocks(cmd.OutOrStdout(), statuses, a.Clock.Now())
			return nil
		},
	}
}

func printLocks(out io.Writer, statuses []lock.Status, now time.Time) {
	if len(statuses) == 0 {
		_, _ = fmt.Fprintln(out, "No locks held.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, tabwriterPadding, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tHOST\tPID\tACQUIRED\tTIMEOUT\tSTALE")
	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%t\n",
			s.Name, s.Hostname, s.PID, humanize.RelTime(s.AcquiredAt, now, "ago", "from now"), s.Timeout, s.Stale)
	}
	_ = w.Flush()
}

func locksCleanupCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale locks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := g.build(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			n, err := a.Locks.CleanupStale(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale %s.\n", n, plural(n, "lock", "locks"))
			return nil
		},
	}
}

func locksReleaseCmd(g *globalFlags) *cobra.Command {
	var (
		all bool
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "release [name]",
		Short: "Force-release a lock, or every lock with --all",
		Long: "Force-release the named lock regardless of owner. Use the name \"" + lock.GlobalName +
			"\" for the scheduler lock.\nReleasing a lock held by a live process lets a second copy of its job start.",
		Args: func(_ *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all takes no lock name")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("give a lock name or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.build(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			out := cmd.OutOrStdout()
			if !all {
				released, err := a.Locks.ForceRelease(ctx, args[0])
				if err != nil {
					return err
				}
				if !released {
					return fmt.Errorf("lock %q is not held", args[0])
				}
				_, _ = fmt.Fprintf(out, "Released %s.\n", args[0])
				return nil
			}

			if !yes {
				confirmed := false
				err := huh.NewConfirm().
					Title("Release every lock?").
					Description("Running jobs keep running but lose their locks.").
					Affirmative("Release").
					Negative("Cancel").
					Value(&confirmed).
					Run()
				if err != nil {
					return err
				}
				if !confirmed {
					_, _ = fmt.Fprintln(out, "Cancelled.")
					return nil
				}
			}

			n, err := a.Scheduler.ForceUnlockAll(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Released %d %s.\n", n, plural(n, "lock", "locks"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Release every lock")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
