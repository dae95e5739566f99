package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/flemzord/cronrun/internal/cron"
	"github.com/flemzord/cronrun/internal/cronexpr"
)

func listCmd(g *globalFlags) *cobra.Command {
	var (
		all    bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured jobs in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := g.build(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			jobs := a.Registry.JobsByPriority(!all)
			now := a.Clock.Now().In(a.Registry.Location())
			infos := make([]cron.JobInfo, 0, len(jobs))
			for _, j := range jobs {
				info, _ := a.Registry.Info(j.Name())
				if expr, err := cronexpr.Parse(j.Schedule()); err == nil {
					info.NextRun, _ = expr.Next(now)
				}
				infos = append(infos, info)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			printJobs(cmd.OutOrStdout(), infos, now)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include disabled jobs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printJobs(out io.Writer, infos []cron.JobInfo, now time.Time) {
	if len(infos) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs configured.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, tabwriterPadding, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTYPE\tSCHEDULE\tPRIORITY\tENABLED\tNEXT RUN")
	for _, info := range infos {
		next := "-"
		if !info.NextRun.IsZero() {
			next = info.NextRun.Format("2006-01-02 15:04") + " (" + humanize.RelTime(info.NextRun, now, "ago", "from now") + ")"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n",
			info.Name, info.Type, info.Schedule, info.Priority, info.Enabled, next)
	}
	_ = w.Flush()
}

func nextCmd() *cobra.Command {
	var (
		count int
		tz    string
	)
	cmd := &cobra.Command{
		Use:   "next <expression>",
		Short: "Print the next run times of a cron expression",
		Example: `  cronrun next "*/15 9-17 * * 1-5"
  cronrun next "0 3 * * *" -n 10 --tz Europe/Paris`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := cronexpr.Parse(args[0])
			if err != nil {
				return err
			}
			loc, err := loadLocation(tz)
			if err != nil {
				return err
			}
			if count <= 0 {
				return fmt.Errorf("-n must be positive")
			}

			now := time.Now().In(loc)
			out := cmd.OutOrStdout()
			for _, t := range expr.Upcoming(now, count) {
				_, _ = fmt.Fprintf(out, "%s  (%s)\n", t.Format("Mon 2006-01-02 15:04 MST"), humanize.RelTime(t, now, "ago", "from now"))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of run times to print")
	cmd.Flags().StringVar(&tz, "tz", "", "Time zone (default local)")
	return cmd
}

func describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <expression>",
		Short: "Describe a cron expression in English",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := cronexpr.Parse(args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), expr.Describe())
			return nil
		},
	}
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", name, err)
	}
	return loc, nil
}
