package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/flemzord/cronrun/internal/cron"
)

// tabwriterPadding is the column padding for table output.
const tabwriterPadding = 2

// errJobsFailed makes the process exit non-zero when a job fails.
var errJobsFailed = errors.New("one or more jobs failed")

func runCmd(g *globalFlags) *cobra.Command {
	var (
		at    string
		force bool
		job   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every job due this minute (call this from crontab)",
		Long: "Run every job due at the given minute. Without --at the current minute is used.\n" +
			"--force ignores schedules, running every enabled job, and breaks existing locks.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := g.build(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			when, err := parseAt(at, a.Registry.Location())
			if err != nil {
				return err
			}

			var results map[string]cron.Result
			if job != "" {
				j, ok := a.Registry.Get(job)
				if !ok {
					return fmt.Errorf("unknown job %q", job)
				}
				results = map[string]cron.Result{job: a.Executor.Execute(ctx, j, force)}
			} else {
				results, err = a.Scheduler.Run(ctx, when, force)
				if err != nil {
					return err
				}
			}

			printResults(cmd.OutOrStdout(), results)
			for _, r := range results {
				if !r.Success && !r.Skipped {
					return errJobsFailed
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", `Evaluate schedules at this time (RFC 3339 or "2006-01-02 15:04")`)
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Run all enabled jobs regardless of schedule and break locks")
	cmd.Flags().StringVar(&job, "job", "", "Run only this job, bypassing its schedule")
	return cmd
}

// parseAt parses an RFC 3339 time or a local "2006-01-02 15:04" minute.
// Empty returns the zero time, which the scheduler reads as now.
func parseAt(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: want RFC 3339 or \"2006-01-02 15:04\"", s)
	}
	return t, nil
}

func printResults(out io.Writer, results map[string]cron.Result) {
	if len(results) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs ran.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, tabwriterPadding, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tSTATUS\tDURATION\tMEMORY\tMESSAGE")
	for _, name := range slices.Sorted(maps.Keys(results)) {
		r := results[name]
		msg := r.Message
		if r.Err != nil {
			msg = r.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			name, r.Status(), r.Duration().Round(time.Millisecond), signedBytes(r.MemoryDelta()), oneLine(msg))
	}
	_ = w.Flush()
}

// signedBytes formats a memory delta such as "+1.2 MiB".
func signedBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return "+" + humanize.IBytes(uint64(n))
}

func oneLine(s string) string {
	s, _, _ = strings.Cut(s, "\n")
	return s
}
