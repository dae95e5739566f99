package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flemzord/cronrun/internal/history"
)

func historyCmd(g *globalFlags) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "history [job]",
		Short: "Show recent job results, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.build(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(ctx, a)

			if a.History == nil {
				return fmt.Errorf("run history is disabled; set history.enabled in the configuration")
			}
			var job string
			if len(args) == 1 {
				job = args[0]
			}
			entries, err := a.History.Recent(ctx, job, count)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), entries, a.Registry.Location())
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 20, "Number of results")
	return cmd
}

func printHistory(out io.Writer, entries []history.Entry, loc *time.Location) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, "No history.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, tabwriterPadding, ' ', 0)
	_, _ = fmt.Fprintln(w, "STARTED\tJOB\tSTATUS\tDURATION\tMEMORY\tMESSAGE")
	for _, e := range entries {
		msg := e.Message
		if e.Error != "" {
			msg = e.Error
		}
		if e.Forced {
			msg = "[forced] " + msg
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.In(loc).Format("2006-01-02 15:04:05"), e.Job, e.Status,
			e.Duration().Round(time.Millisecond), signedBytes(e.MemoryDelta), oneLine(msg))
	}
	_ = w.Flush()
}
