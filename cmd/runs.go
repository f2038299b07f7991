package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent harvest runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSOURCE\tSTATUS\tPAGES\tFETCHED\tPERSISTED\tFAILED\tERROR")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				r.StartedAt.Format("2006-01-02 15:04:05"), r.Source, r.Status,
				r.Stats.Pages, r.Stats.Fetched, r.Stats.Persisted, r.Stats.Failed,
				r.Error)
		}
		return eris.Wrap(w.Flush(), "runs list: flush output")
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "max runs listed")
	rootCmd.AddCommand(runsCmd)
}
