package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/barharvest/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the harvested database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Total attorneys: %d\n", stats.TotalAttorneys)

		fmt.Fprintln(out, "\nBy jurisdiction:")
		for code, n := range stats.ByJurisdiction {
			fmt.Fprintf(out, "  %-4s %d\n", code, n)
		}

		fmt.Fprintln(out, "\nBy status:")
		for status, n := range stats.ByStatus {
			fmt.Fprintf(out, "  %-10s %d\n", status, n)
		}

		printTop(out, "Top practice areas:", stats.TopPracticeAreas)
		printTop(out, "Top firms:", stats.TopFirms)
		return nil
	},
}

func printTop(out io.Writer, heading string, rows []store.LabelCount) {
	fmt.Fprintf(out, "\n%s\n", heading)
	for _, row := range rows {
		fmt.Fprintf(out, "  %-40s %d\n", row.Label, row.Count)
	}
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
