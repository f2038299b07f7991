package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/barharvest/internal/model"
	"github.com/sells-group/barharvest/internal/store"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search harvested attorneys",
	Long: `Search the attorney database by name, jurisdiction, status, city, firm,
or practice area. All filters combine with AND; text filters match substrings.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f := searchFilter(cmd)
		attorneys, err := st.SearchAttorneys(ctx, f)
		if err != nil {
			return eris.Wrap(err, "search")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IDENTITY\tNAME\tSTATUS\tCITY\tFIRM\tPRACTICE AREAS")
		for _, a := range attorneys {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				a.Key(), a.FullName, a.Status, a.City, a.FirmName,
				strings.Join(a.PracticeAreas, ", "))
		}
		if err := w.Flush(); err != nil {
			return eris.Wrap(err, "search: flush output")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d attorney(s)\n", len(attorneys))
		return nil
	},
}

func searchFilter(cmd *cobra.Command) store.SearchFilter {
	name, _ := cmd.Flags().GetString("name")
	jurisdiction, _ := cmd.Flags().GetString("jurisdiction")
	status, _ := cmd.Flags().GetString("status")
	city, _ := cmd.Flags().GetString("city")
	firm, _ := cmd.Flags().GetString("firm")
	area, _ := cmd.Flags().GetString("practice-area")
	limit, _ := cmd.Flags().GetInt("limit")

	f := store.SearchFilter{
		Name:         name,
		Jurisdiction: jurisdiction,
		City:         city,
		Firm:         firm,
		PracticeArea: area,
		Limit:        limit,
	}
	if status != "" {
		f.Status = model.ParseStatus(status)
	}
	return f
}

func init() {
	searchCmd.Flags().String("name", "", "match against full name")
	searchCmd.Flags().String("jurisdiction", "", "jurisdiction code (e.g., TX)")
	searchCmd.Flags().String("status", "", "licensure status: active, inactive, suspended, other")
	searchCmd.Flags().String("city", "", "match against city")
	searchCmd.Flags().String("firm", "", "match against firm name")
	searchCmd.Flags().String("practice-area", "", "match against a practice-area label")
	searchCmd.Flags().Int("limit", 50, "max rows returned")
	rootCmd.AddCommand(searchCmd)
}
