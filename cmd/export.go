package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/barharvest/internal/model"
	"github.com/sells-group/barharvest/internal/source"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export attorneys to CSV",
	Long: `Export harvested attorneys to a CSV file. The same filter flags as
"search" apply; with no filters the full database is exported.`,
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
			return eris.Wrap(err, "export: query")
		}

		out, _ := cmd.Flags().GetString("out")
		file, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "export: create %s", out)
		}
		defer file.Close() //nolint:errcheck

		if err := writeCSV(file, attorneys); err != nil {
			return err
		}

		zap.L().Info("export complete", zap.String("file", out), zap.Int("rows", len(attorneys)))
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d attorney(s) to %s\n", len(attorneys), out)
		return nil
	},
}

func writeCSV(file *os.File, attorneys []model.Attorney) error {
	w := csv.NewWriter(file)
	header := []string{
		"jurisdiction", "bar_number", "full_name", "first_name", "last_name",
		"status", "admission_date", "city", "firm_name", "phone", "email",
		"practice_areas",
	}
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "export: write header")
	}

	for _, a := range attorneys {
		admitted := ""
		if a.AdmissionDate != nil {
			admitted = a.AdmissionDate.Format("2006-01-02")
		}
		row := []string{
			a.Jurisdiction, a.BarNumber, a.FullName, a.FirstName, a.LastName,
			string(a.Status), admitted, a.City, a.FirmName, a.Phone, a.Email,
			strings.Join(a.PracticeAreas, source.AreaSeparator),
		}
		if err := w.Write(row); err != nil {
			return eris.Wrapf(err, "export: write row %s", a.Key())
		}
	}

	w.Flush()
	return eris.Wrap(w.Error(), "export: flush")
}

func init() {
	exportCmd.Flags().String("out", "attorneys.csv", "output CSV path")
	exportCmd.Flags().String("name", "", "match against full name")
	exportCmd.Flags().String("jurisdiction", "", "jurisdiction code (e.g., TX)")
	exportCmd.Flags().String("status", "", "licensure status: active, inactive, suspended, other")
	exportCmd.Flags().String("city", "", "match against city")
	exportCmd.Flags().String("firm", "", "match against firm name")
	exportCmd.Flags().String("practice-area", "", "match against a practice-area label")
	exportCmd.Flags().Int("limit", 0, "max rows exported (0 = all)")
	rootCmd.AddCommand(exportCmd)
}
