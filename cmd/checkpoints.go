package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and manage source checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved checkpoints",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checkpoints, err := st.ListCheckpoints(ctx)
		if err != nil {
			return eris.Wrap(err, "checkpoints list")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tCURSOR\tRECORDS\tUPDATED")
		for _, cp := range checkpoints {
			cursor := cp.Cursor
			if cursor == "" {
				cursor = "(start)"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				cp.Source, cursor, cp.RecordsCount, cp.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return eris.Wrap(w.Flush(), "checkpoints list: flush output")
	},
}

var checkpointsResetCmd = &cobra.Command{
	Use:   "reset <source>",
	Short: "Delete a source's checkpoint so its next run starts from the beginning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ResetCheckpoint(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "checkpoints reset %s", args[0])
		}
		zap.L().Info("checkpoint reset", zap.String("source", args[0]))
		return nil
	},
}

func init() {
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsResetCmd)
	rootCmd.AddCommand(checkpointsCmd)
}
