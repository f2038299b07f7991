package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/barharvest/internal/governor"
	"github.com/sells-group/barharvest/internal/harvest"
	"github.com/sells-group/barharvest/internal/resilience"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest the configured registry sources",
	Long: `Harvest attorney records from the registered bar directories.

Each source resumes from its saved checkpoint. Use --sources to restrict the
run to specific sources, --force-restart to discard saved checkpoints, and
--concurrency to bound how many sources harvest at once.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L().With(zap.String("command", "run"))

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sourcesStr, _ := cmd.Flags().GetString("sources")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		forceRestart, _ := cmd.Flags().GetBool("force-restart")
		if concurrency == 0 {
			concurrency = cfg.Harvest.Concurrency
		}

		opts := harvest.Options{
			Sources:      splitAndTrim(sourcesStr),
			Concurrency:  concurrency,
			ForceRestart: forceRestart,
		}

		engine := harvest.New(buildRegistry(), st,
			governor.Config{
				MinInterval: cfg.Governor.MinInterval(),
				MaxInterval: cfg.Governor.MaxInterval(),
			},
			resilience.RetryConfig{
				MaxAttempts:    cfg.Retry.MaxAttempts,
				InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
				MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffSecs) * time.Second,
				Multiplier:     cfg.Retry.Multiplier,
				JitterFraction: cfg.Retry.JitterFraction,
			},
		)

		log.Info("starting harvest",
			zap.Strings("sources", opts.Sources),
			zap.Int("concurrency", opts.Concurrency),
			zap.Bool("force_restart", opts.ForceRestart),
		)

		summary, err := engine.Run(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "harvest run")
		}

		log.Info("harvest complete",
			zap.Int("completed", summary.Completed),
			zap.Int("aborted", summary.Aborted),
		)
		if summary.Aborted > 0 {
			return eris.Errorf("harvest finished with %d aborted source(s)", summary.Aborted)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("sources", "", "comma-separated source names (e.g., texas_bar,florida_bar)")
	runCmd.Flags().Int("concurrency", 0, "max sources harvested concurrently (0 = configured default)")
	runCmd.Flags().Bool("force-restart", false, "discard saved checkpoints and start each source from the beginning")
	rootCmd.AddCommand(runCmd)
}
