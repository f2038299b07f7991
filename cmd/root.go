package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/barharvest/internal/config"
	"github.com/sells-group/barharvest/internal/fetcher"
	"github.com/sells-group/barharvest/internal/source"
	"github.com/sells-group/barharvest/internal/source/floridabar"
	"github.com/sells-group/barharvest/internal/source/texasbar"
	"github.com/sells-group/barharvest/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "barharvest",
	Short: "Attorney registry harvest engine",
	Long:  "Harvests state bar member directories into a deduplicated attorney database, with polite pacing, retries, and resumable checkpoints.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore builds the configured store backend and runs migrations.
func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// buildRegistry registers every known source adapter.
func buildRegistry() *source.Registry {
	f := fetcher.New(fetcher.Options{
		UserAgent: cfg.Fetcher.UserAgent,
		Timeout:   fetcherTimeout(),
		HostRate:  fetcherRate(),
		HostBurst: cfg.Fetcher.HostBurst,
	})

	reg := source.NewRegistry()
	reg.Register(texasbar.New(f))
	reg.Register(floridabar.New(f))
	return reg
}

func fetcherTimeout() time.Duration {
	return time.Duration(cfg.Fetcher.TimeoutSecs) * time.Second
}

func fetcherRate() rate.Limit {
	return rate.Limit(cfg.Fetcher.HostRate)
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
