package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Harvest  HarvestConfig  `yaml:"harvest" mapstructure:"harvest"`
	Fetcher  FetcherConfig  `yaml:"fetcher" mapstructure:"fetcher"`
	Governor GovernorConfig `yaml:"governor" mapstructure:"governor"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// HarvestConfig configures the harvest engine.
type HarvestConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// FetcherConfig configures outbound HTTP.
type FetcherConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	HostRate    float64 `yaml:"host_rate" mapstructure:"host_rate"`
	HostBurst   int     `yaml:"host_burst" mapstructure:"host_burst"`
}

// GovernorConfig configures the per-source politeness delay window, in
// milliseconds.
type GovernorConfig struct {
	MinIntervalMs int `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	MaxIntervalMs int `yaml:"max_interval_ms" mapstructure:"max_interval_ms"`
}

// MinInterval returns the window's lower bound as a duration.
func (g GovernorConfig) MinInterval() time.Duration {
	return time.Duration(g.MinIntervalMs) * time.Millisecond
}

// MaxInterval returns the window's upper bound as a duration.
func (g GovernorConfig) MaxInterval() time.Duration {
	return time.Duration(g.MaxIntervalMs) * time.Millisecond
}

// RetryConfig configures fetch retry behavior.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffSecs    int     `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
	Multiplier        float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction    float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BARHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "barharvest.db")
	v.SetDefault("harvest.concurrency", 2)
	v.SetDefault("fetcher.user_agent", "barharvest/1.0")
	v.SetDefault("fetcher.timeout_secs", 30)
	v.SetDefault("fetcher.host_rate", 2.0)
	v.SetDefault("fetcher.host_burst", 2)
	v.SetDefault("governor.min_interval_ms", 1000)
	v.SetDefault("governor.max_interval_ms", 3000)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_secs", 60)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
