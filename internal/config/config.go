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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Governance GovernanceConfig `yaml:"governance" mapstructure:"governance"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Influx     InfluxConfig     `yaml:"influx" mapstructure:"influx"`
	Evolution  EvolutionConfig  `yaml:"evolution" mapstructure:"evolution"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the operator API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// GovernanceConfig configures the policy pass.
type GovernanceConfig struct {
	// Enabled turns the scheduled pass on for `serve`. Manual passes always run.
	Enabled           bool  `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs int   `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	MaxParallelRules  int   `yaml:"max_parallel_rules" mapstructure:"max_parallel_rules"`
	WriteTimeoutSecs  int   `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
	AdvisoryLockKey   int64 `yaml:"advisory_lock_key" mapstructure:"advisory_lock_key"`
}

// CheckInterval returns the scheduled pass cadence.
func (g GovernanceConfig) CheckInterval() time.Duration {
	return time.Duration(g.CheckIntervalSecs) * time.Second
}

// WriteTimeout bounds a single ConfigStore write.
func (g GovernanceConfig) WriteTimeout() time.Duration {
	return time.Duration(g.WriteTimeoutSecs) * time.Second
}

// MetricsConfig configures the metric window reader.
type MetricsConfig struct {
	// Source selects the sample backend: "store" or "influx".
	Source          string `yaml:"source" mapstructure:"source"`
	MinSamples      int    `yaml:"min_samples" mapstructure:"min_samples"`
	ReadTimeoutSecs int    `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`

	// Aggregations maps metric name to aggregation (mean, count, sum, min, max, p95).
	Aggregations map[string]string `yaml:"aggregations" mapstructure:"aggregations"`

	// MinSamplesOverrides replaces MinSamples for individual metrics.
	MinSamplesOverrides map[string]int `yaml:"min_samples_overrides" mapstructure:"min_samples_overrides"`

	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// ReadTimeout bounds a single window read.
func (m MetricsConfig) ReadTimeout() time.Duration {
	return time.Duration(m.ReadTimeoutSecs) * time.Second
}

// InfluxConfig holds InfluxDB connection settings for the influx metric source.
type InfluxConfig struct {
	URL              string  `yaml:"url" mapstructure:"url"`
	Token            string  `yaml:"token" mapstructure:"token"`
	Org              string  `yaml:"org" mapstructure:"org"`
	Bucket           string  `yaml:"bucket" mapstructure:"bucket"`
	Measurement      string  `yaml:"measurement" mapstructure:"measurement"`
	QueriesPerSecond float64 `yaml:"queries_per_second" mapstructure:"queries_per_second"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// EvolutionConfig configures the candidate scanner.
type EvolutionConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	LowTrustThreshold float64 `yaml:"low_trust_threshold" mapstructure:"low_trust_threshold"`
	MinSignals        int     `yaml:"min_signals" mapstructure:"min_signals"`
	LookbackHours     int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	ScanIntervalSecs  int     `yaml:"scan_interval_secs" mapstructure:"scan_interval_secs"`
	StatsWindowDays   int     `yaml:"stats_window_days" mapstructure:"stats_window_days"`
}

// Lookback returns the signal lookback window.
func (e EvolutionConfig) Lookback() time.Duration {
	return time.Duration(e.LookbackHours) * time.Hour
}

// MonitoringConfig configures pass alerting.
type MonitoringConfig struct {
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	AlertOnApply        bool    `yaml:"alert_on_apply" mapstructure:"alert_on_apply"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	RevertRateThreshold float64 `yaml:"revert_rate_threshold" mapstructure:"revert_rate_threshold"`
	PendingBacklogLimit int     `yaml:"pending_backlog_limit" mapstructure:"pending_backlog_limit"`
}

// AnthropicConfig holds Anthropic API settings for candidate drafting.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GOVERNOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "governor.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("governance.enabled", true)
	v.SetDefault("governance.check_interval_secs", 3600)
	v.SetDefault("governance.max_parallel_rules", 4)
	v.SetDefault("governance.write_timeout_secs", 5)
	v.SetDefault("governance.advisory_lock_key", 727001)
	v.SetDefault("metrics.source", "store")
	v.SetDefault("metrics.min_samples", 3)
	v.SetDefault("metrics.read_timeout_secs", 5)
	v.SetDefault("metrics.aggregations", map[string]string{
		"error_rate":        "mean",
		"trust_score":       "mean",
		"utilization_score": "mean",
		"rework_index":      "count",
	})
	v.SetDefault("metrics.circuit_failure_threshold", 5)
	v.SetDefault("metrics.circuit_reset_secs", 30)
	v.SetDefault("influx.measurement", "governance_metrics")
	v.SetDefault("influx.queries_per_second", 5)
	v.SetDefault("influx.max_attempts", 3)
	v.SetDefault("evolution.enabled", true)
	v.SetDefault("evolution.low_trust_threshold", 0.6)
	v.SetDefault("evolution.min_signals", 3)
	v.SetDefault("evolution.lookback_hours", 24)
	v.SetDefault("evolution.scan_interval_secs", 3600)
	v.SetDefault("evolution.stats_window_days", 7)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.revert_rate_threshold", 0.5)
	v.SetDefault("monitoring.pending_backlog_limit", 25)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)

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
