package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

var knownAggregations = map[string]bool{
	"mean": true, "count": true, "sum": true, "min": true, "max": true, "p95": true,
}

// Validate checks the fields a command mode depends on.
// Modes: "serve", "check", "evolution".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.validateGovernance()...)
		errs = append(errs, c.validateEvolution()...)
	case "check":
		errs = append(errs, c.validateGovernance()...)
	case "evolution":
		errs = append(errs, c.validateEvolution()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateGovernance() []string {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}
	if c.Governance.MaxParallelRules < 1 || c.Governance.MaxParallelRules > 64 {
		errs = append(errs, "governance.max_parallel_rules must be between 1 and 64")
	}
	if c.Governance.WriteTimeoutSecs <= 0 {
		errs = append(errs, "governance.write_timeout_secs must be > 0")
	}
	if c.Metrics.MinSamples < 1 {
		errs = append(errs, "metrics.min_samples must be >= 1")
	}
	if c.Metrics.ReadTimeoutSecs <= 0 {
		errs = append(errs, "metrics.read_timeout_secs must be > 0")
	}
	for metric, agg := range c.Metrics.Aggregations {
		if !knownAggregations[agg] {
			errs = append(errs, "metrics.aggregations."+metric+" has unknown aggregation "+agg)
		}
	}

	switch c.Metrics.Source {
	case "store":
	case "influx":
		if c.Influx.URL == "" || c.Influx.Token == "" || c.Influx.Org == "" || c.Influx.Bucket == "" {
			errs = append(errs, "influx.url, influx.token, influx.org and influx.bucket are required for the influx source")
		}
	default:
		errs = append(errs, "metrics.source must be store or influx")
	}

	return errs
}

func (c *Config) validateEvolution() []string {
	var errs []string
	if c.Evolution.LowTrustThreshold <= 0 || c.Evolution.LowTrustThreshold > 1 {
		errs = append(errs, "evolution.low_trust_threshold must be in (0, 1]")
	}
	if c.Evolution.MinSignals < 1 {
		errs = append(errs, "evolution.min_signals must be >= 1")
	}
	if c.Evolution.LookbackHours <= 0 {
		errs = append(errs, "evolution.lookback_hours must be > 0")
	}
	return errs
}
