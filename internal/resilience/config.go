package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/governance-engine/internal/config"
)

// BreakerConfigFor builds the metric source breaker settings.
func BreakerConfigFor(m config.MetricsConfig) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if m.CircuitFailureThreshold > 0 {
		cfg.FailureThreshold = m.CircuitFailureThreshold
	}
	if m.CircuitResetSecs > 0 {
		cfg.ResetTimeout = time.Duration(m.CircuitResetSecs) * time.Second
	}
	// A caller giving up is not a source failure.
	cfg.ShouldTrip = func(err error) bool { return !errors.Is(err, context.Canceled) }
	cfg.OnStateChange = LogStateChange
	return cfg
}

// RetryConfigFor builds the InfluxDB query retry settings.
func RetryConfigFor(i config.InfluxConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if i.MaxAttempts > 0 {
		cfg.MaxAttempts = i.MaxAttempts
	}
	cfg.OnRetry = LogRetry("influx")
	return cfg
}
