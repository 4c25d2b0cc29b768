package config

import (
	"fmt"
	"strings"

	"github.com/arloliu/go-dmm/logger"
	"github.com/arloliu/go-dmm/scpi"
	"github.com/arloliu/go-dmm/transport"
)

// Validate checks configuration correctness without mutating it. Range
// checks of individual meter settings happen again when the options are
// applied; Validate reports them early with the offending field.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}

	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path: %q must start with '/'", cfg.Metrics.Path)
	}

	if len(cfg.Meters) == 0 {
		return fmt.Errorf("meters: at least one meter is required")
	}

	seen := make(map[string]int, len(cfg.Meters))
	for i, m := range cfg.Meters {
		if err := validateMeter(m); err != nil {
			return fmt.Errorf("meters[%d]: %w", i, err)
		}

		if prev, dup := seen[m.Port]; dup {
			return fmt.Errorf("meters[%d]: port %q already used by meters[%d]", i, m.Port, prev)
		}
		seen[m.Port] = i
	}

	return nil
}

func validateMeter(m MeterConfig) error {
	if strings.TrimSpace(m.Port) == "" {
		return fmt.Errorf("port: must not be empty")
	}
	if m.Baud < 0 {
		return fmt.Errorf("baud: %d must not be negative", m.Baud)
	}
	if _, err := transport.ParseBackend(m.Backend); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if m.PollIntervalMs < 0 {
		return fmt.Errorf("poll_interval_ms: %d must not be negative", m.PollIntervalMs)
	}
	if m.ContThreshold != nil && *m.ContThreshold > 1000 {
		return fmt.Errorf("cont_threshold: %d out of range [0, 1000]", *m.ContThreshold)
	}
	if m.DiodThreshold != nil && (*m.DiodThreshold < 0 || *m.DiodThreshold > 3.0) {
		return fmt.Errorf("diod_threshold: %v out of range [0, 3.0]", *m.DiodThreshold)
	}
	if m.Rate != "" {
		if _, err := scpi.ParseRate(m.Rate); err != nil {
			return fmt.Errorf("rate: %w", err)
		}
	}
	if m.Mode != "" {
		if _, err := scpi.ParseMeterMode(m.Mode); err != nil {
			return fmt.Errorf("mode: %w", err)
		}
	}
	if m.CloseTimeoutMs < 0 {
		return fmt.Errorf("close_timeout_ms: %d must not be negative", m.CloseTimeoutMs)
	}
	if m.ReplyTimeoutMs < 0 {
		return fmt.Errorf("reply_timeout_ms: %d must not be negative", m.ReplyTimeoutMs)
	}

	return nil
}
