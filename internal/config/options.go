package config

import (
	"time"

	"github.com/arloliu/go-dmm/dmm"
	"github.com/arloliu/go-dmm/scpi"
	"github.com/arloliu/go-dmm/transport"
)

// DefaultMetricsPath is used when metrics.path is empty.
const DefaultMetricsPath = "/metrics"

// MetricsPath returns the configured path or DefaultMetricsPath.
func (c MetricsConfig) MetricsPath() string {
	if c.Path == "" {
		return DefaultMetricsPath
	}

	return c.Path
}

// Options translates the meter settings into connection options. Zero and
// unset fields keep the library defaults. The config must have passed
// Validate.
func (m MeterConfig) Options() []dmm.ConnOption {
	var opts []dmm.ConnOption

	if m.Baud > 0 {
		opts = append(opts, dmm.WithBaudRate(m.Baud))
	}
	if b, err := transport.ParseBackend(m.Backend); err == nil && b != transport.BackendAuto {
		opts = append(opts, dmm.WithBackend(b))
	}
	if m.PollIntervalMs > 0 {
		opts = append(opts, dmm.WithPollInterval(time.Duration(m.PollIntervalMs)*time.Millisecond))
	}
	if m.Debug {
		opts = append(opts, dmm.WithDebug(true))
	}
	if m.LockRemote != nil {
		opts = append(opts, dmm.WithLockRemote(*m.LockRemote))
	}
	if m.Beeper != nil {
		opts = append(opts, dmm.WithBeeper(*m.Beeper))
	}
	if m.ContThreshold != nil {
		opts = append(opts, dmm.WithContinuityThreshold(*m.ContThreshold))
	}
	if m.DiodThreshold != nil {
		opts = append(opts, dmm.WithDiodeThreshold(*m.DiodThreshold))
	}
	if r, err := scpi.ParseRate(m.Rate); err == nil {
		opts = append(opts, dmm.WithRate(r))
	}
	if mode, err := scpi.ParseMeterMode(m.Mode); err == nil {
		opts = append(opts, dmm.WithInitialMode(mode))
	}
	if m.CloseTimeoutMs > 0 {
		opts = append(opts, dmm.WithCloseTimeout(time.Duration(m.CloseTimeoutMs)*time.Millisecond))
	}
	if m.ReplyTimeoutMs > 0 {
		opts = append(opts, dmm.WithReplyTimeout(time.Duration(m.ReplyTimeoutMs)*time.Millisecond))
	}

	return opts
}
