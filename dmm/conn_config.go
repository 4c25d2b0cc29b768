package dmm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-dmm/logger"
	"github.com/arloliu/go-dmm/scpi"
	"github.com/arloliu/go-dmm/transport"
)

// Defaults matching the factory settings of the supported meters.
const (
	DefaultBaudRate            = transport.DefaultBaudRate
	DefaultPollInterval        = 20 * time.Millisecond
	DefaultContinuityThreshold = 50  // ohm
	DefaultDiodeThreshold      = 2.0 // volt
	DefaultRate                = scpi.RateSlow
	DefaultInitialMode         = scpi.Vdc

	DefaultCloseTimeout = 3 * time.Second

	DefaultCommandQueueSize     = 100
	DefaultMeasurementQueueSize = 100
	DefaultModeQueueSize        = 10
)

// Range limits.
const (
	MinPollInterval = time.Millisecond
	MaxPollInterval = time.Second

	MaxContinuityThreshold = 1000
	MaxDiodeThreshold      = 3.0

	MinCloseTimeout = 100 * time.Millisecond
	MaxCloseTimeout = time.Minute

	MinReplyTimeout = 10 * time.Millisecond
)

// FunctionCheckCycles is the number of consecutive measurement replies after
// which a FUNC? query replaces the next MEAS?.
const FunctionCheckCycles = 10

// TransportOpener opens the byte stream of a session. It exists so tests and
// applications can supply their own transport.
type TransportOpener func(cfg transport.SerialConfig) (transport.Transport, error)

// ConnectionConfig holds the configuration of one meter session.
type ConnectionConfig struct {
	port     string
	baudRate int
	backend  transport.Backend

	pollInterval time.Duration
	debug        bool

	// instrument settings sent during the connect handshake
	lockRemote    bool
	beeper        bool
	contThreshold uint32
	diodThreshold float32
	rate          scpi.Rate
	initialMode   scpi.MeterMode

	closeTimeout time.Duration
	// replyTimeout of zero waits for a reply forever.
	replyTimeout time.Duration

	commandQueueSize     int
	measurementQueueSize int
	modeQueueSize        int

	opener TransportOpener
	logger logger.Logger
}

// NewConnectionConfig creates the configuration for the meter on port.
//
// opts are applied in order; see the With* functions.
func NewConnectionConfig(port string, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		baudRate:             DefaultBaudRate,
		backend:              transport.BackendAuto,
		pollInterval:         DefaultPollInterval,
		lockRemote:           true,
		beeper:               true,
		contThreshold:        DefaultContinuityThreshold,
		diodThreshold:        DefaultDiodeThreshold,
		rate:                 DefaultRate,
		initialMode:          DefaultInitialMode,
		closeTimeout:         DefaultCloseTimeout,
		commandQueueSize:     DefaultCommandQueueSize,
		measurementQueueSize: DefaultMeasurementQueueSize,
		modeQueueSize:        DefaultModeQueueSize,
		opener:               transport.Open,
		logger:               logger.GetLogger(),
	}

	port = strings.TrimSpace(port)
	if port == "" {
		return nil, errors.New("dmm: port must not be empty")
	}
	cfg.port = port

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Port returns the serial device path.
func (cfg *ConnectionConfig) Port() string { return cfg.port }

// BaudRate returns the line speed.
func (cfg *ConnectionConfig) BaudRate() int { return cfg.baudRate }

// Backend returns the transport backend.
func (cfg *ConnectionConfig) Backend() transport.Backend { return cfg.backend }

// PollInterval returns the initial poll interval. The live value is a tunable,
// see Connection.Tunables.
func (cfg *ConnectionConfig) PollInterval() time.Duration { return cfg.pollInterval }

// Debug returns the initial debug flag.
func (cfg *ConnectionConfig) Debug() bool { return cfg.debug }

// LockRemote reports whether SYST:REM is sent after identification.
func (cfg *ConnectionConfig) LockRemote() bool { return cfg.lockRemote }

// Beeper returns the beeper state sent on connect.
func (cfg *ConnectionConfig) Beeper() bool { return cfg.beeper }

// ContinuityThreshold returns the continuity threshold in ohms.
func (cfg *ConnectionConfig) ContinuityThreshold() uint32 { return cfg.contThreshold }

// DiodeThreshold returns the diode threshold in volts.
func (cfg *ConnectionConfig) DiodeThreshold() float32 { return cfg.diodThreshold }

// Rate returns the sampling rate sent on connect.
func (cfg *ConnectionConfig) Rate() scpi.Rate { return cfg.rate }

// InitialMode returns the mode assumed before the first function report.
func (cfg *ConnectionConfig) InitialMode() scpi.MeterMode { return cfg.initialMode }

// CloseTimeout returns how long Close waits for the disconnect handshake.
func (cfg *ConnectionConfig) CloseTimeout() time.Duration { return cfg.closeTimeout }

// ReplyTimeout returns the reply timeout; zero means disabled.
func (cfg *ConnectionConfig) ReplyTimeout() time.Duration { return cfg.replyTimeout }

// GetLogger returns the configured logger.
func (cfg *ConnectionConfig) GetLogger() logger.Logger { return cfg.logger }

func (cfg *ConnectionConfig) serialConfig() transport.SerialConfig {
	return transport.SerialConfig{
		Port:     cfg.port,
		BaudRate: cfg.baudRate,
		Backend:  cfg.backend,
	}
}

// --- ConnOption ---

// ConnOption is a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc func(*ConnectionConfig) error

func (f connOptFunc) apply(cfg *ConnectionConfig) error { return f(cfg) }

// WithBaudRate sets the line speed.
func WithBaudRate(baud int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if baud <= 0 {
			return fmt.Errorf("dmm: baud rate %d must be positive", baud)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithBackend selects the transport backend.
func WithBackend(b transport.Backend) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if _, err := transport.ParseBackend(string(b)); err != nil {
			return fmt.Errorf("dmm: %w", err)
		}
		cfg.backend = b

		return nil
	})
}

// WithPollInterval sets the initial readiness wait and inter-iteration delay.
func WithPollInterval(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("dmm: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithDebug sets the initial debug flag. Hot path logs are emitted only when
// it is set.
func WithDebug(enabled bool) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.debug = enabled
		return nil
	})
}

// WithLockRemote controls whether the front panel is locked with SYST:REM
// after identification. Enabled by default.
func WithLockRemote(enabled bool) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.lockRemote = enabled
		return nil
	})
}

// WithBeeper sets the beeper state sent on connect and on entering the
// continuity or diode function.
func WithBeeper(on bool) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.beeper = on
		return nil
	})
}

// WithContinuityThreshold sets the continuity threshold, 0..1000 ohm.
func WithContinuityThreshold(ohms uint32) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if ohms > MaxContinuityThreshold {
			return fmt.Errorf("dmm: continuity threshold %d out of range [0, %d]", ohms, MaxContinuityThreshold)
		}
		cfg.contThreshold = ohms

		return nil
	})
}

// WithDiodeThreshold sets the diode threshold, 0..3.0 V.
func WithDiodeThreshold(volts float32) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if !(volts >= 0 && volts <= MaxDiodeThreshold) {
			return fmt.Errorf("dmm: diode threshold %v out of range [0, %v]", volts, MaxDiodeThreshold)
		}
		cfg.diodThreshold = volts

		return nil
	})
}

// WithRate sets the sampling rate sent on connect.
func WithRate(r scpi.Rate) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if _, err := r.Command(); err != nil {
			return fmt.Errorf("dmm: invalid rate %d", int(r))
		}
		cfg.rate = r

		return nil
	})
}

// WithInitialMode sets the mode assumed before the first function report.
// The first report equal to it is not forwarded.
func WithInitialMode(mode scpi.MeterMode) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if _, ok := scpi.Configure(mode); !ok {
			return fmt.Errorf("dmm: invalid meter mode %d", uint8(mode))
		}
		cfg.initialMode = mode

		return nil
	})
}

// WithCloseTimeout bounds the disconnect handshake. When it expires the
// transport is released without waiting for *RST to be written.
func WithCloseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinCloseTimeout || d > MaxCloseTimeout {
			return fmt.Errorf("dmm: close timeout %v out of range [%v, %v]", d, MinCloseTimeout, MaxCloseTimeout)
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithReplyTimeout clears a pending query after d without a reply so polling
// can resume. Zero disables the timeout, which is the default.
func WithReplyTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d != 0 && d < MinReplyTimeout {
			return fmt.Errorf("dmm: reply timeout %v below minimum %v", d, MinReplyTimeout)
		}
		cfg.replyTimeout = d

		return nil
	})
}

// WithCommandQueueSize sets the capacity of the operator command channel.
func WithCommandQueueSize(size int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if size < 1 {
			return errors.New("dmm: command queue size must be >= 1")
		}
		cfg.commandQueueSize = size

		return nil
	})
}

// WithMeasurementQueueSize sets the capacity of the measurement channel.
func WithMeasurementQueueSize(size int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if size < 1 {
			return errors.New("dmm: measurement queue size must be >= 1")
		}
		cfg.measurementQueueSize = size

		return nil
	})
}

// WithModeQueueSize sets the capacity of the mode change channel.
func WithModeQueueSize(size int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if size < 1 {
			return errors.New("dmm: mode queue size must be >= 1")
		}
		cfg.modeQueueSize = size

		return nil
	})
}

// WithTransportOpener replaces the function used to open the serial device.
func WithTransportOpener(open TransportOpener) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if open == nil {
			return errors.New("dmm: transport opener must not be nil")
		}
		cfg.opener = open

		return nil
	})
}

// WithLogger sets the logger for the connection.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("dmm: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
