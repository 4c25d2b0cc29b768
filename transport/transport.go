package transport

import (
	"errors"
	"fmt"
	"time"
)

// Event is a readiness bit set.
type Event uint8

const (
	// Readable means a Read will return data, EOF or an error without blocking.
	Readable Event = 1 << iota
	// Writable means a Write will accept at least one byte.
	Writable
)

// Has reports whether all bits of o are set in e.
func (e Event) Has(o Event) bool { return e&o == o }

func (e Event) String() string {
	switch e {
	case 0:
		return "none"
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Readable | Writable:
		return "readable|writable"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

var (
	// ErrWouldBlock is returned by Read and Write when the operation cannot
	// make progress right now. It is not a failure.
	ErrWouldBlock = errors.New("transport: operation would block")
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")
	// ErrUnsupportedBaudRate is returned by Open for baud rates the backend
	// cannot program.
	ErrUnsupportedBaudRate = errors.New("transport: unsupported baud rate")
	// ErrBackendUnsupported is returned when the requested backend is not
	// available on this platform.
	ErrBackendUnsupported = errors.New("transport: backend not supported on this platform")
)

// Transport is a duplex, non-blocking byte stream with readiness notification.
//
// Implementations are owned by a single goroutine; only Close may be called
// concurrently with the other methods.
type Transport interface {
	// Wait blocks for at most timeout until one of the interest events is
	// ready and returns the ready set. A zero set with a nil error means the
	// timeout expired.
	Wait(interest Event, timeout time.Duration) (Event, error)
	// Read reads available bytes. It returns ErrWouldBlock when nothing is
	// buffered and io.EOF when the peer is gone.
	Read(p []byte) (int, error)
	// Write writes as many bytes as the device accepts. A short count with a
	// nil error is a partial write; ErrWouldBlock means nothing was accepted.
	Write(p []byte) (int, error)
	// Close releases the device.
	Close() error
	// Name returns the device path.
	Name() string
}

// Backend selects a Transport implementation.
type Backend string

const (
	// BackendAuto picks poll on Linux and portable elsewhere.
	BackendAuto Backend = ""
	// BackendPoll is the termios + poll(2) implementation.
	BackendPoll Backend = "poll"
	// BackendPortable is the go.bug.st/serial implementation.
	BackendPortable Backend = "portable"
)

// ParseBackend validates a backend name. The empty string and "auto" map to
// BackendAuto.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "", "auto":
		return BackendAuto, nil
	case string(BackendPoll):
		return BackendPoll, nil
	case string(BackendPortable):
		return BackendPortable, nil
	default:
		return "", fmt.Errorf("transport: unknown backend %q", s)
	}
}

// DefaultBaudRate is the rate the supported meters ship with.
const DefaultBaudRate = 115200

// SerialConfig describes the device to open. The line format is always
// 8 data bits, no parity, 1 stop bit.
type SerialConfig struct {
	Port     string
	BaudRate int
	Backend  Backend
}

// Open opens the device described by cfg.
func Open(cfg SerialConfig) (Transport, error) {
	if cfg.Port == "" {
		return nil, errors.New("transport: empty port name")
	}
	if cfg.BaudRate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBaudRate, cfg.BaudRate)
	}

	switch cfg.Backend {
	case BackendAuto:
		if pollSupported {
			return openPoll(cfg)
		}

		return OpenPortable(cfg)
	case BackendPoll:
		return openPoll(cfg)
	case BackendPortable:
		return OpenPortable(cfg)
	default:
		return nil, fmt.Errorf("transport: unknown backend %q", cfg.Backend)
	}
}
