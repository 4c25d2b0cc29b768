package transport

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// serialPort is the subset of serial.Port the portable backend relies on.
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// probeTimeout bounds the readability probe when the caller is also waiting
// for writability, which a serial port reports unconditionally.
const probeTimeout = time.Millisecond

type portablePort struct {
	port serialPort
	name string

	buf     []byte
	pending []byte
	readErr error

	closed atomic.Bool
}

var _ Transport = (*portablePort)(nil)

// OpenPortable opens cfg.Port with go.bug.st/serial regardless of platform.
func OpenPortable(cfg SerialConfig) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Port, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("transport: flush %s: %w", cfg.Port, err)
	}

	return newPortablePort(port, cfg.Port), nil
}

func newPortablePort(port serialPort, name string) *portablePort {
	return &portablePort{
		port: port,
		name: name,
		buf:  make([]byte, 256),
	}
}

func (p *portablePort) Name() string { return p.name }

func (p *portablePort) Wait(interest Event, timeout time.Duration) (Event, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}

	var ready Event
	if interest.Has(Writable) {
		ready |= Writable
	}
	if !interest.Has(Readable) {
		return ready, nil
	}
	if len(p.pending) > 0 || p.readErr != nil {
		return ready | Readable, nil
	}

	probe := timeout
	if ready != 0 {
		probe = probeTimeout
	}
	if err := p.port.SetReadTimeout(probe); err != nil {
		return ready, fmt.Errorf("transport: set read timeout %s: %w", p.name, err)
	}

	n, err := p.port.Read(p.buf)
	if n > 0 {
		p.pending = append(p.pending, p.buf[:n]...)
	}
	// go.bug.st/serial reports a timeout as (0, nil)
	if err != nil {
		p.readErr = err
	}

	if len(p.pending) > 0 || p.readErr != nil {
		ready |= Readable
	}

	return ready, nil
}

func (p *portablePort) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}

	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		if len(p.pending) == 0 {
			p.pending = nil
		}

		return n, nil
	}

	if err := p.readErr; err != nil {
		p.readErr = nil
		if err == io.EOF {
			return 0, io.EOF
		}

		return 0, fmt.Errorf("transport: read %s: %w", p.name, err)
	}

	return 0, ErrWouldBlock
}

func (p *portablePort) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}

	n, err := p.port.Write(b)
	if err != nil {
		return n, fmt.Errorf("transport: write %s: %w", p.name, err)
	}
	if n == 0 && len(b) > 0 {
		return 0, ErrWouldBlock
	}

	return n, nil
}

func (p *portablePort) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	return p.port.Close()
}
