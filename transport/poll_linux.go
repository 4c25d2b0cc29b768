//go:build linux

package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const pollSupported = true

var baudRates = map[int]uint32{
	1200:    unix.B1200,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

type pollPort struct {
	fd    int
	name  string
	saved *unix.Termios

	mu     sync.Mutex
	closed bool
}

var _ Transport = (*pollPort)(nil)

func openPoll(cfg SerialConfig) (Transport, error) {
	speed, ok := baudRates[cfg.BaudRate]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBaudRate, cfg.BaudRate)
	}

	fd, err := unix.Open(cfg.Port, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Port, err)
	}

	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("transport: tcgetattr %s: %w", cfg.Port, err)
	}

	tio := *saved
	makeRaw(&tio, speed)
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &tio); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("transport: tcsetattr %s: %w", cfg.Port, err)
	}

	// discard whatever the meter sent before we were listening
	_ = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)

	p := newPollPort(fd, cfg.Port)
	p.saved = saved

	return p, nil
}

func newPollPort(fd int, name string) *pollPort {
	return &pollPort{fd: fd, name: name}
}

// makeRaw is cfmakeraw(3) plus 8N1, receiver on, modem lines ignored and
// fully non-blocking reads.
func makeRaw(t *unix.Termios, speed uint32) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	t.Cflag &^= unix.CBAUD | unix.CSIZE | unix.CSTOPB | unix.PARENB | unix.CRTSCTS
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed

	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
}

func (p *pollPort) Name() string { return p.name }

func (p *pollPort) Wait(interest Event, timeout time.Duration) (Event, error) {
	if p.isClosed() {
		return 0, ErrClosed
	}

	var events int16
	if interest.Has(Readable) {
		events |= unix.POLLIN
	}
	if interest.Has(Writable) {
		events |= unix.POLLOUT
	}

	fds := []unix.PollFd{{Fd: int32(p.fd), Events: events}}

	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}

		return 0, fmt.Errorf("transport: poll %s: %w", p.name, err)
	}
	if n == 0 {
		return 0, nil
	}

	var ready Event
	revents := fds[0].Revents
	if revents&unix.POLLIN != 0 {
		ready |= Readable
	}
	if revents&unix.POLLOUT != 0 {
		ready |= Writable
	}
	// hangups and errors surface through the next Read
	if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && interest.Has(Readable) {
		ready |= Readable
	}

	return ready, nil
}

func (p *pollPort) Read(b []byte) (int, error) {
	if p.isClosed() {
		return 0, ErrClosed
	}

	n, err := unix.Read(p.fd, b)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, ErrWouldBlock
		}

		return 0, fmt.Errorf("transport: read %s: %w", p.name, err)
	}
	if n == 0 && len(b) > 0 {
		return 0, io.EOF
	}

	return n, nil
}

func (p *pollPort) Write(b []byte) (int, error) {
	if p.isClosed() {
		return 0, ErrClosed
	}

	n, err := unix.Write(p.fd, b)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, ErrWouldBlock
		}

		return 0, fmt.Errorf("transport: write %s: %w", p.name, err)
	}

	return n, nil
}

func (p *pollPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.saved != nil {
		_ = unix.IoctlSetTermios(p.fd, unix.TCSETS, p.saved)
	}

	return unix.Close(p.fd)
}

func (p *pollPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}
