package dmm

import (
	"errors"
	"fmt"
)

// Sentinel errors of the dmm package.
var (
	ErrConnClosed       = errors.New("dmm: connection closed")
	ErrCommandQueueFull = errors.New("dmm: command queue full")
	ErrEmptyCommand     = errors.New("dmm: empty command")
	ErrAlreadyOpen      = errors.New("dmm: connection already open")
	ErrAlreadyConnected = errors.New("dmm: port already connected")
	ErrNotConnected     = errors.New("dmm: port not connected")
	ErrCloseTimeout     = errors.New("dmm: close timeout")
	ErrConfigNil        = errors.New("dmm: connection config is nil")
	ErrManagerClosed    = errors.New("dmm: manager closed")
)

// ConnectError reports a failure to open the serial device of a session.
type ConnectError struct {
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("dmm: connect %s: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
