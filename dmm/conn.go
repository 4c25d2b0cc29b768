package dmm

import (
	"context"
	"sync"
	"time"

	"github.com/arloliu/go-dmm/internal/pool"
	"github.com/arloliu/go-dmm/internal/task"
	"github.com/arloliu/go-dmm/logger"
	"github.com/arloliu/go-dmm/scpi"
	"github.com/arloliu/go-dmm/transport"
)

// closeGrace is added to the close timeout while Close waits for the session
// goroutine, which enforces the close timeout itself.
const closeGrace = 500 * time.Millisecond

// Connection is the serial command/response session with one meter.
//
// A single goroutine owns the transport for the lifetime of a session. The
// operator side talks to it through bounded channels: commands in,
// measurements and mode changes out. Outbound values are delivered best
// effort; when a consumer falls behind values are dropped rather than
// stalling the meter.
type Connection struct {
	pctx    context.Context
	cfg     *ConnectionConfig
	logger  logger.Logger
	opState atomicSessionState
	taskMgr *task.Manager

	tunables *Tunables
	metrics  ConnectionMetrics

	// cmdChan is created once in NewConnection and never closed.
	cmdChan  chan scpi.Command
	measChan chan float64
	modeChan chan scpi.MeterMode

	identityMu sync.RWMutex
	identity   string

	sessMu sync.Mutex
	sess   *session
}

// session is the per-open state; a Connection may be opened again after a
// session has been released.
type session struct {
	eng *engine
	tr  transport.Transport

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	// loop-owned
	shutdownSeen  bool
	drainDeadline time.Time
}

func (s *session) requestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

var _ engineSink = (*Connection)(nil)

// NewConnection creates a Connection for cfg. The session goroutine stops
// when ctx is cancelled; in that case the transport is released without the
// disconnect handshake.
func NewConnection(ctx context.Context, cfg *ConnectionConfig) (*Connection, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	l := cfg.logger.With("port", cfg.port)
	c := &Connection{
		pctx:     ctx,
		cfg:      cfg,
		logger:   l,
		taskMgr:  task.NewManager(ctx, l),
		tunables: newTunables(cfg.debug, cfg.pollInterval),
		cmdChan:  make(chan scpi.Command, cfg.commandQueueSize),
		measChan: make(chan float64, cfg.measurementQueueSize),
		modeChan: make(chan scpi.MeterMode, cfg.modeQueueSize),
	}
	c.opState.Set(Disconnected)

	return c, nil
}

// Connect opens the meter on port at baud and starts its session.
//
// Open failures are reported as *ConnectError.
func Connect(ctx context.Context, port string, baud int, opts ...ConnOption) (*Connection, error) {
	cfg, err := NewConnectionConfig(port, append([]ConnOption{WithBaudRate(baud)}, opts...)...)
	if err != nil {
		return nil, err
	}

	conn, err := NewConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := conn.Open(); err != nil {
		return nil, err
	}

	return conn, nil
}

// Open opens the transport, queues the connect handshake and starts the
// session goroutine. It does not wait for the meter to answer.
func (c *Connection) Open() error {
	if err := c.pctx.Err(); err != nil {
		return &ConnectError{Port: c.cfg.port, Err: err}
	}

	if !c.opState.ToConnecting() {
		return ErrAlreadyOpen
	}

	// the goroutine of the previous session has released the transport but
	// may still be returning; a Close that timed out left the task manager
	// stopped, Wait re-arms it
	c.taskMgr.Wait()

	c.logger.Debug("dmm: opening meter", "baud", c.cfg.baudRate, "backend", string(c.cfg.backend))

	tr, err := c.cfg.opener(c.cfg.serialConfig())
	if err != nil {
		c.opState.ToDisconnected()
		return &ConnectError{Port: c.cfg.port, Err: err}
	}

	// commands sent to a previous session are stale
	c.drainCommands(nil)

	s := &session{
		eng:        newEngine(c.cfg, tr, &c.metrics, c),
		tr:         tr,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.eng.startup()

	c.sessMu.Lock()
	c.sess = s
	c.sessMu.Unlock()

	c.opState.ToConnected()

	err = c.taskMgr.Start("engine",
		func(ctx context.Context) bool { return c.loopIteration(ctx, s) },
		func() { c.release(s) },
	)
	if err != nil {
		_ = tr.Close()
		c.opState.ToDisconnected()
		close(s.done)

		return &ConnectError{Port: c.cfg.port, Err: err}
	}

	c.logger.Info("dmm: meter session opened", "baud", c.cfg.baudRate)

	return nil
}

// RequestShutdown starts the disconnect handshake and returns immediately.
// SYST:LOC and *RST are queued behind pending commands and the transport is
// released once *RST has been written. Repeated calls have no effect.
func (c *Connection) RequestShutdown() {
	s := c.currentSession()
	if s == nil {
		return
	}

	c.opState.ToDisconnecting()
	s.requestShutdown()
}

// Close performs the disconnect handshake and waits until the transport has
// been released.
func (c *Connection) Close() error {
	s := c.currentSession()
	if s == nil {
		return nil
	}

	c.RequestShutdown()

	timer := pool.GetTimer(c.cfg.closeTimeout + closeGrace)
	defer pool.PutTimer(timer)

	select {
	case <-s.done:
		c.taskMgr.Wait()
		return nil
	case <-timer.C:
	}

	// the session goroutine is stuck in the transport; force it out
	c.logger.Error("dmm: close connection timeout", "timeout", c.cfg.closeTimeout)
	c.taskMgr.Stop()

	return ErrCloseTimeout
}

// Send queues cmd for the meter without blocking. Commands are written in
// the order they are sent, after any command queued earlier.
func (c *Connection) Send(cmd scpi.Command) error {
	if cmd.Text() == "" {
		return ErrEmptyCommand
	}
	if c.opState.Get() == Disconnected {
		return ErrConnClosed
	}

	select {
	case c.cmdChan <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// SendString is Send for free text; the terminator is added when missing.
func (c *Connection) SendString(text string) error {
	return c.Send(scpi.NewCommand(text))
}

// Measurements returns the measurement stream. The channel is shared by all
// sessions of the Connection and is never closed.
func (c *Connection) Measurements() <-chan float64 { return c.measChan }

// Modes returns the stream of mode changes reported by the meter.
func (c *Connection) Modes() <-chan scpi.MeterMode { return c.modeChan }

// Identity returns the *IDN? reply of the current session, or "" before the
// meter identified itself and after the session ended.
func (c *Connection) Identity() string {
	c.identityMu.RLock()
	defer c.identityMu.RUnlock()

	return c.identity
}

// State returns the lifecycle state.
func (c *Connection) State() SessionState { return c.opState.Get() }

// Port returns the serial device path.
func (c *Connection) Port() string { return c.cfg.port }

// Tunables returns the runtime knobs of the connection.
func (c *Connection) Tunables() *Tunables { return c.tunables }

// Done returns a channel closed when the current session has released its
// transport. Without a session the returned channel is already closed.
func (c *Connection) Done() <-chan struct{} {
	if s := c.currentSession(); s != nil {
		return s.done
	}

	ch := make(chan struct{})
	close(ch)

	return ch
}

// GetLogger returns the logger associated with the connection.
func (c *Connection) GetLogger() logger.Logger { return c.logger }

// GetMetrics returns the metrics associated with the connection.
func (c *Connection) GetMetrics() *ConnectionMetrics { return &c.metrics }

func (c *Connection) currentSession() *session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	return c.sess
}

// --- session loop ---

// loopIteration is one pass of the session goroutine: take operator
// commands, observe the shutdown request, wait for readiness and do the I/O,
// then sleep for the poll interval.
func (c *Connection) loopIteration(ctx context.Context, s *session) bool {
	debug, interval := c.tunables.snapshot()
	s.eng.debug = debug

	c.drainCommands(s.eng)

	if !s.shutdownSeen {
		select {
		case <-s.shutdownCh:
			// commands sent before the request go ahead of the handshake
			c.drainCommands(s.eng)
			s.shutdownSeen = true
			s.drainDeadline = time.Now().Add(c.cfg.closeTimeout)
			s.eng.beginShutdown()
		default:
		}
	}

	s.eng.poll(interval)

	if s.eng.releasable() {
		return false
	}

	if s.shutdownSeen && time.Now().After(s.drainDeadline) {
		c.logger.Warn("dmm: disconnect handshake timed out, releasing transport",
			"timeout", c.cfg.closeTimeout,
			"pending", s.eng.queue.Length())
		c.metrics.incForcedReleaseCount()

		return false
	}

	// the shutdown signal wakes the sleep only until it has been consumed
	var shutdown <-chan struct{}
	if !s.shutdownSeen {
		shutdown = s.shutdownCh
	}
	pool.Sleep(interval, ctx.Done(), shutdown)

	return true
}

// drainCommands moves pending operator commands into eng's queue, or
// discards them when eng is nil.
func (c *Connection) drainCommands(eng *engine) {
	for {
		select {
		case cmd := <-c.cmdChan:
			if eng != nil {
				eng.enqueue(cmd)
			}
		default:
			return
		}
	}
}

// release runs on the session goroutine after the loop has exited.
func (c *Connection) release(s *session) {
	if err := s.tr.Close(); err != nil {
		c.logger.Warn("dmm: failed to close transport", "error", err)
	}

	c.setIdentity("")
	c.metrics.setInflight(false)
	c.opState.ToDisconnected()

	c.logger.Info("dmm: meter session closed",
		"phase", s.eng.phase.String(),
		"abandoned", s.eng.queue.Length())

	close(s.done)
}

func (c *Connection) setIdentity(id string) {
	c.identityMu.Lock()
	c.identity = id
	c.identityMu.Unlock()
}

// --- engineSink ---

func (c *Connection) onIdentity(id string) {
	c.setIdentity(id)
}

func (c *Connection) onMeasurement(v float64) bool {
	select {
	case c.measChan <- v:
		return true
	default:
		return false
	}
}

func (c *Connection) onModeChange(mode scpi.MeterMode) bool {
	select {
	case c.modeChan <- mode:
		return true
	default:
		return false
	}
}
