package dmm

import (
	"errors"
	"strings"
	"time"

	"github.com/arloliu/go-dmm/internal/queue"
	"github.com/arloliu/go-dmm/logger"
	"github.com/arloliu/go-dmm/scpi"
	"github.com/arloliu/go-dmm/transport"
)

const (
	// maxLineLength bounds the reply accumulator. Longer lines are dropped
	// up to their terminator.
	maxLineLength = 4096

	readChunkSize = 256
)

type protocolState uint8

const (
	stateIdentifying protocolState = iota
	stateMeasuring
)

func (s protocolState) String() string {
	if s == stateIdentifying {
		return "Identifying"
	}

	return "Measuring"
}

type shutdownPhase uint8

const (
	phaseRunning shutdownPhase = iota
	phaseDraining
	phaseReadyToRelease
)

func (p shutdownPhase) String() string {
	switch p {
	case phaseRunning:
		return "Running"
	case phaseDraining:
		return "Draining"
	default:
		return "ReadyToRelease"
	}
}

// pendingCommand is a queued command plus its write progress.
type pendingCommand struct {
	cmd scpi.Command
	// written counts bytes already accepted by the transport.
	written int
	// release marks the *RST of the disconnect handshake.
	release bool
}

// engineSink receives the outputs of the engine. The bool results report
// whether the value was delivered.
type engineSink interface {
	onIdentity(id string)
	onMeasurement(v float64) bool
	onModeChange(mode scpi.MeterMode) bool
}

// engine is the protocol state machine of one session. It is owned by the
// session goroutine and is not safe for concurrent use.
type engine struct {
	cfg     *ConnectionConfig
	tr      transport.Transport
	logger  logger.Logger
	metrics *ConnectionMetrics
	sink    engineSink
	now     func() time.Time

	queue queue.Queue[*pendingCommand]

	state         protocolState
	inFlight      bool
	inFlightSince time.Time
	cycles        int
	swapDiodCont  bool
	mode          scpi.MeterMode
	phase         shutdownPhase
	debug         bool

	line       []byte
	discarding bool
	readBuf    []byte
}

func newEngine(cfg *ConnectionConfig, tr transport.Transport, metrics *ConnectionMetrics, sink engineSink) *engine {
	return &engine{
		cfg:     cfg,
		tr:      tr,
		logger:  cfg.logger.With("port", cfg.port),
		metrics: metrics,
		sink:    sink,
		now:     time.Now,
		queue:   queue.NewSliceQueue[*pendingCommand](16),
		mode:    cfg.initialMode,
		line:    make([]byte, 0, 64),
		readBuf: make([]byte, readChunkSize),
	}
}

// startup queues the connect handshake.
func (e *engine) startup() {
	e.enqueue(scpi.Identify)

	if rate, err := e.cfg.rate.Command(); err == nil {
		e.enqueue(rate)
	}
	e.enqueue(scpi.Beeper(e.cfg.beeper))
	e.enqueue(scpi.ContinuityThreshold(e.cfg.contThreshold))
	e.enqueue(scpi.DiodeThreshold(e.cfg.diodThreshold))
}

// enqueue appends cmd to the command queue. It is accepted in every phase.
func (e *engine) enqueue(cmd scpi.Command) {
	e.queue.Enqueue(&pendingCommand{cmd: cmd})
}

// beginShutdown stops query scheduling and queues the disconnect handshake
// behind everything already queued. It reports false when shutdown has
// already begun.
func (e *engine) beginShutdown() bool {
	if e.phase != phaseRunning {
		return false
	}

	e.phase = phaseDraining
	e.queue.Enqueue(&pendingCommand{cmd: scpi.Local})
	e.queue.Enqueue(&pendingCommand{cmd: scpi.Reset, release: true})

	e.debugLog("disconnect handshake queued", "pending", e.queue.Length())

	return true
}

func (e *engine) releasable() bool {
	return e.phase == phaseReadyToRelease
}

// interest returns the readiness events worth waiting for.
func (e *engine) interest() transport.Event {
	ev := transport.Readable
	if !e.inFlight && !e.queue.IsEmpty() {
		ev |= transport.Writable
	}

	return ev
}

// poll waits at most timeout for readiness and services the wake.
func (e *engine) poll(timeout time.Duration) {
	ev, err := e.tr.Wait(e.interest(), timeout)
	if err != nil {
		e.debugLog("wait failed", "error", err)
	}

	e.handle(ev)
}

// handle performs the I/O indicated by ev, write first, then advances the
// timers and the query scheduler.
func (e *engine) handle(ev transport.Event) {
	if ev.Has(transport.Writable) {
		e.trySendHead()
	}
	if ev.Has(transport.Readable) {
		e.readBurst()
	}

	e.checkReplyTimeout()
	e.schedule()
}

func (e *engine) trySendHead() {
	if e.inFlight {
		return
	}

	head, ok := e.queue.Peek()
	if !ok {
		return
	}

	n, err := e.tr.Write(head.cmd.Bytes()[head.written:])
	if err != nil {
		if errors.Is(err, transport.ErrWouldBlock) {
			e.metrics.incWriteWouldBlockCount()
			return
		}

		_, _ = e.queue.Dequeue()
		e.metrics.incCommandErrCount()
		e.debugLog("write failed, command discarded", "command", head.cmd.Text(), "error", err)

		// a lost *RST cannot be retried meaningfully; release anyway
		if head.release {
			e.phase = phaseReadyToRelease
		}

		return
	}

	head.written += n
	if head.written < len(head.cmd) {
		if n == 0 {
			e.metrics.incWriteWouldBlockCount()
		}

		return
	}

	_, _ = e.queue.Dequeue()
	e.metrics.incCommandSendCount()
	e.debugLog("command sent", "command", head.cmd.Text())

	e.onWritten(head)
}

func (e *engine) onWritten(p *pendingCommand) {
	if p.cmd.IsQuery() {
		e.setInFlight(true)
	}

	switch p.cmd {
	case scpi.Identify:
		if e.phase == phaseRunning {
			if e.cfg.lockRemote {
				e.enqueue(scpi.Remote)
			}
			e.enqueue(scpi.Measure)
		}
	case scpi.Function:
		e.cycles = 0
		e.metrics.incFunctionCheckCount()
	}

	if p.release {
		e.phase = phaseReadyToRelease
	}
}

func (e *engine) setInFlight(on bool) {
	e.inFlight = on
	if on {
		e.inFlightSince = e.now()
	}
	e.metrics.setInflight(on)
}

func (e *engine) readBurst() {
	for {
		n, err := e.tr.Read(e.readBuf)
		if n > 0 {
			e.feed(e.readBuf[:n])
		}

		if err != nil {
			if !errors.Is(err, transport.ErrWouldBlock) {
				e.metrics.incReadErrCount()
				e.debugLog("read failed", "error", err)
			}

			return
		}
		if n == 0 {
			return
		}
	}
}

// feed appends bytes to the line accumulator and dispatches every line
// completed by "\r\n". Partial lines are kept for the next read.
func (e *engine) feed(data []byte) {
	for _, b := range data {
		e.line = append(e.line, b)

		if b == '\n' && len(e.line) >= 2 && e.line[len(e.line)-2] == '\r' {
			if e.discarding {
				e.discarding = false
				e.line = e.line[:0]
				e.dropLine()

				continue
			}

			line := string(e.line[:len(e.line)-2])
			e.line = e.line[:0]
			e.handleLine(line)

			continue
		}

		if len(e.line) > maxLineLength {
			if !e.discarding {
				e.debugLog("reply line too long, discarding", "limit", maxLineLength)
			}
			e.discarding = true
			// keep the last byte so a "\r\n" split across the cut is still seen
			e.line[0] = e.line[len(e.line)-1]
			e.line = e.line[:1]
		}
	}
}

// dropLine accounts for a reply that could not be used.
func (e *engine) dropLine() {
	e.metrics.incLineRecvCount()
	e.metrics.incMalformedLineCount()
	e.setInFlight(false)
}

func (e *engine) handleLine(line string) {
	e.metrics.incLineRecvCount()
	e.setInFlight(false)

	if e.state == stateIdentifying {
		id := strings.TrimSpace(line)
		e.state = stateMeasuring
		e.swapDiodCont = scpi.SwapsDiodCont(id)
		e.sink.onIdentity(id)

		e.logger.Info("dmm: meter identified", "identity", id, "swap_diod_cont", e.swapDiodCont)

		return
	}

	token := scpi.Unquote(line)

	if mode, ok := scpi.ParseFunction(token, e.swapDiodCont); ok {
		e.handleMode(mode)
		return
	}

	if v, ok := scpi.ParseMeasurement(token); ok {
		e.cycles++
		e.metrics.incMeasurementCount()
		if scpi.IsOverload(v) {
			e.metrics.incOverloadCount()
		}

		if !e.sink.onMeasurement(v) {
			e.metrics.incMeasurementDropCount()
			e.debugLog("measurement channel full, value dropped", "value", v)
		}

		return
	}

	e.metrics.incMalformedLineCount()
	e.debugLog("unrecognized reply dropped", "line", line)
}

func (e *engine) handleMode(mode scpi.MeterMode) {
	if mode == e.mode {
		return
	}

	e.debugLog("mode changed", "from", e.mode.String(), "to", mode.String())
	e.mode = mode
	e.metrics.incModeChangeCount()

	if !e.sink.onModeChange(mode) {
		e.metrics.incModeDropCount()
		e.debugLog("mode channel full, change dropped", "mode", mode.String())
	}

	for _, cmd := range modeFollowUps(e.cfg, mode) {
		e.enqueue(cmd)
	}
}

// modeFollowUps returns the commands that bring beeper and threshold in line
// with cfg after the meter entered mode.
func modeFollowUps(cfg *ConnectionConfig, mode scpi.MeterMode) []scpi.Command {
	switch mode {
	case scpi.Cont:
		return []scpi.Command{scpi.Beeper(cfg.beeper), scpi.ContinuityThreshold(cfg.contThreshold)}
	case scpi.Diod:
		return []scpi.Command{scpi.Beeper(cfg.beeper), scpi.DiodeThreshold(cfg.diodThreshold)}
	default:
		return nil
	}
}

func (e *engine) checkReplyTimeout() {
	if !e.inFlight || e.cfg.replyTimeout <= 0 {
		return
	}

	if e.now().Sub(e.inFlightSince) < e.cfg.replyTimeout {
		return
	}

	e.setInFlight(false)
	e.metrics.incReplyTimeoutCount()
	e.debugLog("reply timeout, query abandoned", "timeout", e.cfg.replyTimeout, "state", e.state.String())
}

// schedule keeps the meter polled: with nothing queued and no reply pending
// it queues MEAS?, or FUNC? once every FunctionCheckCycles measurements.
func (e *engine) schedule() {
	if e.phase != phaseRunning || e.state != stateMeasuring || e.inFlight || !e.queue.IsEmpty() {
		return
	}

	if e.cycles >= FunctionCheckCycles {
		e.cycles = 0
		e.enqueue(scpi.Function)

		return
	}

	e.enqueue(scpi.Measure)
}

func (e *engine) debugLog(msg string, keysAndValues ...any) {
	if !e.debug {
		return
	}

	e.logger.Debug("dmm: "+msg, keysAndValues...)
}
