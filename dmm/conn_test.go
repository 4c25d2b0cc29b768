package dmm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arloliu/go-dmm/scpi"
	"github.com/arloliu/go-dmm/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitTimeout = 2 * time.Second
	waitTick    = 2 * time.Millisecond
)

func newSimConnection(t *testing.T, ctx context.Context, sim *simMeter, opts ...ConnOption) *Connection {
	t.Helper()

	cfg := newTestConfig(t, append([]ConnOption{WithTransportOpener(sim.opener())}, opts...)...)
	conn, err := NewConnection(ctx, cfg)
	require.NoError(t, err)

	return conn
}

func waitIdentity(t *testing.T, conn *Connection) {
	t.Helper()

	require.Eventually(t, func() bool { return conn.Identity() != "" }, waitTimeout, waitTick)
}

func TestNewConnection_NilConfig(t *testing.T) {
	_, err := NewConnection(context.Background(), nil)
	require.ErrorIs(t, err, ErrConfigNil)
}

func TestConnection_OpenFailure(t *testing.T) {
	sim := newSimMeter()
	openErr := errors.New("no such device")
	sim.openErr = openErr

	conn := newSimConnection(t, context.Background(), sim)

	err := conn.Open()
	require.Error(t, err)

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "/dev/ttyTEST0", connErr.Port)
	require.ErrorIs(t, err, openErr)
	assert.Contains(t, err.Error(), "no such device")

	assert.Equal(t, Disconnected, conn.State())
	require.ErrorIs(t, conn.Send(scpi.Measure), ErrConnClosed)
	require.NoError(t, conn.Close())

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done must be closed without a session")
	}
}

func TestConnection_Lifecycle(t *testing.T) {
	sim := newSimMeter()
	conn := newSimConnection(t, context.Background(), sim)

	require.NoError(t, conn.Open())
	assert.Equal(t, Connected, conn.State())
	require.ErrorIs(t, conn.Open(), ErrAlreadyOpen)

	waitIdentity(t, conn)
	assert.Equal(t, "OWON,XDM1041,SN1,V4.1.0", conn.Identity())

	select {
	case v := <-conn.Measurements():
		assert.InDelta(t, 12.3456, v, 1e-12)
	case <-time.After(waitTimeout):
		t.Fatal("no measurement received")
	}

	require.NoError(t, conn.Close())

	assert.Equal(t, Disconnected, conn.State())
	assert.Empty(t, conn.Identity())
	assert.True(t, sim.isClosed())
	assert.Zero(t, conn.GetMetrics().InflightGauge.Load())

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}

	sent := sim.sent()
	require.GreaterOrEqual(t, len(sent), 9)
	assert.Equal(t, []string{
		"*IDN?",
		"RATE S",
		"SYST:BEEP:STATe ON",
		"CONT:THREshold 50",
		"DIOD:THREshold 2",
		"SYST:REM",
		"MEAS?",
	}, sent[:7])
	assert.Equal(t, []string{"SYST:LOC", "*RST"}, sent[len(sent)-2:])
	assert.Equal(t, 1, countOf(sent, "SYST:LOC"))

	// closing twice is harmless
	require.NoError(t, conn.Close())
}

func TestConnection_SerialConfigPassedToOpener(t *testing.T) {
	sim := newSimMeter()

	conn, err := Connect(context.Background(), "/dev/ttyUSB3", 9600,
		WithTransportOpener(sim.opener()),
		WithBackend(transport.BackendPortable),
		WithPollInterval(MinPollInterval),
	)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, transport.SerialConfig{
		Port:     "/dev/ttyUSB3",
		BaudRate: 9600,
		Backend:  transport.BackendPortable,
	}, sim.cfg)
	assert.Equal(t, "/dev/ttyUSB3", conn.Port())
}

func TestConnect_OpenFailure(t *testing.T) {
	sim := newSimMeter()
	sim.openErr = errors.New("permission denied")

	conn, err := Connect(context.Background(), "/dev/ttyUSB3", 115200, WithTransportOpener(sim.opener()))
	require.Error(t, err)
	assert.Nil(t, conn)

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "/dev/ttyUSB3", connErr.Port)
}

func TestConnection_OperatorCommandsGoFirst(t *testing.T) {
	sim := newSimMeter()
	conn := newSimConnection(t, context.Background(), sim)

	require.NoError(t, conn.Open())
	waitIdentity(t, conn)

	require.NoError(t, conn.SendString("CONF:RES AUTO"))
	require.NoError(t, conn.Send("RATE F\n"))
	require.NoError(t, conn.Close())

	sent := sim.sent()
	n := len(sent)
	require.GreaterOrEqual(t, n, 4)
	assert.Equal(t, []string{"SYST:LOC", "*RST"}, sent[n-2:])

	conf, rate := indexOf(sent, "CONF:RES AUTO"), indexOf(sent, "RATE F")
	require.NotEqual(t, -1, conf)
	require.NotEqual(t, -1, rate)
	assert.Less(t, conf, rate)
	assert.Less(t, rate, n-2)
}

func TestConnection_SendValidation(t *testing.T) {
	cfg := newTestConfig(t, WithCommandQueueSize(1))
	conn, err := NewConnection(context.Background(), cfg)
	require.NoError(t, err)

	require.ErrorIs(t, conn.Send(scpi.Measure), ErrConnClosed)

	// accept commands without running a session loop
	conn.opState.Set(Connected)
	require.ErrorIs(t, conn.SendString("  "), ErrEmptyCommand)
	require.NoError(t, conn.Send(scpi.Measure))
	require.ErrorIs(t, conn.Send(scpi.Measure), ErrCommandQueueFull)

	conn.opState.Set(Disconnecting)
	conn.drainCommands(nil)
	require.NoError(t, conn.Send(scpi.Local), "commands are accepted while disconnecting")
}

func TestConnection_ModeChangeFromFunctionCheck(t *testing.T) {
	sim := newSimMeter()
	sim.function = "CONT"
	sim.identity = "OWON,XDM1041,SN1,V4.3.0"

	conn := newSimConnection(t, context.Background(), sim, WithContinuityThreshold(25))
	require.NoError(t, conn.Open())
	defer conn.Close()

	select {
	case mode := <-conn.Modes():
		assert.Equal(t, scpi.Cont, mode)
	case <-time.After(waitTimeout):
		t.Fatal("no mode change received")
	}

	require.Eventually(t, func() bool {
		return countOf(sim.sent(), "CONT:THREshold 25") == 2
	}, waitTimeout, waitTick)

	sent := sim.sent()
	assert.GreaterOrEqual(t, countOf(sent, "MEAS?"), FunctionCheckCycles)
	assert.GreaterOrEqual(t, countOf(sent, "FUNC?"), 1)
}

func TestConnection_QuirkSwapsReportedMode(t *testing.T) {
	sim := newSimMeter()
	sim.function = "CONT"

	conn := newSimConnection(t, context.Background(), sim)
	require.NoError(t, conn.Open())
	defer conn.Close()

	select {
	case mode := <-conn.Modes():
		assert.Equal(t, scpi.Diod, mode)
	case <-time.After(waitTimeout):
		t.Fatal("no mode change received")
	}
}

func TestConnection_SlowConsumerDropsMeasurements(t *testing.T) {
	sim := newSimMeter()
	conn := newSimConnection(t, context.Background(), sim, WithMeasurementQueueSize(1))
	require.NoError(t, conn.Open())
	defer conn.Close()

	require.Eventually(t, func() bool {
		return conn.GetMetrics().MeasurementDropCount.Load() > 0
	}, waitTimeout, waitTick)

	assert.Len(t, conn.Measurements(), 1)
}

func TestConnection_CloseTimeoutForcesRelease(t *testing.T) {
	sim := newSimMeter()
	conn := newSimConnection(t, context.Background(), sim, WithCloseTimeout(MinCloseTimeout))
	require.NoError(t, conn.Open())
	waitIdentity(t, conn)

	sim.set(func(m *simMeter) { m.stallWrites = true })

	start := time.Now()
	require.NoError(t, conn.Close())
	assert.GreaterOrEqual(t, time.Since(start), MinCloseTimeout)

	assert.Equal(t, uint64(1), conn.GetMetrics().ForcedReleaseCount.Load())
	assert.Equal(t, Disconnected, conn.State())
	assert.True(t, sim.isClosed())
	assert.Zero(t, countOf(sim.sent(), "*RST"))
}

func TestConnection_ParentCancelReleases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim := newSimMeter()
	conn := newSimConnection(t, ctx, sim)
	require.NoError(t, conn.Open())
	waitIdentity(t, conn)

	cancel()

	select {
	case <-conn.Done():
	case <-time.After(waitTimeout):
		t.Fatal("session not released after cancel")
	}

	assert.Equal(t, Disconnected, conn.State())
	assert.True(t, sim.isClosed())
	assert.Empty(t, conn.Identity())
	assert.Zero(t, countOf(sim.sent(), "SYST:LOC"), "no handshake after cancel")

	err := conn.Open()
	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr, "a cancelled connection cannot start a new session")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Disconnected, conn.State())
}

func TestConnection_ReopenAfterCloseTimeout(t *testing.T) {
	sim := newSimMeter()
	conn := newSimConnection(t, context.Background(), sim, WithCloseTimeout(MinCloseTimeout))
	require.NoError(t, conn.Open())
	waitIdentity(t, conn)

	sim.set(func(m *simMeter) { m.waitDelay = 1500 * time.Millisecond })

	require.ErrorIs(t, conn.Close(), ErrCloseTimeout)

	select {
	case <-conn.Done():
	case <-time.After(waitTimeout):
		t.Fatal("stuck session never released")
	}
	assert.Equal(t, Disconnected, conn.State())

	sim.set(func(m *simMeter) {
		m.waitDelay = 0
		m.identity = "OWON,XDM1041,SN3,V4.3.0"
	})

	require.NoError(t, conn.Open())
	waitIdentity(t, conn)
	assert.Equal(t, "OWON,XDM1041,SN3,V4.3.0", conn.Identity())
	require.NoError(t, conn.Close())
}

func TestConnection_Reopen(t *testing.T) {
	sim := newSimMeter()
	conn := newSimConnection(t, context.Background(), sim)

	require.NoError(t, conn.Open())
	waitIdentity(t, conn)
	require.NoError(t, conn.Close())
	assert.Empty(t, conn.Identity())

	sim.set(func(m *simMeter) { m.identity = "OWON,XDM1041,SN2,V4.3.0" })

	require.NoError(t, conn.Open())
	waitIdentity(t, conn)
	assert.Equal(t, "OWON,XDM1041,SN2,V4.3.0", conn.Identity())
	require.NoError(t, conn.Close())

	assert.Equal(t, 2, countOf(sim.sent(), "*IDN?"))
	assert.Equal(t, 2, countOf(sim.sent(), "*RST"))
}

func TestConnection_RequestShutdownIsIdempotent(t *testing.T) {
	sim := newSimMeter()
	conn := newSimConnection(t, context.Background(), sim)
	require.NoError(t, conn.Open())
	waitIdentity(t, conn)

	conn.RequestShutdown()
	conn.RequestShutdown()
	assert.Contains(t, []SessionState{Disconnecting, Disconnected}, conn.State())

	select {
	case <-conn.Done():
	case <-time.After(waitTimeout):
		t.Fatal("session not released")
	}

	assert.Equal(t, 1, countOf(sim.sent(), "SYST:LOC"))
	assert.Equal(t, 1, countOf(sim.sent(), "*RST"))
}

func TestConnection_Tunables(t *testing.T) {
	sim := newSimMeter()
	conn := newSimConnection(t, context.Background(), sim, WithDebug(true))

	tun := conn.Tunables()
	assert.True(t, tun.Debug())
	assert.Equal(t, MinPollInterval, tun.PollInterval())

	tun.SetDebug(false)
	assert.False(t, tun.Debug())

	require.NoError(t, tun.SetPollInterval(50*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, tun.PollInterval())
	require.Error(t, tun.SetPollInterval(0))
	require.Error(t, tun.SetPollInterval(2*MaxPollInterval))
	assert.Equal(t, 50*time.Millisecond, tun.PollInterval())
}

func TestConnection_SetMode(t *testing.T) {
	sim := newSimMeter()
	conn := newSimConnection(t, context.Background(), sim)

	require.ErrorIs(t, conn.SetMode(scpi.Res, ""), ErrConnClosed)

	require.NoError(t, conn.Open())
	waitIdentity(t, conn)

	require.NoError(t, conn.SetMode(scpi.Res, "5kOhm"))
	require.NoError(t, conn.SetMode(scpi.Cont, ""))

	require.Eventually(t, func() bool {
		return countOf(sim.sent(), "CONT:THREshold 50") > 0
	}, waitTimeout, waitTick)

	sent := sim.sent()
	res := indexOf(sent, "CONF:RES 5E3")
	conf := indexOf(sent, "CONF:CONT")
	beep := indexOf(sent, "SYST:BEEP:STATe ON")
	thr := indexOf(sent, "CONT:THREshold 50")
	require.GreaterOrEqual(t, res, 0)
	assert.Less(t, res, conf)
	assert.Less(t, conf, beep)
	assert.Less(t, beep, thr)

	err := conn.SetMode(scpi.Freq, "5V")
	require.Error(t, err, "FREQ has no range table")
	err = conn.SetMode(scpi.Vdc, "7V")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "7V")

	require.NoError(t, conn.Close())
}

func TestConnection_SetModeQueuesAllOrNothing(t *testing.T) {
	sim := newSimMeter()
	conn := newSimConnection(t, context.Background(), sim, WithCommandQueueSize(1))
	require.NoError(t, conn.Open())
	waitIdentity(t, conn)

	require.ErrorIs(t, conn.SetMode(scpi.Diod, ""), ErrCommandQueueFull)
	require.NoError(t, conn.SetMode(scpi.Vac, ""), "a single command fits")

	require.NoError(t, conn.Close())
	assert.Zero(t, countOf(sim.sent(), "CONF:DIOD"))
	assert.Equal(t, 1, countOf(sim.sent(), "CONF:VOLT:AC AUTO"))
}
