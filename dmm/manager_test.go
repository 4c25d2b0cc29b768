package dmm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/arloliu/go-dmm/logger"
	"github.com/arloliu/go-dmm/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simRack hands out one simMeter per port.
type simRack struct {
	mu     sync.Mutex
	meters map[string]*simMeter
	fail   map[string]error
}

func newSimRack() *simRack {
	return &simRack{meters: map[string]*simMeter{}, fail: map[string]error{}}
}

func (r *simRack) opener() TransportOpener {
	return func(cfg transport.SerialConfig) (transport.Transport, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if err := r.fail[cfg.Port]; err != nil {
			return nil, err
		}

		sim, ok := r.meters[cfg.Port]
		if !ok {
			sim = newSimMeter()
			r.meters[cfg.Port] = sim
		}

		return sim.opener()(cfg)
	}
}

func newTestManager(t *testing.T) (*Manager, *simRack) {
	t.Helper()

	mgr := NewManager(context.Background(), logger.GetLogger())
	t.Cleanup(func() { _ = mgr.CloseAll() })

	return mgr, newSimRack()
}

func TestManager_ConnectAndGet(t *testing.T) {
	mgr, rack := newTestManager(t)

	conn, err := mgr.Connect("/dev/ttyUSB0", WithTransportOpener(rack.opener()), WithPollInterval(MinPollInterval))
	require.NoError(t, err)
	waitIdentity(t, conn)

	got, ok := mgr.Get("/dev/ttyUSB0")
	require.True(t, ok)
	assert.Same(t, conn, got)
	assert.Equal(t, 1, mgr.Len())

	_, ok = mgr.Get("/dev/ttyUSB1")
	assert.False(t, ok)
}

func TestManager_DuplicatePort(t *testing.T) {
	mgr, rack := newTestManager(t)

	_, err := mgr.Connect("/dev/ttyUSB0", WithTransportOpener(rack.opener()))
	require.NoError(t, err)

	_, err = mgr.Connect("/dev/ttyUSB0", WithTransportOpener(rack.opener()))
	require.ErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, 1, mgr.Len())
}

func TestManager_ConnectFailureIsForgotten(t *testing.T) {
	mgr, rack := newTestManager(t)
	rack.fail["/dev/ttyUSB0"] = errors.New("busy")

	_, err := mgr.Connect("/dev/ttyUSB0", WithTransportOpener(rack.opener()))
	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Zero(t, mgr.Len())

	delete(rack.fail, "/dev/ttyUSB0")
	_, err = mgr.Connect("/dev/ttyUSB0", WithTransportOpener(rack.opener()))
	require.NoError(t, err)
}

func TestManager_InvalidOptions(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.Connect("/dev/ttyUSB0", WithBaudRate(-1))
	require.Error(t, err)
	assert.Zero(t, mgr.Len())
}

func TestManager_Disconnect(t *testing.T) {
	mgr, rack := newTestManager(t)

	conn, err := mgr.Connect("/dev/ttyUSB0", WithTransportOpener(rack.opener()), WithPollInterval(MinPollInterval))
	require.NoError(t, err)
	waitIdentity(t, conn)

	require.NoError(t, mgr.Disconnect("/dev/ttyUSB0"))
	assert.Equal(t, Disconnected, conn.State())
	assert.Zero(t, mgr.Len())
	assert.Equal(t, 1, countOf(rack.meters["/dev/ttyUSB0"].sent(), "*RST"))

	require.ErrorIs(t, mgr.Disconnect("/dev/ttyUSB0"), ErrNotConnected)
}

func TestManager_CloseAll(t *testing.T) {
	mgr, rack := newTestManager(t)

	ports := []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"}
	conns := make([]*Connection, 0, len(ports))
	for _, port := range ports {
		conn, err := mgr.Connect(port, WithTransportOpener(rack.opener()), WithPollInterval(MinPollInterval))
		require.NoError(t, err)
		conns = append(conns, conn)
	}

	seen := map[string]bool{}
	mgr.Range(func(port string, _ *Connection) bool {
		seen[port] = true
		return true
	})
	assert.Len(t, seen, len(ports))

	require.NoError(t, mgr.CloseAll())
	assert.Zero(t, mgr.Len())
	for _, conn := range conns {
		assert.Equal(t, Disconnected, conn.State())
	}
	for _, port := range ports {
		assert.True(t, rack.meters[port].isClosed(), port)
	}

	_, err := mgr.Connect("/dev/ttyUSB0", WithTransportOpener(rack.opener()))
	require.ErrorIs(t, err, ErrManagerClosed)
}
