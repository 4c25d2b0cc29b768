package dmm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-dmm/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Manager keeps the open sessions of a process, at most one per port.
type Manager struct {
	ctx    context.Context
	logger logger.Logger
	conns  *xsync.MapOf[string, *Connection]
	closed atomic.Bool
}

// NewManager creates a Manager whose sessions stop when ctx is cancelled.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Manager{
		ctx:    ctx,
		logger: l,
		conns:  xsync.NewMapOf[string, *Connection](),
	}
}

// Connect opens a session on port. It fails with ErrAlreadyConnected when
// the port already has a session and with *ConnectError when the device
// cannot be opened.
func (m *Manager) Connect(port string, opts ...ConnOption) (*Connection, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	cfg, err := NewConnectionConfig(port, append([]ConnOption{WithLogger(m.logger)}, opts...)...)
	if err != nil {
		return nil, err
	}

	conn, err := NewConnection(m.ctx, cfg)
	if err != nil {
		return nil, err
	}

	if _, loaded := m.conns.LoadOrStore(cfg.Port(), conn); loaded {
		return nil, ErrAlreadyConnected
	}

	if err := conn.Open(); err != nil {
		m.conns.Delete(cfg.Port())
		return nil, err
	}

	return conn, nil
}

// Get returns the session on port.
func (m *Manager) Get(port string) (*Connection, bool) {
	return m.conns.Load(port)
}

// Disconnect runs the disconnect handshake of the session on port and
// forgets it.
func (m *Manager) Disconnect(port string) error {
	conn, ok := m.conns.LoadAndDelete(port)
	if !ok {
		return ErrNotConnected
	}

	return conn.Close()
}

// Range calls fn for every session until fn returns false.
func (m *Manager) Range(fn func(port string, conn *Connection) bool) {
	m.conns.Range(fn)
}

// Len returns the number of sessions.
func (m *Manager) Len() int {
	return m.conns.Size()
}

// CloseAll disconnects every session concurrently and rejects further
// Connect calls.
func (m *Manager) CloseAll() error {
	m.closed.Store(true)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	m.conns.Range(func(port string, conn *Connection) bool {
		m.conns.Delete(port)

		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := conn.Close(); err != nil {
				m.logger.Error("dmm: failed to close session", "port", port, "error", err)

				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()

		return true
	})

	wg.Wait()

	return errors.Join(errs...)
}
