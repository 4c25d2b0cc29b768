package dmm

import "sync/atomic"

// SessionState is the lifecycle state of a meter session.
type SessionState uint32

const (
	Disconnected SessionState = iota
	Connecting
	Connected
	// Disconnecting covers the shutdown handshake until the transport is
	// released.
	Disconnecting
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// atomicSessionState guards the lifecycle transitions with CAS so concurrent
// Open and Close calls cannot both win.
type atomicSessionState struct {
	state atomic.Uint32
}

func (st *atomicSessionState) String() string { return st.Get().String() }

// Get returns the current state.
func (st *atomicSessionState) Get() SessionState {
	return SessionState(st.state.Load())
}

// Set stores state unconditionally.
func (st *atomicSessionState) Set(state SessionState) {
	st.state.Store(uint32(state))
}

func (st *atomicSessionState) cas(from, to SessionState) bool {
	return st.state.CompareAndSwap(uint32(from), uint32(to))
}

// ToConnecting moves Disconnected to Connecting.
func (st *atomicSessionState) ToConnecting() bool {
	return st.cas(Disconnected, Connecting)
}

// ToConnected moves Connecting to Connected.
func (st *atomicSessionState) ToConnected() bool {
	return st.cas(Connecting, Connected)
}

// ToDisconnecting moves Connected to Disconnecting.
func (st *atomicSessionState) ToDisconnecting() bool {
	return st.cas(Connected, Disconnecting)
}

// ToDisconnected returns to Disconnected from any state.
func (st *atomicSessionState) ToDisconnected() bool {
	if st.Get() == Disconnected {
		return false
	}
	st.Set(Disconnected)

	return true
}
