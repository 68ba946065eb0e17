package tcpip

import "sync/atomic"

// ConnState is the state of a Communicator's connection.
type ConnState uint32

const (
	// OpenedState allows reads and writes.
	OpenedState ConnState = iota
	// SuspectState follows a write interrupted part way. Only Reconnect and Close are allowed.
	SuspectState
	// ReconnectingState is held while Reconnect dials a new connection.
	ReconnectingState
	// ClosedState is final.
	ClosedState
)

func (s ConnState) String() string {
	switch s {
	case OpenedState:
		return "Opened"
	case SuspectState:
		return "Suspect"
	case ReconnectingState:
		return "Reconnecting"
	case ClosedState:
		return "Closed"
	default:
		return "Unknown"
	}
}

type atomicConnState struct {
	state atomic.Uint32
}

func (st *atomicConnState) Get() ConnState {
	return ConnState(st.state.Load())
}

func (st *atomicConnState) IsOpened() bool {
	return st.Get() == OpenedState
}

func (st *atomicConnState) IsClosed() bool {
	return st.Get() == ClosedState
}

func (st *atomicConnState) ToSuspect() bool {
	return st.state.CompareAndSwap(uint32(OpenedState), uint32(SuspectState))
}

// ToReconnecting succeeds from Opened or Suspect.
func (st *atomicConnState) ToReconnecting() bool {
	if st.state.CompareAndSwap(uint32(OpenedState), uint32(ReconnectingState)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(SuspectState), uint32(ReconnectingState))
}

// FinishReconnect leaves Reconnecting for Opened on success, or Suspect on failure.
// It returns false if the connection was closed meanwhile.
func (st *atomicConnState) FinishReconnect(ok bool) bool {
	next := SuspectState
	if ok {
		next = OpenedState
	}

	return st.state.CompareAndSwap(uint32(ReconnectingState), uint32(next))
}

// ToClosed succeeds once, from any other state.
func (st *atomicConnState) ToClosed() bool {
	for {
		cur := st.state.Load()
		if ConnState(cur) == ClosedState {
			return false
		}
		if st.state.CompareAndSwap(cur, uint32(ClosedState)) {
			return true
		}
	}
}
