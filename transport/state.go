package transport

import "time"

// ConnectionState is component J: the top-level lifecycle spec.md §3
// defines. Transitions are one-way except Handshaking→Active.
type ConnectionState uint8

const (
	StateHandshaking ConnectionState = iota
	StateActive
	StateClosing
	StateDraining
	StateFinished
)

func (s ConnectionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateDraining:
		return "draining"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// CloseReason classifies why close() was invoked, per spec.md §4.J and
// §7's error taxonomy.
type CloseReason uint8

const (
	ReasonIdleTimerExpired CloseReason = iota
	ReasonLocalImmediateClose
	ReasonLocalObservedTransportError
	ReasonPeerImmediateClose
	ReasonStatelessReset

	// ReasonNoValidPath is spec.md §4.D on_timeout's fallback-exhausted
	// case: the active path's challenge abandoned and no
	// last_known_active_validated_path was on record. The caller treats
	// this as a silent close, same as an expired idle timer.
	ReasonNoValidPath
)

// CloseError carries whatever error description accompanies a close,
// for CONNECTION_CLOSE framing or for surfacing to the application.
type CloseError struct {
	Transport   *TransportError
	Application *ApplicationError
}

// ConnectionStateMachine drives the one-way (except Handshaking→Active)
// transitions spec.md §4.J describes, arming the close timer and
// reporting when the connection is ready to be torn down.
type ConnectionStateMachine struct {
	state ConnectionState
	prev  ConnectionState

	reason    CloseReason
	closeErr  CloseError
	closeTimer timer

	publisher EventPublisher
}

func newConnectionStateMachine(pub EventPublisher) *ConnectionStateMachine {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &ConnectionStateMachine{state: StateHandshaking, publisher: pub}
}

func (sm *ConnectionStateMachine) State() ConnectionState { return sm.state }

// Confirm transitions Handshaking→Active, the only two-way-compatible
// edge named in spec.md §3 ("Transitions are one-way except
// Handshaking→Active").
func (sm *ConnectionStateMachine) Confirm() {
	if sm.state == StateHandshaking {
		sm.transition(StateActive)
	}
}

// Close drives the one-way transitions out of Handshaking/Active,
// arming a close timer of ~3·PTO where applicable (spec.md §4.J).
func (sm *ConnectionStateMachine) Close(reason CloseReason, closeErr CloseError, now time.Time, pto time.Duration) {
	if sm.state == StateClosing || sm.state == StateDraining || sm.state == StateFinished {
		return
	}
	sm.reason = reason
	sm.closeErr = closeErr

	switch reason {
	case ReasonIdleTimerExpired, ReasonNoValidPath:
		sm.transition(StateFinished)
		return
	case ReasonLocalImmediateClose, ReasonLocalObservedTransportError:
		sm.transition(StateClosing)
	case ReasonPeerImmediateClose, ReasonStatelessReset:
		sm.transition(StateDraining)
	}
	sm.closeTimer.set(now.Add(3 * pto))
}

// OnTimeout fires the Closing/Draining → Finished transition once the
// close timer expires.
func (sm *ConnectionStateMachine) OnTimeout(now time.Time) {
	if sm.closeTimer.expired(now) {
		sm.transition(StateFinished)
		sm.closeTimer.cancel()
	}
}

// ShouldSendCloseFrame reports whether the connection is in Closing (as
// opposed to Draining, where sends are prohibited entirely).
func (sm *ConnectionStateMachine) ShouldSendCloseFrame() bool {
	return sm.state == StateClosing
}

func (sm *ConnectionStateMachine) CloseError() (CloseReason, CloseError) {
	return sm.reason, sm.closeErr
}

func (sm *ConnectionStateMachine) NextExpiration() (time.Time, bool) {
	return sm.closeTimer.nextExpiration()
}

func (sm *ConnectionStateMachine) transition(to ConnectionState) {
	if to == sm.state {
		return
	}
	sm.prev = sm.state
	sm.state = to
	sm.publisher.OnConnectionStateChange(ConnectionStateChangeEvent{From: sm.prev, To: to})
}
