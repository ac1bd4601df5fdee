package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionStateMachineConfirmTransitionsOnlyFromHandshaking(t *testing.T) {
	sm := newConnectionStateMachine(NopPublisher{})
	assert.Equal(t, StateHandshaking, sm.State())

	sm.Confirm()
	assert.Equal(t, StateActive, sm.State())

	sm.Confirm() // no-op, already Active
	assert.Equal(t, StateActive, sm.State())
}

func TestConnectionStateMachineIdleTimeoutGoesStraightToFinished(t *testing.T) {
	sm := newConnectionStateMachine(NopPublisher{})
	sm.Confirm()
	sm.Close(ReasonIdleTimerExpired, CloseError{}, time.Now(), 10*time.Millisecond)
	assert.Equal(t, StateFinished, sm.State())
}

func TestConnectionStateMachineLocalCloseGoesToClosingThenFinished(t *testing.T) {
	sm := newConnectionStateMachine(NopPublisher{})
	sm.Confirm()
	now := time.Now()
	pto := 10 * time.Millisecond
	sm.Close(ReasonLocalImmediateClose, CloseError{}, now, pto)
	assert.Equal(t, StateClosing, sm.State())
	assert.True(t, sm.ShouldSendCloseFrame())

	sm.OnTimeout(now)
	assert.Equal(t, StateClosing, sm.State(), "timer not yet due")

	sm.OnTimeout(now.Add(3 * pto))
	assert.Equal(t, StateFinished, sm.State())
}

func TestConnectionStateMachinePeerCloseGoesToDrainingNotClosing(t *testing.T) {
	sm := newConnectionStateMachine(NopPublisher{})
	sm.Confirm()
	now := time.Now()
	sm.Close(ReasonPeerImmediateClose, CloseError{}, now, 10*time.Millisecond)
	assert.Equal(t, StateDraining, sm.State())
	assert.False(t, sm.ShouldSendCloseFrame(), "draining connections never send")
}

func TestConnectionStateMachineCloseIsOneWay(t *testing.T) {
	sm := newConnectionStateMachine(NopPublisher{})
	now := time.Now()
	sm.Close(ReasonLocalImmediateClose, CloseError{}, now, 10*time.Millisecond)
	assert.Equal(t, StateClosing, sm.State())

	sm.Close(ReasonPeerImmediateClose, CloseError{}, now, 10*time.Millisecond)
	assert.Equal(t, StateClosing, sm.State(), "already closing, a later close reason must not move it to draining")
}
