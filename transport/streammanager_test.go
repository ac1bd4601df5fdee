package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStreamManager(isServer bool) *StreamManager {
	return newStreamManager(isServer, 10, 10, 10, 10, 10, 10, 64*1024, 64*1024, 1<<20, 1<<20)
}

func TestStreamManagerOpenLocalAndWrite(t *testing.T) {
	sm := newTestStreamManager(false)
	now := time.Now()
	id, err := sm.OpenLocal(true, now, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, id.IsClientInitiated())
	assert.True(t, id.IsBidi())

	require.NoError(t, sm.Write(id, []byte("hello")))
	assert.Contains(t, sm.waitingTransmission, id)
}

func TestStreamManagerResolveOpensRemoteInitiatedOnDemandAndQueuesAccept(t *testing.T) {
	sm := newTestStreamManager(true) // server
	clientBidi := makeStreamID(1, false, false)

	err := sm.OnStreamFrame(&StreamFrame{StreamID: uint64(clientBidi), Offset: 0, Data: []byte("hi"), Fin: false})
	require.NoError(t, err)

	id, ok, err := sm.PollAccept(true, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, clientBidi, id)
}

func TestStreamManagerPollAcceptRegistersWakerWhenEmpty(t *testing.T) {
	sm := newTestStreamManager(true)
	woken := false
	_, ok, err := sm.PollAccept(true, func() { woken = true })
	require.NoError(t, err)
	assert.False(t, ok)

	clientBidi := makeStreamID(1, false, false)
	require.NoError(t, sm.OnStreamFrame(&StreamFrame{StreamID: uint64(clientBidi), Data: []byte("x")}))
	assert.True(t, woken, "a stream arriving after PollAccept must fire the registered waker")
}

func TestStreamManagerOnRemoteOpenPastLimitIsRejected(t *testing.T) {
	sm := newStreamManager(true, 0, 0, 0, 0, 1, 0, 1024, 1024, 1<<20, 1<<20)
	first := makeStreamID(1, false, false)
	second := makeStreamID(2, false, false)

	require.NoError(t, sm.OnStreamFrame(&StreamFrame{StreamID: uint64(first), Data: []byte("a")}))
	err := sm.OnStreamFrame(&StreamFrame{StreamID: uint64(second), Data: []byte("b")})
	require.Error(t, err)
	assert.True(t, sm.closed, "a protocol violation aborts the whole stream manager")
}

func TestStreamManagerCloseWakesEverythingAndMarksTerminal(t *testing.T) {
	sm := newTestStreamManager(false)
	woken := false
	_, _, _ = sm.PollAccept(true, func() { woken = true })

	sm.Close(ErrUnspecified)
	assert.True(t, woken)
	assert.Equal(t, FinalizationFinal, sm.FinalizationStatus())

	_, err := sm.OpenLocal(true, time.Now(), time.Millisecond)
	require.Error(t, err)
}

func TestStreamManagerOnFrameLostRequeuesStreamFrame(t *testing.T) {
	sm := newTestStreamManager(false)
	id, err := sm.OpenLocal(true, time.Now(), time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, sm.Write(id, []byte("payload")))

	lost := &StreamFrame{StreamID: uint64(id), Offset: 0, Data: []byte("payload")}
	sm.OnFrameLost(lost)
	assert.Contains(t, sm.waitingRetransmission, id, "a lost STREAM frame must be queued for retransmission")
}
