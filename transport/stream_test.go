package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamIDBitInterpretation(t *testing.T) {
	id := makeStreamID(3, true, true)
	assert.True(t, id.IsServerInitiated())
	assert.True(t, id.IsUni())
	assert.Equal(t, uint64(3), id.Ordinal())

	client := makeStreamID(1, false, false)
	assert.True(t, client.IsClientInitiated())
	assert.True(t, client.IsBidi())
}

func TestMemRecvBufferFoldsOutOfOrderChunks(t *testing.T) {
	b := newMemRecvBuffer()
	require.NoError(t, b.Push(5, []byte("world"), false))
	assert.Equal(t, uint64(0), b.Readable(), "a gap before offset 5 is not yet readable")

	require.NoError(t, b.Push(0, []byte("hello"), false))
	assert.Equal(t, uint64(10), b.Readable())

	dst := make([]byte, 10)
	n, fin := b.PopInto(dst)
	assert.Equal(t, 10, n)
	assert.False(t, fin)
	assert.Equal(t, "helloworld", string(dst[:n]))
}

func TestMemRecvBufferRejectsInconsistentFinalSize(t *testing.T) {
	b := newMemRecvBuffer()
	require.NoError(t, b.Push(0, []byte("abc"), true))
	err := b.Push(0, []byte("abcd"), true)
	require.Error(t, err)
}

func TestMemRecvBufferRejectsDataBeyondFinalSize(t *testing.T) {
	b := newMemRecvBuffer()
	require.NoError(t, b.Push(0, []byte("abc"), true))
	err := b.Push(10, []byte("x"), false)
	require.Error(t, err)
}

func TestMemSendBufferTakeForFrameRespectsMaxBytes(t *testing.T) {
	b := &memSendBuffer{}
	require.NoError(t, b.Enqueue([]byte("hello world")))
	offset, data, fin := b.TakeForFrame(5)
	assert.Equal(t, uint64(0), offset)
	assert.Equal(t, "hello", string(data))
	assert.False(t, fin)
	assert.True(t, b.Pending())

	offset, data, fin = b.TakeForFrame(100)
	assert.Equal(t, uint64(5), offset)
	assert.Equal(t, " world", string(data))
	assert.False(t, fin)
	assert.False(t, b.Pending())
}

func TestMemSendBufferFinishMarksFinOnLastFrame(t *testing.T) {
	b := &memSendBuffer{}
	require.NoError(t, b.Enqueue([]byte("hi")))
	b.Finish()
	assert.True(t, b.Pending())

	_, _, fin := b.TakeForFrame(100)
	assert.True(t, fin)
	assert.False(t, b.Pending())
}

func TestStreamOnDataRejectsOverStreamFlowLimit(t *testing.T) {
	s := newStream(makeStreamID(1, false, false), false, true, 0, 10)
	err := s.OnData(5, make([]byte, 10), false)
	require.Error(t, err)
}

func TestStreamWriteAndTakeFrameConsumesPerStreamCredit(t *testing.T) {
	s := newStream(makeStreamID(1, false, false), true, false, 5, 0)
	require.NoError(t, s.Write([]byte("hello world")))

	f, ok := s.TakeFrame(100, 100)
	require.True(t, ok)
	assert.Equal(t, "hello", string(f.Data), "send credit caps the frame at sendMaxData")
	assert.False(t, f.Fin)

	_, ok = s.TakeFrame(100, 100)
	assert.False(t, ok, "no more credit until a MAX_STREAM_DATA update arrives")

	s.OnMaxStreamData(100)
	f, ok = s.TakeFrame(100, 100)
	require.True(t, ok)
	assert.Equal(t, " world", string(f.Data))
}

func TestStreamTakeFrameDrainsRetransmitQueueFirst(t *testing.T) {
	s := newStream(makeStreamID(1, false, false), true, false, 100, 0)
	require.NoError(t, s.Write([]byte("fresh")))
	s.Requeue(StreamFrame{StreamID: uint64(s.id), Offset: 0, Data: []byte("old")})

	f, ok := s.TakeFrame(100, 100)
	require.True(t, ok)
	assert.Equal(t, "old", string(f.Data), "retransmissions take priority over fresh bytes")

	f, ok = s.TakeFrame(100, 100)
	require.True(t, ok)
	assert.Equal(t, "fresh", string(f.Data))
}

func TestStreamMaybeAdvertiseMaxStreamDataRespectsFraction(t *testing.T) {
	s := newStream(makeStreamID(1, false, false), false, true, 0, 100)
	require.NoError(t, s.OnData(0, make([]byte, 9), false))
	_, ok := s.MaybeAdvertiseMaxStreamData()
	assert.False(t, ok, "9 of 100 bytes consumed should not yet cross the advertise fraction")

	require.NoError(t, s.OnData(9, make([]byte, 50), false))
	frame, ok := s.MaybeAdvertiseMaxStreamData()
	require.True(t, ok)
	assert.Equal(t, uint64(59+100), frame.MaximumData)
}

func TestStreamDoneRequiresBothHalvesTerminal(t *testing.T) {
	s := newStream(makeStreamID(1, false, false), true, true, 100, 100)
	assert.False(t, s.Done())

	require.NoError(t, s.Finish())
	_, _ = s.TakeFrame(100, 100)
	assert.False(t, s.Done(), "receive half is still open")

	require.NoError(t, s.OnResetStream(0, 0))
	assert.True(t, s.Done())
}

func TestStreamOnInternalResetClearsRetentionAndInterest(t *testing.T) {
	s := newStream(makeStreamID(1, false, false), true, false, 100, 0)
	require.NoError(t, s.Write([]byte("x")))
	s.OnInternalReset()
	assert.False(t, s.Retained())
	assert.False(t, s.interest.transmission)
}
