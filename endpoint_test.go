package quic

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicweave/quic/transport"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return string(a) }

type fakeCodec struct {
	decodeErr error
	decoded   DecodedPacket
	nextCID   []byte
}

func (f *fakeCodec) Decode([]byte, time.Time) (DecodedPacket, error) {
	return f.decoded, f.decodeErr
}

func (f *fakeCodec) Encode(transport.PacketSpace, transport.PacketNumber, []byte, []byte, []transport.Frame) ([]byte, error) {
	return []byte("encoded"), nil
}

func (f *fakeCodec) NewConnectionID() ([]byte, error) { return f.nextCID, nil }

type fakeHandler struct {
	opened int
	closed int
}

func (h *fakeHandler) OnConnectionOpen(*transport.Connection, *transport.StreamManager) { h.opened++ }
func (h *fakeHandler) OnConnectionClose(*transport.Connection, error)                   { h.closed++ }

func newTestEndpoint(isServer bool, codec Codec, handler Handler) *Endpoint {
	return newEndpoint(DefaultConfig(), isServer, codec, handler)
}

func TestPathKeyForUsesAddrString(t *testing.T) {
	assert.Equal(t, transport.PathKey("1.2.3.4:5"), pathKeyFor(fakeAddr("1.2.3.4:5")))
}

func TestEndpointAcceptCreatesServerConnectionAndNotifiesHandler(t *testing.T) {
	codec := &fakeCodec{nextCID: []byte{9, 9}}
	handler := &fakeHandler{}
	e := newTestEndpoint(true, codec, handler)

	entry := e.accept(DecodedPacket{SrcCID: []byte{1}})
	require.NotNil(t, entry)
	assert.Equal(t, 1, handler.opened)
	found, ok := e.registry.byLocalCID([]byte{9, 9})
	assert.True(t, ok)
	assert.Same(t, entry, found)
}

func TestEndpointAcceptRefusesOnClientSide(t *testing.T) {
	e := newTestEndpoint(false, &fakeCodec{}, nil)
	assert.Nil(t, e.accept(DecodedPacket{}))
}

func TestEndpointHandleDatagramDropsOnDecodeError(t *testing.T) {
	codec := &fakeCodec{decodeErr: assert.AnError}
	e := newTestEndpoint(true, codec, nil)

	e.handleDatagram(datagram{data: []byte("garbage"), addr: fakeAddr("1.1.1.1:1")})
	assert.Equal(t, 0, e.registry.len())
}

func TestEndpointHandleDatagramRoutesToExistingConnection(t *testing.T) {
	codec := &fakeCodec{nextCID: []byte{5}}
	handler := &fakeHandler{}
	e := newTestEndpoint(true, codec, handler)

	codec.decoded = DecodedPacket{SrcCID: []byte{1}, Space: transport.SpaceApplicationData, Frames: []transport.Frame{&transport.PingFrame{}}}
	e.handleDatagram(datagram{data: []byte("a"), addr: fakeAddr("client:1")})
	require.Equal(t, 1, handler.opened)

	codec.decoded.DestCID = []byte{5}
	e.handleDatagram(datagram{data: []byte("b"), addr: fakeAddr("client:1")})
	assert.Equal(t, 1, handler.opened, "a second datagram for an already-registered CID must not open a new connection")
}

func TestEndpointSweepTimersClosesFinishedConnections(t *testing.T) {
	codec := &fakeCodec{nextCID: []byte{1}}
	handler := &fakeHandler{}
	e := newTestEndpoint(true, codec, handler)
	entry := e.accept(DecodedPacket{SrcCID: []byte{2}})
	require.NotNil(t, entry)

	now := time.Now()
	entry.conn.Close(&transport.ApplicationError{Code: 0, Reason: "test"}, now)
	later := now.Add(time.Hour)
	entry.conn.OnTimeout(later)
	e.sweepTimers(later)

	assert.Equal(t, 1, handler.closed)
	assert.Equal(t, 0, e.registry.len())
}

func TestEndpointCloseWithoutListenIsANoop(t *testing.T) {
	e := newTestEndpoint(true, &fakeCodec{}, nil)
	require.NoError(t, e.Close())
}

var _ net.Addr = fakeAddr("")
