package quic

import (
	"fmt"
	"time"

	"github.com/quicweave/quic/transport"
)

// nullCodec satisfies Codec without touching the wire: header protection,
// AEAD and the TLS handshake are external collaborators by design
// (spec.md §1), so quince's built-in commands run with a codec that mints
// connection ids but refuses to decode or encode real packets. Anyone
// wiring this core to an actual network stack supplies their own Codec.
type nullCodec struct {
	rng transport.CryptoRandom
}

func newNullCodec() *nullCodec {
	return &nullCodec{}
}

// NewNullCodec exposes nullCodec to callers outside this package that
// need a Codec to construct a Server or Client but have not yet wired in
// a real wire-format/AEAD/TLS implementation.
func NewNullCodec() Codec {
	return newNullCodec()
}

func (c *nullCodec) Decode(datagram []byte, now time.Time) (DecodedPacket, error) {
	return DecodedPacket{}, fmt.Errorf("quic: nullCodec cannot decode packets; supply a Codec backed by a real QUIC wire format and TLS stack")
}

func (c *nullCodec) Encode(space transport.PacketSpace, pn transport.PacketNumber, localCID, peerCID []byte, frames []transport.Frame) ([]byte, error) {
	return nil, fmt.Errorf("quic: nullCodec cannot encode packets; supply a Codec backed by a real QUIC wire format and TLS stack")
}

func (c *nullCodec) NewConnectionID() ([]byte, error) {
	id := make([]byte, 8)
	if err := c.rng.Read(id); err != nil {
		return nil, err
	}
	return id, nil
}

var _ Codec = (*nullCodec)(nil)
