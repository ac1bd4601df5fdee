package quic

import (
	"net"
	"time"

	"github.com/quicweave/quic/transport"
)

// Client dials outbound connections. Each Connect call mints a local
// connection-id via Codec and drives the handshake the same event loop
// Server uses, so a process can hold both roles on one Endpoint if it
// chooses to (this implementation keeps them separate for clarity).
type Client struct {
	*Endpoint
}

func NewClient(cfg Config, codec Codec, handler Handler) *Client {
	return &Client{Endpoint: newEndpoint(cfg, false, codec, handler)}
}

// Connect opens a connection to addr, returning the transport.Connection
// once it has been registered locally. The handshake itself completes
// asynchronously on the endpoint's event loop; callers that need to wait
// for it can poll conn.State(), which becomes StateActive once
// HANDSHAKE_DONE is processed. Handler.OnConnectionOpen is not called for
// client connections.
func (c *Client) Connect(addr string) (*transport.Connection, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	localCID, err := c.codec.NewConnectionID()
	if err != nil {
		return nil, err
	}
	entry := c.newConnectionEntry(localCID, nil)
	c.flush(entry, raddr, time.Now())
	return entry.conn, nil
}
