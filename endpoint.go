package quic

import (
	"context"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/quicweave/quic/transport"
)

// DecodedPacket is what a Codec hands back after removing header
// protection and AEAD and parsing the frame stream: exactly the inputs
// transport.Connection.OnPacketReceived needs, and nothing about the
// wire format itself (spec.md §1 keeps encode/decode and AEAD external).
type DecodedPacket struct {
	Space        transport.PacketSpace
	PacketNumber transport.PacketNumber
	DestCID      []byte
	SrcCID       []byte
	Frames       []transport.Frame
	Bytes        uint64
}

// Codec is the external collaborator that turns a raw datagram into a
// DecodedPacket and structured frames back into a datagram. A real
// implementation owns header parsing, AEAD and the TLS handshake; this
// package only ever calls through the interface.
type Codec interface {
	Decode(datagram []byte, now time.Time) (DecodedPacket, error)
	Encode(space transport.PacketSpace, pn transport.PacketNumber, localCID, peerCID []byte, frames []transport.Frame) ([]byte, error)
	NewConnectionID() ([]byte, error)
}

// Handler receives application-visible connection lifecycle events. The
// endpoint calls it from its single event-loop goroutine, the same
// thread-confinement guarantee transport.Connection itself relies on.
type Handler interface {
	OnConnectionOpen(conn *transport.Connection, streams *transport.StreamManager)
	OnConnectionClose(conn *transport.Connection, err error)
}

// Endpoint is the shared socket/registry/timer-wheel plumbing behind
// both Server and Client: one root package houses both roles rather
// than splitting into separate listener types.
type Endpoint struct {
	cfg      Config
	isServer bool
	codec    Codec
	handler  Handler
	registry *registry

	socket  net.PacketConn
	log     *zap.Logger
	metrics *metricsPublisher

	incoming chan datagram
	cancel   context.CancelFunc
}

type datagram struct {
	data []byte
	addr net.Addr
}

func newEndpoint(cfg Config, isServer bool, codec Codec, handler Handler) *Endpoint {
	reg := prometheus.NewRegistry()
	return &Endpoint{
		cfg:      cfg,
		isServer: isServer,
		codec:    codec,
		handler:  handler,
		registry: newRegistry(),
		log:      newZapLogger(cfg.Log),
		metrics:  newMetricsPublisher(reg),
		incoming: make(chan datagram, 256),
	}
}

// Listen opens the UDP socket and starts the reader and reactor
// goroutines. Close stops both.
func (e *Endpoint) Listen(addr string) error {
	socket, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	e.socket = socket
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.readLoop(ctx)
	go e.run(ctx)
	return nil
}

func (e *Endpoint) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.socket != nil {
		return e.socket.Close()
	}
	return nil
}

// newConnectionEntry constructs one transport.Connection with its own
// fanout publisher (zap + Prometheus) and files it in the registry under
// localCID.
func (e *Endpoint) newConnectionEntry(localCID, peerCID []byte) *connEntry {
	zp := newZapPublisher(e.log, newConnID())
	cfg := transport.ConnectionConfig{
		IsServer:                   e.isServer,
		Rng:                        transport.CryptoRandom{},
		Publisher:                  newFanoutPublisher(zp, e.metrics),
		IdleTimeout:                e.cfg.IdleTimeout,
		MaxAckDelay:                e.cfg.MaxAckDelay,
		MTU:                        e.cfg.MTU,
		LocalCID:                   localCID,
		PeerCID:                    peerCID,
		PeerMaxStreamsBidi:         e.cfg.MaxStreamsBidi,
		PeerMaxStreamsUni:          e.cfg.MaxStreamsUni,
		LocalMaxStreamsBidi:        e.cfg.MaxStreamsBidi,
		LocalMaxStreamsUni:         e.cfg.MaxStreamsUni,
		LocalConcurrentStreamsBidi: e.cfg.MaxStreamsBidi,
		LocalConcurrentStreamsUni:  e.cfg.MaxStreamsUni,
		PeerInitialMaxStreamData:   e.cfg.StreamRecvWindow,
		StreamRecvWindow:           e.cfg.StreamRecvWindow,
		ConnRecvWindow:             e.cfg.ConnRecvWindow,
		ConnInitialMaxData:         e.cfg.ConnInitialMaxData,
	}
	conn := transport.NewConnection(cfg)
	return e.registry.add(localCID, conn, zp)
}

// readLoop is the only goroutine that touches e.socket.ReadFrom; every
// datagram it reads is handed to the single processing goroutine through
// e.incoming, preserving the one-thread-per-connection invariant.
func (e *Endpoint) readLoop(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := e.socket.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case e.incoming <- datagram{data: cp, addr: addr}:
		case <-ctx.Done():
			return
		}
	}
}

// run is the single-threaded reactor: it alternates between draining
// e.incoming and sweeping every registered connection's timers,
// matching transport.Connection's "no goroutines, no I/O" contract by
// keeping all of that outside the core entirely.
func (e *Endpoint) run(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case dg := <-e.incoming:
			e.handleDatagram(dg)
		case now := <-ticker.C:
			e.sweepTimers(now)
		}
	}
}

func (e *Endpoint) handleDatagram(dg datagram) {
	now := time.Now()
	decoded, err := e.codec.Decode(dg.data, now)
	if err != nil {
		return
	}
	entry, ok := e.registry.byLocalCID(decoded.DestCID)
	if !ok {
		entry = e.accept(decoded)
		if entry == nil {
			return
		}
	}
	if err := entry.conn.OnPacketReceived(decoded.Space, pathKeyFor(dg.addr), decoded.PacketNumber, decoded.Bytes, decoded.Frames, now); err != nil {
		e.closeConn(entry, err)
		return
	}
	e.flush(entry, dg.addr, now)
}

// accept creates a server-side connection for a DestCID the registry has
// not seen before; a real deployment would first validate the Initial
// packet's token before doing so (retry-token cryptography is a
// spec.md §1 Non-goal, left to Codec).
func (e *Endpoint) accept(decoded DecodedPacket) *connEntry {
	if !e.isServer {
		return nil
	}
	localCID, err := e.codec.NewConnectionID()
	if err != nil {
		return nil
	}
	entry := e.newConnectionEntry(localCID, decoded.SrcCID)
	if e.handler != nil {
		e.handler.OnConnectionOpen(entry.conn, entry.conn.StreamManager())
	}
	return entry
}

func (e *Endpoint) flush(entry *connEntry, addr net.Addr, now time.Time) {
	path := entry.conn.ActivePath()
	if path == nil {
		return
	}
	for space := transport.PacketSpace(0); space < 3; space++ {
		frames := entry.conn.OnTransmit(space, now)
		if len(frames) == 0 {
			continue
		}
		out, err := e.codec.Encode(space, 0, nil, nil, frames)
		if err != nil {
			continue
		}
		e.socket.WriteTo(out, addr)
	}
}

func (e *Endpoint) sweepTimers(now time.Time) {
	for _, entry := range e.registry.all() {
		if deadline, ok := entry.conn.NextExpiration(); ok && !deadline.After(now) {
			entry.conn.OnTimeout(now)
		}
		if entry.conn.State() == transport.StateFinished {
			e.closeConn(entry, nil)
		}
	}
}

func (e *Endpoint) closeConn(entry *connEntry, err error) {
	e.registry.remove(entry.localCID)
	if e.handler != nil {
		e.handler.OnConnectionClose(entry.conn, err)
	}
}

// pathKeyFor turns a net.Addr into the opaque PathKey token
// transport.PathManager uses for 4-tuple identity.
func pathKeyFor(addr net.Addr) transport.PathKey {
	return transport.PathKey(addr.String())
}
