package transport

import "time"

// defaultIdleTimeout is the hard-coded 30s fallback spec.md §9 flags as
// an open question ("idle timeout is hard-coded to 30s in one code
// path; transport-parameter derivation is deferred") — this
// implementation keeps that behavior rather than guessing at a
// negotiated value.
const defaultIdleTimeout = 30 * time.Second

// maxPTOBackoffShift bounds the exponential PTO backoff shared across a
// connection's packet number spaces.
const maxPTOBackoffShift = 6 // backoff saturates at 64x

// defaultStreamBatchBytes is the per-packet byte budget OnTransmit uses
// when pulling STREAM frames; an external packetizer is free to call
// OnTransmit repeatedly with a smaller remaining-capacity value instead.
const defaultStreamBatchBytes = 1200

// ConnectionConfig seeds a new Connection. Handshake-crypto, AEAD keys
// and the transport-parameter exchange itself are external collaborators
// (spec.md §1); this only carries the values the core's own state needs.
type ConnectionConfig struct {
	IsServer    bool
	Rng         Random
	Publisher   EventPublisher
	IdleTimeout time.Duration
	MaxAckDelay time.Duration
	MTU         uint64

	LocalCID []byte
	PeerCID  []byte
	CC       CongestionController

	PeerMaxStreamsBidi  uint64
	PeerMaxStreamsUni   uint64
	LocalMaxStreamsBidi uint64
	LocalMaxStreamsUni  uint64

	// LocalConcurrentStreamsBidi/Uni cap how many local-initiated streams
	// this endpoint will have open at once, independent of whatever limit
	// the peer advertises via MAX_STREAMS (spec.md §4.G
	// local_concurrent_cap). Zero means uncapped.
	LocalConcurrentStreamsBidi uint64
	LocalConcurrentStreamsUni  uint64

	PeerInitialMaxStreamData uint64
	StreamRecvWindow         uint64
	ConnRecvWindow           uint64
	ConnInitialMaxData       uint64
}

// Connection is the wiring spec.md §2's control-flow paragraph
// describes: one path manager, one loss recovery manager per packet
// number space, one stream manager, one state machine. It is a pure
// state machine — no goroutines, no I/O — driven entirely by the three
// entry points below plus the application-facing stream calls on
// StreamManager.
type Connection struct {
	cfg ConnectionConfig

	paths    *PathManager
	recovery [spaceCount]*LossRecoveryManager
	streams  *StreamManager
	state    *ConnectionStateMachine

	idleTimer          timer
	handshakeConfirmed bool
	backoffDoubledThisSweep bool
}

func NewConnection(cfg ConnectionConfig) *Connection {
	if cfg.Publisher == nil {
		cfg.Publisher = NopPublisher{}
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.CC == nil {
		cfg.CC = newNopCongestionController()
	}

	c := &Connection{
		cfg:   cfg,
		paths: newPathManager(cfg.IsServer, cfg.MaxAckDelay, cfg.MTU),
		streams: newStreamManager(cfg.IsServer,
			cfg.PeerMaxStreamsBidi, cfg.PeerMaxStreamsUni,
			cfg.LocalConcurrentStreamsBidi, cfg.LocalConcurrentStreamsUni,
			cfg.LocalMaxStreamsBidi, cfg.LocalMaxStreamsUni,
			cfg.PeerInitialMaxStreamData, cfg.StreamRecvWindow,
			cfg.ConnRecvWindow, cfg.ConnInitialMaxData),
		state: newConnectionStateMachine(cfg.Publisher),
	}
	for sp := PacketSpace(0); sp < spaceCount; sp++ {
		c.recovery[sp] = newLossRecoveryManager(sp)
	}
	c.paths.AddPath(PathKey("local"), cfg.LocalCID, cfg.PeerCID, cfg.CC)
	return c
}

func (c *Connection) State() ConnectionState { return c.state.State() }

func (c *Connection) StreamManager() *StreamManager { return c.streams }

func (c *Connection) ActivePath() *Path { return c.paths.ActivePath() }

// isNonProbing reports whether any frame in the packet is something
// other than the probing-only kinds RFC 9000 section 9.3 names.
func isNonProbing(frames []Frame) bool {
	for _, f := range frames {
		switch f.(type) {
		case *PathChallengeFrame, *PathResponseFrame, *PaddingFrame, *NewConnectionIDFrame:
			continue
		default:
			return true
		}
	}
	return false
}

func isAckEliciting(frames []Frame) bool {
	for _, f := range frames {
		switch f.(type) {
		case *AckFrame, *PaddingFrame, *ConnectionCloseFrame:
			continue
		default:
			return true
		}
	}
	return false
}

// OnPacketReceived processes one already-decrypted packet: frame
// wire-decode, header parsing and AEAD are external collaborators
// (spec.md §1); this consumes the packet number, space, structured
// frames and byte count they yield.
func (c *Connection) OnPacketReceived(space PacketSpace, key PathKey, pn PacketNumber, bytes uint64, frames []Frame, now time.Time) error {
	if c.state.State() == StateFinished {
		return ErrUnspecified
	}
	if c.recovery[space].AlreadyReceived(pn) {
		c.cfg.Publisher.OnPacketDropped(PacketDroppedEvent{Space: space, Reason: DroppedDuplicate, Bytes: bytes})
		return nil
	}
	c.recovery[space].MarkReceived(pn)
	c.idleTimer.set(now.Add(c.cfg.IdleTimeout))

	path, err := c.paths.OnDatagramReceived(key, bytes, c.cfg.LocalCID, c.cfg.PeerCID, c.cfg.CC, c.handshakeConfirmed, now)
	if err != nil {
		return c.closeOnTransportError(err, now)
	}
	if path == nil {
		// Server, handshake not yet confirmed, unrecognized address: a
		// silent no-op per spec.md §4.D, no path created.
		return nil
	}
	c.cfg.Publisher.OnPacketReceived(PacketReceivedEvent{Space: space, PacketNumber: pn, Bytes: bytes, Time: now})

	if space != SpaceApplicationData {
		path.OnHandshakePacket()
	}

	for _, f := range frames {
		if err := c.dispatchFrame(space, path, f, now); err != nil {
			return err
		}
	}

	nonProbing := isNonProbing(frames)
	if err := c.paths.OnProcessedPacket(path.id, nonProbing, c.handshakeConfirmed, now); err != nil {
		return c.closeOnTransportError(err, now)
	}
	return nil
}

func (c *Connection) dispatchFrame(space PacketSpace, path *Path, f Frame, now time.Time) error {
	switch v := f.(type) {
	case *AckFrame:
		_, err := c.recovery[space].OnAckFrame(now, v, path, c.paths, c.handshakeConfirmed, c.cfg.Rng, c.cfg.Publisher)
		if err != nil {
			return c.closeOnTransportError(err, now)
		}
	case *StreamFrame:
		if err := c.streams.OnStreamFrame(v); err != nil {
			return c.closeOnTransportError(err, now)
		}
	case *ResetStreamFrame:
		if err := c.streams.OnResetStream(v); err != nil {
			return c.closeOnTransportError(err, now)
		}
	case *StopSendingFrame:
		if err := c.streams.OnStopSending(v); err != nil {
			return c.closeOnTransportError(err, now)
		}
	case *MaxStreamDataFrame:
		if err := c.streams.OnMaxStreamData(v); err != nil {
			return c.closeOnTransportError(err, now)
		}
	case *MaxDataFrame:
		c.streams.OnMaxData(v)
	case *MaxStreamsFrame:
		c.streams.OnMaxStreams(v)
	case *DataBlockedFrame:
		c.streams.OnDataBlocked(v)
	case *StreamDataBlockedFrame:
		if err := c.streams.OnStreamDataBlocked(v); err != nil {
			return c.closeOnTransportError(err, now)
		}
	case *StreamsBlockedFrame:
		// Informational: the peer is itself blocked. Nothing to do but
		// surface it to the publisher.
	case *PathChallengeFrame:
		path.OnPathChallenge(*v)
	case *PathResponseFrame:
		c.paths.OnPathResponse(path.id, *v)
	case *NewConnectionIDFrame, *RetireConnectionIDFrame:
		// Connection-ID rotation bookkeeping; left to the endpoint layer
		// that owns the CID pool (spec.md §1 scopes CID storage out of
		// the path/loss-recovery core).
	case *ConnectionCloseFrame:
		c.state.Close(ReasonPeerImmediateClose, CloseError{Transport: &TransportError{Code: TransportErrorCode(v.ErrorCode), Reason: v.ReasonPhrase}}, now, c.maxPTOPeriod())
	case *HandshakeDoneFrame:
		c.handshakeConfirmed = true
		c.state.Confirm()
	case *PingFrame, *PaddingFrame:
	}
	return nil
}

func (c *Connection) closeOnTransportError(err error, now time.Time) error {
	var closeErr CloseError
	if te, ok := err.(*TransportError); ok {
		closeErr.Transport = te
	}
	c.state.Close(ReasonLocalObservedTransportError, closeErr, now, c.maxPTOPeriod())
	c.streams.Close(err)
	return err
}

func (c *Connection) maxPTOPeriod() time.Duration {
	path := c.paths.ActivePath()
	if path == nil {
		return InitialRTT * 3
	}
	return path.rtt.ptoPeriod(c.maxBackoff(), SpaceApplicationData)
}

func (c *Connection) maxBackoff() uint {
	backoff := uint(1)
	for i := 0; i < maxPTOBackoffShift; i++ {
		backoff *= 2
	}
	return backoff
}

// RecordSent registers a transmitted packet with the relevant space's
// loss recovery manager (spec.md §4.E/F on_packet_sent).
func (c *Connection) RecordSent(space PacketSpace, pn PacketNumber, bytes uint64, mode TransmissionMode, ecn EcnCounts, appLimited bool, frames []Frame, now time.Time) {
	path := c.paths.ActivePath()
	if path == nil {
		return
	}
	c.recovery[space].OnPacketSent(pn, path, bytes, isAckEliciting(frames), ecn, mode, appLimited, now, frames, c.cfg.Publisher)
	c.recovery[space].OnTransmitBurstComplete(path, now, c.handshakeConfirmed, c.cfg.IsServer == false)
}

// OnTransmit produces the frames due for the given space this round,
// subject to congestion, amplification and closing/draining
// restrictions (spec.md §2's transmit control-flow paragraph).
func (c *Connection) OnTransmit(space PacketSpace, now time.Time) []Frame {
	path := c.paths.ActivePath()
	if path == nil {
		return nil
	}
	state := c.state.State()
	if state == StateDraining {
		return nil
	}
	if state == StateClosing {
		if !c.state.ShouldSendCloseFrame() {
			return nil
		}
		reason, closeErr := c.state.CloseError()
		_ = reason
		if closeErr.Transport != nil {
			return []Frame{&ConnectionCloseFrame{ErrorCode: uint64(closeErr.Transport.Code), ReasonPhrase: closeErr.Transport.Reason}}
		}
		if closeErr.Application != nil {
			return []Frame{&ConnectionCloseFrame{IsApplication: true, ErrorCode: closeErr.Application.Code, ReasonPhrase: closeErr.Application.Reason}}
		}
		return []Frame{&ConnectionCloseFrame{}}
	}

	if !c.paths.CanTransmit(path.id, 1) {
		return nil
	}

	congestionLimited := path.cc.IsCongestionLimited()
	var frames []Frame
	if space == SpaceApplicationData {
		frames = append(frames, c.streams.OnTransmit(now, path.PTOPeriod(), defaultStreamBatchBytes, congestionLimited, false)...)
	}
	if f, ok := path.OnTransmit(now, path.PTOPeriod()); ok {
		frames = append(frames, &f)
	}
	if path.pendingResponse != nil {
		frames = append(frames, &PathResponseFrame{Data: *path.pendingResponse})
		path.pendingResponse = nil
	}
	return frames
}

// Close requests an immediate local close (application- or
// internally-triggered). The caller is responsible for actually
// transmitting the CONNECTION_CLOSE frame OnTransmit subsequently
// returns while the state is Closing.
func (c *Connection) Close(appErr *ApplicationError, now time.Time) {
	c.state.Close(ReasonLocalImmediateClose, CloseError{Application: appErr}, now, c.maxPTOPeriod())
	c.streams.Close(&ConnectionClosedError{ByPeer: false})
}

// OnTimeout sweeps every timer the connection owns, in no particular
// order since each guards an independent piece of state (spec.md §5:
// "the connection aggregates the earliest expiration").
func (c *Connection) OnTimeout(now time.Time) {
	if c.state.State() == StateFinished {
		return
	}
	if c.idleTimer.expired(now) {
		c.state.Close(ReasonIdleTimerExpired, CloseError{}, now, c.maxPTOPeriod())
		return
	}
	path := c.paths.ActivePath()
	backoffDoubled := false
	for sp := PacketSpace(0); sp < spaceCount; sp++ {
		c.recovery[sp].OnTimeout(now, c.cfg.Rng, c.maxBackoff(), path, c.paths, &backoffDoubled, c.cfg.Publisher)
	}
	if err := c.paths.OnTimeout(now); err != nil {
		c.state.Close(ReasonNoValidPath, CloseError{}, now, c.maxPTOPeriod())
		return
	}
	c.state.OnTimeout(now)
}

// NextExpiration aggregates every owned timer into the single deadline
// the endpoint's timer wheel should watch (spec.md §5).
func (c *Connection) NextExpiration() (time.Time, bool) {
	result, found := time.Time{}, false
	fold := func(t time.Time, ok bool) {
		if ok && (!found || t.Before(result)) {
			result, found = t, true
		}
	}
	fold(c.idleTimer.nextExpiration())
	for sp := PacketSpace(0); sp < spaceCount; sp++ {
		fold(c.recovery[sp].NextExpiration())
	}
	fold(c.paths.NextExpiration())
	fold(c.streams.NextExpiration())
	fold(c.state.NextExpiration())
	return result, found
}
