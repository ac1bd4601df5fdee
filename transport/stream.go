package transport

// StreamID is a QUIC stream identifier. Its two low bits encode
// initiator and type (RFC 9000 section 2.1): bit 0 set means
// server-initiated, bit 1 set means unidirectional.
type StreamID uint64

func (id StreamID) IsServerInitiated() bool { return id&0x1 != 0 }
func (id StreamID) IsClientInitiated() bool { return !id.IsServerInitiated() }
func (id StreamID) IsUni() bool             { return id&0x2 != 0 }
func (id StreamID) IsBidi() bool            { return !id.IsUni() }

// Ordinal is the 1-based sequence number of this stream within its
// (initiator, type) class: the Nth stream of that class has id
// (N-1)*4 + type-bits.
func (id StreamID) Ordinal() uint64 { return uint64(id>>2) + 1 }

func makeStreamID(ordinal uint64, serverInitiated, uni bool) StreamID {
	id := StreamID((ordinal - 1) << 2)
	if serverInitiated {
		id |= 0x1
	}
	if uni {
		id |= 0x2
	}
	return id
}

// RecvBuffer is the stream-buffer trait's receive half (spec.md §6): an
// external collaborator that reassembles out-of-order bytes. The core
// only ever pushes decoded STREAM frame payloads into it and pops
// contiguous bytes back out.
type RecvBuffer interface {
	Push(offset uint64, data []byte, fin bool) error
	PopInto(dst []byte) (n int, fin bool)
	Readable() uint64
}

// SendBuffer is the stream-buffer trait's send half: the core enqueues
// application bytes and later asks for up to maxBytes to place in the
// next STREAM frame.
type SendBuffer interface {
	Enqueue(data []byte) error
	TakeForFrame(maxBytes int) (offset uint64, data []byte, fin bool)
	Finish()
	Pending() bool
}

// memRecvBuffer is the default in-process RecvBuffer: a contiguous
// buffer plus a side table of out-of-order chunks folded in as gaps
// close. Good enough for an endpoint that is not trying to minimize
// reassembly memory; a production deployment would supply its own.
type memRecvBuffer struct {
	data       []byte
	readOffset int
	pending    map[uint64][]byte
	finOffset  *uint64
}

func newMemRecvBuffer() *memRecvBuffer {
	return &memRecvBuffer{pending: make(map[uint64][]byte)}
}

func (b *memRecvBuffer) Push(offset uint64, data []byte, fin bool) error {
	if fin {
		end := offset + uint64(len(data))
		if b.finOffset != nil && *b.finOffset != end {
			return newTransportError(FinalSizeError, "inconsistent final size")
		}
		b.finOffset = &end
	} else if b.finOffset != nil && offset+uint64(len(data)) > *b.finOffset {
		return newTransportError(FinalSizeError, "data beyond final size")
	}
	if offset == uint64(len(b.data)) {
		b.data = append(b.data, data...)
		b.foldPending()
		return nil
	}
	if offset > uint64(len(b.data)) {
		b.pending[offset] = append([]byte(nil), data...)
		return nil
	}
	// Overlapping/duplicate retransmission of already-buffered bytes.
	end := offset + uint64(len(data))
	if end > uint64(len(b.data)) {
		b.data = append(b.data, data[uint64(len(b.data))-offset:]...)
		b.foldPending()
	}
	return nil
}

func (b *memRecvBuffer) foldPending() {
	for {
		next, ok := b.pending[uint64(len(b.data))]
		if !ok {
			return
		}
		b.data = append(b.data, next...)
		delete(b.pending, uint64(len(b.data))-uint64(len(next)))
	}
}

func (b *memRecvBuffer) PopInto(dst []byte) (int, bool) {
	n := copy(dst, b.data[b.readOffset:])
	b.readOffset += n
	fin := b.finOffset != nil && uint64(b.readOffset) >= *b.finOffset && uint64(len(b.data)) >= *b.finOffset
	return n, fin
}

func (b *memRecvBuffer) Readable() uint64 {
	return uint64(len(b.data) - b.readOffset)
}

// memSendBuffer is the default in-process SendBuffer: an ordered queue
// of byte chunks drained front-to-back as STREAM frames are produced.
type memSendBuffer struct {
	chunks   [][]byte
	offset   uint64 // offset of the first unconsumed byte
	finished bool
	finSent  bool
}

func (b *memSendBuffer) Enqueue(data []byte) error {
	if b.finished {
		return ErrNonEmptyOutput
	}
	if len(data) == 0 {
		return nil
	}
	b.chunks = append(b.chunks, append([]byte(nil), data...))
	return nil
}

func (b *memSendBuffer) Finish() { b.finished = true }

func (b *memSendBuffer) Pending() bool {
	return len(b.chunks) > 0 || (b.finished && !b.finSent)
}

func chunksLen(chunks [][]byte) uint64 {
	var n uint64
	for _, c := range chunks {
		n += uint64(len(c))
	}
	return n
}

func (b *memSendBuffer) TakeForFrame(maxBytes int) (uint64, []byte, bool) {
	offset := b.offset
	var out []byte
	for len(b.chunks) > 0 && len(out) < maxBytes {
		c := b.chunks[0]
		take := maxBytes - len(out)
		if take >= len(c) {
			out = append(out, c...)
			b.chunks = b.chunks[1:]
		} else {
			out = append(out, c[:take]...)
			b.chunks[0] = c[take:]
		}
	}
	b.offset += uint64(len(out))
	fin := b.finished && len(b.chunks) == 0
	if fin {
		b.finSent = true
	}
	return offset, out, fin
}

// streamInterest mirrors the ordered interest lists spec.md §4.I has the
// stream manager maintain; a Stream only carries the flags, the manager
// owns the actual ordered lists.
type streamInterest struct {
	transmission       bool
	retransmission     bool
	delivery           bool
	connFlowCredits    bool
}

// Stream is the polymorphic send/receive entity of spec.md §3: a bidi
// stream has both halves populated, a uni stream only the half matching
// its initiator.
type Stream struct {
	id StreamID

	canSend bool
	canRecv bool

	sendBuf       SendBuffer
	sendMaxData   uint64 // peer's advertised MAX_STREAM_DATA for this stream
	sendOffset    uint64
	sendFinalSize *uint64
	sendReset     bool

	recvBuf            RecvBuffer
	recvWindow         uint64
	recvMaxData        uint64
	recvAdvertisedBase uint64
	recvConsumed       uint64
	recvHighWater      uint64
	recvFinalSize      *uint64
	recvReset          bool
	stopRequested      bool
	forceMaxStreamData bool

	retransmitQueue []StreamFrame

	retained bool
	interest streamInterest
}

func newStream(id StreamID, canSend, canRecv bool, peerInitialMaxStreamData, recvWindow uint64) *Stream {
	s := &Stream{
		id:       id,
		canSend:  canSend,
		canRecv:  canRecv,
		retained: true,
	}
	if canSend {
		s.sendBuf = &memSendBuffer{}
		s.sendMaxData = peerInitialMaxStreamData
	}
	if canRecv {
		s.recvBuf = newMemRecvBuffer()
		s.recvWindow = recvWindow
		s.recvMaxData = recvWindow
	}
	return s
}

// OnData ingests a STREAM frame payload (spec.md §4.I on_data).
func (s *Stream) OnData(offset uint64, data []byte, fin bool) error {
	if !s.canRecv {
		return newTransportError(StreamStateError, "stream has no receive half")
	}
	if s.recvReset {
		return nil
	}
	end := offset + uint64(len(data))
	if end > s.recvMaxData {
		return newTransportError(FlowControlError, "stream flow control limit exceeded")
	}
	if err := s.recvBuf.Push(offset, data, fin); err != nil {
		return err
	}
	if end > s.recvHighWater {
		s.recvHighWater = end
	}
	if fin {
		s.recvFinalSize = &end
	}
	s.interest.delivery = true
	return nil
}

// OnResetStream ingests a RESET_STREAM frame (spec.md §4.I
// on_reset_stream), recording the final size. It returns only an error;
// accounting the final size against connection flow control is left to
// the caller.
func (s *Stream) OnResetStream(errorCode, finalSize uint64) error {
	if !s.canRecv {
		return newTransportError(StreamStateError, "stream has no receive half")
	}
	if finalSize < s.recvHighWater {
		return newTransportError(FinalSizeError, "reset final size smaller than data received")
	}
	if s.recvFinalSize != nil && *s.recvFinalSize != finalSize {
		return newTransportError(FinalSizeError, "reset final size contradicts prior FIN")
	}
	s.recvFinalSize = &finalSize
	s.recvReset = true
	s.interest.delivery = true
	return nil
}

// OnStopSending records a STOP_SENDING frame; the application decides
// whether to answer with a local RESET_STREAM.
func (s *Stream) OnStopSending(errorCode uint64) error {
	if !s.canSend {
		return newTransportError(StreamStateError, "stream has no send half")
	}
	s.stopRequested = true
	return nil
}

// OnMaxStreamData applies a peer MAX_STREAM_DATA update.
func (s *Stream) OnMaxStreamData(n uint64) {
	if n <= s.sendMaxData {
		return
	}
	s.sendMaxData = n
	if s.sendBuf != nil && s.sendBuf.Pending() {
		s.interest.transmission = true
	}
}

// MaybeAdvertiseMaxStreamData mirrors ConnectionFlowController's
// windowed re-advertisement, scoped to this stream's receive window.
func (s *Stream) MaybeAdvertiseMaxStreamData() (MaxStreamDataFrame, bool) {
	if !s.canRecv {
		return MaxStreamDataFrame{}, false
	}
	if !s.forceMaxStreamData && s.recvHighWater-s.recvAdvertisedBase < s.recvWindow/rxAdvertiseFraction {
		return MaxStreamDataFrame{}, false
	}
	s.forceMaxStreamData = false
	s.recvAdvertisedBase = s.recvHighWater
	s.recvMaxData = s.recvHighWater + s.recvWindow
	return MaxStreamDataFrame{StreamID: uint64(s.id), MaximumData: s.recvMaxData}, true
}

// ForceMaxStreamDataResend marks the next advertisement as due
// regardless of the consumption threshold, used when a MAX_STREAM_DATA
// frame is declared lost.
func (s *Stream) ForceMaxStreamDataResend() { s.forceMaxStreamData = true }

// Requeue re-enqueues a previously sent STREAM frame for retransmission
// after loss. Retransmitted bytes reuse their original offset and do not
// consume new flow-control credit.
func (s *Stream) Requeue(f StreamFrame) {
	s.retransmitQueue = append(s.retransmitQueue, f)
	s.interest.retransmission = true
}

// Write enqueues application bytes for transmission.
func (s *Stream) Write(data []byte) error {
	if !s.canSend {
		return newTransportError(StreamStateError, "stream has no send half")
	}
	if err := s.sendBuf.Enqueue(data); err != nil {
		return err
	}
	s.interest.transmission = true
	return nil
}

// Finish marks the send half complete; the final STREAM frame produced
// by TakeFrame will carry FIN.
func (s *Stream) Finish() error {
	if !s.canSend {
		return newTransportError(StreamStateError, "stream has no send half")
	}
	s.sendBuf.Finish()
	s.interest.transmission = true
	return nil
}

// ResetLocal abandons the send half, returning the RESET_STREAM frame to
// transmit.
func (s *Stream) ResetLocal(errorCode uint64) ResetStreamFrame {
	s.sendReset = true
	final := s.sendOffset
	s.sendFinalSize = &final
	s.interest.transmission = false
	return ResetStreamFrame{StreamID: uint64(s.id), ErrorCode: errorCode, FinalSize: final}
}

// Read copies reassembled bytes into dst.
func (s *Stream) Read(dst []byte) (int, bool, error) {
	if !s.canRecv {
		return 0, false, newTransportError(StreamStateError, "stream has no receive half")
	}
	n, fin := s.recvBuf.PopInto(dst)
	if n == 0 && fin {
		return 0, true, nil
	}
	return n, fin, nil
}

// TakeFrame produces the next STREAM frame for this stream, bounded by
// maxBytes and by connAvailable (bytes of connection-level send credit
// the caller has already reserved for this call).
func (s *Stream) TakeFrame(maxBytes int, connAvailable uint64) (StreamFrame, bool) {
	if !s.canSend || s.sendReset {
		return StreamFrame{}, false
	}
	if len(s.retransmitQueue) > 0 {
		f := s.retransmitQueue[0]
		if len(f.Data) <= maxBytes {
			s.retransmitQueue = s.retransmitQueue[1:]
			if len(s.retransmitQueue) == 0 {
				s.interest.retransmission = false
			}
			return f, true
		}
		return StreamFrame{}, false
	}
	if s.sendBuf == nil || !s.sendBuf.Pending() {
		return StreamFrame{}, false
	}
	perStreamBudget := s.sendMaxData - s.sendOffset
	limit := maxBytes
	if connAvailable < uint64(limit) {
		limit = int(connAvailable)
	}
	if perStreamBudget < uint64(limit) {
		limit = int(perStreamBudget)
	}
	if limit <= 0 {
		return StreamFrame{}, false
	}
	offset, data, fin := s.sendBuf.TakeForFrame(limit)
	if len(data) == 0 && !fin {
		return StreamFrame{}, false
	}
	s.sendOffset += uint64(len(data))
	if !s.sendBuf.Pending() {
		s.interest.transmission = false
	}
	if fin {
		final := s.sendOffset
		s.sendFinalSize = &final
	}
	return StreamFrame{StreamID: uint64(s.id), Offset: offset, Data: data, Fin: fin}, true
}

// Done reports whether both halves present on this stream (if any) have
// reached a terminal state: final size known on the receive half, and
// finished/reset on the send half. Used by the manager's retirement
// sweep to recycle remote-initiated stream-count credit.
func (s *Stream) Done() bool {
	sendDone := !s.canSend || s.sendReset || s.sendFinalSize != nil
	recvDone := !s.canRecv || s.recvReset || s.recvFinalSize != nil
	return sendDone && recvDone
}

// OnInternalReset forces the stream into a terminal, non-retained state
// when the connection closes (spec.md §4.I close).
func (s *Stream) OnInternalReset() {
	s.retained = false
	s.interest = streamInterest{}
}

// Retained reports whether the manager should keep this stream around.
func (s *Stream) Retained() bool { return s.retained }
