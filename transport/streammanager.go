package transport

import "time"

// Waker is the poll-with-waker callback spec.md §5 describes: stored by
// value and replaced on re-poll, never held as a long-lived reference the
// manager has to clean up explicitly.
type Waker func()

// FinalizationStatus reports whether a closing stream manager has
// finished tearing down every stream.
type FinalizationStatus uint8

const (
	FinalizationActive FinalizationStatus = iota
	FinalizationClosing
	FinalizationFinal
)

// StreamManager is component I: the stream map, accept queues, interest
// lists and the stream-count/connection-flow controllers that gate them.
type StreamManager struct {
	isServer bool
	streams  map[StreamID]*Stream

	counts   *StreamCountController
	connFlow *ConnectionFlowController

	acceptBidi []StreamID
	acceptUni  []StreamID

	waitingTransmission   []StreamID
	waitingRetransmission []StreamID

	openWakers   map[bool][]Waker
	acceptWakers map[bool][]Waker
	readWakers   map[StreamID][]Waker

	peerInitialMaxStreamData uint64
	localRecvWindowPerStream uint64

	streamBatchSize int

	closed   bool
	closeErr error
}

func newStreamManager(isServer bool, peerMaxBidi, peerMaxUni, localConcurrentCapBidi, localConcurrentCapUni, localMaxBidi, localMaxUni, peerInitialMaxStreamData, localRecvWindowPerStream, connRxWindow, connTxInitialMaxData uint64) *StreamManager {
	return &StreamManager{
		isServer:                 isServer,
		streams:                  make(map[StreamID]*Stream),
		counts:                   newStreamCountController(peerMaxBidi, peerMaxUni, localConcurrentCapBidi, localConcurrentCapUni, localMaxBidi, localMaxUni),
		connFlow:                 newConnectionFlowController(connRxWindow, connTxInitialMaxData),
		openWakers:               make(map[bool][]Waker),
		acceptWakers:             make(map[bool][]Waker),
		readWakers:               make(map[StreamID][]Waker),
		peerInitialMaxStreamData: peerInitialMaxStreamData,
		localRecvWindowPerStream: localRecvWindowPerStream,
		streamBatchSize:          8,
	}
}

func (sm *StreamManager) wake(wakers []Waker) {
	for _, w := range wakers {
		if w != nil {
			w()
		}
	}
}

// OpenLocal attempts to open a new locally-initiated stream immediately.
func (sm *StreamManager) OpenLocal(bidi bool, now time.Time, pto time.Duration) (StreamID, error) {
	if sm.closed {
		return 0, sm.terminalError()
	}
	cs := sm.counts.forType(bidi)
	if !cs.ReserveLocal(now, pto) {
		return 0, ErrStreamIDExhausted
	}
	id := makeStreamID(cs.localOpened, sm.isServer, !bidi)
	sm.streams[id] = newStream(id, true, bidi, sm.peerInitialMaxStreamData, sm.localRecvWindowPerStream)
	return id, nil
}

// PollOpenLocal is OpenLocal's poll-with-waker form: the waker is
// invoked once credit to open this type becomes available.
func (sm *StreamManager) PollOpenLocal(bidi bool, now time.Time, pto time.Duration, waker Waker) (StreamID, bool, error) {
	id, err := sm.OpenLocal(bidi, now, pto)
	if err == nil {
		return id, true, nil
	}
	if err == ErrStreamIDExhausted {
		sm.openWakers[bidi] = append(sm.openWakers[bidi], waker)
		return 0, false, nil
	}
	return 0, true, err
}

// resolve returns the stream for id, opening it on demand if id names a
// remote-initiated stream within the advertised limit.
func (sm *StreamManager) resolve(id StreamID) (*Stream, error) {
	if s, ok := sm.streams[id]; ok {
		return s, nil
	}
	if id.IsServerInitiated() == sm.isServer {
		return nil, newTransportError(StreamStateError, "reference to a locally-initiated stream not yet opened")
	}
	bidi := id.IsBidi()
	cs := sm.counts.forType(bidi)
	if err := cs.OnRemoteOpen(id.Ordinal()); err != nil {
		return nil, err
	}
	canSend := bidi // a remote-initiated uni stream is receive-only here
	s := newStream(id, canSend, true, sm.peerInitialMaxStreamData, sm.localRecvWindowPerStream)
	sm.streams[id] = s
	if bidi {
		sm.acceptBidi = append(sm.acceptBidi, id)
		sm.wake(sm.acceptWakers[true])
		sm.acceptWakers[true] = nil
	} else {
		sm.acceptUni = append(sm.acceptUni, id)
		sm.wake(sm.acceptWakers[false])
		sm.acceptWakers[false] = nil
	}
	return s, nil
}

// PollAccept returns the next not-yet-accepted remote-initiated stream
// of the given type.
func (sm *StreamManager) PollAccept(bidi bool, waker Waker) (StreamID, bool, error) {
	if sm.closed {
		if sm.closeErr != nil {
			return 0, true, sm.closeErr
		}
		return 0, true, nil
	}
	queue := &sm.acceptUni
	if bidi {
		queue = &sm.acceptBidi
	}
	if len(*queue) == 0 {
		sm.acceptWakers[bidi] = append(sm.acceptWakers[bidi], waker)
		return 0, false, nil
	}
	id := (*queue)[0]
	*queue = (*queue)[1:]
	return id, true, nil
}

func (sm *StreamManager) markTransmission(id StreamID) {
	for _, existing := range sm.waitingTransmission {
		if existing == id {
			return
		}
	}
	sm.waitingTransmission = append(sm.waitingTransmission, id)
}

func (sm *StreamManager) markRetransmission(id StreamID) {
	for _, existing := range sm.waitingRetransmission {
		if existing == id {
			return
		}
	}
	sm.waitingRetransmission = append(sm.waitingRetransmission, id)
}

// Write enqueues bytes on an already-open stream.
func (sm *StreamManager) Write(id StreamID, data []byte) error {
	s, ok := sm.streams[id]
	if !ok {
		return ErrInvalidStream
	}
	if err := s.Write(data); err != nil {
		return err
	}
	sm.markTransmission(id)
	return nil
}

func (sm *StreamManager) Finish(id StreamID) error {
	s, ok := sm.streams[id]
	if !ok {
		return ErrInvalidStream
	}
	if err := s.Finish(); err != nil {
		return err
	}
	sm.markTransmission(id)
	return nil
}

func (sm *StreamManager) ResetLocal(id StreamID, errorCode uint64) (ResetStreamFrame, error) {
	s, ok := sm.streams[id]
	if !ok {
		return ResetStreamFrame{}, ErrInvalidStream
	}
	return s.ResetLocal(errorCode), nil
}

// PollRead copies reassembled bytes into dst, registering waker if none
// are available yet.
func (sm *StreamManager) PollRead(id StreamID, dst []byte, waker Waker) (int, bool, error) {
	s, ok := sm.streams[id]
	if !ok {
		return 0, false, ErrInvalidStream
	}
	n, fin, err := s.Read(dst)
	if err != nil {
		return 0, false, err
	}
	if n == 0 && !fin {
		sm.readWakers[id] = append(sm.readWakers[id], waker)
		return 0, false, nil
	}
	return n, fin, nil
}

// OnStreamFrame dispatches a received STREAM frame (spec.md §4.I on_data).
func (sm *StreamManager) OnStreamFrame(f *StreamFrame) error {
	s, err := sm.resolve(StreamID(f.StreamID))
	if err != nil {
		return sm.abort(err)
	}
	if err := s.OnData(f.Offset, f.Data, f.Fin); err != nil {
		return sm.abort(err)
	}
	sm.wake(sm.readWakers[StreamID(f.StreamID)])
	delete(sm.readWakers, StreamID(f.StreamID))
	return nil
}

// OnResetStream dispatches a received RESET_STREAM frame.
func (sm *StreamManager) OnResetStream(f *ResetStreamFrame) error {
	id := StreamID(f.StreamID)
	s, err := sm.resolve(id)
	if err != nil {
		return sm.abort(err)
	}
	prevHighWater := s.recvHighWater
	if err := s.OnResetStream(f.ErrorCode, f.FinalSize); err != nil {
		return sm.abort(err)
	}
	if err := sm.connFlow.OnStreamFinalSize(prevHighWater, f.FinalSize); err != nil {
		return sm.abort(err)
	}
	sm.wake(sm.readWakers[id])
	delete(sm.readWakers, id)
	return nil
}

// OnStopSending dispatches a received STOP_SENDING frame.
func (sm *StreamManager) OnStopSending(f *StopSendingFrame) error {
	s, err := sm.resolve(StreamID(f.StreamID))
	if err != nil {
		return sm.abort(err)
	}
	return s.OnStopSending(f.ErrorCode)
}

// OnMaxStreamData dispatches a received MAX_STREAM_DATA frame.
func (sm *StreamManager) OnMaxStreamData(f *MaxStreamDataFrame) error {
	s, err := sm.resolve(StreamID(f.StreamID))
	if err != nil {
		return sm.abort(err)
	}
	s.OnMaxStreamData(f.MaximumData)
	if s.interest.transmission {
		sm.markTransmission(StreamID(f.StreamID))
	}
	return nil
}

// OnStreamDataBlocked dispatches a received STREAM_DATA_BLOCKED frame;
// it is purely informational for the publisher (spec.md §6).
func (sm *StreamManager) OnStreamDataBlocked(f *StreamDataBlockedFrame) error {
	_, err := sm.resolve(StreamID(f.StreamID))
	return err
}

// OnMaxData dispatches a received MAX_DATA frame, waking any stream
// newly granted connection-level send credit.
func (sm *StreamManager) OnMaxData(f *MaxDataFrame) {
	for _, grant := range sm.connFlow.OnMaxData(f.MaximumData) {
		sm.markTransmission(StreamID(grant.StreamID))
	}
}

// OnMaxStreams dispatches a received MAX_STREAMS frame.
func (sm *StreamManager) OnMaxStreams(f *MaxStreamsFrame) {
	cs := sm.counts.forType(f.Bidi)
	cs.OnMaxStreams(f.MaximumStreams)
	if cs.LocalCapacity() > 0 {
		sm.wake(sm.openWakers[f.Bidi])
		sm.openWakers[f.Bidi] = nil
	}
}

// OnDataBlocked dispatches a received DATA_BLOCKED frame; informational.
func (sm *StreamManager) OnDataBlocked(f *DataBlockedFrame) {}

// OnFrameLost re-queues (or forces re-advertisement of) a frame that a
// sent packet carrying it was declared to have lost.
func (sm *StreamManager) OnFrameLost(f Frame) {
	switch v := f.(type) {
	case *StreamFrame:
		if s, ok := sm.streams[StreamID(v.StreamID)]; ok {
			s.Requeue(*v)
			sm.markRetransmission(StreamID(v.StreamID))
		}
	case *MaxDataFrame:
		sm.connFlow.ForceMaxDataResend()
	case *MaxStreamDataFrame:
		if s, ok := sm.streams[StreamID(v.StreamID)]; ok {
			s.ForceMaxStreamDataResend()
		}
	case *DataBlockedFrame:
		sm.connFlow.OnDataBlockedLost()
	case *StreamsBlockedFrame:
		sm.counts.forType(v.Bidi).OnStreamsBlockedLost()
	}
}

// OnTransmit produces the frames due this round, respecting transmission
// constraints and the fair head-to-tail rotation of the waiting lists
// (spec.md §4.I). streamBatchSize bounds how many stream frames a single
// list traversal may emit, and maxFrameBytes bounds each frame.
func (sm *StreamManager) OnTransmit(now time.Time, pto time.Duration, maxFrameBytes int, congestionLimited, retransmissionOnly bool) []Frame {
	var frames []Frame
	frames = sm.drain(&sm.waitingRetransmission, now, pto, maxFrameBytes, frames)
	if !congestionLimited && !retransmissionOnly {
		frames = sm.drain(&sm.waitingTransmission, now, pto, maxFrameBytes, frames)
	}
	if congestionLimited {
		return frames
	}
	if f, ok := sm.connFlow.MaybeAdvertiseMaxData(congestionLimited); ok {
		frames = append(frames, &f)
	}
	if f, ok := sm.connFlow.PendingDataBlocked(now, pto); ok {
		frames = append(frames, &f)
	}
	for _, cs := range []*streamCreditState{sm.counts.Bidi, sm.counts.Uni} {
		if f, ok := cs.PendingStreamsBlocked(now, pto); ok {
			frames = append(frames, &f)
		}
	}
	for _, s := range sm.streams {
		if f, ok := s.MaybeAdvertiseMaxStreamData(); ok {
			frames = append(frames, &f)
		}
	}
	frames = append(frames, sm.sweepRetired()...)
	return frames
}

// sweepRetired collects streams whose both halves have reached a
// terminal state, recycles remote-initiated stream-count credit for
// them, and drops them from the map (spec.md §3: "retained = false is
// collected on the next sweep").
func (sm *StreamManager) sweepRetired() []Frame {
	var frames []Frame
	for id, s := range sm.streams {
		if !s.Done() {
			continue
		}
		s.retained = false
		if id.IsServerInitiated() != sm.isServer {
			if f, ok := sm.counts.forType(id.IsBidi()).OnStreamRetired(); ok {
				frames = append(frames, &f)
			}
		}
		delete(sm.streams, id)
	}
	return frames
}

func (sm *StreamManager) drain(list *[]StreamID, now time.Time, pto time.Duration, maxFrameBytes int, frames []Frame) []Frame {
	n := len(*list)
	sent := 0
	for i := 0; i < n && sent < sm.streamBatchSize; i++ {
		id := (*list)[0]
		*list = (*list)[1:]
		s, ok := sm.streams[id]
		if !ok {
			continue
		}
		// Retransmitted frames reuse credit already counted at first send.
		var granted uint64
		if list != &sm.waitingRetransmission {
			granted = sm.connFlow.AcquireWindow(uint64(id), uint64(maxFrameBytes), now, pto)
		}
		f, wrote := s.TakeFrame(maxFrameBytes, granted)
		if wrote {
			frames = append(frames, &f)
			sent++
		}
		if s.interest.retransmission && list == &sm.waitingRetransmission {
			*list = append(*list, id)
		} else if s.interest.transmission && list == &sm.waitingTransmission {
			*list = append(*list, id)
		}
	}
	return frames
}

func (sm *StreamManager) abort(err error) error {
	sm.Close(err)
	return err
}

// Close marks every live stream for internal reset and freezes the
// accept queues (spec.md §4.I close).
func (sm *StreamManager) Close(err error) {
	if sm.closed {
		return
	}
	sm.closed = true
	sm.closeErr = err
	for _, s := range sm.streams {
		s.OnInternalReset()
	}
	for bidi, wakers := range sm.acceptWakers {
		sm.wake(wakers)
		sm.acceptWakers[bidi] = nil
	}
	for bidi, wakers := range sm.openWakers {
		sm.wake(wakers)
		sm.openWakers[bidi] = nil
	}
	for id, wakers := range sm.readWakers {
		sm.wake(wakers)
		delete(sm.readWakers, id)
	}
}

func (sm *StreamManager) terminalError() error {
	if sm.closeErr != nil {
		return sm.closeErr
	}
	return ErrInvalidStream
}

// FinalizationStatus reports Final once the manager is closed and every
// stream has dropped its retained flag.
func (sm *StreamManager) FinalizationStatus() FinalizationStatus {
	if !sm.closed {
		return FinalizationActive
	}
	for _, s := range sm.streams {
		if s.Retained() {
			return FinalizationClosing
		}
	}
	return FinalizationFinal
}

func (sm *StreamManager) NextExpiration() (time.Time, bool) {
	result, found := sm.counts.NextExpiration()
	if t, ok := sm.connFlow.NextExpiration(); ok {
		if !found || t.Before(result) {
			result, found = t, true
		}
	}
	return result, found
}
