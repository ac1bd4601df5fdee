package transport

import "time"

// maxStreamsSyncFraction controls how eagerly MAX_STREAMS credit is
// re-advertised: once 1/maxStreamsSyncFraction of the advertised window
// has been freed by stream retirement, a new, larger limit is sent
// (spec.md §4.G).
const maxStreamsSyncFraction = 2

// streamsBlockedInitialBackoff is the initial multiplier applied to
// 3×PTO when scheduling the first STREAMS_BLOCKED re-send.
const streamsBlockedInitialBackoff = 4

// streamCreditState tracks stream-open credit for one stream type
// (bidirectional or unidirectional), for both the streams this endpoint
// opens and the streams the peer opens. The symmetry rule in
// spec.md §4.G ("remote-initiated opens never consume local-initiated
// capacity") falls out of keeping local and remote bookkeeping in
// entirely separate fields, never a shared counter.
type streamCreditState struct {
	bidi bool

	// Local-initiated: we open streams up to min(peerMax, localCap).
	localOpened uint64
	peerMax     uint64
	localCap    uint64

	blockedPending  bool
	blockedBackoff  uint
	blockedResend   timer

	// Remote-initiated: the peer opens streams up to localMax, which we
	// advertise and periodically raise as streams retire.
	remoteHighWater uint64 // count of distinct remote-initiated streams ever opened
	remoteRetired   uint64 // count of those since retired, i.e. freed credit
	localMax        uint64
	advertisedBase  uint64 // remoteRetired value at the last MAX_STREAMS send
	windowSize      uint64
}

func newStreamCreditState(bidi bool, peerInitialMax, localConcurrentCap, localInitialMax uint64) *streamCreditState {
	if localConcurrentCap == 0 {
		localConcurrentCap = ^uint64(0)
	}
	return &streamCreditState{
		bidi:       bidi,
		peerMax:    peerInitialMax,
		localCap:   localConcurrentCap,
		localMax:   localInitialMax,
		windowSize: localInitialMax,
	}
}

// LocalCapacity is the number of additional local-initiated streams this
// endpoint may open right now.
func (s *streamCreditState) LocalCapacity() uint64 {
	limit := s.peerMax
	if s.localCap < limit {
		limit = s.localCap
	}
	if s.localOpened >= limit {
		return 0
	}
	return limit - s.localOpened
}

// ReserveLocal consumes one unit of local-initiated capacity, returning
// false (and arming STREAMS_BLOCKED) if none is available.
func (s *streamCreditState) ReserveLocal(now time.Time, pto time.Duration) bool {
	if s.LocalCapacity() == 0 {
		s.armBlocked(now, pto)
		return false
	}
	s.localOpened++
	if s.LocalCapacity() == 0 {
		s.armBlocked(now, pto)
	}
	return true
}

func (s *streamCreditState) armBlocked(now time.Time, pto time.Duration) {
	if s.blockedPending {
		return
	}
	s.blockedPending = true
	s.blockedBackoff = streamsBlockedInitialBackoff
	s.blockedResend.set(now.Add(3 * pto * time.Duration(s.blockedBackoff)))
}

// OnMaxStreams applies a peer MAX_STREAMS update. Per spec.md §8 property
// 10, a value not exceeding the current limit is a no-op.
func (s *streamCreditState) OnMaxStreams(n uint64) {
	if n <= s.peerMax {
		return
	}
	s.peerMax = n
	if s.LocalCapacity() > 0 {
		s.blockedPending = false
		s.blockedResend.cancel()
	}
}

// PendingStreamsBlocked returns the frame to (re)send, if one is due.
func (s *streamCreditState) PendingStreamsBlocked(now time.Time, pto time.Duration) (StreamsBlockedFrame, bool) {
	if !s.blockedPending {
		return StreamsBlockedFrame{}, false
	}
	if s.blockedResend.armed() && !s.blockedResend.expired(now) {
		return StreamsBlockedFrame{}, false
	}
	s.blockedBackoff *= 2
	s.blockedResend.set(now.Add(3 * pto * time.Duration(s.blockedBackoff)))
	return StreamsBlockedFrame{Bidi: s.bidi, StreamLimit: s.peerMax}, true
}

// OnStreamsBlockedLost re-arms an immediate re-send after a loss
// declaration, without waiting out the current backoff interval.
func (s *streamCreditState) OnStreamsBlockedLost() {
	if s.blockedPending {
		s.blockedResend.cancel()
	}
}

// OnRemoteOpen validates a remote-initiated stream ordinal (1-based
// count of streams of this type the peer has opened) against the
// advertised limit.
func (s *streamCreditState) OnRemoteOpen(ordinal uint64) error {
	if ordinal > s.localMax {
		return newTransportError(StreamLimitError, "stream limit exceeded")
	}
	if ordinal > s.remoteHighWater {
		s.remoteHighWater = ordinal
	}
	return nil
}

// OnStreamRetired records that one remote-initiated stream has finished
// and its slot's credit is free to recycle, returning a new MAX_STREAMS
// frame once enough credit has accumulated.
func (s *streamCreditState) OnStreamRetired() (MaxStreamsFrame, bool) {
	s.remoteRetired++
	freed := s.remoteRetired - s.advertisedBase
	if s.windowSize == 0 || freed*maxStreamsSyncFraction < s.windowSize {
		return MaxStreamsFrame{}, false
	}
	s.advertisedBase = s.remoteRetired
	s.localMax = s.remoteRetired + s.windowSize
	return MaxStreamsFrame{Bidi: s.bidi, MaximumStreams: s.localMax}, true
}

func (s *streamCreditState) NextExpiration() (time.Time, bool) {
	if !s.blockedPending {
		return time.Time{}, false
	}
	return s.blockedResend.nextExpiration()
}

// StreamCountController is component G: the pair of streamCreditState
// instances (bidirectional, unidirectional) that govern when new streams
// may be opened and when MAX_STREAMS/STREAMS_BLOCKED frames are due.
type StreamCountController struct {
	Bidi *streamCreditState
	Uni  *streamCreditState
}

func newStreamCountController(peerMaxBidi, peerMaxUni, localConcurrentCapBidi, localConcurrentCapUni, localMaxBidi, localMaxUni uint64) *StreamCountController {
	return &StreamCountController{
		Bidi: newStreamCreditState(true, peerMaxBidi, localConcurrentCapBidi, localMaxBidi),
		Uni:  newStreamCreditState(false, peerMaxUni, localConcurrentCapUni, localMaxUni),
	}
}

func (c *StreamCountController) forType(bidi bool) *streamCreditState {
	if bidi {
		return c.Bidi
	}
	return c.Uni
}

func (c *StreamCountController) NextExpiration() (time.Time, bool) {
	var result time.Time
	found := false
	for _, s := range []*streamCreditState{c.Bidi, c.Uni} {
		if t, ok := s.NextExpiration(); ok {
			if !found || t.Before(result) {
				result = t
				found = true
			}
		}
	}
	return result, found
}
