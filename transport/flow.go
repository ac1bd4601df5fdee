package transport

import "time"

// dataBlockedBackoffBase is the congestion-epoch multiplier applied to
// the ApplicationData PTO period when scheduling DATA_BLOCKED re-sends
// (spec.md §4.H: "pto_period(backoff=2, ApplicationData)").
const dataBlockedBackoffBase = 2

// rxAdvertiseFraction is the fraction of the receive window that must be
// consumed since the last MAX_DATA before a new one is sent.
const rxAdvertiseFraction = 10

// flowWaiter is one stream registered on the connection's
// waiting-for-connection-flow-control-credits list (spec.md §4.H send
// side), in FIFO registration order.
type flowWaiter struct {
	streamID  uint64
	requested uint64
}

// FlowCredit is the grant handed back to a stream once MAX_DATA
// distributes newly available connection-level send credit to it.
type FlowCredit struct {
	StreamID uint64
	Granted  uint64
}

// ConnectionFlowController is component H: the connection-wide MAX_DATA
// (receive) and DATA_BLOCKED (send) windows layered on top of, but
// independent from, each stream's own per-stream flow control.
type ConnectionFlowController struct {
	rxWindow         uint64
	rxMaxData        uint64
	rxConsumed       uint64
	rxAdvertisedBase uint64
	forceMaxData     bool

	txMaxData uint64
	txSent    uint64
	waiters   []flowWaiter

	blockedPending bool
	blockedResend  timer
}

func newConnectionFlowController(rxWindow, txInitialMaxData uint64) *ConnectionFlowController {
	return &ConnectionFlowController{
		rxWindow:  rxWindow,
		rxMaxData: rxWindow,
		txMaxData: txInitialMaxData,
	}
}

// OnBytesReceived accounts newly delivered connection-level bytes,
// rejecting the datagram if it pushes total consumption past the
// advertised limit.
func (c *ConnectionFlowController) OnBytesReceived(n uint64) error {
	if c.rxConsumed+n > c.rxMaxData {
		return newTransportError(FlowControlError, "connection flow control limit exceeded")
	}
	c.rxConsumed += n
	return nil
}

// OnStreamFinalSize folds a RESET_STREAM or FIN's final size into
// connection-level accounting: bytes the stream never delivered but that
// counted toward its final size still consume connection flow-control
// credit, up to the window (spec.md §4.H).
func (c *ConnectionFlowController) OnStreamFinalSize(previouslyConsumed, finalSize uint64) error {
	if finalSize < previouslyConsumed {
		return nil
	}
	delta := finalSize - previouslyConsumed
	if c.rxConsumed+delta > c.rxMaxData {
		return newTransportError(FlowControlError, "connection flow control limit exceeded by final size")
	}
	c.rxConsumed += delta
	return nil
}

// MaybeAdvertiseMaxData returns a new MAX_DATA frame once
// rxWindow/rxAdvertiseFraction bytes have been consumed since the last
// advertisement. congestionLimited suppresses the update, since a
// congestion-limited connection cannot benefit from more receive credit
// yet (spec.md §4.H).
func (c *ConnectionFlowController) MaybeAdvertiseMaxData(congestionLimited bool) (MaxDataFrame, bool) {
	if congestionLimited {
		return MaxDataFrame{}, false
	}
	if !c.forceMaxData && c.rxConsumed-c.rxAdvertisedBase < c.rxWindow/rxAdvertiseFraction {
		return MaxDataFrame{}, false
	}
	c.forceMaxData = false
	c.rxAdvertisedBase = c.rxConsumed
	c.rxMaxData = c.rxConsumed + c.rxWindow
	return MaxDataFrame{MaximumData: c.rxMaxData}, true
}

// ForceMaxDataResend marks the next MaybeAdvertiseMaxData call as due
// regardless of the consumption threshold, used when a MAX_DATA frame is
// declared lost.
func (c *ConnectionFlowController) ForceMaxDataResend() { c.forceMaxData = true }

// AcquireWindow grants up to n bytes of connection-level send credit to
// streamID, registering it as a waiter for the remainder if starved.
func (c *ConnectionFlowController) AcquireWindow(streamID uint64, n uint64, now time.Time, pto time.Duration) uint64 {
	remaining := c.txMaxData - c.txSent
	granted := n
	if granted > remaining {
		granted = remaining
	}
	c.txSent += granted
	if granted < n {
		c.waiters = append(c.waiters, flowWaiter{streamID: streamID, requested: n - granted})
		c.armBlocked(now, pto)
	}
	return granted
}

func (c *ConnectionFlowController) armBlocked(now time.Time, pto time.Duration) {
	if c.blockedPending {
		return
	}
	c.blockedPending = true
	c.blockedResend.set(now.Add(pto * dataBlockedBackoffBase))
}

// OnMaxData applies a peer MAX_DATA update, distributing newly available
// credit to waiters in FIFO order until either the waiters or the new
// credit is exhausted.
func (c *ConnectionFlowController) OnMaxData(n uint64) []FlowCredit {
	if n <= c.txMaxData {
		return nil
	}
	c.txMaxData = n
	var grants []FlowCredit
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		available := c.txMaxData - c.txSent
		if available == 0 {
			remaining = append(remaining, w)
			continue
		}
		grant := w.requested
		if grant > available {
			grant = available
		}
		c.txSent += grant
		grants = append(grants, FlowCredit{StreamID: w.streamID, Granted: grant})
		if grant < w.requested {
			remaining = append(remaining, flowWaiter{streamID: w.streamID, requested: w.requested - grant})
		}
	}
	c.waiters = remaining
	if len(c.waiters) == 0 {
		c.blockedPending = false
		c.blockedResend.cancel()
	}
	return grants
}

// PendingDataBlocked returns the DATA_BLOCKED frame to (re)send, if one
// is due.
func (c *ConnectionFlowController) PendingDataBlocked(now time.Time, pto time.Duration) (DataBlockedFrame, bool) {
	if !c.blockedPending {
		return DataBlockedFrame{}, false
	}
	if c.blockedResend.armed() && !c.blockedResend.expired(now) {
		return DataBlockedFrame{}, false
	}
	c.blockedResend.set(now.Add(pto * dataBlockedBackoffBase))
	return DataBlockedFrame{DataLimit: c.txMaxData}, true
}

func (c *ConnectionFlowController) OnDataBlockedLost() {
	if c.blockedPending {
		c.blockedResend.cancel()
	}
}

func (c *ConnectionFlowController) TxSent() uint64    { return c.txSent }
func (c *ConnectionFlowController) TxMaxData() uint64 { return c.txMaxData }

func (c *ConnectionFlowController) NextExpiration() (time.Time, bool) {
	if !c.blockedPending {
		return time.Time{}, false
	}
	return c.blockedResend.nextExpiration()
}
