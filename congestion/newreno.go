// Package congestion holds transport.CongestionController implementations.
// They live outside package transport so the core never imports a
// particular algorithm (spec.md §4.B: "Implementations (NewReno, BBR)
// live outside the core").
package congestion

import (
	"time"

	"github.com/quicweave/quic/transport"
)

// RFC 9002 Appendix B constants.
const (
	minimumWindowPackets = 2
	initialWindowPackets = 10
	loiterWindowBytes    = 14720 // kInitialWindow's alternate floor
	lossReductionFactor  = 0.5
)

// Clock abstracts wall-clock reads so tests can drive time explicitly
// instead of depending on the real clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RealClock is the systemClock a production endpoint wires in.
var RealClock Clock = systemClock{}

// NewReno implements transport.CongestionController per RFC 9002
// Appendix B: slow start until ssthresh, additive increase in congestion
// avoidance, multiplicative decrease on loss, and a reset to the minimum
// window on persistent congestion. It is grounded on the structure of
// the pack's Cubic/Prague senders (same field groupings: window state,
// RTT-derived thresholds, a recovery window to avoid multiple cutbacks
// within a single round trip) with NewReno's simpler update rules.
type NewReno struct {
	clock Clock

	maxDatagramSize uint64

	congestionWindow   uint64
	slowStartThreshold uint64
	bytesInFlight      uint64

	// inRecovery guards against more than one window reduction per round
	// trip: a loss is only a fresh congestion event if it postdates
	// recoveryStartTime.
	inRecovery        bool
	recoveryStartTime time.Time
}

// NewNewReno constructs a NewReno controller with the initial window RFC
// 9002 section 7.2 specifies: min(10*max_datagram_size, max(2*max_datagram_size, 14720)).
func NewNewReno(clock Clock, maxDatagramSize uint64) *NewReno {
	if clock == nil {
		clock = RealClock
	}
	if maxDatagramSize == 0 {
		maxDatagramSize = 1200
	}
	initial := initialWindowPackets * maxDatagramSize
	floor := minimumWindowPackets * maxDatagramSize
	if floor < loiterWindowBytes {
		floor = loiterWindowBytes
	}
	if initial > floor {
		initial = floor
	}
	return &NewReno{
		clock:              clock,
		maxDatagramSize:    maxDatagramSize,
		congestionWindow:   initial,
		slowStartThreshold: ^uint64(0),
	}
}

var _ transport.CongestionController = (*NewReno)(nil)

func (n *NewReno) minimumWindow() uint64 {
	return minimumWindowPackets * n.maxDatagramSize
}

func (n *NewReno) inSlowStart() bool {
	return n.congestionWindow < n.slowStartThreshold
}

// OnPacketSent accounts for newly in-flight bytes. appLimited is
// currently advisory only: this implementation never throttles based on
// it, matching NewReno's reference behavior (pacing and app-limited
// cwnd validation are Cubic/BBR refinements).
func (n *NewReno) OnPacketSent(bytes uint64, sentTime time.Time, appLimited bool) {
	n.bytesInFlight += bytes
}

// OnRTTUpdate is a no-op for NewReno: unlike Cubic or BBR it derives no
// state from RTT beyond what the recovery period's time ordering needs.
func (n *NewReno) OnRTTUpdate(rtt time.Duration) {}

// OnPacketAcked grows the window: by one full segment per acked segment
// during slow start, or by maxDatagramSize*ackedBytes/cwnd during
// congestion avoidance (RFC 9002 section 7.3.1/7.3.2).
func (n *NewReno) OnPacketAcked(bytes uint64, largestAckedTime, now time.Time) {
	if bytes > n.bytesInFlight {
		n.bytesInFlight = 0
	} else {
		n.bytesInFlight -= bytes
	}
	if n.inRecovery && !largestAckedTime.After(n.recoveryStartTime) {
		// Acknowledging a packet sent before the current recovery period
		// began does not grow the window (RFC 9002 section 7.3.2).
		return
	}
	if n.inSlowStart() {
		n.congestionWindow += bytes
		return
	}
	n.congestionWindow += n.maxDatagramSize * bytes / n.congestionWindow
}

// OnPacketLost applies the multiplicative-decrease cutback once per
// recovery period. MTU-probe losses never trigger a cutback (spec.md
// §4.E: "except for packets sent in MtuProbing mode").
func (n *NewReno) OnPacketLost(bytes uint64, persistentCongestion, isMTUProbe bool) {
	if bytes > n.bytesInFlight {
		n.bytesInFlight = 0
	} else {
		n.bytesInFlight -= bytes
	}
	if isMTUProbe {
		return
	}
	now := n.clock.Now()
	if !n.inRecovery || now.After(n.recoveryStartTime) {
		n.inRecovery = true
		n.recoveryStartTime = now
		n.slowStartThreshold = uint64(float64(n.congestionWindow) * lossReductionFactor)
		if n.slowStartThreshold < n.minimumWindow() {
			n.slowStartThreshold = n.minimumWindow()
		}
		n.congestionWindow = n.slowStartThreshold
	}
	if persistentCongestion {
		n.congestionWindow = n.minimumWindow()
		n.inRecovery = false
	}
}

// OnCongestionEvent handles a non-loss congestion signal (an ECN CE
// increase) with the same cutback OnPacketLost applies, but never counts
// it as persistent congestion.
func (n *NewReno) OnCongestionEvent(now time.Time) {
	if !n.inRecovery || now.After(n.recoveryStartTime) {
		n.inRecovery = true
		n.recoveryStartTime = now
		n.slowStartThreshold = uint64(float64(n.congestionWindow) * lossReductionFactor)
		if n.slowStartThreshold < n.minimumWindow() {
			n.slowStartThreshold = n.minimumWindow()
		}
		n.congestionWindow = n.slowStartThreshold
	}
}

// OnMTUUpdate re-derives the minimum/initial window bounds from the new
// datagram size; it never shrinks an already-grown congestion window.
func (n *NewReno) OnMTUUpdate(mtu uint64) {
	if mtu == 0 {
		return
	}
	n.maxDatagramSize = mtu
}

func (n *NewReno) BytesInFlight() uint64    { return n.bytesInFlight }
func (n *NewReno) CongestionWindow() uint64 { return n.congestionWindow }

func (n *NewReno) IsCongestionLimited() bool {
	return n.bytesInFlight+n.maxDatagramSize > n.congestionWindow
}

// EarliestDepartureTime reports no-pacing (the zero time): NewReno's
// reference algorithm sends immediately whenever the window allows,
// unlike Cubic/BBR pacers in the rest of the pack.
func (n *NewReno) EarliestDepartureTime() time.Time {
	return time.Time{}
}
