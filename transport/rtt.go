package transport

import "time"

// Granularity is the minimum timer granularity used throughout loss and
// PTO calculations (RFC 9002 section 6.1.2, "kGranularity").
const Granularity = time.Millisecond

// InitialRTT is the RTT guess used before any sample has been taken
// (RFC 9002 section 6.2.2, "kInitialRtt").
const InitialRTT = 333 * time.Millisecond

// InitialPTOBackoff is the starting multiplier of the exponential backoff
// applied to the PTO period after consecutive timer expirations; the
// connection caps the doubling with maxPTOBackoffShift.
const InitialPTOBackoff = 1

// rttEstimator is component A: smoothed RTT, RTT variance, min-RTT and
// max-ack-delay tracking per RFC 9002 section 5.
type rttEstimator struct {
	latest            time.Duration
	smoothed          time.Duration
	rttvar            time.Duration
	min               time.Duration
	maxAckDelay       time.Duration
	firstSampleTime   time.Time
	hasFirstSample    bool
}

func newRTTEstimator(maxAckDelay time.Duration) rttEstimator {
	return rttEstimator{
		smoothed:    InitialRTT,
		rttvar:      InitialRTT / 2,
		maxAckDelay: maxAckDelay,
	}
}

// update feeds in a new RTT sample. Callers must only call this when the
// ACK newly acknowledges the largest-acked packet of the space AND that
// packet was sent on the path the ACK arrived on (spec.md §4.A, tested by
// property 6).
func (r *rttEstimator) update(latestRTT, ackDelay time.Duration, now time.Time, handshakeConfirmed bool, space PacketSpace) {
	r.latest = latestRTT
	if !r.hasFirstSample || r.min == 0 || latestRTT < r.min {
		r.min = latestRTT
	}
	if !r.hasFirstSample {
		r.firstSampleTime = now
	}

	// Only apply the max_ack_delay clamp once the handshake is confirmed
	// and only outside the ack-delay-agnostic Initial/Handshake spaces.
	adjustedRTT := latestRTT
	if r.hasFirstSample {
		if space == SpaceApplicationData {
			if handshakeConfirmed && ackDelay > r.maxAckDelay {
				ackDelay = r.maxAckDelay
			}
		} else {
			ackDelay = 0
		}
		if adjustedRTT > r.min+ackDelay {
			adjustedRTT -= ackDelay
		}
	}

	if !r.hasFirstSample {
		r.smoothed = latestRTT
		r.rttvar = latestRTT / 2
		r.hasFirstSample = true
		return
	}
	var varSample time.Duration
	if r.smoothed > adjustedRTT {
		varSample = r.smoothed - adjustedRTT
	} else {
		varSample = adjustedRTT - r.smoothed
	}
	r.rttvar = (3*r.rttvar + varSample) / 4
	r.smoothed = (7*r.smoothed + adjustedRTT) / 8
}

// ptoPeriod computes the Probe Timeout period for the given space, scaled
// by the exponential backoff, floored at Granularity (RFC 9002 section
// 6.2.1).
func (r *rttEstimator) ptoPeriod(backoff uint, space PacketSpace) time.Duration {
	rttvar4 := 4 * r.rttvar
	if rttvar4 < Granularity {
		rttvar4 = Granularity
	}
	period := r.smoothed + rttvar4
	if space == SpaceApplicationData {
		period += r.maxAckDelay
	}
	if backoff > 0 {
		period *= time.Duration(backoff)
	}
	if period < Granularity {
		period = Granularity
	}
	return period
}

// persistentCongestionThreshold is the duration (RFC 9002 section 7.6.1)
// beyond which a loss burst of ack-eliciting packets triggers persistent
// congestion.
func (r *rttEstimator) persistentCongestionThreshold() time.Duration {
	rttvar4 := 4 * r.rttvar
	if rttvar4 < Granularity {
		rttvar4 = Granularity
	}
	return (r.smoothed + rttvar4 + r.maxAckDelay) * 3
}

// lossTimeThreshold is the time-threshold used for loss detection (RFC
// 9002 section 6.1.2, "kTimeThreshold" applied to max(smoothed, latest)).
func (r *rttEstimator) lossTimeThreshold() time.Duration {
	maxRTT := r.smoothed
	if r.latest > maxRTT {
		maxRTT = r.latest
	}
	threshold := maxRTT * 9 / 8
	if threshold < Granularity {
		threshold = Granularity
	}
	return threshold
}
