package transport

import "time"

// amplificationFactor is the RFC 9000 section 8.1 anti-amplification
// limit: an endpoint that has not validated a peer's address must not
// send more than this many times the bytes it received on that path.
const amplificationFactor = 3

// pathChallengeRetries is how many times a PATH_CHALLENGE deadline may
// expire unanswered before the path is considered unreachable (spec.md
// §4.C). Each deadline is derived from the same PTO calculation loss
// recovery uses, computed fresh from the path's own RTT estimator.
const pathChallengeRetries = 3

// pathChallengeState tracks one outstanding PATH_CHALLENGE: the 8-byte
// token we are waiting to see echoed back in a PATH_RESPONSE, and the
// deadline after which we give up and try again (or abandon the path).
type pathChallengeState struct {
	data     [8]byte
	deadline timer
	attempts int
}

// Path is component C: per-path state for RTT, congestion, MTU,
// anti-amplification and address validation. A Connection holds one Path
// per network 4-tuple it is willing to send or receive on; the active
// path is the one used for ordinary traffic, others exist only during
// migration or deliberate multipath probing.
type Path struct {
	id PathID

	localCID []byte
	peerCID  []byte

	rtt rttEstimator
	cc  CongestionController

	mtu uint64

	// bytesReceived/bytesSent back the anti-amplification limit: unlike
	// the congestion controller's bytes-in-flight, these never decrease.
	bytesReceived uint64
	bytesSent     uint64

	// validated is true once we've confirmed the peer owns the address
	// (we sent PATH_CHALLENGE and got the matching PATH_RESPONSE, or this
	// is the path the handshake completed on). peerValidated is true once
	// we have evidence the peer received a packet from us on this path
	// (we're not just spraying datagrams at a spoofed source address).
	validated     bool
	peerValidated bool

	challenge       *pathChallengeState
	pendingResponse *[8]byte

	isServer  bool
	abandoned bool

	// pendingAuth marks a path created for an unverified migration
	// candidate (spec.md §4.D on_datagram_received): the datagram that
	// created it does not itself count toward migration, only a second
	// one arriving on the same path does.
	pendingAuth bool
}

// OnPathChallenge queues the PATH_RESPONSE a received PATH_CHALLENGE
// requires; it is picked up by the next OnTransmit call for this path.
func (p *Path) OnPathChallenge(f PathChallengeFrame) {
	data := f.Data
	p.pendingResponse = &data
}

func newPath(id PathID, localCID, peerCID []byte, maxAckDelay time.Duration, cc CongestionController, mtu uint64, isServer bool) *Path {
	return &Path{
		id:       id,
		localCID: localCID,
		peerCID:  peerCID,
		rtt:      newRTTEstimator(maxAckDelay),
		cc:       cc,
		mtu:      mtu,
		isServer: isServer,
	}
}

// OnBytesReceived records bytes received on this path, the credit side
// of the anti-amplification limit.
func (p *Path) OnBytesReceived(n uint64) {
	p.bytesReceived += n
}

// onBytesTransmitted records bytes sent on this path, the debit side of
// the anti-amplification limit.
func (p *Path) onBytesTransmitted(n uint64) {
	p.bytesSent += n
}

// AtAmplificationLimit reports whether this path may not send any more
// bytes until it receives more from the peer or validates the address.
// Validated paths, and paths on the connection's own client role, are
// never amplification-limited (RFC 9000 section 8.1 applies only to the
// endpoint that did not prove ownership of the address).
func (p *Path) AtAmplificationLimit() bool {
	if !p.isServer || p.validated {
		return false
	}
	return p.bytesSent >= amplificationFactor*p.bytesReceived
}

func (p *Path) atAmplificationLimit() bool { return p.AtAmplificationLimit() }

// OnHandshakePacket marks the path validated: a successful handshake on
// this path is itself proof the peer's address was reachable and
// willing to complete a TLS exchange (spec.md §4.C).
func (p *Path) OnHandshakePacket() {
	p.validated = true
	p.peerValidated = true
}

// SetChallenge arms a new PATH_CHALLENGE with an 8-byte token drawn from
// rng, returning the frame to transmit. Calling this again before the
// previous challenge resolves replaces it — only one challenge is ever
// outstanding per path.
func (p *Path) SetChallenge(rng Random, now time.Time, pto time.Duration) (PathChallengeFrame, error) {
	var data [8]byte
	if err := rng.Read(data[:]); err != nil {
		return PathChallengeFrame{}, err
	}
	p.challenge = &pathChallengeState{data: data}
	p.challenge.deadline.set(now.Add(pto))
	return PathChallengeFrame{Data: data}, nil
}

// OnTransmit reports whether a challenge retransmission is due, and if
// so rearms the deadline and returns the frame to resend.
func (p *Path) OnTransmit(now time.Time, pto time.Duration) (PathChallengeFrame, bool) {
	if p.challenge == nil || !p.challenge.deadline.expired(now) {
		return PathChallengeFrame{}, false
	}
	p.challenge.attempts++
	if p.challenge.attempts >= pathChallengeRetries {
		p.abandoned = true
		return PathChallengeFrame{}, false
	}
	p.challenge.deadline.set(now.Add(pto))
	return PathChallengeFrame{Data: p.challenge.data}, true
}

// OnPathResponse reports whether resp matches the outstanding challenge,
// clearing it and marking the path validated if so.
func (p *Path) OnPathResponse(resp PathResponseFrame) bool {
	if p.challenge == nil || p.challenge.data != resp.Data {
		return false
	}
	p.challenge = nil
	p.validated = true
	return true
}

// OnTimeout is called from the connection's timeout sweep; it lets an
// unanswered challenge trigger path abandonment without needing a
// transmit opportunity first.
func (p *Path) OnTimeout(now time.Time) {
	if p.challenge != nil && p.challenge.deadline.expired(now) {
		p.challenge.attempts++
		if p.challenge.attempts >= pathChallengeRetries {
			p.abandoned = true
			p.challenge = nil
		}
	}
}

// PTOPeriod exposes the path's own RTT-derived PTO period, used both by
// loss recovery (per space, scaled by that space's backoff) and by path
// validation retransmission timing (backoff-less, per RFC 9000 8.2.4).
func (p *Path) PTOPeriod() time.Duration {
	return p.rtt.ptoPeriod(InitialPTOBackoff, SpaceApplicationData)
}

// ChallengePending reports whether a PATH_CHALLENGE is outstanding.
func (p *Path) ChallengePending() bool { return p.challenge != nil }

// Abandoned reports whether path validation exhausted its retries.
func (p *Path) Abandoned() bool { return p.abandoned }

// Validated reports whether this path has a confirmed peer address.
func (p *Path) Validated() bool { return p.validated }

func (p *Path) NextExpiration() (time.Time, bool) {
	if p.challenge == nil {
		return time.Time{}, false
	}
	return p.challenge.deadline.nextExpiration()
}
