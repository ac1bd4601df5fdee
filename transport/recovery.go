package transport

import "time"

// K_PACKET_THRESHOLD and the reordering threshold from RFC 9002 section
// 6.1.1. Once a gap of this many packet numbers opens up below the
// largest acknowledged packet, the gap is declared lost outright.
const kPacketThreshold = 3

// pathLookup resolves a PathID back to a *Path so the per-space loss
// recovery manager (which tracks packets across possibly several paths
// after a migration) can feed RTT samples and congestion signals to the
// path that actually carried the packet.
type pathLookup interface {
	pathByID(id PathID) *Path
}

// LossRecoveryManager is component F: one instance per packet number
// space, holding that space's sent-packet table, loss timer and PTO
// state. RTT and congestion state live on the Path that carried each
// packet, not here — a migration can move a space's in-flight packets
// across paths, which is why every public method takes the relevant Path
// (or a pathLookup) explicitly instead of owning one itself.
type LossRecoveryManager struct {
	space PacketSpace

	sentPackets sentPacketTable
	largestAcked PacketNumber

	lossTimer timer
	pto       timer

	ptoBackoff       uint
	probesToSend     int
	timeOfLastAckEliciting time.Time
	ptoUpdatePending bool

	ecnBaseline EcnCounts

	// received is the packet number space's duplicate-detection set
	// (spec.md §3: "ordered set of 'received' numbers").
	received map[PacketNumber]bool
}

func newLossRecoveryManager(space PacketSpace) *LossRecoveryManager {
	return &LossRecoveryManager{
		space:        space,
		largestAcked: InvalidPacketNumber,
		ptoBackoff:   InitialPTOBackoff,
		received:     make(map[PacketNumber]bool),
	}
}

// AlreadyReceived reports whether pn has been seen before in this space.
func (lr *LossRecoveryManager) AlreadyReceived(pn PacketNumber) bool {
	return lr.received[pn]
}

// MarkReceived records pn as seen, for future duplicate rejection.
func (lr *LossRecoveryManager) MarkReceived(pn PacketNumber) {
	lr.received[pn] = true
}

// HasOutstandingPackets reports whether any packet sent in this space,
// ack-eliciting or not, is still in the sent-packet table.
func (lr *LossRecoveryManager) HasOutstandingPackets() bool {
	return !lr.sentPackets.empty()
}

func (lr *LossRecoveryManager) BytesInFlight() uint64 {
	return lr.sentPackets.sumBytes()
}

// OnPacketSent records a transmitted packet (spec.md §4.E/F). If
// ack-eliciting, it marks the space's last-ack-eliciting time and defers
// the PTO re-arm to the end of the current transmit burst.
func (lr *LossRecoveryManager) OnPacketSent(pn PacketNumber, path *Path, bytes uint64, ackEliciting bool, ecn EcnCounts, mode TransmissionMode, appLimited bool, now time.Time, frames []Frame, pub EventPublisher) {
	congestionControlled := mode != TransmissionLossProbe || ackEliciting
	record := sentPacketRecord{
		PacketNumber:         pn,
		SentTime:             now,
		Bytes:                bytes,
		CongestionControlled: congestionControlled,
		AckEliciting:         ackEliciting,
		ECN:                  ecn,
		Mode:                 mode,
		PathID:               path.id,
		AppLimited:           appLimited,
		Frames:               frames,
	}
	lr.sentPackets.insert(record)
	if congestionControlled {
		path.cc.OnPacketSent(bytes, now, appLimited)
		path.onBytesTransmitted(bytes)
	}
	if ackEliciting {
		lr.timeOfLastAckEliciting = now
		lr.ptoUpdatePending = true
	}
	if pub != nil {
		pub.OnPacketSent(PacketSentEvent{Space: lr.space, PacketNumber: pn, Bytes: bytes, AckEliciting: ackEliciting, Mode: mode, Time: now})
	}
}

// ackIngestResult is the outcome of validating and applying one ACK
// frame, returned to the connection so it can update the RTT estimator
// and drain the newly-acked frames for bookkeeping (stream ack, flow
// control, etc).
type ackIngestResult struct {
	NewlyAcked       []sentPacketRecord
	RTTUpdated       bool
	NewlyAckedOnPath bool // true if any ack-eliciting packet newly acked was sent on ackPath
}

// OnAckFrame ingests one ACK frame per spec.md §4.E/F steps 1-7. ackPath
// is the Path the datagram carrying this ACK arrived on; paths resolves
// the path a given sent packet was transmitted on, which may differ
// after a migration.
func (lr *LossRecoveryManager) OnAckFrame(now time.Time, ack *AckFrame, ackPath *Path, paths pathLookup, handshakeConfirmed bool, rng Random, pub EventPublisher) (*ackIngestResult, error) {
	if ack.Largest() > lr.largestSent() {
		return nil, newTransportError(ProtocolViolation, "ack for unsent packet")
	}
	increasesLargest := ack.Largest() > lr.largestAcked

	var newlyAcked []sentPacketRecord
	for _, r := range lr.sentPackets.records {
		if ack.Contains(r.PacketNumber) {
			newlyAcked = append(newlyAcked, r)
		}
	}
	result := &ackIngestResult{}
	if len(newlyAcked) == 0 {
		// Still validate ECN counts; out-of-order ACKs must not fail
		// validation even though nothing new was acknowledged.
		lr.applyECN(ack, increasesLargest, ackPath, now, pub)
		return result, nil
	}
	pns := make([]PacketNumber, len(newlyAcked))
	for i, r := range newlyAcked {
		pns[i] = r.PacketNumber
	}
	lr.sentPackets.removeAll(pns)

	if ack.Largest() > lr.largestAcked {
		lr.largestAcked = ack.Largest()
	}

	// Step 3: RTT sample only if the largest-acked packet is newly acked
	// and was sent on the path the ACK arrived on.
	for _, r := range newlyAcked {
		if r.PacketNumber == ack.Largest() && r.AckEliciting {
			sentPath := paths.pathByID(r.PathID)
			if sentPath != nil && sentPath.id == ackPath.id {
				rtt := now.Sub(r.SentTime)
				ackPath.rtt.update(rtt, ack.AckDelay, now, handshakeConfirmed, lr.space)
				ackPath.cc.OnRTTUpdate(rtt)
				result.RTTUpdated = true
			}
		}
	}

	// Step 4: ECN validation; strict CE increase is a congestion signal.
	lr.applyECN(ack, increasesLargest, ackPath, now, pub)

	// Step 5: reset PTO backoff on ackPath if an ack-eliciting packet
	// newly acked was sent on that path.
	resetBackoff := false
	for _, r := range newlyAcked {
		sentPath := paths.pathByID(r.PathID)
		if r.AckEliciting && sentPath != nil && sentPath.id == ackPath.id {
			resetBackoff = true
			result.NewlyAckedOnPath = true
		}
		if r.CongestionControlled && sentPath != nil {
			sentPath.cc.OnPacketAcked(r.Bytes, r.SentTime, now)
		}
	}
	if resetBackoff {
		lr.ptoBackoff = InitialPTOBackoff
	}

	result.NewlyAcked = newlyAcked

	// Step 6: detect and remove lost packets.
	period, lost := lr.detectLostPackets(now, ackPath)
	lr.removeLostPackets(now, period, lost, ackPath, paths, rng, pub)

	// Step 7: update the PTO timer.
	lr.UpdatePTOTimer(ackPath, now, handshakeConfirmed, !ackPath.isServer)

	return result, nil
}

func (lr *LossRecoveryManager) applyECN(ack *AckFrame, increasesLargest bool, path *Path, now time.Time, pub EventPublisher) {
	if ack.ECN == nil {
		return
	}
	if ack.ECN.CE > lr.ecnBaseline.CE {
		if increasesLargest {
			path.cc.OnCongestionEvent(now)
		}
	}
	lr.ecnBaseline = *ack.ECN
}

func (lr *LossRecoveryManager) largestSent() PacketNumber {
	largest := InvalidPacketNumber
	for _, r := range lr.sentPackets.records {
		if r.PacketNumber > largest {
			largest = r.PacketNumber
		}
	}
	if lr.largestAcked > largest {
		largest = lr.largestAcked
	}
	return largest
}

// detectLostPackets implements spec.md's detect_lost_packets: a packet is
// lost if it is kPacketThreshold or more below the largest acked, or if
// it has been outstanding longer than the loss time threshold. It also
// computes the persistent-congestion candidate period among the newly
// lost ack-eliciting packets.
func (lr *LossRecoveryManager) detectLostPackets(now time.Time, path *Path) (time.Duration, []PacketNumber) {
	lr.lossTimer.cancel()
	if lr.largestAcked == InvalidPacketNumber {
		return 0, nil
	}
	duration := path.rtt.lossTimeThreshold()
	firstRTTSampleTime := path.rtt.firstSampleTime

	var lost []PacketNumber
	var spanStart time.Time
	var maxPeriod time.Duration

	for _, r := range lr.sentPackets.records {
		if r.PacketNumber > lr.largestAcked {
			continue
		}
		isLost := r.PacketNumber <= lr.largestAcked-kPacketThreshold || now.Sub(r.SentTime) >= duration
		if isLost {
			lost = append(lost, r.PacketNumber)
			if r.AckEliciting && !r.SentTime.Before(firstRTTSampleTime) {
				if spanStart.IsZero() {
					spanStart = r.SentTime
				}
				if period := r.SentTime.Sub(spanStart); period > maxPeriod {
					maxPeriod = period
				}
			}
			continue
		}
		// A surviving ack-eliciting packet breaks the contiguous span.
		if r.AckEliciting {
			spanStart = time.Time{}
		}
		candidate := r.SentTime.Add(duration)
		if !lr.lossTimer.armed() || candidate.Before(lr.lossTimer.deadline) {
			lr.lossTimer.set(candidate)
		}
	}
	return maxPeriod, lost
}

// removeLostPackets notifies the congestion controller of each lost
// packet (except MTU probes, which only decrement bytes-in-flight) and
// removes them from the table. If the loss burst exceeds the persistent
// congestion threshold, the congestion controller is told once and the
// path's first-RTT-sample marker is cleared so the next sample reseeds
// min-RTT.
func (lr *LossRecoveryManager) removeLostPackets(now time.Time, maxPersistentCongestionPeriod time.Duration, lost []PacketNumber, ackPath *Path, paths pathLookup, rng Random, pub EventPublisher) {
	if len(lost) == 0 {
		return
	}
	persistentCongestion := maxPersistentCongestionPeriod > ackPath.rtt.persistentCongestionThreshold()
	notifiedPaths := map[PathID]bool{}
	ccNotified := map[PathID]bool{}
	for _, pn := range lost {
		rec, ok := lr.sentPackets.get(pn)
		if !ok {
			continue
		}
		path := paths.pathByID(rec.PathID)
		if path == nil {
			path = ackPath
		}
		if rec.CongestionControlled {
			notify := persistentCongestion && !ccNotified[path.id]
			if notify {
				ccNotified[path.id] = true
			}
			path.cc.OnPacketLost(rec.Bytes, notify, rec.Mode == TransmissionMTUProbing)
		}
		if pub != nil {
			pub.OnPacketLost(PacketLostEvent{Space: lr.space, PacketNumber: pn, Bytes: rec.Bytes, Persistent: persistentCongestion})
		}
		if persistentCongestion {
			notifiedPaths[path.id] = true
		}
	}
	lr.sentPackets.removeAll(lost)
	if persistentCongestion {
		for id := range notifiedPaths {
			if p := paths.pathByID(id); p != nil {
				p.rtt.hasFirstSample = false
			}
		}
	}
}

// UpdatePTOTimer arms or disarms the PTO per spec.md §4.E/F. isClient is
// needed for the Handshake-space keepalive exception.
func (lr *LossRecoveryManager) UpdatePTOTimer(path *Path, now time.Time, handshakeConfirmed bool, isClient bool) {
	lr.ptoUpdatePending = false
	if lr.lossTimer.armed() {
		lr.pto.cancel()
		return
	}
	if !isClient && path.atAmplificationLimit() && lr.sentPackets.empty() {
		lr.pto.cancel()
		return
	}
	if lr.space == SpaceApplicationData && !handshakeConfirmed {
		lr.pto.cancel()
		return
	}
	if path.peerValidated && lr.sentPackets.empty() {
		if !(isClient && lr.space == SpaceHandshake) {
			lr.pto.cancel()
			return
		}
	}
	lr.pto.set(lr.timeOfLastAckEliciting.Add(path.rtt.ptoPeriod(lr.ptoBackoff, lr.space)))
}

// OnTransmitBurstComplete applies the PTO re-arm deferred during a send
// burst (spec.md §4.E/F, "update_pto_timer is called once at the end of
// each entry to collapse them into the single endpoint timer entry").
func (lr *LossRecoveryManager) OnTransmitBurstComplete(path *Path, now time.Time, handshakeConfirmed bool, isClient bool) {
	if lr.ptoUpdatePending {
		lr.UpdatePTOTimer(path, now, handshakeConfirmed, isClient)
	}
}

// OnTimeout handles the loss-timer or PTO-timer firing (spec.md
// §4.E/F). backoffDoubledThisSweep lets the connection clamp the
// exponential backoff at most once per connection-wide timeout sweep
// across all three spaces.
func (lr *LossRecoveryManager) OnTimeout(now time.Time, rng Random, maxBackoff uint, ackPath *Path, paths pathLookup, backoffDoubledThisSweep *bool, pub EventPublisher) {
	if lr.lossTimer.expired(now) {
		period, lost := lr.detectLostPackets(now, ackPath)
		lr.removeLostPackets(now, period, lost, ackPath, paths, rng, pub)
		return
	}
	if !lr.pto.expired(now) {
		return
	}
	if !*backoffDoubledThisSweep {
		if lr.ptoBackoff < maxBackoff {
			lr.ptoBackoff *= 2
			if lr.ptoBackoff > maxBackoff {
				lr.ptoBackoff = maxBackoff
			}
		}
		*backoffDoubledThisSweep = true
	}
	lr.probesToSend = 2
	lr.UpdatePTOTimer(ackPath, now, true, false)
}

// ProbesToSend returns the number of PTO probe packets still to be
// transmitted; ConsumeProbe decrements it as each probe is sent.
func (lr *LossRecoveryManager) ProbesToSend() int {
	return lr.probesToSend
}

func (lr *LossRecoveryManager) ConsumeProbe() {
	if lr.probesToSend > 0 {
		lr.probesToSend--
	}
}

// NextExpiration returns the loss timer's deadline when it is armed,
// otherwise the PTO timer's.
func (lr *LossRecoveryManager) NextExpiration() (time.Time, bool) {
	if t, ok := lr.lossTimer.nextExpiration(); ok {
		return t, true
	}
	return lr.pto.nextExpiration()
}

// LossTimerArmed and PTOArmed back property 4: loss_timer.armed() implies
// !pto.armed().
func (lr *LossRecoveryManager) LossTimerArmed() bool { return lr.lossTimer.armed() }
func (lr *LossRecoveryManager) PTOArmed() bool       { return lr.pto.armed() }

func (lr *LossRecoveryManager) DropUnackedData() {
	lr.sentPackets.clear()
	lr.lossTimer.cancel()
	lr.pto.cancel()
	lr.largestAcked = InvalidPacketNumber
}
