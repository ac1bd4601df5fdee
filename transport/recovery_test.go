package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// singlePathLookup resolves every PathID to the same Path, enough for
// recovery tests that never exercise migration.
type singlePathLookup struct {
	path *Path
}

func (s singlePathLookup) pathByID(id PathID) *Path { return s.path }

func newTestPathFor(t *testing.T) *Path {
	t.Helper()
	return newPath(0, nil, nil, 25*time.Millisecond, newNopCongestionController(), 1200, false)
}

func TestLossRecoveryManagerOnAckFrameAcksAndClearsRecords(t *testing.T) {
	lr := newLossRecoveryManager(SpaceApplicationData)
	path := newTestPathFor(t)
	lookup := singlePathLookup{path: path}
	now := time.Now()

	lr.OnPacketSent(0, path, 100, true, EcnCounts{}, TransmissionNormal, false, now, nil, nil)
	lr.OnPacketSent(1, path, 100, true, EcnCounts{}, TransmissionNormal, false, now, nil, nil)
	assert.True(t, lr.HasOutstandingPackets())

	ack := &AckFrame{Ranges: []AckRange{{Smallest: 0, Largest: 1}}}
	result, err := lr.OnAckFrame(now.Add(10*time.Millisecond), ack, path, lookup, true, &sequenceRandom{}, nil)
	require.NoError(t, err)
	assert.Len(t, result.NewlyAcked, 2)
	assert.True(t, result.RTTUpdated)
	assert.False(t, lr.HasOutstandingPackets())
}

func TestLossRecoveryManagerRejectsAckForUnsentPacket(t *testing.T) {
	lr := newLossRecoveryManager(SpaceApplicationData)
	path := newTestPathFor(t)
	lookup := singlePathLookup{path: path}

	ack := &AckFrame{Ranges: []AckRange{{Smallest: 5, Largest: 5}}}
	_, err := lr.OnAckFrame(time.Now(), ack, path, lookup, true, &sequenceRandom{}, nil)
	require.Error(t, err)
}

func TestLossRecoveryManagerDetectsPacketThresholdLoss(t *testing.T) {
	lr := newLossRecoveryManager(SpaceApplicationData)
	path := newTestPathFor(t)
	lookup := singlePathLookup{path: path}
	now := time.Now()

	for pn := PacketNumber(0); pn < 5; pn++ {
		lr.OnPacketSent(pn, path, 100, true, EcnCounts{}, TransmissionNormal, false, now, nil, nil)
	}
	// Acking only the largest leaves 0 kPacketThreshold(3) below it: lost.
	ack := &AckFrame{Ranges: []AckRange{{Smallest: 4, Largest: 4}}}
	result, err := lr.OnAckFrame(now.Add(time.Millisecond), ack, path, lookup, true, &sequenceRandom{}, nil)
	require.NoError(t, err)
	assert.Len(t, result.NewlyAcked, 1)
	// Packets 0 and 1 are >= kPacketThreshold below 4 and should have been
	// declared lost and removed from the table, leaving only 2 and 3.
	assert.Equal(t, 2, lr.sentPackets.len())
}

func TestLossRecoveryManagerPersistentCongestionResetsMinRTTSample(t *testing.T) {
	lr := newLossRecoveryManager(SpaceApplicationData)
	path := newTestPathFor(t)
	lookup := singlePathLookup{path: path}
	now := time.Now()
	path.rtt.update(10*time.Millisecond, 0, now, true, SpaceApplicationData)
	require.True(t, path.rtt.hasFirstSample)
	threshold := path.rtt.persistentCongestionThreshold()

	// Two ack-eliciting packets spanning more than the persistent
	// congestion threshold, with nothing acked in between to break the
	// contiguous lost run.
	lr.sentPackets.insert(sentPacketRecord{PacketNumber: 0, SentTime: now, Bytes: 100, CongestionControlled: true, AckEliciting: true, PathID: path.id})
	lr.sentPackets.insert(sentPacketRecord{PacketNumber: 1, SentTime: now.Add(threshold + time.Millisecond), Bytes: 100, CongestionControlled: true, AckEliciting: true, PathID: path.id})
	lr.largestAcked = 5

	laterNow := now.Add(threshold + 2*time.Hour) // comfortably past the time-loss threshold too
	period, lost := lr.detectLostPackets(laterNow, path)
	require.Len(t, lost, 2)
	assert.Greater(t, int64(period), int64(threshold))

	lr.removeLostPackets(laterNow, period, lost, path, lookup, &sequenceRandom{}, nil)
	assert.False(t, path.rtt.hasFirstSample, "a persistent-congestion loss burst must reseed min-RTT")
}

func TestLossRecoveryManagerUpdatePTOTimerSkipsWhenLossTimerArmed(t *testing.T) {
	lr := newLossRecoveryManager(SpaceApplicationData)
	path := newTestPathFor(t)
	lr.lossTimer.set(time.Now().Add(time.Second))
	lr.UpdatePTOTimer(path, time.Now(), true, true)
	assert.False(t, lr.pto.armed())
}
