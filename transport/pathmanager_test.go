package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathManagerAddPathFirstBecomesActive(t *testing.T) {
	pm := newPathManager(true, 25*time.Millisecond, 1200)
	p := pm.AddPath("4tuple-a", []byte{1}, []byte{2}, newNopCongestionController())
	assert.Equal(t, p.id, pm.ActivePathID())
}

func TestPathManagerOnDatagramReceivedReusesExistingPath(t *testing.T) {
	pm := newPathManager(true, 25*time.Millisecond, 1200)
	cc := newNopCongestionController()
	p1 := pm.AddPath("4tuple-a", []byte{1}, []byte{2}, cc)

	p2, err := pm.OnDatagramReceived("4tuple-a", 10, nil, nil, cc, true, time.Now())
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	p3, err := pm.OnDatagramReceived("4tuple-b", 10, nil, nil, cc, true, time.Now())
	require.NoError(t, err)
	assert.NotNil(t, p3, "an unseen 4-tuple is a new path once the server's handshake is confirmed")
	assert.True(t, p3.pendingAuth)
}

func TestPathManagerOnDatagramReceivedClientRejectsUnknownAddress(t *testing.T) {
	pm := newPathManager(false, 25*time.Millisecond, 1200)
	cc := newNopCongestionController()
	pm.AddPath("a", nil, nil, cc)

	_, err := pm.OnDatagramReceived("unknown", 10, nil, nil, cc, true, time.Now())
	require.Error(t, err, "a client must never spring a new path from an unrecognized server address")
}

func TestPathManagerOnDatagramReceivedServerDefersUntilHandshakeConfirmed(t *testing.T) {
	pm := newPathManager(true, 25*time.Millisecond, 1200)
	cc := newNopCongestionController()
	pm.AddPath("a", nil, nil, cc)

	p, err := pm.OnDatagramReceived("new-address", 10, nil, nil, cc, false, time.Now())
	require.NoError(t, err)
	assert.Nil(t, p, "no path is created before the handshake is confirmed")
	assert.Len(t, pm.Paths(), 1)
}

func TestPathManagerMigrationRequiresNonProbingAfterHandshake(t *testing.T) {
	pm := newPathManager(true, 25*time.Millisecond, 1200)
	cc := newNopCongestionController()
	original := pm.AddPath("a", nil, nil, cc)
	second, err := pm.OnDatagramReceived("b", 10, nil, nil, cc, true, time.Now())
	require.NoError(t, err)

	require.NoError(t, pm.OnProcessedPacket(second.id, true, true, time.Now()))
	assert.Equal(t, original.id, pm.ActivePathID(), "the datagram that creates a candidate path is not itself a migration trigger")

	require.NoError(t, pm.OnProcessedPacket(second.id, false, true, time.Now()))
	assert.Equal(t, original.id, pm.ActivePathID(), "a probing-only packet must not trigger migration")

	require.NoError(t, pm.OnProcessedPacket(second.id, true, true, time.Now()))
	assert.Equal(t, second.id, pm.ActivePathID())
}

func TestPathManagerMigrationToAbandonedPathFails(t *testing.T) {
	pm := newPathManager(true, 25*time.Millisecond, 1200)
	cc := newNopCongestionController()
	pm.AddPath("a", nil, nil, cc)
	second := pm.AddPath("b", nil, nil, cc)
	second.abandoned = true

	err := pm.HandleConnectionMigration(second.id, time.Now())
	require.Error(t, err)
}

func TestPathManagerReapRemovesAbandonedInactivePaths(t *testing.T) {
	pm := newPathManager(true, 25*time.Millisecond, 1200)
	cc := newNopCongestionController()
	pm.AddPath("a", nil, nil, cc)
	second := pm.AddPath("b", nil, nil, cc)
	second.abandoned = true

	pm.reap()
	assert.Len(t, pm.Paths(), 1)
	assert.NotNil(t, pm.pathByID(pm.active))
	assert.Nil(t, pm.pathByID(second.id))
}

func TestPathManagerOnTimeoutRevertsToLastKnownActiveValidatedPath(t *testing.T) {
	pm := newPathManager(true, 25*time.Millisecond, 1200)
	cc := newNopCongestionController()
	now := time.Now()

	original := pm.AddPath("a", nil, nil, cc)
	original.validated = true

	second, err := pm.OnDatagramReceived("b", 10, nil, nil, cc, true, now)
	require.NoError(t, err)
	require.NoError(t, pm.OnProcessedPacket(second.id, true, true, now)) // pendingAuth, no migration
	require.NoError(t, pm.OnProcessedPacket(second.id, true, true, now)) // migrates
	require.Equal(t, second.id, pm.ActivePathID())
	require.Equal(t, original.id, pm.lastKnownActiveValidatedPath)

	second.challenge = &pathChallengeState{attempts: pathChallengeRetries - 1}
	second.challenge.deadline.set(now.Add(-time.Millisecond))

	err = pm.OnTimeout(now)
	require.NoError(t, err)
	assert.Equal(t, original.id, pm.ActivePathID(), "an abandoned active path reverts to the last known validated one")
}

func TestPathManagerOnTimeoutReturnsNoValidPathWithoutFallback(t *testing.T) {
	pm := newPathManager(true, 25*time.Millisecond, 1200)
	cc := newNopCongestionController()
	now := time.Now()

	p := pm.AddPath("a", nil, nil, cc)
	p.challenge = &pathChallengeState{attempts: pathChallengeRetries - 1}
	p.challenge.deadline.set(now.Add(-time.Millisecond))

	err := pm.OnTimeout(now)
	assert.ErrorIs(t, err, ErrNoValidPath)
}

func TestPathManagerCanTransmitHonoursAmplificationLimit(t *testing.T) {
	pm := newPathManager(true, 25*time.Millisecond, 1200)
	cc := newNopCongestionController()
	p := pm.AddPath("a", nil, nil, cc)
	p.OnBytesReceived(100)

	assert.True(t, pm.CanTransmit(p.id, 300))
	assert.False(t, pm.CanTransmit(p.id, 301))
}
