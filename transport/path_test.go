package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPath(isServer bool) *Path {
	return newPath(0, []byte{1}, []byte{2}, 25*time.Millisecond, newNopCongestionController(), 1200, isServer)
}

func TestPathAmplificationLimitAppliesOnlyToUnvalidatedServerPaths(t *testing.T) {
	p := newTestPath(true)
	p.OnBytesReceived(100)
	p.onBytesTransmitted(299)
	assert.False(t, p.AtAmplificationLimit())

	p.onBytesTransmitted(1)
	assert.True(t, p.AtAmplificationLimit())

	p.OnHandshakePacket()
	assert.False(t, p.AtAmplificationLimit(), "a validated path is never amplification-limited")
}

func TestPathClientNeverAmplificationLimited(t *testing.T) {
	p := newTestPath(false)
	p.onBytesTransmitted(1_000_000)
	assert.False(t, p.AtAmplificationLimit())
}

func TestPathChallengeRoundTripValidates(t *testing.T) {
	p := newTestPath(true)
	rng := &sequenceRandom{next: 7}
	now := time.Now()
	frame, err := p.SetChallenge(rng, now, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, p.ChallengePending())

	ok := p.OnPathResponse(PathResponseFrame{Data: frame.Data})
	assert.True(t, ok)
	assert.True(t, p.Validated())
	assert.False(t, p.ChallengePending())
}

func TestPathChallengeMismatchedResponseIsIgnored(t *testing.T) {
	p := newTestPath(true)
	rng := &sequenceRandom{next: 1}
	_, err := p.SetChallenge(rng, time.Now(), 10*time.Millisecond)
	require.NoError(t, err)

	ok := p.OnPathResponse(PathResponseFrame{Data: [8]byte{9, 9, 9, 9, 9, 9, 9, 9}})
	assert.False(t, ok)
	assert.True(t, p.ChallengePending(), "a mismatched response must not clear the outstanding challenge")
}

func TestPathChallengeAbandonsAfterRetriesExhausted(t *testing.T) {
	p := newTestPath(true)
	rng := &sequenceRandom{next: 3}
	now := time.Now()
	pto := 5 * time.Millisecond
	_, err := p.SetChallenge(rng, now, pto)
	require.NoError(t, err)

	for i := 0; i < pathChallengeRetries; i++ {
		now = now.Add(pto)
		p.OnTimeout(now)
	}
	assert.True(t, p.Abandoned())
	assert.False(t, p.ChallengePending())
}

func TestPathOnTransmitResendsBeforeAbandoning(t *testing.T) {
	p := newTestPath(true)
	rng := &sequenceRandom{next: 4}
	now := time.Now()
	pto := 5 * time.Millisecond
	_, err := p.SetChallenge(rng, now, pto)
	require.NoError(t, err)

	_, due := p.OnTransmit(now, pto)
	assert.False(t, due, "not yet expired")

	now = now.Add(pto)
	frame, due := p.OnTransmit(now, pto)
	assert.True(t, due)
	assert.Equal(t, p.challenge.data, frame.Data)
	assert.False(t, p.Abandoned())
}
