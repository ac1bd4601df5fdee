package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTTEstimatorFirstSampleSeedsSmoothed(t *testing.T) {
	r := newRTTEstimator(25 * time.Millisecond)
	now := time.Now()
	r.update(100*time.Millisecond, 0, now, false, SpaceApplicationData)

	require.Equal(t, 100*time.Millisecond, r.smoothed)
	require.Equal(t, 50*time.Millisecond, r.rttvar)
	require.Equal(t, 100*time.Millisecond, r.min)
}

func TestRTTEstimatorSubsequentSampleUsesEWMA(t *testing.T) {
	r := newRTTEstimator(25 * time.Millisecond)
	now := time.Now()
	r.update(100*time.Millisecond, 0, now, false, SpaceApplicationData)
	r.update(120*time.Millisecond, 5*time.Millisecond, now, true, SpaceApplicationData)

	assert.Greater(t, int64(r.smoothed), int64(100*time.Millisecond))
	assert.Less(t, int64(r.smoothed), int64(120*time.Millisecond))
}

func TestRTTEstimatorMaxAckDelayClampsOnlyAfterHandshakeConfirmed(t *testing.T) {
	r := newRTTEstimator(10 * time.Millisecond)
	now := time.Now()
	r.update(100*time.Millisecond, 0, now, false, SpaceInitial)
	// Initial space, ack delay is ignored entirely regardless of clamp.
	r.update(130*time.Millisecond, 50*time.Millisecond, now, false, SpaceInitial)
	smoothedUnclamped := r.smoothed

	r2 := newRTTEstimator(10 * time.Millisecond)
	r2.update(100*time.Millisecond, 0, now, true, SpaceApplicationData)
	r2.update(130*time.Millisecond, 50*time.Millisecond, now, true, SpaceApplicationData)

	assert.NotEqual(t, smoothedUnclamped, r2.smoothed)
}

func TestPTOPeriodAddsMaxAckDelayOnlyForApplicationData(t *testing.T) {
	r := newRTTEstimator(25 * time.Millisecond)
	now := time.Now()
	r.update(100*time.Millisecond, 0, now, true, SpaceApplicationData)

	initialPTO := r.ptoPeriod(0, SpaceInitial)
	appPTO := r.ptoPeriod(0, SpaceApplicationData)
	assert.Equal(t, 25*time.Millisecond, appPTO-initialPTO)
}

func TestPTOPeriodBackoffDoubles(t *testing.T) {
	r := newRTTEstimator(0)
	now := time.Now()
	r.update(100*time.Millisecond, 0, now, true, SpaceInitial)

	base := r.ptoPeriod(InitialPTOBackoff, SpaceInitial)
	doubled := r.ptoPeriod(2*InitialPTOBackoff, SpaceInitial)
	quadrupled := r.ptoPeriod(4*InitialPTOBackoff, SpaceInitial)
	assert.Equal(t, base*2, doubled)
	assert.Equal(t, base*4, quadrupled)
}

func TestPersistentCongestionThresholdIsThreePTOsWide(t *testing.T) {
	r := newRTTEstimator(10 * time.Millisecond)
	now := time.Now()
	r.update(50*time.Millisecond, 0, now, true, SpaceApplicationData)

	threshold := r.persistentCongestionThreshold()
	assert.True(t, threshold > 0)
	assert.Equal(t, (r.smoothed+4*r.rttvar+r.maxAckDelay)*3, threshold)
}
