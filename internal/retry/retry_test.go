package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedJitterWithZeroDelayRejected(t *testing.T) {
	_, err := NewFixed(3, 0, true)
	require.Error(t, err)
}

func TestFixedJitterWithDelayAccepted(t *testing.T) {
	_, err := NewFixed(3, time.Second, true)
	require.NoError(t, err)
}

func TestExponentialCountZeroRejected(t *testing.T) {
	_, err := NewExponential(0, time.Second, false, 0)
	require.Error(t, err)
}

func TestExponentialMaxDelayLessThanDelayRejected(t *testing.T) {
	_, err := NewExponential(3, 2*time.Second, false, time.Second)
	require.Error(t, err)
}

func TestExponentialZeroDelayRejected(t *testing.T) {
	_, err := NewExponential(3, 0, false, 0)
	require.Error(t, err)
}

func TestTotalAttempts(t *testing.T) {
	p, err := NewFixed(2, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 3, p.TotalAttempts())
}

func TestDelayForFirstAttemptIsZero(t *testing.T) {
	p, err := NewFixed(2, time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), p.DelayFor(1, nil))
	assert.Equal(t, time.Second, p.DelayFor(2, nil))
}

func TestExponentialGrowsAndClamps(t *testing.T) {
	p, err := NewExponential(5, time.Second, false, 4*time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, p.DelayFor(2, nil))
	assert.Equal(t, 2*time.Second, p.DelayFor(3, nil))
	assert.Equal(t, 4*time.Second, p.DelayFor(4, nil))
	assert.Equal(t, 4*time.Second, p.DelayFor(5, nil), "clamped at max_delay")
}
