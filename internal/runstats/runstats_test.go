package runstats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestScenarioA mirrors spec.md Scenario A.
func TestScenarioA(t *testing.T) {
	var s RunStats
	s.InitialRunCount = 2
	s.RecordFinished(OutcomePass, false, false)
	s.RecordFinished(OutcomeFailed, false, false)
	s.RecordFinished(OutcomeSkipped, false, false)

	assert.Equal(t, 2, s.FinishedCount)
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 0, s.Flaky)
	assert.True(t, s.Invariant())
	assert.True(t, s.InitialRunCount >= s.FinishedCount)
}

// TestFlakyIncrementsBothPassedAndFlaky mirrors spec.md §8 invariant 4.
func TestFlakyIncrementsBothPassedAndFlaky(t *testing.T) {
	var s RunStats
	s.RecordFinished(OutcomeFlaky, false, false)
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, 1, s.Flaky)
	assert.True(t, s.Invariant())
}

func TestLeakAugmentsPassOrFail(t *testing.T) {
	var s RunStats
	s.RecordFinished(OutcomePass, false, true)
	s.RecordFinished(OutcomeFailed, false, true)
	assert.Equal(t, 1, s.Leaky)
	assert.Equal(t, 1, s.LeakyFailed)
}
