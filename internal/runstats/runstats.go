// Package runstats implements RunStats, the aggregate counters owned
// exclusively by the dispatcher (spec.md §3, §4.5, §8).
package runstats

// RunStats mirrors spec.md's aggregate counters. It carries no mutex of
// its own: the dispatcher is its sole owner and serializes every update
// under the dispatcher's lock.
type RunStats struct {
	InitialRunCount int
	FinishedCount   int

	Passed     int
	PassedSlow int
	Flaky      int
	Failed     int
	TimedOut   int
	Leaky      int
	LeakyFailed int
	ExecFailed int
	Skipped    int

	SetupScriptsInitialCount int
	SetupScriptsFinishedCount int
	SetupScriptsFailed       int
}

// Outcome enumerates how one ExecutionStatuses chain concluded, as seen
// by the aggregator (spec.md §8 invariant 2 and 4).
type Outcome int

const (
	OutcomePass Outcome = iota
	OutcomeFlaky
	OutcomeFailed
	OutcomeTimedOut
	OutcomeExecFailed
	OutcomeSkipped
)

// RecordFinished updates counters for one completed test instance. slow
// reports whether the passing attempt crossed its slow-timeout threshold
// (passed_slow is a subset of passed); leaked reports the Leak
// augmentation described in spec.md §4.3, counted as Leaky for a pass and
// LeakyFailed for a failure.
func (s *RunStats) RecordFinished(o Outcome, slow, leaked bool) {
	if o == OutcomeSkipped {
		// Ignored tests that were never scheduled are not part of
		// initial_run_count and therefore not part of finished_count
		// either (spec.md §8 invariant 2, Scenario A).
		s.Skipped++
		return
	}
	s.FinishedCount++
	switch o {
	case OutcomePass, OutcomeFlaky:
		s.Passed++
		if slow {
			s.PassedSlow++
		}
		if o == OutcomeFlaky {
			s.Flaky++
		}
		if leaked {
			s.Leaky++
		}
	case OutcomeFailed:
		s.Failed++
		if leaked {
			s.LeakyFailed++
		}
	case OutcomeTimedOut:
		s.TimedOut++
	case OutcomeExecFailed:
		s.ExecFailed++
	}
}

// Invariant checks property 2 from spec.md §8:
// finished_count = passed + failed + timed_out + exec_failed.
func (s RunStats) Invariant() bool {
	return s.FinishedCount == s.Passed+s.Failed+s.TimedOut+s.ExecFailed
}
