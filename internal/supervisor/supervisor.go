package supervisor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jpequegn/nextrun/internal/events"
	"github.com/jpequegn/nextrun/internal/procrunner"
	"github.com/jpequegn/nextrun/internal/testsettings"
)

// ErrAttemptAborted is returned when cancellation fires before the child is
// even spawned (during the inter-attempt delay): the attempt never started
// and must not be counted (spec.md §4.3 step 1).
var ErrAttemptAborted = errors.New("supervisor: attempt aborted before spawn")

// SlowObserver is notified on every slow-timeout heartbeat. willTerminate
// is true on the heartbeat that triggers graceful termination.
type SlowObserver func(elapsed time.Duration, willTerminate bool)

// UnitSupervisor drives one attempt of one test instance end to end:
// optional inter-attempt delay, spawn, heartbeat loop, exit classification,
// and graceful-then-forceful termination (spec.md §4.3).
type UnitSupervisor struct {
	Rnd *rand.Rand // nil uses the package-level source
}

// RunAttempt executes a single attempt described by cfg/settings/retryData.
// shutdown delivers Signal/SecondSignal cancellation reasons from the
// dispatcher's events.TerminationBroadcast; it may be nil for a context
// that never broadcasts run-wide cancellation (e.g. in isolated tests).
func (s UnitSupervisor) RunAttempt(
	ctx context.Context,
	cfg procrunner.Config,
	settings testsettings.TestSettings,
	retryData testsettings.RetryData,
	shutdown <-chan events.CancelReason,
	onSlow SlowObserver,
) (*ExecuteStatus, error) {
	delay := settings.Retries.DelayFor(retryData.Attempt, s.Rnd)
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ErrAttemptAborted
		case reason, ok := <-shutdown:
			if ok && (reason == events.Signal || reason == events.SecondSignal) {
				return nil, ErrAttemptAborted
			}
		}
	}

	start := time.Now()
	handle, err := procrunner.Spawn(ctx, cfg)
	if err != nil {
		return &ExecuteStatus{
			RetryData:        retryData,
			Result:           Result{Kind: ExecFail},
			StartTime:        start,
			Duration:         time.Since(start),
			DelayBeforeStart: delay,
		}, nil
	}

	status := s.heartbeat(handle, settings, retryData, start, delay, shutdown, onSlow)
	return status, nil
}

// heartbeat implements spec.md §4.3 steps 3-5: the cooperative wait loop,
// exit classification, and leak detection.
func (s UnitSupervisor) heartbeat(
	handle *procrunner.Handle,
	settings testsettings.TestSettings,
	retryData testsettings.RetryData,
	start time.Time,
	delay time.Duration,
	shutdown <-chan events.CancelReason,
	onSlow SlowObserver,
) *ExecuteStatus {
	var ticker *time.Ticker
	var tickC <-chan time.Time
	if settings.SlowTimeout.Period > 0 {
		ticker = time.NewTicker(settings.SlowTimeout.Period)
		defer ticker.Stop()
		tickC = ticker.C
	}

	isSlow := false
	heartbeats := 0
	escalated := false

loop:
	for {
		select {
		case <-handle.Done():
			break loop
		case <-tickC:
			heartbeats++
			isSlow = true
			elapsed := time.Since(start)
			willTerminate := settings.SlowTimeout.TerminateAfter > 0 &&
				heartbeats == settings.SlowTimeout.TerminateAfter
			if onSlow != nil {
				onSlow(elapsed, willTerminate)
			}
			if willTerminate {
				// A slow-timeout termination reads as Timeout whether the
				// child exits on the polite signal or has to be killed.
				s.terminate(handle, settings.SlowTimeout.GracePeriod, shutdown)
				escalated = true
				break loop
			}
		case reason, ok := <-shutdown:
			if !ok {
				// A closed channel would otherwise be selected on every
				// loop iteration; nil it out so the select blocks on it.
				shutdown = nil
				continue
			}
			switch reason {
			case events.Signal:
				escalated = s.terminate(handle, settings.SlowTimeout.GracePeriod, shutdown)
				break loop
			case events.SecondSignal:
				// No grace period on the second signal: kill immediately.
				_ = handle.Kill()
				<-handle.Done()
				escalated = true
				break loop
			}
		}
	}

	// Either the process exited on its own, or terminate() above already
	// waited for it (possibly escalating to a forceful kill). Wait is
	// idempotent, so calling it again just returns the recorded outcome.
	outcome := handle.Wait()
	duration := time.Since(start)

	leaked := s.awaitPipeClosure(handle, settings.LeakTimeout)

	result := classify(outcome, escalated)

	return &ExecuteStatus{
		RetryData:        retryData,
		Result:           result,
		StartTime:        start,
		Duration:         duration,
		IsSlow:           isSlow,
		DelayBeforeStart: delay,
		Leaked:           leaked,
		Captured:         handle.Output(),
	}
}

// terminate sends the polite signal, then escalates to a forceful kill if
// the process hasn't exited within grace. It blocks until the process has
// actually exited, since the caller (heartbeat's select loop) has already
// moved past waiting for Done(). The returned bool reports whether
// escalation to a forceful kill actually happened, which is what
// distinguishes a Timeout result from a plain signal-induced Fail when
// termination was requested by a run-wide Signal (a slow-timeout
// termination is always a Timeout, whatever this returns). It keeps
// reading shutdown while waiting out the grace period so a SecondSignal
// arriving mid-wait escalates immediately instead of being dropped.
func (s UnitSupervisor) terminate(handle *procrunner.Handle, grace time.Duration, shutdown <-chan events.CancelReason) bool {
	_ = handle.Terminate()
	if grace <= 0 {
		grace = testsettings.DefaultSlowTimeout.GracePeriod
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	for {
		select {
		case <-handle.Done():
			return false
		case <-timer.C:
			_ = handle.Kill()
			<-handle.Done()
			return true
		case reason, ok := <-shutdown:
			if !ok {
				shutdown = nil
				continue
			}
			if reason == events.SecondSignal {
				_ = handle.Kill()
				<-handle.Done()
				return true
			}
		}
	}
}

// awaitPipeClosure waits up to leakTimeout for both stdout and stderr to
// report EOF after the process has exited (spec.md §4.3 step 4). Returns
// true if either stream was still open when the timeout elapsed.
func (s UnitSupervisor) awaitPipeClosure(handle *procrunner.Handle, leakTimeout time.Duration) bool {
	stdout, stderr := handle.PipesClosed()
	if stdout == nil && stderr == nil {
		return false // CaptureStrategy None: nothing to leak-detect
	}
	if leakTimeout <= 0 {
		leakTimeout = testsettings.DefaultLeakTimeout
	}
	timer := time.NewTimer(leakTimeout)
	defer timer.Stop()

	stdoutDone := stdout == nil
	stderrDone := stderr == nil
	for !stdoutDone || !stderrDone {
		select {
		case <-stdout:
			stdoutDone = true
			stdout = nil
		case <-stderr:
			stderrDone = true
			stderr = nil
		case <-timer.C:
			return true
		}
	}
	return false
}

// classify turns a raw process ExitOutcome into a Result, per spec.md §4.3
// step 4: escalated is set for every slow-timeout termination and for a
// run-wide signal that ended in a forceful kill, and always reads as
// Timeout; a process that exits on its own, or on the polite signal sent
// for a run-wide Signal, is classified by its actual exit state.
func classify(outcome procrunner.ExitOutcome, escalated bool) Result {
	if escalated {
		return Result{Kind: Timeout}
	}
	switch outcome.Kind {
	case procrunner.ExitSuccess:
		return Result{Kind: Pass}
	case procrunner.ExitCode:
		if outcome.SpawnErr != nil {
			return Result{Kind: ExecFail}
		}
		if outcome.Code == 0 {
			return Result{Kind: Pass}
		}
		return Result{Kind: Fail, FailKind: FailExitCode, Code: outcome.Code}
	case procrunner.ExitSignal:
		return Result{Kind: Fail, FailKind: FailSignal, Code: outcome.Signal}
	case procrunner.ExitJobObject:
		return Result{Kind: Fail, FailKind: FailJobObject, Code: outcome.Code}
	default:
		return Result{Kind: ExecFail}
	}
}
