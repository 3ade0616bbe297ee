// Package dispatcher implements the Dispatcher: the central mediator that
// schedules test instances under a bounded-concurrency + per-group budget,
// serializes the event stream, runs the cancellation state machine, and
// aggregates RunStats (spec.md §4.5).
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpequegn/nextrun/internal/events"
	"github.com/jpequegn/nextrun/internal/execloop"
	"github.com/jpequegn/nextrun/internal/procrunner"
	"github.com/jpequegn/nextrun/internal/profile"
	"github.com/jpequegn/nextrun/internal/runstats"
	"github.com/jpequegn/nextrun/internal/supervisor"
	"github.com/jpequegn/nextrun/internal/testlist"
	"github.com/jpequegn/nextrun/internal/testsettings"
	"github.com/sourcegraph/conc"
)

// Config bundles everything the dispatcher needs for one run.
type Config struct {
	RunID       uuid.UUID
	ProfileName string
	CLIArgs     []string

	Resolver *profile.Resolver
	Reporter events.Reporter
	Shutdown events.ShutdownSource // nil disables signal handling (e.g. in tests)

	Capture         procrunner.CaptureStrategy
	MaxOutputSize   int
	SetupScripts    []execloop.SetupScript
	TargetRunner    []string
	WorkDirFor      func(inst *testlist.TestInstance) string
	EnvFor          func(inst *testlist.TestInstance) []string

	FailFast bool
	MaxFail  int // 0 = unlimited
}

// Dispatcher is the top-level coordinator for one run of a TestList.
type Dispatcher struct {
	cfg Config

	mu           sync.Mutex
	cancelReason events.CancelReason
	stats        runstats.RunStats
	paused       bool
	pauseCond    *sync.Cond
	emit         func(events.TestEvent)

	globalSem *weightedSemaphore
	groupSems map[string]*weightedSemaphore

	term *events.TerminationBroadcast

	running map[events.InstanceRef]time.Time
}

// UnitInfo is a snapshot of one currently-running test instance, returned
// by Snapshot. It is a supplemented feature (see SPEC_FULL.md) modeled on
// nextest's out-of-band GetInfo query: observing a supervisor's progress
// without affecting its lifecycle.
type UnitInfo struct {
	Instance events.InstanceRef
	Elapsed  time.Duration
}

// Snapshot returns the current elapsed time of every test instance the
// dispatcher has admitted but not yet finished. It never blocks on or
// interacts with the supervisors it reports on.
func (d *Dispatcher) Snapshot() []UnitInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]UnitInfo, 0, len(d.running))
	now := time.Now()
	for ref, start := range d.running {
		out = append(out, UnitInfo{Instance: ref, Elapsed: now.Sub(start)})
	}
	return out
}

// New builds a Dispatcher ready to Run a TestList. testThreads is the
// global concurrency cap (forced to 1 when cfg.Capture is None, since the
// children then share the parent's stdio); groupConfig declares each
// custom group's own cap.
func New(cfg Config, testThreads int, groupConfig map[string]testsettings.GroupConfig) *Dispatcher {
	if cfg.Capture == procrunner.None {
		testThreads = 1
	}
	d := &Dispatcher{
		cfg:       cfg,
		globalSem: newWeightedSemaphore(max(testThreads, 1)),
		groupSems: make(map[string]*weightedSemaphore, len(groupConfig)),
		term:      events.NewTerminationBroadcast(),
		running:   make(map[events.InstanceRef]time.Time),
	}
	d.pauseCond = sync.NewCond(&d.mu)
	for name, gc := range groupConfig {
		d.groupSems[name] = newWeightedSemaphore(max(gc.MaxThreads, 1))
	}
	return d
}

// Run schedules every instance in list, blocking until the run completes
// (all admitted tests finished, or cancellation drained the in-flight set).
// If a worker panicked, the returned error carries the first recovered
// panic; panics from other workers in the same run are not reported.
func (d *Dispatcher) Run(ctx context.Context, list *testlist.TestList) (err error) {
	start := time.Now()
	d.stats.InitialRunCount = list.RunCount()

	internalEvents := make(chan events.TestEvent, 64)
	emit := func(ev events.TestEvent) {
		internalEvents <- ev
	}
	d.emit = emit

	emit(events.TestEvent{
		Kind:        events.RunStarted,
		RunID:       d.cfg.RunID,
		ProfileName: d.cfg.ProfileName,
		CLIArgs:     d.cfg.CLIArgs,
		TotalTests:  len(list.Instances),
	})

	if len(d.cfg.SetupScripts) > 0 {
		d.stats.SetupScriptsInitialCount = len(d.cfg.SetupScripts)
		results, exportedEnv, failed := execloop.RunSetupScripts(ctx, d.cfg.SetupScripts)
		d.stats.SetupScriptsFinishedCount = len(results)
		if failed {
			d.stats.SetupScriptsFailed = 1
			d.setCancel(events.SetupScriptFailure)
		}
		if len(exportedEnv) > 0 {
			envFor := d.cfg.EnvFor
			d.cfg.EnvFor = func(inst *testlist.TestInstance) []string {
				var env []string
				if envFor != nil {
					env = envFor(inst)
				}
				return append(append([]string{}, env...), exportedEnv...)
			}
		}
	}

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()

	shutdownDone := make(chan struct{})
	if d.cfg.Shutdown != nil && d.cancelState() == events.None {
		go d.watchShutdown(watchCtx, shutdownDone)
	} else {
		close(shutdownDone)
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for ev := range internalEvents {
			d.consume(ev)
		}
	}()

	var wg conc.WaitGroup
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("dispatcher: panic during scheduling: %v", r)
			}
		}()
		d.schedule(ctx, list, &wg, emit)
	}()

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("dispatcher: worker panic(s): %v", r)
			}
		}()
		wg.Wait()
	}()

	// No further tests will be admitted or run; the shutdown watcher has
	// nothing left to relay notices to, so release it immediately instead
	// of leaving it polling until the caller's ctx happens to end.
	stopWatching()

	close(internalEvents)
	<-consumerDone
	<-shutdownDone

	d.mu.Lock()
	finalStats := d.stats
	reason := d.cancelReason
	d.mu.Unlock()

	outstanding := d.outstandingNotSeen(list, finalStats)
	reportErr := d.cfg.Reporter(events.TestEvent{
		Kind:               events.RunFinished,
		Stats:              finalStats,
		StartTime:          start,
		Reason:             reason,
		OutstandingNotSeen: outstanding,
	})
	if reportErr != nil && err == nil {
		err = reportErr
	}
	return err
}

// schedule walks list in order, admitting each instance once both the
// global and (if grouped) group budget allow it, and stops admitting new
// instances once any cancellation reason has fired (spec.md §4.5
// "Transitions").
func (d *Dispatcher) schedule(ctx context.Context, list *testlist.TestList, wg *conc.WaitGroup, emit func(events.TestEvent)) {
	for _, inst := range list.Instances {
		d.waitWhilePaused()

		if d.cancelState() != events.None {
			break
		}
		if inst.Ignored {
			emit(events.TestEvent{Kind: events.TestSkipped, Instance: refFor(inst), SkipReason: "ignored"})
			d.mu.Lock()
			d.stats.RecordFinished(runstats.OutcomeSkipped, false, false)
			d.mu.Unlock()
			continue
		}

		settings := d.cfg.Resolver.Resolve(inst.Query())
		cost := settings.ThreadsRequired
		if cost <= 0 {
			cost = 1
		}

		groupSem := d.groupSems[settings.TestGroup.Name]
		if settings.TestGroup.Kind == testsettings.Global {
			groupSem = nil
		}

		if err := d.globalSem.Acquire(ctx, cost); err != nil {
			break
		}
		if groupSem != nil {
			if err := groupSem.Acquire(ctx, cost); err != nil {
				d.globalSem.Release(cost)
				break
			}
		}

		// A blocked Acquire above can be woken by an unrelated Release from
		// a finishing test after cancellation already fired; recheck here
		// rather than admitting one more test past the cutoff.
		if d.cancelState() != events.None {
			d.globalSem.Release(cost)
			if groupSem != nil {
				groupSem.Release(cost)
			}
			break
		}

		wg.Go(func() {
			defer d.globalSem.Release(cost)
			if groupSem != nil {
				defer groupSem.Release(cost)
			}
			d.runOne(ctx, inst, settings, emit)
		})
	}
}

// runOne drives one test instance's full attempt chain via execloop and
// translates its lifecycle into the external event stream.
func (d *Dispatcher) runOne(ctx context.Context, inst *testlist.TestInstance, settings testsettings.TestSettings, emit func(events.TestEvent)) {
	ref := refFor(inst)
	termID, termCh := d.term.Subscribe()
	defer d.term.Unsubscribe(termID)

	d.mu.Lock()
	d.running[ref] = time.Now()
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.running, ref)
		d.mu.Unlock()
	}()

	workDir := ""
	if d.cfg.WorkDirFor != nil {
		workDir = d.cfg.WorkDirFor(inst)
	}
	var baseEnv []string
	if d.cfg.EnvFor != nil {
		baseEnv = d.cfg.EnvFor(inst)
	}

	cfgFor := func(attempt int) procrunner.Config {
		env := append(append([]string{}, baseEnv...),
			fmt.Sprintf("NEXTRUN_RUN_ID=%s", d.cfg.RunID),
			fmt.Sprintf("NEXTRUN_ATTEMPT=%d", attempt))
		return procrunner.Config{
			BinaryPath:    inst.Binary.Path,
			TestName:      inst.TestName,
			Ignored:       inst.Ignored,
			WorkDir:       workDir,
			Env:           env,
			Capture:       d.cfg.Capture,
			MaxOutputSize: d.cfg.MaxOutputSize,
			TargetRunner:  d.cfg.TargetRunner,
		}
	}

	hooks := execloop.AttemptHook{
		BeforeAttempt: func(rd testsettings.RetryData) {
			kind := events.TestStarted
			if rd.Attempt > 1 {
				kind = events.TestRetryStarted
			}
			emit(events.TestEvent{Kind: kind, Instance: ref, RetryData: rd})
		},
		AfterAttempt: func(status *supervisor.ExecuteStatus, rd testsettings.RetryData, willRetry bool) {
			if willRetry {
				emit(events.TestEvent{Kind: events.TestAttemptFailedWillRetry, Instance: ref, RetryData: rd, DelayBefore: status.DelayBeforeStart})
			}
		},
		OnSlow: func(elapsed time.Duration, willTerminate bool) {
			emit(events.TestEvent{Kind: events.TestSlow, Instance: ref, Elapsed: elapsed, WillTerminate: willTerminate})
		},
	}

	statuses := execloop.RunInstance(ctx, supervisor.UnitSupervisor{}, cfgFor, settings, termCh, d.cancelState, hooks)

	outcome, slow, leaked := classifyForStats(statuses)
	emit(events.TestEvent{
		Kind:      events.TestFinished,
		Instance:  ref,
		RetryData: statuses.Last().RetryData,
		RunStatus: events.RunStatusSummary{
			Attempt:  statuses.Last().RetryData,
			Result:   statuses.Last().Result.Kind.String(),
			Duration: statuses.Last().Duration,
		},
	})

	d.mu.Lock()
	d.stats.RecordFinished(outcome, slow, leaked)
	failed := outcome == runstats.OutcomeFailed || outcome == runstats.OutcomeTimedOut || outcome == runstats.OutcomeExecFailed
	d.mu.Unlock()

	if failed {
		d.maybeTriggerTestFailure()
	}
}

func classifyForStats(statuses execloop.ExecutionStatuses) (runstats.Outcome, bool, bool) {
	last := statuses.Last()
	if last == nil {
		return runstats.OutcomeExecFailed, false, false
	}
	switch last.Result.Kind {
	case supervisor.ExecFail:
		return runstats.OutcomeExecFailed, last.IsSlow, last.Leaked
	case supervisor.Timeout:
		return runstats.OutcomeTimedOut, last.IsSlow, last.Leaked
	case supervisor.Pass:
		if len(statuses.Chain) >= 2 {
			return runstats.OutcomeFlaky, last.IsSlow, last.Leaked
		}
		return runstats.OutcomePass, last.IsSlow, last.Leaked
	default:
		return runstats.OutcomeFailed, last.IsSlow, last.Leaked
	}
}

// maybeTriggerTestFailure applies fail-fast/max_fail policy (spec.md §4.5).
func (d *Dispatcher) maybeTriggerTestFailure() {
	d.mu.Lock()
	if d.cancelReason != events.None {
		d.mu.Unlock()
		return
	}
	totalFailed := d.stats.Failed + d.stats.TimedOut + d.stats.ExecFailed
	trigger := (d.cfg.FailFast && totalFailed >= 1) || (d.cfg.MaxFail > 0 && totalFailed >= d.cfg.MaxFail)
	d.mu.Unlock()
	if trigger {
		d.setCancel(events.TestFailure)
	}
}

// setCancel advances the monotonic cancellation state machine and, the
// first time cancelReason leaves None, emits RunBeginCancel with a
// snapshot of what is still in flight (spec.md §6, Scenario D).
func (d *Dispatcher) setCancel(reason events.CancelReason) {
	d.mu.Lock()
	transitioned := false
	if reason > d.cancelReason {
		d.cancelReason = reason
		transitioned = true
	}
	running := len(d.running)
	d.mu.Unlock()

	if transitioned && d.emit != nil {
		d.emit(events.TestEvent{
			Kind:    events.RunBeginCancel,
			Reason:  reason,
			Running: running,
		})
	}
}

func (d *Dispatcher) cancelState() events.CancelReason {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelReason
}

// consume is the sole event-stream consumer, run on one goroutine, which
// forwards to the external reporter and escalates ReportError on failure
// (spec.md §4.5 "Event stream").
func (d *Dispatcher) consume(ev events.TestEvent) {
	if err := d.cfg.Reporter(ev); err != nil {
		d.setCancel(events.ReportError)
	}
}

// watchShutdown relays external ShutdownEvents into the cancellation state
// machine and the termination broadcast (spec.md §4.5 "Cancellation state
// machine"). A first event requests graceful termination; a second
// escalates to forceful; further events are ignored here (a third may
// abort the whole process, an external concern outside this dispatcher).
func (d *Dispatcher) watchShutdown(ctx context.Context, done chan struct{}) {
	defer close(done)
	seen := 0
	for {
		ev, err := d.cfg.Shutdown.Recv(ctx)
		if err != nil {
			return
		}
		_ = ev
		seen++
		switch seen {
		case 1:
			d.setCancel(events.Signal)
			d.term.Send(events.Signal)
		case 2:
			d.setCancel(events.SecondSignal)
			d.term.Send(events.SecondSignal)
			return
		default:
			return
		}
	}
}

// Pause freezes admission of new tests (spec.md §4.5 "Pause/Resume", an
// optional feature). Freezing already-running children's clocks and
// sending them an OS-level stop signal needs raw signal plumbing, which is
// out of scope (spec.md Non-goals); only the admission-side half is
// implemented here.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// Continue resumes a paused dispatcher.
func (d *Dispatcher) Continue() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	d.pauseCond.Broadcast()
}

func (d *Dispatcher) waitWhilePaused() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.paused {
		d.pauseCond.Wait()
	}
}

// outstandingNotSeen lists instances that never finished because the run
// was canceled (spec.md §4.5 "Aggregation").
func (d *Dispatcher) outstandingNotSeen(list *testlist.TestList, stats runstats.RunStats) []events.InstanceRef {
	seen := stats.FinishedCount + stats.Skipped
	if seen >= len(list.Instances) {
		return nil
	}
	var out []events.InstanceRef
	for _, inst := range list.Instances[seen:] {
		out = append(out, refFor(inst))
	}
	return out
}

func refFor(inst *testlist.TestInstance) events.InstanceRef {
	return events.InstanceRef{Query: inst.Query(), ID: inst.Binary.BinaryName + "::" + inst.TestName}
}
