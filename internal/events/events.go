// Package events defines the external-facing contracts of the dispatcher:
// the TestEvent stream, the ShutdownEvent signal source, the reporter
// callback, and cancellation reasons (spec.md §6, §7, Glossary).
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpequegn/nextrun/internal/query"
	"github.com/jpequegn/nextrun/internal/runstats"
	"github.com/jpequegn/nextrun/internal/testsettings"
)

// ShutdownKind enumerates the external shutdown signals the dispatcher
// reacts to, platform-adjusted at the signal-source boundary.
type ShutdownKind int

const (
	Interrupt ShutdownKind = iota
	Term
	Hangup
)

// ShutdownEvent is one signal delivered by the external signal source.
type ShutdownEvent struct {
	Kind ShutdownKind
}

// ShutdownSource is the abstract, mockable signal stream the dispatcher
// consumes (spec.md §6 "External signal source").
type ShutdownSource interface {
	Recv(ctx context.Context) (ShutdownEvent, error)
}

// CancelReason is the monotonically increasing cancellation state
// machine from spec.md §4.5 / §5.
type CancelReason int

const (
	// None is the initial, non-cancelled state.
	None CancelReason = iota
	TestFailure
	SetupScriptFailure
	ReportError
	Signal
	SecondSignal
)

func (r CancelReason) String() string {
	switch r {
	case None:
		return "none"
	case TestFailure:
		return "test-failure"
	case SetupScriptFailure:
		return "setup-script-failure"
	case ReportError:
		return "report-error"
	case Signal:
		return "signal"
	case SecondSignal:
		return "second-signal"
	default:
		return "unknown"
	}
}

// InstanceRef identifies a test instance in events without requiring the
// full TestInstance value (this package does not import testlist; both
// share the query package's TestQuery).
type InstanceRef struct {
	Query query.TestQuery
	ID    string
}

// RunStatusSummary is the condensed per-attempt record carried by
// TestEvent; the full ExecuteStatus/ExecutionStatuses live in execloop.
type RunStatusSummary struct {
	Attempt  testsettings.RetryData
	Result   string // "pass", "fail", "exec-fail", "timeout"
	Duration time.Duration
}

// Kind discriminates the TestEvent variants from spec.md §6.
type Kind int

const (
	RunStarted Kind = iota
	SetupScriptStarted
	SetupScriptSlow
	SetupScriptFinished
	TestStarted
	TestSlow
	TestAttemptFailedWillRetry
	TestRetryStarted
	TestFinished
	TestSkipped
	RunBeginCancel
	RunPaused
	RunContinued
	RunFinished
)

// TestEvent is the serialized lifecycle event the dispatcher emits to the
// reporter. Only the fields relevant to Kind are populated.
type TestEvent struct {
	Kind Kind

	// RunStarted
	RunID       uuid.UUID
	ProfileName string
	CLIArgs     []string
	TotalTests  int

	// Test-scoped events
	Instance            InstanceRef
	RetryData           testsettings.RetryData
	Elapsed             time.Duration
	WillTerminate       bool
	DelayBefore         time.Duration
	RunStatus           RunStatusSummary
	SkipReason          string
	Running             int
	SetupScriptsRunning int

	// RunFinished / RunBeginCancel
	Reason             CancelReason
	Stats              runstats.RunStats
	StartTime          time.Time
	OutstandingNotSeen []InstanceRef
}

// Reporter is the fallible, possibly-blocking external callback the
// dispatcher calls serially for every event (spec.md §6).
type Reporter func(TestEvent) error

// TerminationBroadcast fans a Signal/SecondSignal cancellation out to every
// UnitSupervisor currently running an attempt. It exists because a plain
// channel close can only ever fire once, but the dispatcher needs to
// deliver two distinct escalating notices (spec.md §4.5's Signal →
// SecondSignal progression) to every live subscriber.
type TerminationBroadcast struct {
	mu   sync.Mutex
	next int
	subs map[int]chan CancelReason
}

// NewTerminationBroadcast returns a ready-to-use broadcast.
func NewTerminationBroadcast() *TerminationBroadcast {
	return &TerminationBroadcast{subs: make(map[int]chan CancelReason)}
}

// Subscribe registers a new listener. The returned channel receives every
// Send call made after this point; callers must Unsubscribe when done.
func (b *TerminationBroadcast) Subscribe() (id int, ch <-chan CancelReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id = b.next
	b.next++
	c := make(chan CancelReason, 2)
	b.subs[id] = c
	return id, c
}

// Unsubscribe removes a listener registered by Subscribe.
func (b *TerminationBroadcast) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Send delivers reason to every current subscriber without blocking; a
// subscriber slow enough to fill its buffer of 2 misses no reason it
// actually needs to act on, since Signal and SecondSignal are each sent
// at most once over the run's lifetime.
func (b *TerminationBroadcast) Send(reason CancelReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.subs {
		select {
		case c <- reason:
		default:
		}
	}
}
