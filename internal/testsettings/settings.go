// Package testsettings holds the resolved, per-test configuration record
// (TestSettings) and its constituent value types (TestGroup, SlowTimeout,
// RetryData).
package testsettings

import (
	"fmt"
	"regexp"
	"time"

	"github.com/jpequegn/nextrun/internal/retry"
)

// GroupKind distinguishes the always-present Global group from a
// user-defined Custom one.
type GroupKind int

const (
	Global GroupKind = iota
	Custom
)

// validGroupName matches nextest's identifier rule for custom group
// names: starts with a letter or underscore, then letters/digits/_/-.
var validGroupName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// TestGroup names the concurrency bucket a test is assigned to.
type TestGroup struct {
	Kind GroupKind
	Name string // only meaningful when Kind == Custom
}

// GlobalGroup is the default, unbounded-by-group test group.
var GlobalGroup = TestGroup{Kind: Global}

// NewCustomGroup validates name and returns a Custom TestGroup.
func NewCustomGroup(name string) (TestGroup, error) {
	if !validGroupName.MatchString(name) {
		return TestGroup{}, fmt.Errorf("testsettings: invalid group name %q", name)
	}
	return TestGroup{Kind: Custom, Name: name}, nil
}

func (g TestGroup) String() string {
	if g.Kind == Global {
		return "@global"
	}
	return g.Name
}

// GroupConfig is the top-level declaration of a Custom group's capacity.
type GroupConfig struct {
	MaxThreads int
}

// SlowTimeout configures the periodic "still running" heartbeat and, if
// TerminateAfter is nonzero, when to begin graceful termination.
type SlowTimeout struct {
	Period         time.Duration
	TerminateAfter int // 0 = never terminate due to slowness
	GracePeriod    time.Duration
}

// DefaultSlowTimeout mirrors nextest's built-in default: warn every 60s,
// never auto-terminate, 10s grace period once something does terminate it.
var DefaultSlowTimeout = SlowTimeout{
	Period:         60 * time.Second,
	TerminateAfter: 0,
	GracePeriod:    10 * time.Second,
}

// RetryData describes where in its attempt chain a running test is.
type RetryData struct {
	Attempt      int
	TotalAttempts int
}

// IsLastAttempt reports whether no further attempts remain after this one.
func (r RetryData) IsLastAttempt() bool { return r.Attempt >= r.TotalAttempts }

// TestSettings is the fully resolved per-test configuration bundle
// produced by the config resolver for one TestQuery.
type TestSettings struct {
	ThreadsRequired int
	Retries         retry.Policy
	SlowTimeout     SlowTimeout
	LeakTimeout     time.Duration
	TestGroup       TestGroup
}

// DefaultLeakTimeout is nextest's built-in default: 100ms is enough for
// almost every legitimate descendant to close its pipes.
const DefaultLeakTimeout = 100 * time.Millisecond

// Defaults returns the built-in settings used as the final fallback when
// neither a profile nor any override specifies a field.
func Defaults() TestSettings {
	return TestSettings{
		ThreadsRequired: 1,
		Retries:         retry.Policy{},
		SlowTimeout:     DefaultSlowTimeout,
		LeakTimeout:     DefaultLeakTimeout,
		TestGroup:       GlobalGroup,
	}
}
