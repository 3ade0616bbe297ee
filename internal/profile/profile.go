// Package profile implements ConfigResolver: the layered profile system
// that merges a base TestSettings with an ordered list of overrides,
// matched by platform predicate and/or filter expression, field-wise and
// first-match-wins (spec.md §4.2).
package profile

import (
	"fmt"
	"time"

	"github.com/jpequegn/nextrun/internal/filterexpr"
	"github.com/jpequegn/nextrun/internal/query"
	"github.com/jpequegn/nextrun/internal/retry"
	"github.com/jpequegn/nextrun/internal/testsettings"
)

// Override is one entry in a Profile's ordered override list. At least
// one of Platform or Filter must be set (enforced by Validate).
type Override struct {
	Platform *PlatformSpec
	Filter   *filterexpr.Expr

	// Partial settings: nil means "not specified by this override".
	ThreadsRequired *int
	Retries         *retry.Policy
	SlowTimeout     *testsettings.SlowTimeout
	LeakTimeout     *time.Duration
	TestGroup       *testsettings.TestGroup
}

// Validate checks the "at least one of platform_spec or filter" rule.
func (o Override) Validate() error {
	if o.Platform == nil && o.Filter == nil {
		return fmt.Errorf("profile: override must specify platform_spec, filter, or both")
	}
	return nil
}

// SetupScriptSpec is the config-file representation of a setup script to
// run, in declared order, before any test starts. It is kept free of a
// dependency on execloop (the cmd layer converts it at the point of use).
type SetupScriptSpec struct {
	Name    string
	Command string
	Args    []string
	WorkDir string
	Timeout time.Duration
}

// Profile is a named, fully-loaded configuration layer: base settings,
// ordered overrides, group capacity declarations, and run-level policy.
type Profile struct {
	Name            string
	BaseSettings    testsettings.TestSettings
	Overrides       []Override
	TestGroupConfig map[string]testsettings.GroupConfig
	MaxFail         *int
	FailFast        bool
	TestThreads     int
	RequiredVersion string // supplemented feature: minimum engine version, "" = unconstrained
	SetupScripts    []SetupScriptSpec
}

// ValidateGroups rejects any Custom group referenced by an override or by
// BaseSettings that is not declared in TestGroupConfig, per spec.md §4.2
// ("test groups must be defined at the top level; unknown group
// references are rejected at load time with a structured error listing
// known groups").
func (p *Profile) ValidateGroups() error {
	known := make([]string, 0, len(p.TestGroupConfig))
	for name := range p.TestGroupConfig {
		known = append(known, name)
	}
	check := func(g *testsettings.TestGroup) error {
		if g == nil || g.Kind == testsettings.Global {
			return nil
		}
		if _, ok := p.TestGroupConfig[g.Name]; !ok {
			return fmt.Errorf("profile: unknown test group %q (known groups: %v)", g.Name, known)
		}
		return nil
	}
	if err := check(&p.BaseSettings.TestGroup); err != nil {
		return err
	}
	for i := range p.Overrides {
		if err := check(p.Overrides[i].TestGroup); err != nil {
			return err
		}
	}
	return nil
}

// Resolver resolves a TestQuery against a Profile into TestSettings.
type Resolver struct {
	Profile *Profile
	HostOS  string
	TargetOS string
}

// NewResolver builds a Resolver bound to profile and the host/target OS
// identifiers used to evaluate cfg(target_os=...) platform specs.
func NewResolver(p *Profile, hostOS, targetOS string) *Resolver {
	return &Resolver{Profile: p, HostOS: hostOS, TargetOS: targetOS}
}

// Resolve implements spec.md §4.2's protocol: start from BaseSettings,
// then scan overrides in declared order; for each field independently,
// the first matching override that specifies that field wins.
//
// This is allocation-free in the steady state: fields are tracked as
// pointers into the matching override's own storage until the final
// struct literal is built.
func (r *Resolver) Resolve(q query.TestQuery) testsettings.TestSettings {
	base := r.Profile.BaseSettings

	var threadsRequired *int
	var retries *retry.Policy
	var slowTimeout *testsettings.SlowTimeout
	var leakTimeout *time.Duration
	var testGroup *testsettings.TestGroup

	for i := range r.Profile.Overrides {
		ov := &r.Profile.Overrides[i]
		if !r.matches(ov, q) {
			continue
		}
		if threadsRequired == nil && ov.ThreadsRequired != nil {
			threadsRequired = ov.ThreadsRequired
		}
		if retries == nil && ov.Retries != nil {
			retries = ov.Retries
		}
		if slowTimeout == nil && ov.SlowTimeout != nil {
			slowTimeout = ov.SlowTimeout
		}
		if leakTimeout == nil && ov.LeakTimeout != nil {
			leakTimeout = ov.LeakTimeout
		}
		if testGroup == nil && ov.TestGroup != nil {
			testGroup = ov.TestGroup
		}
	}

	out := base
	if threadsRequired != nil {
		out.ThreadsRequired = *threadsRequired
	}
	if retries != nil {
		out.Retries = *retries
	}
	if slowTimeout != nil {
		out.SlowTimeout = *slowTimeout
	}
	if leakTimeout != nil {
		out.LeakTimeout = *leakTimeout
	}
	if testGroup != nil {
		out.TestGroup = *testGroup
	}
	return out
}

func (r *Resolver) matches(ov *Override, q query.TestQuery) bool {
	if ov.Platform != nil && !ov.Platform.Matches(q.Binary, r.HostOS, r.TargetOS) {
		return false
	}
	if ov.Filter != nil && !ov.Filter.MatchesTest(q) {
		return false
	}
	return true
}
