// Package testlist implements TestBinary, TestInstance and TestList, plus
// the two external-discovery protocols from spec.md §6: decoding the host
// build system's JSON-line artifact stream, and invoking a test binary's
// `--list --format terse` listing protocol.
package testlist

import "github.com/jpequegn/nextrun/internal/query"

// TestBinary is a compiled executable plus identifying metadata. It is
// produced by an external collaborator (the build system, out of scope)
// and is immutable for the lifetime of a run.
type TestBinary struct {
	Path       string
	PackageID  string
	BinaryName string
	Kind       string // "lib", "integration", "bench", "doc", ...
	Platform   query.Platform
}

// Query returns the BinaryQuery key used for filter and override lookups.
func (b TestBinary) Query() query.BinaryQuery {
	return query.BinaryQuery{
		PackageID:  b.PackageID,
		Kind:       b.Kind,
		BinaryName: b.BinaryName,
		Platform:   b.Platform,
	}
}

// TestInstance is one (TestBinary, test case name) pair. It is created
// once during discovery and never mutated afterward; it is referenced by
// shared (read-only) pointer across every goroutine that touches it.
type TestInstance struct {
	Binary   *TestBinary
	TestName string
	Ignored  bool
}

// Query returns the TestQuery key used for filter/override/settings
// lookups.
func (t *TestInstance) Query() query.TestQuery {
	return query.TestQuery{Binary: t.Binary.Query(), TestName: t.TestName}
}

// TestList is the full set of instances discovered for a run, already
// filtered down to what will actually be considered. It is built once and
// shared read-only across every dispatcher worker.
type TestList struct {
	Binaries  []*TestBinary
	Instances []*TestInstance
}

// RunCount returns the number of non-ignored instances: the
// `initial_run_count` baseline of the (already filtered) list, before any
// cancellation.
func (l *TestList) RunCount() int {
	n := 0
	for _, inst := range l.Instances {
		if !inst.Ignored {
			n++
		}
	}
	return n
}
