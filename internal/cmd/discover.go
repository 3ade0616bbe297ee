package cmd

import (
	"context"
	"fmt"

	"github.com/jpequegn/nextrun/internal/filterexpr"
	"github.com/jpequegn/nextrun/internal/pkggraph"
	"github.com/jpequegn/nextrun/internal/query"
	"github.com/jpequegn/nextrun/internal/testlist"
)

// discoverList lists every test in the given binaries (each invoked via
// its own `--list --format terse` protocol, spec.md §6) and applies any
// -E/--filter expressions given on the command line.
//
// The package graph used for filter predicates (package/deps/rdeps) has no
// dependency edges: the build system that would populate them is out of
// scope (spec.md §1), so package() matches binary paths by name only and
// deps()/rdeps() select just the packages whose names match.
func discoverList(ctx context.Context, binaryPaths []string) (*testlist.TestList, error) {
	list := &testlist.TestList{}
	names := make([]string, 0, len(binaryPaths))
	for _, path := range binaryPaths {
		bin := &testlist.TestBinary{Path: path, PackageID: path, BinaryName: path, Kind: "lib", Platform: query.Target}
		list.Binaries = append(list.Binaries, bin)
		names = append(names, bin.PackageID)

		instances, err := testlist.ListBinary(ctx, bin, nil)
		if err != nil {
			return nil, fmt.Errorf("cmd: discovering %s: %w", path, err)
		}
		list.Instances = append(list.Instances, instances...)
	}

	if len(filterExprs) == 0 {
		return list, nil
	}

	graph := pkggraph.NewGraph(names, nil)
	expr, errs := filterexpr.Compile(filterExprs, graph)
	if len(errs) > 0 {
		return nil, fmt.Errorf("cmd: compiling filter expressions: %v", errs)
	}

	filtered := list.Instances[:0]
	for _, inst := range list.Instances {
		if expr.MatchesTest(inst.Query()) {
			filtered = append(filtered, inst)
		}
	}
	list.Instances = filtered
	return list, nil
}
