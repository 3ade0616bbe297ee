package cmd

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// hostOS returns the runtime.GOOS identifier used as both host and target
// platform for cfg(target_os = ...) evaluation, since this build never
// cross-compiles test binaries for a different target.
func hostOS() string { return runtime.GOOS }

// satisfiesVersion checks engine against a required version string of the
// form "[>=]X.Y.Z". No semver library is in this module's dependency set,
// so this is a small hand-rolled dotted-integer comparison rather than a
// fabricated dependency; it only needs to support the single ">=" operator
// nextest-style profiles actually use for required-version.
func satisfiesVersion(engine, required string) (bool, error) {
	op := "=="
	req := required
	if rest, ok := strings.CutPrefix(required, ">="); ok {
		op = ">="
		req = rest
	}
	req = strings.TrimSpace(req)

	cmp, err := compareVersions(engine, req)
	if err != nil {
		return false, err
	}
	switch op {
	case ">=":
		return cmp >= 0, nil
	default:
		return cmp == 0, nil
	}
}

// compareVersions returns -1, 0, or 1 comparing a to b component-wise,
// treating a missing trailing component as 0.
func compareVersions(a, b string) (int, error) {
	as, err := parseVersionParts(a)
	if err != nil {
		return 0, err
	}
	bs, err := parseVersionParts(b)
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av != bv {
			if av < bv {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}

func parseVersionParts(v string) ([]int, error) {
	fields := strings.Split(v, ".")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("version: invalid component %q in %q", f, v)
		}
		out = append(out, n)
	}
	return out, nil
}
