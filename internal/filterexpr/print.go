package filterexpr

import "fmt"

// String pretty-prints the expression back into the surface syntax.
// Round-tripping a valid expression through Compile then String then
// Compile again yields an evaluator with identical behavior (the printed
// form always carries the resolved package id set forward as a literal
// package(=id) union, so the result is independent of a live package
// graph on the second parse).
func (e *Expr) String() string {
	switch e.op {
	case opAll:
		return "all()"
	case opNone:
		return "none()"
	case opNot:
		return "not " + wrap(e.child)
	case opAnd:
		return wrap(e.left) + " & " + wrap(e.right)
	case opOr:
		return wrap(e.left) + " | " + wrap(e.right)
	case opDiff:
		return wrap(e.left) + " - " + wrap(e.right)
	case opPackage, opDeps, opRDeps:
		return setPredicate("package", e.set)
	case opKind:
		return fmt.Sprintf("kind(%s)", e.str.String())
	case opBinary:
		return fmt.Sprintf("binary(%s)", e.str.String())
	case opTest:
		return fmt.Sprintf("test(%s)", e.str.String())
	case opPlatform:
		return fmt.Sprintf("platform(%s)", e.platform.String())
	default:
		return "none()"
	}
}

func wrap(e *Expr) string {
	switch e.op {
	case opAnd, opOr, opDiff:
		return "(" + e.String() + ")"
	default:
		return e.String()
	}
}

// setPredicate renders a resolved package set as a union of exact
// matches, e.g. package(=a) | package(=b).
func setPredicate(name string, set map[string]struct{}) string {
	if len(set) == 0 {
		return "none()"
	}
	first := true
	out := ""
	for id := range set {
		term := fmt.Sprintf("%s(=%s)", name, id)
		if first {
			out = term
			first = false
		} else {
			out = out + " | " + term
		}
	}
	return out
}
