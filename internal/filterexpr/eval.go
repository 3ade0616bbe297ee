package filterexpr

import "github.com/jpequegn/nextrun/internal/query"

// MatchesTest evaluates the expression fully against a TestQuery. Full
// evaluation never returns an indeterminate result.
func (e *Expr) MatchesTest(q query.TestQuery) bool {
	switch e.op {
	case opAll:
		return true
	case opNone:
		return false
	case opNot:
		return !e.child.MatchesTest(q)
	case opAnd:
		return e.left.MatchesTest(q) && e.right.MatchesTest(q)
	case opOr:
		return e.left.MatchesTest(q) || e.right.MatchesTest(q)
	case opDiff:
		return e.left.MatchesTest(q) && !e.right.MatchesTest(q)
	case opPackage, opDeps, opRDeps:
		_, ok := e.set[q.Binary.PackageID]
		return ok
	case opKind:
		return e.str.Match(q.Binary.Kind)
	case opBinary:
		return e.str.Match(q.Binary.BinaryName)
	case opPlatform:
		return e.platform == q.Binary.Platform
	case opTest:
		return e.str.Match(q.TestName)
	default:
		return false
	}
}

// MatchesBinary evaluates the expression partially against a BinaryQuery,
// using three-valued logic: nil means "unknown" (depends on the test
// name), otherwise the pointee is the definite result. This lets callers
// skip enumerating test names for an entire binary when the result is
// already determined to be false.
func (e *Expr) MatchesBinary(q query.BinaryQuery) *bool {
	switch e.op {
	case opAll:
		return boolPtr(true)
	case opNone:
		return boolPtr(false)
	case opNot:
		x := e.child.MatchesBinary(q)
		if x == nil {
			return nil
		}
		return boolPtr(!*x)
	case opAnd:
		return foldAnd(e.left.MatchesBinary(q), e.right.MatchesBinary(q))
	case opOr:
		return foldOr(e.left.MatchesBinary(q), e.right.MatchesBinary(q))
	case opDiff:
		// a - b == a & !b
		l := e.left.MatchesBinary(q)
		r := e.right.MatchesBinary(q)
		var notR *bool
		if r != nil {
			notR = boolPtr(!*r)
		}
		return foldAnd(l, notR)
	case opPackage, opDeps, opRDeps:
		_, ok := e.set[q.PackageID]
		return boolPtr(ok)
	case opKind:
		return boolPtr(e.str.Match(q.Kind))
	case opBinary:
		return boolPtr(e.str.Match(q.BinaryName))
	case opPlatform:
		return boolPtr(e.platform == q.Platform)
	case opTest:
		// Depends on the test name, which BinaryQuery does not carry.
		return nil
	default:
		return boolPtr(false)
	}
}

func boolPtr(b bool) *bool { return &b }

// foldAnd implements Some(false) ∩ _ = Some(false); Some(true) ∩ y = y;
// None ∩ None = None.
func foldAnd(l, r *bool) *bool {
	if l != nil && !*l {
		return boolPtr(false)
	}
	if r != nil && !*r {
		return boolPtr(false)
	}
	if l == nil || r == nil {
		return nil
	}
	return boolPtr(*l && *r)
}

// foldOr implements Some(true) ∪ _ = Some(true); Some(false) ∪ y = y;
// None ∪ None = None.
func foldOr(l, r *bool) *bool {
	if l != nil && *l {
		return boolPtr(true)
	}
	if r != nil && *r {
		return boolPtr(true)
	}
	if l == nil || r == nil {
		return nil
	}
	return boolPtr(*l || *r)
}
