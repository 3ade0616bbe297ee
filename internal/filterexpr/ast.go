package filterexpr

import (
	"github.com/jpequegn/nextrun/internal/matcher"
	"github.com/jpequegn/nextrun/internal/query"
)

// op identifies the kind of node in the compiled expression tree. Using a
// single tagged struct (rather than an interface per node kind) keeps
// evaluation a plain recursive function with no runtime dispatch, per the
// filter-tree design note.
type op int

const (
	opAll op = iota
	opNone
	opNot
	opAnd
	opOr
	opDiff
	opPackage
	opDeps
	opRDeps
	opKind
	opBinary
	opPlatform
	opTest
)

// Expr is a compiled filter-set expression. It is immutable once returned
// from Compile.
type Expr struct {
	op       op
	child    *Expr
	left     *Expr
	right    *Expr
	set      map[string]struct{} // resolved package id set, for opPackage/opDeps/opRDeps
	str      matcher.Matcher     // for opKind, opBinary, opTest
	platform query.Platform      // for opPlatform
}

func leaf(o op) *Expr { return &Expr{op: o} }
