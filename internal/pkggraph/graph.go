// Package pkggraph provides the minimal package-dependency graph that
// filterexpr's package/deps/rdeps predicates resolve against. It is a
// plain adjacency-list structure, not a full cargo-metadata reader: the
// host build system (out of scope, see spec.md §1) is responsible for
// populating it from whatever dependency manifest the target language
// uses.
package pkggraph

import "github.com/jpequegn/nextrun/internal/matcher"

// Graph is a read-only package dependency graph, built once before a run
// and shared across every filter compilation.
type Graph struct {
	// deps[a] contains every package a directly depends on.
	deps map[string]map[string]struct{}
	// rdeps[a] contains every package that directly depends on a.
	rdeps map[string]map[string]struct{}
	names []string
}

// NewGraph builds a Graph from a set of package names and a direct
// dependency relation (edges[a] = packages a depends on directly).
func NewGraph(names []string, edges map[string][]string) *Graph {
	g := &Graph{
		deps:  make(map[string]map[string]struct{}, len(names)),
		rdeps: make(map[string]map[string]struct{}, len(names)),
		names: append([]string(nil), names...),
	}
	for _, n := range names {
		g.deps[n] = map[string]struct{}{}
		g.rdeps[n] = map[string]struct{}{}
	}
	for a, bs := range edges {
		for _, b := range bs {
			if _, ok := g.deps[a]; !ok {
				g.deps[a] = map[string]struct{}{}
			}
			if _, ok := g.rdeps[b]; !ok {
				g.rdeps[b] = map[string]struct{}{}
			}
			g.deps[a][b] = struct{}{}
			g.rdeps[b][a] = struct{}{}
		}
	}
	return g
}

// Names returns every known package id.
func (g *Graph) Names() []string { return g.names }

// Matching returns every package id whose name matches m.
func (g *Graph) Matching(m matcher.Matcher) []string {
	var out []string
	for _, n := range g.names {
		if m.Match(n) {
			out = append(out, n)
		}
	}
	return out
}

// TransitiveDeps returns the set of packages reachable by following direct
// dependency edges from any package matching m (inclusive of the seeds).
func (g *Graph) TransitiveDeps(m matcher.Matcher) map[string]struct{} {
	return g.transitive(m, g.deps)
}

// TransitiveRDeps returns the set of packages that transitively depend on
// any package matching m (inclusive of the seeds).
func (g *Graph) TransitiveRDeps(m matcher.Matcher) map[string]struct{} {
	return g.transitive(m, g.rdeps)
}

func (g *Graph) transitive(m matcher.Matcher, edges map[string]map[string]struct{}) map[string]struct{} {
	seen := make(map[string]struct{})
	var stack []string
	for _, n := range g.Matching(m) {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			stack = append(stack, n)
		}
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range edges[n] {
			if _, ok := seen[next]; !ok {
				seen[next] = struct{}{}
				stack = append(stack, next)
			}
		}
	}
	return seen
}
