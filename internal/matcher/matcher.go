// Package matcher implements the string-matching primitives used by
// filter-expression predicates: substring, exact, glob and regex matches.
package matcher

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Kind identifies which matching strategy a Matcher uses.
type Kind int

const (
	// Substring matches when the input contains the pattern anywhere.
	Substring Kind = iota
	// Exact matches when the input equals the pattern exactly.
	Exact
	// Glob matches using shell-style glob syntax (*, ?, [...]).
	Glob
	// Regex matches using an anchored-nowhere regular expression.
	Regex
)

func (k Kind) String() string {
	switch k {
	case Substring:
		return "substring"
	case Exact:
		return "exact"
	case Glob:
		return "glob"
	case Regex:
		return "regex"
	default:
		return "unknown"
	}
}

// Matcher is a compiled string matcher, produced by Parse.
type Matcher struct {
	kind    Kind
	pattern string
	re      *regexp.Regexp
}

// Kind reports which matching strategy this matcher uses.
func (m Matcher) Kind() Kind { return m.kind }

// Pattern returns the original source pattern (without the leading sigil).
func (m Matcher) Pattern() string { return m.pattern }

// Match reports whether s satisfies the matcher.
func (m Matcher) Match(s string) bool {
	switch m.kind {
	case Substring:
		return strings.Contains(s, m.pattern)
	case Exact:
		return s == m.pattern
	case Glob:
		ok, _ := filepath.Match(m.pattern, s)
		return ok
	case Regex:
		return m.re.MatchString(s)
	default:
		return false
	}
}

func (m Matcher) String() string {
	switch m.kind {
	case Substring:
		return "~" + m.pattern
	case Exact:
		return "=" + m.pattern
	case Glob:
		return "#" + m.pattern
	case Regex:
		return "/" + m.pattern + "/"
	default:
		return m.pattern
	}
}

// New builds an Exact matcher for s. Other kinds are constructed via Parse.
func New(s string) Matcher { return Matcher{kind: Exact, pattern: s} }

// Parse compiles a matcher body (the text inside a predicate's
// parentheses, e.g. "~foo", "=foo", "#foo*", "/foo.*/"). A bare string
// with no sigil defaults to Substring, for every predicate that takes a
// matcher (package/deps/rdeps/kind/binary/test); platform() takes a
// host/target keyword instead.
func Parse(raw string) (Matcher, error) {
	if raw == "" {
		return Matcher{}, fmt.Errorf("matcher: empty pattern")
	}
	switch raw[0] {
	case '=':
		return Matcher{kind: Exact, pattern: raw[1:]}, nil
	case '~':
		return Matcher{kind: Substring, pattern: raw[1:]}, nil
	case '#':
		return Matcher{kind: Glob, pattern: raw[1:]}, nil
	case '/':
		if len(raw) < 2 || raw[len(raw)-1] != '/' {
			return Matcher{}, fmt.Errorf("matcher: unterminated regex %q", raw)
		}
		body := raw[1 : len(raw)-1]
		re, err := regexp.Compile(body)
		if err != nil {
			return Matcher{}, fmt.Errorf("matcher: invalid regex %q: %w", body, err)
		}
		return Matcher{kind: Regex, pattern: body, re: re}, nil
	default:
		return Matcher{kind: Substring, pattern: raw}, nil
	}
}
