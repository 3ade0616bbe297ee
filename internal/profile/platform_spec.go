package profile

import (
	"fmt"
	"regexp"

	"github.com/jpequegn/nextrun/internal/query"
)

// PlatformSpec restricts a ProfileOverride to only apply for matching
// binary platforms, either directly ("host"/"target") or via a cfg-style
// target_os predicate, e.g. `cfg(target_os = "linux")`.
type PlatformSpec struct {
	raw      string
	bare     *query.Platform // set for "host" / "target"
	targetOS string          // set for cfg(target_os="...")
}

var cfgTargetOS = regexp.MustCompile(`^cfg\(\s*target_os\s*=\s*"([^"]+)"\s*\)$`)

// ParsePlatformSpec parses a bare "host"/"target" keyword or a
// `cfg(target_os = "...")` expression.
func ParsePlatformSpec(raw string) (PlatformSpec, error) {
	switch raw {
	case "host":
		p := query.Host
		return PlatformSpec{raw: raw, bare: &p}, nil
	case "target":
		p := query.Target
		return PlatformSpec{raw: raw, bare: &p}, nil
	}
	if m := cfgTargetOS.FindStringSubmatch(raw); m != nil {
		return PlatformSpec{raw: raw, targetOS: m[1]}, nil
	}
	return PlatformSpec{}, fmt.Errorf("profile: invalid platform-spec %q", raw)
}

// Matches reports whether the spec applies to q, given the runtime's
// host and target OS identifiers (e.g. "linux", "darwin", "windows").
// A cfg(target_os=...) spec is evaluated against whichever OS is
// "relevant" for the query: the host OS if the binary runs on the host
// platform, the target OS otherwise.
func (p PlatformSpec) Matches(q query.BinaryQuery, hostOS, targetOS string) bool {
	if p.bare != nil {
		return *p.bare == q.Platform
	}
	relevant := targetOS
	if q.Platform == query.Host {
		relevant = hostOS
	}
	return p.targetOS == relevant
}

func (p PlatformSpec) String() string { return p.raw }
