package testlist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jpequegn/nextrun/internal/query"
)

// DiscoveryError reports a problem found while decoding the build
// system's message stream, with enough context to locate the bad line.
type DiscoveryError struct {
	Line    int
	Message string
	Input   string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("testlist: discovery error at line %d: %s (input: %q)", e.Line, e.Message, e.Input)
}

// cargoMessage is the subset of the build system's JSON-line protocol
// this package understands: compiler-artifact records carrying a test
// binary. Every other "reason" is ignored, per spec.md §6.
type cargoMessage struct {
	Reason  string `json:"reason"`
	Profile struct {
		Test bool `json:"test"`
	} `json:"profile"`
	Target struct {
		Name string   `json:"name"`
		Kind []string `json:"kind"`
	} `json:"target"`
	PackageID  string `json:"package_id"`
	Executable string `json:"executable"`
}

// DecodeCargoMessages reads the build system's JSON-line artifact
// protocol and extracts every record describing a test binary
// (profile.test = true), exactly as spec.md §6 describes. Malformed
// individual lines are collected as errors but do not stop the scan;
// I/O errors on the underlying reader are fatal and stop it.
func DecodeCargoMessages(r io.Reader, platform query.Platform) ([]*TestBinary, []error) {
	var binaries []*TestBinary
	var errs []error

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var msg cargoMessage
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			errs = append(errs, &DiscoveryError{Line: line, Message: "malformed JSON: " + err.Error(), Input: text})
			continue
		}
		if msg.Reason != "compiler-artifact" || !msg.Profile.Test {
			continue
		}
		if msg.Executable == "" {
			continue
		}
		if len(msg.Target.Kind) == 0 {
			errs = append(errs, &DiscoveryError{Line: line, Message: "missing target kind", Input: text})
			continue
		}
		binaries = append(binaries, &TestBinary{
			Path:       msg.Executable,
			PackageID:  msg.PackageID,
			BinaryName: msg.Target.Name,
			Kind:       msg.Target.Kind[0],
			Platform:   platform,
		})
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("testlist: error reading discovery stream: %w", err))
	}
	return binaries, errs
}
