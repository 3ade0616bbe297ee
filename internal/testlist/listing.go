package testlist

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner abstracts invoking a test binary so the listing protocol
// can be tested without spawning real processes.
type CommandRunner interface {
	Output(ctx context.Context, path string, args []string) ([]byte, error)
}

// ExecCommandRunner is the production CommandRunner, backed by os/exec.
type ExecCommandRunner struct{}

func (ExecCommandRunner) Output(ctx context.Context, path string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, stderr.String())
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// ListBinary invokes the test binary's listing protocol (spec.md §6):
// `--list --format terse` and `--list --format terse --ignored`, taking
// the union and tagging ignored status.
func ListBinary(ctx context.Context, bin *TestBinary, runner CommandRunner) ([]*TestInstance, error) {
	if runner == nil {
		runner = ExecCommandRunner{}
	}

	normal, err := runner.Output(ctx, bin.Path, []string{"--list", "--format", "terse"})
	if err != nil {
		return nil, fmt.Errorf("testlist: listing command failed for %s: %w", bin.Path, err)
	}
	ignored, err := runner.Output(ctx, bin.Path, []string{"--list", "--format", "terse", "--ignored"})
	if err != nil {
		return nil, fmt.Errorf("testlist: listing command (ignored) failed for %s: %w", bin.Path, err)
	}

	names, err := parseTerseList(normal)
	if err != nil {
		return nil, fmt.Errorf("testlist: %w (binary %s)", err, bin.Path)
	}
	ignoredNames, err := parseTerseList(ignored)
	if err != nil {
		return nil, fmt.Errorf("testlist: %w (binary %s, --ignored)", err, bin.Path)
	}

	ignoredSet := make(map[string]struct{}, len(ignoredNames))
	for _, n := range ignoredNames {
		ignoredSet[n] = struct{}{}
	}

	seen := make(map[string]struct{})
	var instances []*TestInstance
	for _, n := range names {
		_, isIgnored := ignoredSet[n]
		instances = append(instances, &TestInstance{Binary: bin, TestName: n, Ignored: isIgnored})
		seen[n] = struct{}{}
	}
	for _, n := range ignoredNames {
		if _, ok := seen[n]; ok {
			continue
		}
		instances = append(instances, &TestInstance{Binary: bin, TestName: n, Ignored: true})
		seen[n] = struct{}{}
	}
	return instances, nil
}

// parseTerseList parses the `<test_name>: test` terse listing format.
func parseTerseList(output []byte) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, ": test")
		if idx < 0 || idx+len(": test") != len(line) {
			return nil, &DiscoveryError{Line: lineNum, Message: "unparseable listing line", Input: line}
		}
		names = append(names, line[:idx])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading listing output: %w", err)
	}
	return names, nil
}
