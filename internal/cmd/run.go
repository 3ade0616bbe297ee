package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jpequegn/nextrun/internal/dispatcher"
	"github.com/jpequegn/nextrun/internal/events"
	"github.com/jpequegn/nextrun/internal/execloop"
	"github.com/jpequegn/nextrun/internal/procrunner"
	"github.com/jpequegn/nextrun/internal/profile"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [binaries...]",
	Short: "Run tests from one or more compiled test binaries",
	Long: `Discover and run every test case exported by the given test binaries,
under the resolved profile's concurrency, retry, and timeout settings.

Example:
  nextrun run --config nextrun.toml ./target/debug/mycrate-abc123
  nextrun run -E 'test(/integration/)' ./bin/suite_test`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTests,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("capture", "combined", "output capture mode: none, combined, or split")
}

func runTests(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	p, err := loadProfile()
	if err != nil {
		return fmt.Errorf("nextrun: %w", err)
	}
	if err := checkRequiredVersion(p); err != nil {
		return err
	}

	list, err := discoverList(ctx, args)
	if err != nil {
		return err
	}
	if len(list.Instances) == 0 {
		return fmt.Errorf("nextrun: no tests discovered")
	}

	captureFlag, _ := cmd.Flags().GetString("capture")
	capture, err := parseCaptureStrategy(captureFlag)
	if err != nil {
		return err
	}

	resolver := profile.NewResolver(p, hostOS(), hostOS())

	var reporter events.Reporter
	switch messageFormat {
	case "json-lines":
		reporter = newJSONLinesReporter(os.Stdout)
	default:
		reporter = newSlogReporter(logger, os.Stderr)
	}

	shutdown := newOSSignalSource()
	defer shutdown.stop()

	maxFailValue := 0
	if p.MaxFail != nil {
		maxFailValue = *p.MaxFail
	}

	d := dispatcher.New(dispatcher.Config{
		RunID:        uuid.New(),
		ProfileName:  p.Name,
		CLIArgs:      args,
		Resolver:     resolver,
		Reporter:     reporter,
		Shutdown:     shutdown,
		Capture:      capture,
		SetupScripts: convertSetupScripts(p.SetupScripts),
		FailFast:     p.FailFast,
		MaxFail:      maxFailValue,
	}, effectiveTestThreads(p), p.TestGroupConfig)

	if err := d.Run(ctx, list); err != nil {
		return fmt.Errorf("nextrun: %w", err)
	}
	return nil
}

func effectiveTestThreads(p *profile.Profile) int {
	if p.TestThreads > 0 {
		return p.TestThreads
	}
	return 1
}

func parseCaptureStrategy(s string) (procrunner.CaptureStrategy, error) {
	switch s {
	case "none":
		return procrunner.None, nil
	case "combined", "":
		return procrunner.Combined, nil
	case "split":
		return procrunner.Split, nil
	default:
		return procrunner.Combined, fmt.Errorf("nextrun: unknown --capture mode %q (want none, combined, or split)", s)
	}
}

// checkRequiredVersion enforces the supplemented version-gating feature:
// a profile may declare the minimum engine version it was written for.
func checkRequiredVersion(p *profile.Profile) error {
	if p.RequiredVersion == "" {
		return nil
	}
	ok, err := satisfiesVersion(engineVersion, p.RequiredVersion)
	if err != nil {
		return fmt.Errorf("nextrun: invalid required-version in profile %q: %w", p.Name, err)
	}
	if !ok {
		return fmt.Errorf("nextrun: profile %q requires engine version %s, running %s", p.Name, p.RequiredVersion, engineVersion)
	}
	return nil
}

func convertSetupScripts(specs []profile.SetupScriptSpec) []execloop.SetupScript {
	out := make([]execloop.SetupScript, 0, len(specs))
	for _, s := range specs {
		out = append(out, execloop.SetupScript{
			Name: s.Name, Command: s.Command, Args: s.Args,
			WorkDir: s.WorkDir, Timeout: s.Timeout,
		})
	}
	return out
}

// engineVersion is this build's version, compared against a profile's
// required-version field (the supplemented version-gating feature).
const engineVersion = "0.1.0"
