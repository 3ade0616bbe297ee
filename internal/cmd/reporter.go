package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jpequegn/nextrun/internal/events"
)

// newSlogReporter returns an events.Reporter that logs each lifecycle
// event through logger, with an emoji-decorated human summary printed on
// RunFinished.
func newSlogReporter(logger *slog.Logger, out io.Writer) events.Reporter {
	return func(ev events.TestEvent) error {
		switch ev.Kind {
		case events.RunStarted:
			logger.Info("run started", "run_id", ev.RunID, "profile", ev.ProfileName, "total", ev.TotalTests)
		case events.TestStarted:
			logger.Debug("test started", "test", ev.Instance.ID, "attempt", ev.RetryData.Attempt)
		case events.TestRetryStarted:
			logger.Info("retrying", "test", ev.Instance.ID, "attempt", ev.RetryData.Attempt)
		case events.TestAttemptFailedWillRetry:
			logger.Warn("attempt failed, will retry", "test", ev.Instance.ID, "attempt", ev.RetryData.Attempt, "delay", ev.DelayBefore)
		case events.TestSlow:
			logger.Warn("test slow", "test", ev.Instance.ID, "elapsed", ev.Elapsed, "will_terminate", ev.WillTerminate)
		case events.TestFinished:
			logFinished(logger, ev)
		case events.TestSkipped:
			logger.Debug("test skipped", "test", ev.Instance.ID, "reason", ev.SkipReason)
		case events.SetupScriptStarted:
			logger.Info("setup script started", "test", ev.Instance.ID)
		case events.SetupScriptSlow:
			logger.Warn("setup script slow", "test", ev.Instance.ID, "elapsed", ev.Elapsed)
		case events.SetupScriptFinished:
			logger.Info("setup script finished", "test", ev.Instance.ID)
		case events.RunBeginCancel:
			logger.Warn("run cancelling", "reason", ev.Reason, "running", ev.Running, "setup_scripts_running", ev.SetupScriptsRunning)
		case events.RunPaused:
			logger.Info("run paused")
		case events.RunContinued:
			logger.Info("run continued")
		case events.RunFinished:
			printSummary(out, ev)
		}
		return nil
	}
}

func logFinished(logger *slog.Logger, ev events.TestEvent) {
	attrs := []any{"test", ev.Instance.ID, "result", ev.RunStatus.Result, "duration", ev.RunStatus.Duration.Round(time.Millisecond)}
	switch ev.RunStatus.Result {
	case "pass":
		logger.Info("test passed", attrs...)
	case "fail", "exec-fail":
		logger.Error("test failed", attrs...)
	case "timeout":
		logger.Error("test timed out", attrs...)
	default:
		logger.Info("test finished", attrs...)
	}
}

func printSummary(out io.Writer, ev events.TestEvent) {
	s := ev.Stats
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "═══════════════════════════════════════════\n")
	fmt.Fprintf(out, "  Run Summary\n")
	fmt.Fprintf(out, "═══════════════════════════════════════════\n")
	fmt.Fprintf(out, "Duration: %v\n", time.Since(ev.StartTime).Round(time.Millisecond))
	fmt.Fprintf(out, "Cancel reason: %s\n", ev.Reason)
	fmt.Fprintf(out, "✅ Passed:  %d (slow: %d, flaky: %d, leaky: %d)\n", s.Passed, s.PassedSlow, s.Flaky, s.Leaky)
	fmt.Fprintf(out, "❌ Failed:  %d (leaky: %d)\n", s.Failed, s.LeakyFailed)
	fmt.Fprintf(out, "⏱  Timed out: %d\n", s.TimedOut)
	fmt.Fprintf(out, "💥 Exec failed: %d\n", s.ExecFailed)
	fmt.Fprintf(out, "⏭  Skipped: %d\n", s.Skipped)
	if len(ev.OutstandingNotSeen) > 0 {
		fmt.Fprintf(out, "⚠️  Never run (cancelled): %d\n", len(ev.OutstandingNotSeen))
	}
	fmt.Fprintf(out, "═══════════════════════════════════════════\n\n")
}

// newJSONLinesReporter returns an events.Reporter that writes one JSON
// object per event to out, for machine consumption.
func newJSONLinesReporter(out io.Writer) events.Reporter {
	enc := json.NewEncoder(out)
	return func(ev events.TestEvent) error {
		return enc.Encode(ev)
	}
}
