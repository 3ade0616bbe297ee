package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jpequegn/nextrun/internal/events"
	"github.com/jpequegn/nextrun/internal/procrunner"
	"github.com/jpequegn/nextrun/internal/retry"
	"github.com/jpequegn/nextrun/internal/testsettings"
	"github.com/stretchr/testify/require"
)

// scriptConfig writes a throwaway shell script that ignores the
// --exact/--nocapture argv tail BuildArgs appends, and returns a Config
// that spawns it as if it were a compiled test binary.
func scriptConfig(t *testing.T, body string) procrunner.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake_test_binary.sh")
	content := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return procrunner.Config{
		BinaryPath: path,
		TestName:   "inline",
		Capture:    procrunner.Combined,
	}
}

func TestRunAttemptPass(t *testing.T) {
	cfg := scriptConfig(t, "exit 0")
	settings := testsettings.Defaults()
	sup := UnitSupervisor{}
	status, err := sup.RunAttempt(context.Background(), cfg, settings, testsettings.RetryData{Attempt: 1, TotalAttempts: 1}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, Pass, status.Result.Kind)
}

func TestRunAttemptFailExitCode(t *testing.T) {
	cfg := scriptConfig(t, "exit 7")
	settings := testsettings.Defaults()
	sup := UnitSupervisor{}
	status, err := sup.RunAttempt(context.Background(), cfg, settings, testsettings.RetryData{Attempt: 1, TotalAttempts: 1}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, Fail, status.Result.Kind)
	require.Equal(t, FailExitCode, status.Result.FailKind)
	require.Equal(t, 7, status.Result.Code)
}

func TestRunAttemptSlowTimeoutEscalatesToTimeout(t *testing.T) {
	cfg := scriptConfig(t, "sleep 5")
	settings := testsettings.Defaults()
	settings.SlowTimeout = testsettings.SlowTimeout{
		Period:         50 * time.Millisecond,
		TerminateAfter: 2,
		GracePeriod:    50 * time.Millisecond,
	}
	sup := UnitSupervisor{}

	var ticks []bool
	onSlow := func(elapsed time.Duration, willTerminate bool) {
		ticks = append(ticks, willTerminate)
	}

	status, err := sup.RunAttempt(context.Background(), cfg, settings, testsettings.RetryData{Attempt: 1, TotalAttempts: 1}, nil, onSlow)
	require.NoError(t, err)
	require.Equal(t, Timeout, status.Result.Kind)
	require.True(t, status.IsSlow)
	require.GreaterOrEqual(t, len(ticks), 2)
	require.False(t, ticks[0])
	require.True(t, ticks[len(ticks)-1])
}

func TestRunAttemptSignalEscalatesAfterGrace(t *testing.T) {
	cfg := scriptConfig(t, "trap '' TERM; exec sleep 5")
	settings := testsettings.Defaults()
	settings.SlowTimeout.GracePeriod = 50 * time.Millisecond
	sup := UnitSupervisor{}

	shutdown := make(chan events.CancelReason, 1)
	shutdown <- events.Signal

	start := time.Now()
	status, err := sup.RunAttempt(context.Background(), cfg, settings, testsettings.RetryData{Attempt: 1, TotalAttempts: 1}, shutdown, nil)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Equal(t, Timeout, status.Result.Kind)
	require.GreaterOrEqual(t, elapsed, settings.SlowTimeout.GracePeriod)
}

func TestRunAttemptSecondSignalKillsImmediately(t *testing.T) {
	cfg := scriptConfig(t, "trap '' TERM; exec sleep 5")
	settings := testsettings.Defaults()
	settings.SlowTimeout.GracePeriod = 5 * time.Second
	sup := UnitSupervisor{}

	shutdown := make(chan events.CancelReason, 1)
	shutdown <- events.SecondSignal

	start := time.Now()
	status, err := sup.RunAttempt(context.Background(), cfg, settings, testsettings.RetryData{Attempt: 1, TotalAttempts: 1}, shutdown, nil)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Equal(t, Timeout, status.Result.Kind)
	require.Less(t, elapsed, settings.SlowTimeout.GracePeriod)
}

func TestRunAttemptSecondSignalEscalatesMidGrace(t *testing.T) {
	cfg := scriptConfig(t, "trap '' TERM; exec sleep 5")
	settings := testsettings.Defaults()
	settings.SlowTimeout.GracePeriod = 5 * time.Second
	sup := UnitSupervisor{}

	shutdown := make(chan events.CancelReason, 2)
	shutdown <- events.Signal

	done := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		shutdown <- events.SecondSignal
		close(done)
	}()

	start := time.Now()
	status, err := sup.RunAttempt(context.Background(), cfg, settings, testsettings.RetryData{Attempt: 1, TotalAttempts: 1}, shutdown, nil)
	elapsed := time.Since(start)
	<-done
	require.NoError(t, err)
	require.Equal(t, Timeout, status.Result.Kind)
	require.Less(t, elapsed, settings.SlowTimeout.GracePeriod)
}

func TestRunAttemptAbortsDuringDelay(t *testing.T) {
	policy, err := retry.NewFixed(2, 100*time.Millisecond, false)
	require.NoError(t, err)
	settings := testsettings.Defaults()
	settings.Retries = policy

	cfg := scriptConfig(t, "exit 0")
	sup := UnitSupervisor{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, runErr := sup.RunAttempt(ctx, cfg, settings, testsettings.RetryData{Attempt: 2, TotalAttempts: 3}, nil, nil)
	require.ErrorIs(t, runErr, ErrAttemptAborted)
}
