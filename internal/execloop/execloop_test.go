package execloop

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jpequegn/nextrun/internal/events"
	"github.com/jpequegn/nextrun/internal/procrunner"
	"github.com/jpequegn/nextrun/internal/retry"
	"github.com/jpequegn/nextrun/internal/supervisor"
	"github.com/jpequegn/nextrun/internal/testsettings"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake_test_binary.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestRunInstancePassesOnFirstAttempt(t *testing.T) {
	bin := writeScript(t, "exit 0")
	cfgFor := func(attempt int) procrunner.Config {
		return procrunner.Config{BinaryPath: bin, TestName: "t", Capture: procrunner.Combined}
	}
	settings := testsettings.Defaults()
	statuses := RunInstance(context.Background(), supervisor.UnitSupervisor{}, cfgFor, settings, nil, nil, AttemptHook{})
	require.Equal(t, Success, statuses.Describe())
	require.Len(t, statuses.Chain, 1)
}

func TestRunInstanceFlakyOnRetrySuccess(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "count")
	bin := writeScript(t, `
count=$(cat `+counter+` 2>/dev/null || echo 0)
count=$((count+1))
echo $count > `+counter+`
if [ "$count" -lt 2 ]; then exit 1; fi
exit 0
`)
	cfgFor := func(attempt int) procrunner.Config {
		return procrunner.Config{BinaryPath: bin, TestName: "t", Capture: procrunner.Combined}
	}
	policy, err := retry.NewFixed(2, time.Millisecond, false)
	require.NoError(t, err)
	settings := testsettings.Defaults()
	settings.Retries = policy

	var retried bool
	hooks := AttemptHook{
		AfterAttempt: func(status *supervisor.ExecuteStatus, rd testsettings.RetryData, willRetry bool) {
			if willRetry {
				retried = true
			}
		},
	}

	statuses := RunInstance(context.Background(), supervisor.UnitSupervisor{}, cfgFor, settings, nil, nil, hooks)
	require.Equal(t, Flaky, statuses.Describe())
	require.Len(t, statuses.Chain, 2)
	require.True(t, retried)
}

func TestRunInstanceFailsAllAttempts(t *testing.T) {
	bin := writeScript(t, "exit 1")
	cfgFor := func(attempt int) procrunner.Config {
		return procrunner.Config{BinaryPath: bin, TestName: "t", Capture: procrunner.Combined}
	}
	policy, err := retry.NewFixed(1, time.Millisecond, false)
	require.NoError(t, err)
	settings := testsettings.Defaults()
	settings.Retries = policy

	statuses := RunInstance(context.Background(), supervisor.UnitSupervisor{}, cfgFor, settings, nil, nil, AttemptHook{})
	require.Equal(t, Failure, statuses.Describe())
	require.Len(t, statuses.Chain, 2)
}

func TestRunInstanceStopsRetryingOnCancellation(t *testing.T) {
	bin := writeScript(t, "exit 1")
	cfgFor := func(attempt int) procrunner.Config {
		return procrunner.Config{BinaryPath: bin, TestName: "t", Capture: procrunner.Combined}
	}
	policy, err := retry.NewFixed(5, time.Millisecond, false)
	require.NoError(t, err)
	settings := testsettings.Defaults()
	settings.Retries = policy

	gate := func() events.CancelReason { return events.Signal }

	statuses := RunInstance(context.Background(), supervisor.UnitSupervisor{}, cfgFor, settings, nil, gate, AttemptHook{})
	require.Len(t, statuses.Chain, 1)
}

func TestRunSetupScriptsExportsEnv(t *testing.T) {
	scripts := []SetupScript{
		{Name: "export-one", Command: "/bin/sh", Args: []string{"-c", "echo NEXTRUN_SET_ENV=FOO=bar"}},
	}
	results, env, failed := RunSetupScripts(context.Background(), scripts)
	require.False(t, failed)
	require.Len(t, results, 1)
	require.True(t, results[0].Passed)
	require.Equal(t, []string{"FOO=bar"}, env)
}

func TestRunSetupScriptsStopsOnFailure(t *testing.T) {
	scripts := []SetupScript{
		{Name: "bad", Command: "/bin/sh", Args: []string{"-c", "exit 3"}},
		{Name: "never-runs", Command: "/bin/sh", Args: []string{"-c", "echo NEXTRUN_SET_ENV=X=y"}},
	}
	results, env, failed := RunSetupScripts(context.Background(), scripts)
	require.True(t, failed)
	require.Len(t, results, 1)
	require.Equal(t, 3, results[0].ExitCode)
	require.Empty(t, env)
}
