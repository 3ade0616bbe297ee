//go:build !windows

package procrunner

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setPlatformAttrs puts the child in its own process group so a single
// signal to -pid reaches every descendant, not just the immediate child
// (spec.md §9 "Process group on one platform family").
func setPlatformAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// postStartHook is a no-op on Unix: the process group created by
// setPlatformAttrs already reaches grandchildren via signals to -pid.
func postStartHook(cmd *exec.Cmd) error { return nil }

func terminateGracefully(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
}

func killForcefully(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}

func classifyExitErr(cmd *exec.Cmd, waitErr error) ExitOutcome {
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return ExitOutcome{Kind: ExitCode, SpawnErr: waitErr}
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitOutcome{Kind: ExitCode, Code: exitErr.ExitCode()}
	}
	if ws.Signaled() {
		return ExitOutcome{Kind: ExitSignal, Signal: int(ws.Signal())}
	}
	return ExitOutcome{Kind: ExitCode, Code: ws.ExitStatus()}
}
