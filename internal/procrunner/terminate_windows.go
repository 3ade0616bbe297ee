//go:build windows

package procrunner

import (
	"os/exec"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// jobObjects tracks the kill-on-close job object assigned to each spawned
// process, keyed by PID, since os/exec.Cmd has no field for it.
var (
	jobsMu sync.Mutex
	jobs   = map[int]windows.Handle{}
)

// setPlatformAttrs creates the child in a new process group. The job
// object that reaches grandchildren is assigned after Start, once the
// PID is known (see assignJobObject, called by Spawn via postStartHook).
func setPlatformAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// assignJobObject creates a kill-on-close job object and assigns the
// child to it, so a forceful kill reaches every descendant even though
// Windows has no process-group signal equivalent (spec.md §9 "job object
// on the other [platform family]").
func assignJobObject(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return err
	}
	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		_ = windows.CloseHandle(job)
		return err
	}
	handle, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, uint32(cmd.Process.Pid))
	if err != nil {
		_ = windows.CloseHandle(job)
		return err
	}
	defer windows.CloseHandle(handle)
	if err := windows.AssignProcessToJobObject(job, handle); err != nil {
		_ = windows.CloseHandle(job)
		return err
	}
	jobsMu.Lock()
	jobs[cmd.Process.Pid] = job
	jobsMu.Unlock()
	return nil
}

// postStartHook assigns the freshly-started child to its kill-on-close
// job object; it must run after cmd.Start so the PID is known.
func postStartHook(cmd *exec.Cmd) error {
	return assignJobObject(cmd)
}

func terminateGracefully(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	// There is no SIGTERM equivalent; the nearest "polite" signal is a
	// CTRL_BREAK_EVENT to the process group created above.
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(cmd.Process.Pid))
}

func killForcefully(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	jobsMu.Lock()
	job, ok := jobs[cmd.Process.Pid]
	jobsMu.Unlock()
	if ok {
		defer func() {
			jobsMu.Lock()
			delete(jobs, cmd.Process.Pid)
			jobsMu.Unlock()
			_ = windows.CloseHandle(job)
		}()
		// Closing (or explicitly terminating) the job object kills
		// every process assigned to it, reaching grandchildren.
		return windows.TerminateJobObject(job, 1)
	}
	return cmd.Process.Kill()
}

func classifyExitErr(cmd *exec.Cmd, waitErr error) ExitOutcome {
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return ExitOutcome{Kind: ExitCode, SpawnErr: waitErr}
	}
	return ExitOutcome{Kind: ExitJobObject, Code: exitErr.ExitCode()}
}
