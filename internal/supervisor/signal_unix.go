//go:build unix

package supervisor

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup places the child in its own process group so a `toGroup`
// signal can fan out to its whole subtree (spec.md §4.3). exec.Cmd requires
// the stdlib syscall type here; unix.SysProcAttr isn't substitutable.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func toUnixSignal(sig Signal) unix.Signal {
	switch sig {
	case SIGKILL:
		return unix.SIGKILL
	case SIGSTOP:
		return unix.SIGSTOP
	case SIGCONT:
		return unix.SIGCONT
	default:
		return unix.SIGTERM
	}
}

// signalProcess sends sig to the process group when toGroup is true and a
// group id can be resolved, falling back to the single process otherwise.
// Getpgid/Kill go through x/sys/unix rather than the stdlib syscall package,
// matching the rest of the corpus's process-group handling.
func signalProcess(proc *os.Process, sig Signal, toGroup bool) (degraded bool, err error) {
	sc := toUnixSignal(sig)
	if !toGroup {
		return false, proc.Signal(sc)
	}
	pgid, err := unix.Getpgid(proc.Pid)
	if err != nil {
		return true, proc.Signal(sc)
	}
	return false, unix.Kill(-pgid, sc)
}

func exitStatus(err error) (code int, signalled bool) {
	if err == nil {
		return 0, false
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 1, false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode(), false
	}
	if status.Signaled() {
		return -int(status.Signal()), true
	}
	return status.ExitStatus(), false
}
