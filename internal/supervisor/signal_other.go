//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on platforms without a process-group concept;
// `toGroup` signals degrade to single-process delivery (spec.md §4.3).
func setProcessGroup(cmd *exec.Cmd) {}

func signalProcess(proc *os.Process, sig Signal, toGroup bool) (degraded bool, err error) {
	switch sig {
	case SIGKILL:
		return toGroup, proc.Kill()
	default:
		// SIGSTOP/SIGCONT have no portable equivalent outside unix; treat
		// as a no-op degraded signal rather than failing the request.
		if sig == SIGSTOP || sig == SIGCONT {
			return true, nil
		}
		return toGroup, proc.Kill()
	}
}

func exitStatus(err error) (code int, signalled bool) {
	if err == nil {
		return 0, false
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), false
	}
	return 1, false
}
