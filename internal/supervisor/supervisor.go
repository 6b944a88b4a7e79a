// Package supervisor spawns, signals, and reaps the OS processes backing
// running tasks (spec.md §4.3). It never touches task state directly — it
// only reports outcomes; internal/scheduler translates them into
// transitions.
package supervisor

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/pueued/pueued/internal/logger"
	"github.com/pueued/pueued/internal/logstore"
)

// ReapStatus is the outcome C4 sees when it checks on a running task.
type ReapStatus int

const (
	ReapRunning ReapStatus = iota
	ReapExited
	ReapSignalled
)

// ReapResult reports what happened to a task's child process.
type ReapResult struct {
	Status   ReapStatus
	ExitCode int
}

// handle tracks one spawned child. exited/exitCode/signalled are written
// exactly once, by the goroutine that calls cmd.Wait(), and read under mu.
type handle struct {
	mu            sync.Mutex
	cmd           *exec.Cmd
	startedAt     time.Time
	exited        bool
	exitCode      int
	signalled     bool
	killRequested bool
}

// Supervisor tracks every currently-spawned child, keyed by task id.
type Supervisor struct {
	logs *logstore.Store

	mu      sync.Mutex
	handles map[int]*handle
}

// New builds a Supervisor that writes child output through logs.
func New(logs *logstore.Store) *Supervisor {
	return &Supervisor{
		logs:    logs,
		handles: make(map[int]*handle),
	}
}

// SpawnRequest carries everything needed to start a task's child process.
type SpawnRequest struct {
	TaskID  int
	Command string
	Path    string
	Envs    map[string]string
}

// Spawn starts a shell-interpreted child for the task, redirecting both
// output streams into the log store, and tracks it for later Signal/Reap
// calls. The supervisor places the child in its own process group where the
// platform supports it (see signal_unix.go / signal_other.go).
func (s *Supervisor) Spawn(req SpawnRequest) error {
	stdout, err := s.logs.Create(req.TaskID, logstore.Stdout)
	if err != nil {
		return fmt.Errorf("spawn task %d: %w", req.TaskID, err)
	}
	stderr, err := s.logs.Create(req.TaskID, logstore.Stderr)
	if err != nil {
		stdout.Close()
		return fmt.Errorf("spawn task %d: %w", req.TaskID, err)
	}

	cmd := exec.Command("sh", "-c", req.Command)
	if req.Path != "" {
		cmd.Dir = req.Path
	}
	cmd.Env = mergeEnv(req.Envs)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		logger.WithTask(req.TaskID).Error().Err(err).Msg("failed to start child process")
		return fmt.Errorf("spawn task %d: %w", req.TaskID, err)
	}

	h := &handle{cmd: cmd, startedAt: time.Now().UTC()}

	s.mu.Lock()
	s.handles[req.TaskID] = h
	s.mu.Unlock()

	logger.WithTask(req.TaskID).Debug().Int("pid", cmd.Process.Pid).Msg("spawned child process")

	go func() {
		defer stdout.Close()
		defer stderr.Close()
		waitErr := cmd.Wait()

		h.mu.Lock()
		h.exited = true
		h.exitCode, h.signalled = exitStatus(waitErr)
		if h.killRequested {
			h.signalled = true
		}
		h.mu.Unlock()
	}()

	return nil
}

// Reap performs a non-blocking check on a tracked task's child.
func (s *Supervisor) Reap(taskID int) (ReapResult, bool) {
	s.mu.Lock()
	h, ok := s.handles[taskID]
	s.mu.Unlock()
	if !ok {
		return ReapResult{}, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		return ReapResult{Status: ReapRunning}, true
	}
	if h.signalled {
		return ReapResult{Status: ReapSignalled, ExitCode: h.exitCode}, true
	}
	return ReapResult{Status: ReapExited, ExitCode: h.exitCode}, true
}

// Forget drops a task's handle once the scheduler has consumed its final
// reap result, so the supervisor's table doesn't grow without bound.
func (s *Supervisor) Forget(taskID int) {
	s.mu.Lock()
	delete(s.handles, taskID)
	s.mu.Unlock()
}

// Running reports whether the supervisor still has a live, un-reaped
// handle for taskID.
func (s *Supervisor) Running(taskID int) bool {
	s.mu.Lock()
	_, ok := s.handles[taskID]
	s.mu.Unlock()
	return ok
}
