package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pueued/pueued/internal/logger"
	"github.com/pueued/pueued/internal/supervisor"
)

// Run starts the scheduler and blocks until the daemon should shut down —
// either a process signal or a client Shutdown request — then performs the
// graceful-vs-forced sequence of spec.md §4.8 and returns the process exit
// code (0 clean, 1 signal/forced; spec.md §6).
func (d *Daemon) Run(ctx context.Context) int {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	d.sched.Start(ctx)

	// bySignal tracks whether the shutdown was triggered by a process signal
	// rather than a client Shutdown request: spec.md §6 exit codes distinguish
	// the two (0 clean client-initiated shutdown, 1 signal-initiated), even
	// when the signal path still runs the graceful drain (spec.md §8 scenario
	// 5: SIGTERM while a task runs exits 1).
	bySignal := false
	graceful := true
	select {
	case <-sigCh:
		logger.Get().Info().Msg("received termination signal")
		bySignal = true
	case p := <-d.shutdownCh:
		graceful = p.Graceful
		logger.Get().Info().Bool("graceful", graceful).Msg("received shutdown request")
	case <-ctx.Done():
		bySignal = true
	}

	d.mu.Lock()
	d.state.ShutdownRequested = true
	d.mu.Unlock()
	d.sched.Stop()

	if !graceful {
		d.killAllAndPersist(false)
		return 1
	}

	done := make(chan struct{})
	go func() {
		d.killAllAndPersist(true)
		close(done)
	}()

	select {
	case <-done:
		if bySignal {
			return 1
		}
		return 0
	case <-sigCh:
		logger.Get().Warn().Msg("second signal received, forcing shutdown")
		d.forceKillRunning()
		return 1
	}
}

// killAllAndPersist kills every currently-running task's child (gracefully
// or not), demotes the state, and persists the final snapshot.
func (d *Daemon) killAllAndPersist(graceful bool) {
	d.mu.Lock()
	var ids []int
	for _, t := range d.state.Tasks {
		if t.IsRunning() {
			ids = append(ids, t.ID)
		}
	}
	d.mu.Unlock()

	d.sup.KillAll(ids, graceful, d.cfg.Daemon.ShutdownGraceTimeout)

	d.mu.Lock()
	for _, id := range ids {
		d.sup.Forget(id)
	}
	d.state.DemoteRunning()
	if err := d.state.WriteSnapshot(d.snapshotPath); err != nil {
		logger.Get().Error().Err(err).Msg("failed to persist snapshot during shutdown")
	}
	d.mu.Unlock()
}

// forceKillRunning sends SIGKILL to every running task immediately, without
// waiting out the graceful deadline already in progress.
func (d *Daemon) forceKillRunning() {
	d.mu.Lock()
	var ids []int
	for _, t := range d.state.Tasks {
		if t.IsRunning() {
			ids = append(ids, t.ID)
		}
	}
	d.mu.Unlock()

	for _, id := range ids {
		_, _ = d.sup.Signal(id, supervisor.SIGKILL, true)
	}

	d.mu.Lock()
	d.state.DemoteRunning()
	_ = d.state.WriteSnapshot(d.snapshotPath)
	d.mu.Unlock()
}
