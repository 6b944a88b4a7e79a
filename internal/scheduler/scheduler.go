// Package scheduler implements the daemon's periodic tick (spec.md §4.4): it
// reaps terminated children, promotes due stashed tasks, gates queued tasks
// on their dependencies, and admits ready tasks into free group slots. It
// shares the daemon's single state mutex rather than owning a copy of the
// state, so every tick's effects are visible to the next request handler and
// vice versa (spec.md §5), using the same ticker/lock loop shape as other
// periodic reconciliation loops in this codebase, with the lock held for the
// whole tick instead of a distributed lock.
package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pueued/pueued/internal/config"
	"github.com/pueued/pueued/internal/events"
	"github.com/pueued/pueued/internal/logger"
	"github.com/pueued/pueued/internal/logstore"
	"github.com/pueued/pueued/internal/metrics"
	"github.com/pueued/pueued/internal/supervisor"
	"github.com/pueued/pueued/internal/task"
)

// PersistFunc is called after a tick that changed state, with the lock still
// held, so the on-disk snapshot and the in-memory state never diverge
// (spec.md §5, §8 round-trip property).
type PersistFunc func() error

// Scheduler drives tasks from Queued to Running to Done. It never owns the
// state or the mutex guarding it — both are handed to it by internal/daemon
// so C4 and C5 stay two views onto one writer discipline (spec.md §5,
// Design Notes §9).
type Scheduler struct {
	mu    *sync.Mutex
	state *task.State
	sup   *supervisor.Supervisor
	logs  *logstore.Store
	bus   events.Publisher
	cfg   config.SchedulerConfig

	persist PersistFunc

	slots map[int]int // taskID -> worker slot within its group, for PUEUE_WORKER_ID

	tickCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scheduler operating on state under mu.
func New(mu *sync.Mutex, state *task.State, sup *supervisor.Supervisor, logs *logstore.Store, bus events.Publisher, cfg config.SchedulerConfig, persist PersistFunc) *Scheduler {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	cfg.TickInterval = interval
	return &Scheduler{
		mu:      mu,
		state:   state,
		sup:     sup,
		logs:    logs,
		bus:     bus,
		cfg:     cfg,
		persist: persist,
		slots:   make(map[int]int),
		tickCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the periodic tick loop. It returns immediately; the loop runs
// until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// TriggerImmediate requests an out-of-band tick ahead of the regular
// interval, used by Add's `start_immediately` hint (spec.md §4.5). It never
// blocks: a tick already pending coalesces with this one.
func (s *Scheduler) TriggerImmediate() {
	select {
	case s.tickCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(time.Now().UTC())
		case <-s.tickCh:
			s.Tick(time.Now().UTC())
		}
	}
}

// Tick performs one pass of spec.md §4.4 steps 1-4 under the state lock, then
// persists the snapshot if anything changed.
func (s *Scheduler) Tick(now time.Time) {
	start := time.Now()
	s.mu.Lock()
	changed := s.reapTerminations(now)
	if s.promoteStashed(now) {
		changed = true
	}
	if s.gateDependencies() {
		changed = true
	}
	if s.admit(now) {
		changed = true
	}
	s.refreshMetrics()

	var persistErr error
	if changed && s.persist != nil {
		persistErr = s.persist()
	}
	s.mu.Unlock()
	metrics.RecordSchedulerTick(time.Since(start).Seconds())

	if persistErr != nil {
		logger.WithComponent("scheduler").Error().Err(persistErr).Msg("failed to persist snapshot after scheduler tick")
	}
}

// reapTerminations implements step 1: for every Running task whose child has
// exited, record the result and move it to Done.
func (s *Scheduler) reapTerminations(now time.Time) bool {
	changed := false
	for _, t := range s.state.Tasks {
		if t.Status.Kind != task.StatusRunning {
			continue
		}
		result, ok := s.sup.Reap(t.ID)
		if !ok || result.Status == supervisor.ReapRunning {
			continue
		}

		end := now
		t.EndedAt = &end
		var res task.Result
		switch result.Status {
		case supervisor.ReapSignalled:
			res = task.Result{Kind: task.ResultKilled}
		default:
			if result.ExitCode == 0 {
				res = task.Result{Kind: task.ResultSuccess}
			} else {
				res = task.Result{Kind: task.ResultFailed, ExitCode: result.ExitCode}
			}
		}
		t.Status = task.Done(res)
		s.sup.Forget(t.ID)
		delete(s.slots, t.ID)
		changed = true

		eventType := events.EventTaskCompleted
		if !res.IsSuccess() {
			eventType = events.EventTaskFailed
		}
		s.publish(eventType, t, map[string]interface{}{"result": res.Kind.String(), "exit_code": res.ExitCode})

		if t.StartedAt != nil {
			metrics.RecordTaskCompletion(t.Group, res.Kind.String(), t.EndedAt.Sub(*t.StartedAt).Seconds())
		}
	}
	return changed
}

// promoteStashed implements step 2: a Stashed task with a due enqueue_at
// becomes Queued. A Stashed task with no enqueue_at waits for an explicit
// Start/Enqueue request and is left untouched here.
func (s *Scheduler) promoteStashed(now time.Time) bool {
	changed := false
	for _, t := range s.state.Tasks {
		if t.Status.Kind != task.StatusStashed {
			continue
		}
		if t.Status.EnqueueAt == nil || t.Status.EnqueueAt.After(now) {
			continue
		}
		t.Status = task.Status{Kind: task.StatusQueued}
		changed = true
	}
	return changed
}

// gateDependencies implements step 3: a Queued task whose dependency has
// finished with a non-success result is failed immediately. Missing
// dependency ids are treated as not-yet-satisfied, never as a failure
// (DESIGN.md Open Question #3).
func (s *Scheduler) gateDependencies() bool {
	changed := false
	for _, t := range s.state.Tasks {
		if t.Status.Kind != task.StatusQueued || len(t.Dependencies) == 0 {
			continue
		}
		for _, depID := range t.Dependencies {
			dep, ok := s.state.Tasks[depID]
			if !ok {
				continue
			}
			if dep.Status.Kind == task.StatusDone && dep.Status.Result != nil && !dep.Status.Result.IsSuccess() {
				t.Status = task.Done(task.Result{Kind: task.ResultDependencyFailed})
				changed = true
				s.publish(events.EventTaskDependencyFailed, t, map[string]interface{}{"failed_dependency": depID})
				break
			}
		}
	}
	return changed
}

// admit implements step 4: while a Running group has free slots, admit the
// ready Queued task with the smallest id (or switched priority, see
// priorityKey).
func (s *Scheduler) admit(now time.Time) bool {
	changed := false
	for _, name := range s.sortedGroupNames() {
		g := s.state.Groups[name]
		if g.Status != task.GroupRunning {
			continue
		}
		for s.state.RunningCount(name) < g.ParallelSlots {
			candidate := s.pickReadyTask(name)
			if candidate == nil {
				break
			}
			if err := s.spawnTask(candidate, name, now); err != nil {
				candidate.Status = task.Done(task.Result{Kind: task.ResultFailedToSpawn, Reason: err.Error()})
				logger.WithTask(candidate.ID).Error().Err(err).Str("group", name).Msg("failed to spawn task")
				s.publish(events.EventTaskFailed, candidate, map[string]interface{}{"reason": err.Error()})
			}
			changed = true
		}
	}
	return changed
}

// priorityKey is the admission tie-break: normally a task's own id, but a
// `switch` request overrides it with the other task's id so the pair trades
// places without touching either task's immutable id (spec.md §4.4
// tie-break, SPEC_FULL.md §4.5 Switch).
func priorityKey(t *task.Task) int {
	if t.SwitchOrder != nil {
		return *t.SwitchOrder
	}
	return t.ID
}

func (s *Scheduler) pickReadyTask(group string) *task.Task {
	var best *task.Task
	for _, t := range s.state.Tasks {
		if t.Group != group || t.Status.Kind != task.StatusQueued {
			continue
		}
		if !s.ready(t) {
			continue
		}
		if best == nil || priorityKey(t) < priorityKey(best) {
			best = t
		}
	}
	return best
}

// ready reports whether every dependency exists and finished successfully.
// A missing dependency id means "not ready yet", per spec.md §4.4 step 3.
func (s *Scheduler) ready(t *task.Task) bool {
	for _, depID := range t.Dependencies {
		dep, ok := s.state.Tasks[depID]
		if !ok {
			return false
		}
		if dep.Status.Kind != task.StatusDone || dep.Status.Result == nil || !dep.Status.Result.IsSuccess() {
			return false
		}
	}
	return true
}

func (s *Scheduler) spawnTask(t *task.Task, group string, now time.Time) error {
	slot := s.nextWorkerSlot(group)

	envs := make(map[string]string, len(t.Envs)+2)
	for k, v := range t.Envs {
		envs[k] = v
	}
	envs["PUEUE_WORKER_ID"] = strconv.Itoa(slot)
	envs["PUEUE_GROUP"] = group

	if err := s.sup.Spawn(supervisor.SpawnRequest{TaskID: t.ID, Command: t.Command, Path: t.Path, Envs: envs}); err != nil {
		return err
	}

	s.slots[t.ID] = slot
	start := now
	t.StartedAt = &start
	t.Status = task.Status{Kind: task.StatusRunning}
	s.publish(events.EventTaskStarted, t, map[string]interface{}{"worker_id": slot})
	return nil
}

// nextWorkerSlot returns the smallest 0-based slot not currently occupied by
// a running task in group, for the PUEUE_WORKER_ID environment variable
// (spec.md §6).
func (s *Scheduler) nextWorkerSlot(group string) int {
	used := make(map[int]bool, len(s.slots))
	for id, slot := range s.slots {
		if t, ok := s.state.Tasks[id]; ok && t.Group == group {
			used[slot] = true
		}
	}
	for i := 0; ; i++ {
		if !used[i] {
			return i
		}
	}
}

func (s *Scheduler) sortedGroupNames() []string {
	names := make([]string, 0, len(s.state.Groups))
	for name := range s.state.Groups {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

func (s *Scheduler) refreshMetrics() {
	depth := make(map[string]int, len(s.state.Groups))
	running := make(map[string]int, len(s.state.Groups))
	for _, t := range s.state.Tasks {
		switch t.Status.Kind {
		case task.StatusQueued:
			depth[t.Group]++
		case task.StatusRunning:
			running[t.Group]++
		}
	}
	for name := range s.state.Groups {
		metrics.UpdateQueueDepth(name, float64(depth[name]))
		metrics.UpdateRunningTasks(name, float64(running[name]))
	}
}

func (s *Scheduler) publish(eventType events.EventType, t *task.Task, extra map[string]interface{}) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(context.Background(), events.NewEvent(eventType, events.TaskEventData(t.ID, t.Group, t.Status.String(), extra)))
}
