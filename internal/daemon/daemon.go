package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pueued/pueued/internal/config"
	"github.com/pueued/pueued/internal/events"
	"github.com/pueued/pueued/internal/logger"
	"github.com/pueued/pueued/internal/logstore"
	"github.com/pueued/pueued/internal/scheduler"
	"github.com/pueued/pueued/internal/supervisor"
	"github.com/pueued/pueued/internal/task"
)

// Daemon owns the single state mutex shared with its Scheduler (C4) and
// dispatches the closed request catalogue (C5) against it. internal/daemon
// imports internal/scheduler, never the reverse, so the two packages share
// one writer discipline without an import cycle (SPEC_FULL.md §4.5).
type Daemon struct {
	mu    sync.Mutex
	state *task.State
	sup   *supervisor.Supervisor
	logs  *logstore.Store
	bus   events.Publisher
	cfg   *config.Config
	sched *scheduler.Scheduler

	snapshotPath string
	shutdownCh   chan ShutdownPayload
}

// snapshotFileName is the single persisted-state file under DataDir
// (spec.md §6).
const snapshotFileName = "state.json"

// New loads any existing snapshot (demoting Running tasks to Queued) or
// starts from an empty state seeded with the configured groups, and wires a
// Scheduler over the same state and mutex.
func New(cfg *config.Config, sup *supervisor.Supervisor, logs *logstore.Store, bus events.Publisher) (*Daemon, error) {
	if err := os.MkdirAll(cfg.Daemon.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	snapshotPath := filepath.Join(cfg.Daemon.DataDir, snapshotFileName)

	defaultSlots := 1
	if gc, ok := cfg.Groups[task.DefaultGroup]; ok && gc.ParallelSlots > 0 {
		defaultSlots = gc.ParallelSlots
	}

	state, err := task.ReadSnapshot(snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		state = task.NewState(defaultSlots)
	}
	for name, gc := range cfg.Groups {
		if name == task.DefaultGroup {
			continue
		}
		if _, exists := state.Groups[name]; !exists {
			_ = state.AddGroup(name, gc.ParallelSlots)
		}
	}

	d := &Daemon{
		state:        state,
		sup:          sup,
		logs:         logs,
		bus:          bus,
		cfg:          cfg,
		snapshotPath: snapshotPath,
		shutdownCh:   make(chan ShutdownPayload, 1),
	}
	d.sched = scheduler.New(&d.mu, d.state, sup, logs, bus, cfg.Scheduler, d.persistForScheduler)
	return d, nil
}

// Snapshot returns a locked deep copy of the current state, satisfying
// api.StateSource for the read-only HTTP mirror without that package
// needing to import internal/daemon.
func (d *Daemon) Snapshot() *task.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Clone()
}

// persistForScheduler adapts persistLocked's (*Failure) return to the
// scheduler.PersistFunc error signature; the scheduler calls it with the
// lock already held, exactly like every handler in this package.
func (d *Daemon) persistForScheduler() error {
	if f := d.persistLocked(); f != nil {
		return f
	}
	return nil
}

// persistLocked writes the current state to disk. Callers must hold mu.
func (d *Daemon) persistLocked() *Failure {
	if err := d.state.WriteSnapshot(d.snapshotPath); err != nil {
		return newFailure(KindInternal, "persist state: %v", err)
	}
	return nil
}

// resolveIDs expands a Selection into a concrete, validated task id list.
// Callers must hold mu.
func (d *Daemon) resolveIDs(sel Selection) ([]int, *Failure) {
	switch sel.Kind {
	case SelectionAll:
		return d.state.SortedTaskIDs(), nil
	case SelectionGroup:
		if _, ok := d.state.Groups[sel.Group]; !ok {
			return nil, newFailure(KindNotFound, "group %q not found", sel.Group)
		}
		var ids []int
		for _, t := range d.state.TasksInGroup(sel.Group) {
			ids = append(ids, t.ID)
		}
		return ids, nil
	case SelectionTaskIDs:
		for _, id := range sel.TaskIDs {
			if _, ok := d.state.Task(id); !ok {
				return nil, newFailure(KindNotFound, "task %d not found", id)
			}
		}
		return sel.TaskIDs, nil
	default:
		return nil, newFailure(KindMalformed, "unknown selection kind %d", sel.Kind)
	}
}

// resolveRunningIDs is resolveIDs filtered to tasks currently Running.
// Callers must hold mu.
func (d *Daemon) resolveRunningIDs(sel Selection) []int {
	ids, _ := d.resolveIDs(sel)
	var out []int
	for _, id := range ids {
		if t, ok := d.state.Task(id); ok && t.IsRunning() {
			out = append(out, id)
		}
	}
	return out
}

// waitForNoneRunning implements `pause … wait: true`: it blocks until no
// task in sel's scope is Running (spec.md §4.4 step 5, §5).
func (d *Daemon) waitForNoneRunning(sel Selection) {
	for {
		d.mu.Lock()
		ids, _ := d.resolveIDs(sel)
		running := 0
		for _, id := range ids {
			if t, ok := d.state.Task(id); ok && t.IsRunning() {
				running++
			}
		}
		d.mu.Unlock()
		if running == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (d *Daemon) publishTask(eventType events.EventType, t *task.Task, extra map[string]interface{}) {
	if d.bus == nil {
		return
	}
	_ = d.bus.Publish(context.Background(), events.NewEvent(eventType, events.TaskEventData(t.ID, t.Group, t.Status.String(), extra)))
}

func (d *Daemon) publishGroup(eventType events.EventType, name, status string) {
	if d.bus == nil {
		return
	}
	_ = d.bus.Publish(context.Background(), events.NewEvent(eventType, events.GroupEventData(name, status, nil)))
}

// hasCycle reports whether giving taskID the dependency edges newDeps would
// create a cycle, given the existing dependency graph in state. Only Edit
// can actually trigger this: a freshly Add-ed task always receives the
// highest id in the state, so it can never be an ancestor of anything it
// might depend on (SPEC_FULL.md §4.5).
func hasCycle(state *task.State, taskID int, newDeps []int) bool {
	visited := make(map[int]bool)
	var visit func(id int, deps []int) bool
	visit = func(id int, deps []int) bool {
		for _, dep := range deps {
			if dep == taskID {
				return true
			}
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if t, ok := state.Tasks[dep]; ok {
				if visit(dep, t.Dependencies) {
					return true
				}
			}
		}
		return false
	}
	return visit(taskID, newDeps)
}

// OpenStream begins a follow subscription over the given tasks' stdout
// (spec.md §4.6 Stream). The returned channel yields one StreamFrame per
// chunk of output, with a final EOF frame per task once it reaches Done;
// closing cancel stops every underlying follow early.
func (d *Daemon) OpenStream(ids []int, cancel <-chan struct{}) (<-chan StreamFrame, *Failure) {
	d.mu.Lock()
	_, f := d.resolveIDs(Selection{Kind: SelectionTaskIDs, TaskIDs: ids})
	d.mu.Unlock()
	if f != nil {
		return nil, f
	}

	out := make(chan StreamFrame, 16)
	var wg sync.WaitGroup
	isDone := func(taskID int) bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		t, ok := d.state.Task(taskID)
		return !ok || t.IsTerminal()
	}
	for _, id := range ids {
		wg.Add(1)
		go func(taskID int) {
			defer wg.Done()
			err := d.logs.Follow(taskID, logstore.Stdout, isDone, cancel, func(chunk []byte) {
				b := append([]byte(nil), chunk...)
				select {
				case out <- StreamFrame{TaskID: taskID, Chunk: b}:
				case <-cancel:
				}
			})
			if err != nil {
				logger.Get().Error().Err(err).Int("task_id", taskID).Msg("stream follow failed")
			}
			select {
			case out <- StreamFrame{TaskID: taskID, EOF: true}:
			case <-cancel:
			}
		}(id)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// Handle dispatches a single request under panic isolation: a bug in one
// handler becomes an Internal failure instead of taking the daemon down
// (spec.md §7, grounded on the teacher's Execute-level recover()).
func (d *Daemon) Handle(req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Get().Error().Interface("panic", r).Int("request_kind", int(req.Kind)).Msg("recovered panic in request handler")
			resp = fail(newFailure(KindInternal, "internal error: %v", r))
		}
	}()

	switch req.Kind {
	case ReqAdd:
		return d.handleAdd(req.Add)
	case ReqRemove:
		return d.handleRemove(req.Remove)
	case ReqStart:
		return d.handleStart(req.Start)
	case ReqPause:
		return d.handlePause(req.Pause)
	case ReqKill:
		return d.handleKill(req.Kill)
	case ReqStash:
		return d.handleStash(req.Stash)
	case ReqEnqueue:
		return d.handleEnqueue(req.Enqueue)
	case ReqSwitch:
		return d.handleSwitch(req.Switch)
	case ReqRestart:
		return d.handleRestart(req.Restart)
	case ReqEdit:
		return d.handleEdit(req.Edit)
	case ReqClean:
		return d.handleClean(req.Clean)
	case ReqReset:
		return d.handleReset(req.Reset)
	case ReqShutdown:
		return d.handleShutdown(req.Shutdown)
	case ReqGroupAdd:
		return d.handleGroupAdd(req.Group)
	case ReqGroupRemove:
		return d.handleGroupRemove(req.Group)
	case ReqGroupList:
		return d.handleGroupList()
	case ReqGroupParallel:
		return d.handleGroupParallel(req.Group)
	case ReqGroupPause:
		return d.handleGroupPause(req.Group)
	case ReqGroupResume:
		return d.handleGroupResume(req.Group)
	case ReqStatus:
		return d.handleStatus()
	case ReqLog:
		return d.handleLog(req.Log)
	case ReqStream:
		return d.handleStreamAck(req.Stream)
	default:
		return fail(newFailure(KindMalformed, "unknown request kind %d", req.Kind))
	}
}
