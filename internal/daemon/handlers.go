package daemon

import (
	"github.com/pueued/pueued/internal/events"
	"github.com/pueued/pueued/internal/logstore"
	"github.com/pueued/pueued/internal/metrics"
	"github.com/pueued/pueued/internal/supervisor"
	"github.com/pueued/pueued/internal/task"
)

func mapGroupErr(err error) Kind {
	if err == task.ErrGroupNotFound {
		return KindNotFound
	}
	return KindInvalidState
}

func (d *Daemon) handleAdd(p *AddPayload) *Response {
	d.mu.Lock()
	group := p.Group
	if group == "" {
		group = task.DefaultGroup
	}
	if _, ok := d.state.Groups[group]; !ok {
		d.mu.Unlock()
		return fail(newFailure(KindNotFound, "group %q not found", group))
	}

	var t *task.Task
	if p.Stashed {
		t = d.state.AddTask(func(id int) *task.Task {
			return task.NewStashed(id, p.Command, p.Path, p.Envs, group, p.Dependencies, p.Label, p.EnqueueAt)
		})
	} else {
		t = d.state.AddTask(func(id int) *task.Task {
			return task.New(id, p.Command, p.Path, p.Envs, group, p.Dependencies, p.Label)
		})
	}

	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}

	metrics.RecordTaskSubmission(group)
	d.publishTask(events.EventTaskSubmitted, t, nil)
	if p.StartImmediately && d.sched != nil {
		d.sched.TriggerImmediate()
	}
	id := t.ID
	return &Response{Status: RespSuccess, AddedID: &id}
}

func (d *Daemon) handleRemove(p *RemovePayload) *Response {
	d.mu.Lock()
	for _, id := range p.TaskIDs {
		t, ok := d.state.Task(id)
		if !ok {
			d.mu.Unlock()
			return fail(newFailure(KindNotFound, "task %d not found", id))
		}
		if t.IsRunning() {
			d.mu.Unlock()
			return fail(newFailure(KindInvalidState, "task %d is running", id))
		}
	}
	for _, id := range p.TaskIDs {
		_ = d.state.RemoveTask(id, false)
	}
	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	for _, id := range p.TaskIDs {
		_ = d.logs.Remove(id)
	}
	return ok()
}

func (d *Daemon) handleStart(p *SelectionPayload) *Response {
	d.mu.Lock()
	switch p.Selection.Kind {
	case SelectionAll:
		for _, g := range d.state.Groups {
			g.Status = task.GroupRunning
		}
	case SelectionGroup:
		g, found := d.state.Groups[p.Selection.Group]
		if !found {
			d.mu.Unlock()
			return fail(newFailure(KindNotFound, "group %q not found", p.Selection.Group))
		}
		g.Status = task.GroupRunning
	case SelectionTaskIDs:
		for _, id := range p.Selection.TaskIDs {
			t, found := d.state.Task(id)
			if !found {
				d.mu.Unlock()
				return fail(newFailure(KindNotFound, "task %d not found", id))
			}
			if t.Status.Kind == task.StatusPaused {
				t.Status = task.Status{Kind: task.StatusQueued}
			}
		}
	}
	// Running tasks in scope get SIGCONT, undoing a `pause --children`.
	toCont := d.resolveRunningIDs(p.Selection)
	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	for _, id := range toCont {
		_, _ = d.sup.Signal(id, supervisor.SIGCONT, false)
	}
	if d.sched != nil {
		d.sched.TriggerImmediate()
	}
	return ok()
}

// handlePause implements the dual pause semantics of spec.md §4.4 step 5:
// individually-selected Queued tasks move to Paused; Group/All selections
// pause the group itself (admission stops, running tasks are untouched
// unless Children requests SIGSTOP).
func (d *Daemon) handlePause(p *PausePayload) *Response {
	d.mu.Lock()
	switch p.Selection.Kind {
	case SelectionAll:
		for _, g := range d.state.Groups {
			g.Status = task.GroupPaused
		}
	case SelectionGroup:
		g, found := d.state.Groups[p.Selection.Group]
		if !found {
			d.mu.Unlock()
			return fail(newFailure(KindNotFound, "group %q not found", p.Selection.Group))
		}
		g.Status = task.GroupPaused
	case SelectionTaskIDs:
		for _, id := range p.Selection.TaskIDs {
			t, found := d.state.Task(id)
			if !found {
				d.mu.Unlock()
				return fail(newFailure(KindNotFound, "task %d not found", id))
			}
			if t.Status.Kind == task.StatusQueued {
				t.Status = task.Status{Kind: task.StatusPaused}
			}
		}
	}

	var toStop []int
	if p.Children {
		toStop = d.resolveRunningIDs(p.Selection)
	}
	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	for _, id := range toStop {
		_, _ = d.sup.Signal(id, supervisor.SIGSTOP, false)
	}
	if p.Wait {
		d.waitForNoneRunning(p.Selection)
	}
	return ok()
}

func (d *Daemon) handleKill(p *KillPayload) *Response {
	d.mu.Lock()
	ids, f := d.resolveIDs(p.Selection)
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	for _, id := range ids {
		_, _ = d.sup.Signal(id, p.Signal, p.Children)
	}
	return ok()
}

func (d *Daemon) handleStash(p *SelectionPayload) *Response {
	d.mu.Lock()
	ids, f := d.resolveIDs(p.Selection)
	if f != nil {
		d.mu.Unlock()
		return fail(f)
	}
	for _, id := range ids {
		t := d.state.Tasks[id]
		if t.Status.Kind == task.StatusQueued || t.Status.Kind == task.StatusPaused {
			t.Status = task.Status{Kind: task.StatusStashed}
		}
	}
	f = d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	return ok()
}

func (d *Daemon) handleEnqueue(p *EnqueuePayload) *Response {
	d.mu.Lock()
	ids, f := d.resolveIDs(p.Selection)
	if f != nil {
		d.mu.Unlock()
		return fail(f)
	}
	for _, id := range ids {
		t := d.state.Tasks[id]
		if t.Status.Kind != task.StatusStashed {
			continue
		}
		if p.EnqueueAt != nil {
			t.Status = task.Status{Kind: task.StatusStashed, EnqueueAt: p.EnqueueAt}
		} else {
			t.Status = task.Status{Kind: task.StatusQueued}
		}
	}
	f = d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	if d.sched != nil {
		d.sched.TriggerImmediate()
	}
	return ok()
}

// handleSwitch implements the supplemented Switch request (SPEC_FULL.md
// §4.5): the two tasks trade admission-priority preference without either
// one's immutable id ever changing.
func (d *Daemon) handleSwitch(p *SwitchPayload) *Response {
	d.mu.Lock()
	t1, ok1 := d.state.Task(p.ID1)
	if !ok1 {
		d.mu.Unlock()
		return fail(newFailure(KindNotFound, "task %d not found", p.ID1))
	}
	t2, ok2 := d.state.Task(p.ID2)
	if !ok2 {
		d.mu.Unlock()
		return fail(newFailure(KindNotFound, "task %d not found", p.ID2))
	}
	id1, id2 := t1.ID, t2.ID
	t1.SwitchOrder, t2.SwitchOrder = &id2, &id1
	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	return ok()
}

func (d *Daemon) handleRestart(p *RestartPayload) *Response {
	d.mu.Lock()
	for _, id := range p.TaskIDs {
		t, found := d.state.Task(id)
		if !found {
			d.mu.Unlock()
			return fail(newFailure(KindNotFound, "task %d not found", id))
		}
		if !t.IsTerminal() {
			d.mu.Unlock()
			return fail(newFailure(KindInvalidState, "task %d has not finished", id))
		}
	}
	for _, id := range p.TaskIDs {
		t := d.state.Tasks[id]
		t.Status = task.Status{Kind: task.StatusQueued}
		t.StartedAt = nil
		t.EndedAt = nil
	}
	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	if d.sched != nil {
		d.sched.TriggerImmediate()
	}
	return ok()
}

// handleEdit applies an in-place mutation to a non-running task. The task
// spends the edit under the Locked status, matching the Locked variant's
// purpose in the Data Model (spec.md §3 glossary "temporarily inadmissible
// due to an in-progress edit") even though a single handler call never
// actually races the scheduler for it.
func (d *Daemon) handleEdit(p *EditPayload) *Response {
	d.mu.Lock()
	t, found := d.state.Task(p.TaskID)
	if !found {
		d.mu.Unlock()
		return fail(newFailure(KindNotFound, "task %d not found", p.TaskID))
	}
	if t.IsRunning() {
		d.mu.Unlock()
		return fail(newFailure(KindInvalidState, "task %d is running", p.TaskID))
	}

	previous := t.Status
	t.Status = task.Status{Kind: task.StatusLocked}

	if p.EditDeps && hasCycle(d.state, t.ID, p.Dependencies) {
		t.Status = previous
		d.mu.Unlock()
		return fail(newFailure(KindDependencyCycle, "editing task %d's dependencies would introduce a cycle", t.ID))
	}

	if p.Command != nil {
		t.Command = *p.Command
	}
	if p.Path != nil {
		t.Path = *p.Path
	}
	if p.Label != nil {
		t.Label = p.Label
	}
	if p.EditDeps {
		t.Dependencies = append([]int(nil), p.Dependencies...)
	}
	t.Status = previous

	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	return ok()
}

func (d *Daemon) handleClean(p *CleanPayload) *Response {
	d.mu.Lock()
	var toRemove []int
	for _, id := range d.state.SortedTaskIDs() {
		t := d.state.Tasks[id]
		if t.Status.Kind != task.StatusDone {
			continue
		}
		if p.Group != "" && t.Group != p.Group {
			continue
		}
		if p.SuccessfulOnly && (t.Status.Result == nil || !t.Status.Result.IsSuccess()) {
			continue
		}
		toRemove = append(toRemove, id)
	}
	for _, id := range toRemove {
		_ = d.state.RemoveTask(id, false)
	}
	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	for _, id := range toRemove {
		_ = d.logs.Remove(id)
	}
	return ok()
}

// handleReset implements spec.md §4.4 step 6 directly against the
// supervisor and log store rather than routing through the scheduler: Go's
// sync.Mutex is non-reentrant, and Reset needs to hold d.mu across state
// mutation while the scheduler already assumes it owns the lock for the
// whole Tick, so re-entering scheduler methods here would deadlock.
func (d *Daemon) handleReset(_ *ResetPayload) *Response {
	d.mu.Lock()
	var runningIDs []int
	for _, t := range d.state.Tasks {
		if t.IsRunning() {
			runningIDs = append(runningIDs, t.ID)
		}
	}
	d.mu.Unlock()

	// KillAll always signals the whole process group; a reset that left
	// grandchildren alive would defeat the point of the operation.
	d.sup.KillAll(runningIDs, true, d.cfg.Daemon.ShutdownGraceTimeout)

	d.mu.Lock()
	for _, id := range runningIDs {
		d.sup.Forget(id)
	}
	d.state.Tasks = make(map[int]*task.Task)
	for _, g := range d.state.Groups {
		g.Status = task.GroupRunning
	}
	f := d.persistLocked()
	d.mu.Unlock()

	if err := d.logs.Purge(); err != nil && f == nil {
		f = newFailure(KindInternal, "purge logs: %v", err)
	}
	if f != nil {
		return fail(f)
	}
	return ok()
}

func (d *Daemon) handleShutdown(p *ShutdownPayload) *Response {
	d.mu.Lock()
	d.state.ShutdownRequested = true
	d.mu.Unlock()
	select {
	case d.shutdownCh <- *p:
	default:
	}
	return ok()
}

func (d *Daemon) handleGroupAdd(p *GroupPayload) *Response {
	d.mu.Lock()
	if err := d.state.AddGroup(p.Name, p.ParallelSlots); err != nil {
		d.mu.Unlock()
		return fail(newFailure(mapGroupErr(err), "%v", err))
	}
	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	d.publishGroup(events.EventGroupAdded, p.Name, task.GroupRunning.String())
	return ok()
}

func (d *Daemon) handleGroupRemove(p *GroupPayload) *Response {
	d.mu.Lock()
	if err := d.state.RemoveGroup(p.Name); err != nil {
		d.mu.Unlock()
		return fail(newFailure(mapGroupErr(err), "%v", err))
	}
	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	d.publishGroup(events.EventGroupRemoved, p.Name, "")
	return ok()
}

func (d *Daemon) handleGroupList() *Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	groups := make(map[string]*task.Group, len(d.state.Groups))
	for name, g := range d.state.Groups {
		groups[name] = g.Clone()
	}
	return &Response{Status: RespSuccess, Groups: groups}
}

func (d *Daemon) handleGroupParallel(p *GroupPayload) *Response {
	d.mu.Lock()
	g, found := d.state.Groups[p.Name]
	if !found {
		d.mu.Unlock()
		return fail(newFailure(KindNotFound, "group %q not found", p.Name))
	}
	if p.ParallelSlots < 1 {
		d.mu.Unlock()
		return fail(newFailure(KindMalformed, "parallel slots must be positive"))
	}
	g.ParallelSlots = p.ParallelSlots
	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	if d.sched != nil {
		d.sched.TriggerImmediate()
	}
	return ok()
}

func (d *Daemon) handleGroupPause(p *GroupPayload) *Response {
	d.mu.Lock()
	g, found := d.state.Groups[p.Name]
	if !found {
		d.mu.Unlock()
		return fail(newFailure(KindNotFound, "group %q not found", p.Name))
	}
	g.Status = task.GroupPaused
	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	d.publishGroup(events.EventGroupPaused, p.Name, task.GroupPaused.String())
	return ok()
}

func (d *Daemon) handleGroupResume(p *GroupPayload) *Response {
	d.mu.Lock()
	g, found := d.state.Groups[p.Name]
	if !found {
		d.mu.Unlock()
		return fail(newFailure(KindNotFound, "group %q not found", p.Name))
	}
	g.Status = task.GroupRunning
	f := d.persistLocked()
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	d.publishGroup(events.EventGroupResumed, p.Name, task.GroupRunning.String())
	if d.sched != nil {
		d.sched.TriggerImmediate()
	}
	return ok()
}

func (d *Daemon) handleStatus() *Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &Response{Status: RespSuccess, State: d.state.Clone()}
}

// handleLog implements spec.md §4.5's "Log reads release the lock after
// capturing the task id": ids are validated and captured under the lock,
// then the (potentially slow) file reads happen outside it.
func (d *Daemon) handleLog(p *LogPayload) *Response {
	d.mu.Lock()
	ids := p.TaskIDs
	if len(ids) == 0 {
		ids = d.state.SortedTaskIDs()
	}
	for _, id := range ids {
		if _, found := d.state.Task(id); !found {
			d.mu.Unlock()
			return fail(newFailure(KindNotFound, "task %d not found", id))
		}
	}
	d.mu.Unlock()

	logs := make([]TaskLog, 0, len(ids))
	for _, id := range ids {
		stdout, stderr, err := d.readTaskLog(id, p.Lines)
		if err != nil {
			return fail(newFailure(KindInternal, "read log for task %d: %v", id, err))
		}
		logs = append(logs, TaskLog{TaskID: id, Stdout: stdout, Stderr: stderr})
	}
	return &Response{Status: RespSuccess, Logs: logs}
}

func (d *Daemon) readTaskLog(id int, lines int) (stdout, stderr []byte, err error) {
	if lines > 0 {
		if stdout, err = d.logs.TailLines(id, logstore.Stdout, lines); err != nil {
			return nil, nil, err
		}
		if stderr, err = d.logs.TailLines(id, logstore.Stderr, lines); err != nil {
			return nil, nil, err
		}
		return stdout, stderr, nil
	}
	if stdout, err = d.logs.Read(id, logstore.Stdout); err != nil {
		return nil, nil, err
	}
	if stderr, err = d.logs.Read(id, logstore.Stderr); err != nil {
		return nil, nil, err
	}
	return stdout, stderr, nil
}

// handleStreamAck validates a Stream request's ids; the transport layer
// pumps the actual StreamFrame sequence via OpenStream once this succeeds.
func (d *Daemon) handleStreamAck(p *StreamPayload) *Response {
	d.mu.Lock()
	_, f := d.resolveIDs(Selection{Kind: SelectionTaskIDs, TaskIDs: p.TaskIDs})
	d.mu.Unlock()
	if f != nil {
		return fail(f)
	}
	return ok()
}
