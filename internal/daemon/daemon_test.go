package daemon_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pueued/pueued/internal/config"
	"github.com/pueued/pueued/internal/daemon"
	"github.com/pueued/pueued/internal/logstore"
	"github.com/pueued/pueued/internal/supervisor"
	"github.com/pueued/pueued/internal/task"
)

func newDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	dir := t.TempDir()
	logs, err := logstore.New(dir + "/logs")
	require.NoError(t, err)
	sup := supervisor.New(logs)
	cfg := &config.Config{
		Daemon: config.DaemonConfig{DataDir: dir, ShutdownGraceTimeout: time.Second},
		Scheduler: config.SchedulerConfig{TickInterval: time.Millisecond},
		Groups: map[string]config.GroupConfig{
			task.DefaultGroup: {ParallelSlots: 1},
		},
	}
	d, err := daemon.New(cfg, sup, logs, nil)
	require.NoError(t, err)
	return d
}

func TestAddThenStatusShowsTask(t *testing.T) {
	d := newDaemon(t)

	resp := d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "echo hi"}})
	require.Equal(t, daemon.RespSuccess, resp.Status)
	require.NotNil(t, resp.AddedID)
	assert.Equal(t, 0, *resp.AddedID)

	status := d.Handle(&daemon.Request{Kind: daemon.ReqStatus})
	require.Equal(t, daemon.RespSuccess, status.Status)
	require.Contains(t, status.State.Tasks, 0)
	assert.Equal(t, "echo hi", status.State.Tasks[0].Command)
}

func TestAddToUnknownGroupFails(t *testing.T) {
	d := newDaemon(t)
	resp := d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "echo hi", Group: "ghost"}})
	require.Equal(t, daemon.RespFailure, resp.Status)
	assert.Equal(t, daemon.KindNotFound, resp.Failure.Kind)
}

func TestRemoveUnknownTaskNotFound(t *testing.T) {
	d := newDaemon(t)
	add := d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "sleep 1"}})
	require.Equal(t, daemon.RespSuccess, add.Status)

	// No scheduler ticks in this test, so the added task never runs; the
	// Remove below names an id that was never assigned and must fail with
	// NotFound.
	remove := d.Handle(&daemon.Request{Kind: daemon.ReqRemove, Remove: &daemon.RemovePayload{TaskIDs: []int{99}}})
	require.Equal(t, daemon.RespFailure, remove.Status)
	assert.Equal(t, daemon.KindNotFound, remove.Failure.Kind)
}

func TestGroupAddListRemove(t *testing.T) {
	d := newDaemon(t)

	add := d.Handle(&daemon.Request{Kind: daemon.ReqGroupAdd, Group: &daemon.GroupPayload{Name: "g", ParallelSlots: 2}})
	require.Equal(t, daemon.RespSuccess, add.Status)

	list := d.Handle(&daemon.Request{Kind: daemon.ReqGroupList})
	require.Equal(t, daemon.RespSuccess, list.Status)
	require.Contains(t, list.Groups, "g")
	assert.Equal(t, 2, list.Groups["g"].ParallelSlots)

	remove := d.Handle(&daemon.Request{Kind: daemon.ReqGroupRemove, Group: &daemon.GroupPayload{Name: "g"}})
	require.Equal(t, daemon.RespSuccess, remove.Status)

	removeDefault := d.Handle(&daemon.Request{Kind: daemon.ReqGroupRemove, Group: &daemon.GroupPayload{Name: task.DefaultGroup}})
	require.Equal(t, daemon.RespFailure, removeDefault.Status)
	assert.Equal(t, daemon.KindInvalidState, removeDefault.Failure.Kind)
}

func TestSwitchSetsSwitchOrder(t *testing.T) {
	d := newDaemon(t)
	d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "echo a"}})
	d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "echo b"}})

	resp := d.Handle(&daemon.Request{Kind: daemon.ReqSwitch, Switch: &daemon.SwitchPayload{ID1: 0, ID2: 1}})
	require.Equal(t, daemon.RespSuccess, resp.Status)

	status := d.Handle(&daemon.Request{Kind: daemon.ReqStatus})
	require.NotNil(t, status.State.Tasks[0].SwitchOrder)
	require.NotNil(t, status.State.Tasks[1].SwitchOrder)
	assert.Equal(t, 1, *status.State.Tasks[0].SwitchOrder)
	// Task 1's override points at task 0, whose id is the zero value an int
	// sentinel would mistake for "unset" — the pointer must still carry it.
	assert.Equal(t, 0, *status.State.Tasks[1].SwitchOrder)
}

func TestEditRejectsDependencyCycle(t *testing.T) {
	d := newDaemon(t)
	d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "echo a"}})
	d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "echo b", Dependencies: []int{0}}})

	// Editing task 0 to depend on task 1 would close the loop 0 -> 1 -> 0.
	resp := d.Handle(&daemon.Request{Kind: daemon.ReqEdit, Edit: &daemon.EditPayload{
		TaskID: 0, EditDeps: true, Dependencies: []int{1},
	}})
	require.Equal(t, daemon.RespFailure, resp.Status)
	assert.Equal(t, daemon.KindDependencyCycle, resp.Failure.Kind)

	status := d.Handle(&daemon.Request{Kind: daemon.ReqStatus})
	assert.Empty(t, status.State.Tasks[0].Dependencies)
}

func TestEditUpdatesCommandAndRestoresStatus(t *testing.T) {
	d := newDaemon(t)
	d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "echo a"}})

	newCmd := "echo b"
	resp := d.Handle(&daemon.Request{Kind: daemon.ReqEdit, Edit: &daemon.EditPayload{TaskID: 0, Command: &newCmd}})
	require.Equal(t, daemon.RespSuccess, resp.Status)

	status := d.Handle(&daemon.Request{Kind: daemon.ReqStatus})
	assert.Equal(t, "echo b", status.State.Tasks[0].Command)
	assert.Equal(t, task.StatusQueued, status.State.Tasks[0].Status.Kind)
}

func TestRestartRequiresTerminalTask(t *testing.T) {
	d := newDaemon(t)
	d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "echo a"}})

	resp := d.Handle(&daemon.Request{Kind: daemon.ReqRestart, Restart: &daemon.RestartPayload{TaskIDs: []int{0}}})
	require.Equal(t, daemon.RespFailure, resp.Status)
	assert.Equal(t, daemon.KindInvalidState, resp.Failure.Kind)
}

func TestStashAndEnqueue(t *testing.T) {
	d := newDaemon(t)
	d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "echo a"}})

	sel := daemon.Selection{Kind: daemon.SelectionTaskIDs, TaskIDs: []int{0}}
	stash := d.Handle(&daemon.Request{Kind: daemon.ReqStash, Stash: &daemon.SelectionPayload{Selection: sel}})
	require.Equal(t, daemon.RespSuccess, stash.Status)

	status := d.Handle(&daemon.Request{Kind: daemon.ReqStatus})
	assert.Equal(t, task.StatusStashed, status.State.Tasks[0].Status.Kind)

	enqueue := d.Handle(&daemon.Request{Kind: daemon.ReqEnqueue, Enqueue: &daemon.EnqueuePayload{Selection: sel}})
	require.Equal(t, daemon.RespSuccess, enqueue.Status)

	status = d.Handle(&daemon.Request{Kind: daemon.ReqStatus})
	assert.Equal(t, task.StatusQueued, status.State.Tasks[0].Status.Kind)
}

func TestCleanRemovesOnlyDoneTasks(t *testing.T) {
	d := newDaemon(t)
	d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "echo a"}})

	clean := d.Handle(&daemon.Request{Kind: daemon.ReqClean, Clean: &daemon.CleanPayload{}})
	require.Equal(t, daemon.RespSuccess, clean.Status)

	status := d.Handle(&daemon.Request{Kind: daemon.ReqStatus})
	assert.Contains(t, status.State.Tasks, 0)
}

func TestResetClearsTasksAndResumesGroups(t *testing.T) {
	d := newDaemon(t)
	d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "echo a"}})
	d.Handle(&daemon.Request{Kind: daemon.ReqGroupPause, Group: &daemon.GroupPayload{Name: task.DefaultGroup}})

	resp := d.Handle(&daemon.Request{Kind: daemon.ReqReset, Reset: &daemon.ResetPayload{Children: true}})
	require.Equal(t, daemon.RespSuccess, resp.Status)

	status := d.Handle(&daemon.Request{Kind: daemon.ReqStatus})
	assert.Empty(t, status.State.Tasks)
	assert.Equal(t, task.GroupRunning, status.State.Groups[task.DefaultGroup].Status)

	add := d.Handle(&daemon.Request{Kind: daemon.ReqAdd, Add: &daemon.AddPayload{Command: "echo b"}})
	require.Equal(t, daemon.RespSuccess, add.Status)
	assert.Equal(t, 1, *add.AddedID)
}

func TestUnknownRequestKindIsMalformed(t *testing.T) {
	d := newDaemon(t)
	resp := d.Handle(&daemon.Request{Kind: daemon.RequestKind(999)})
	require.Equal(t, daemon.RespFailure, resp.Status)
	assert.Equal(t, daemon.KindMalformed, resp.Failure.Kind)
}
