package scheduler_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pueued/pueued/internal/config"
	"github.com/pueued/pueued/internal/logstore"
	"github.com/pueued/pueued/internal/scheduler"
	"github.com/pueued/pueued/internal/supervisor"
	"github.com/pueued/pueued/internal/task"
)

func newFixture(t *testing.T) (*sync.Mutex, *task.State, *scheduler.Scheduler) {
	t.Helper()
	logs, err := logstore.New(t.TempDir())
	require.NoError(t, err)
	sup := supervisor.New(logs)
	state := task.NewState(1)
	var mu sync.Mutex
	sched := scheduler.New(&mu, state, sup, logs, nil, config.SchedulerConfig{TickInterval: time.Millisecond}, func() error { return nil })
	return &mu, state, sched
}

func tickUntil(t *testing.T, sched *scheduler.Scheduler, timeout time.Duration, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		sched.Tick(time.Now().UTC())
		if done() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

// Scenario 1 (spec.md §8): a simple command (echo hi) in the default group
// runs and completes
// successfully with end >= start.
func TestScenarioSimpleSuccess(t *testing.T) {
	mu, state, sched := newFixture(t)

	mu.Lock()
	tk := state.AddTask(func(id int) *task.Task {
		return task.New(id, "echo hi", "", nil, task.DefaultGroup, nil, nil)
	})
	mu.Unlock()

	tickUntil(t, sched, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return tk.Status.Kind == task.StatusDone
	})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, task.StatusDone, tk.Status.Kind)
	assert.True(t, tk.Status.Result.IsSuccess())
	require.NotNil(t, tk.StartedAt)
	require.NotNil(t, tk.EndedAt)
	assert.False(t, tk.EndedAt.Before(*tk.StartedAt))
}

// Scenario 2 (spec.md §8): a failing task fails with its exit code, and a
// dependent never runs, going straight to DependencyFailed.
func TestScenarioDependencyFailed(t *testing.T) {
	mu, state, sched := newFixture(t)

	mu.Lock()
	failing := state.AddTask(func(id int) *task.Task {
		return task.New(id, "false", "", nil, task.DefaultGroup, nil, nil)
	})
	mu.Unlock()

	tickUntil(t, sched, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failing.Status.Kind == task.StatusDone
	})

	mu.Lock()
	assert.Equal(t, task.ResultFailed, failing.Status.Result.Kind)
	assert.Equal(t, 1, failing.Status.Result.ExitCode)

	dependent := state.AddTask(func(id int) *task.Task {
		return task.New(id, "true", "", nil, task.DefaultGroup, []int{failing.ID}, nil)
	})
	mu.Unlock()

	tickUntil(t, sched, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dependent.Status.Kind == task.StatusDone
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, task.ResultDependencyFailed, dependent.Status.Result.Kind)
	assert.Nil(t, dependent.StartedAt)
}

// Scenario 3 (spec.md §8): a two-slot group admits exactly two of three
// sleeping tasks at once, ascending by id.
func TestScenarioGroupParallelism(t *testing.T) {
	mu, state, sched := newFixture(t)

	mu.Lock()
	require.NoError(t, state.AddGroup("g", 2))
	var ids []int
	for i := 0; i < 3; i++ {
		tk := state.AddTask(func(id int) *task.Task {
			return task.New(id, "sleep 0.3", "", nil, "g", nil, nil)
		})
		ids = append(ids, tk.ID)
	}
	mu.Unlock()

	tickUntil(t, sched, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return state.RunningCount("g") == 2
	})

	mu.Lock()
	assert.Equal(t, task.StatusQueued, state.Tasks[ids[2]].Status.Kind)
	assert.Equal(t, task.StatusRunning, state.Tasks[ids[0]].Status.Kind)
	assert.Equal(t, task.StatusRunning, state.Tasks[ids[1]].Status.Kind)
	mu.Unlock()

	tickUntil(t, sched, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return state.Tasks[ids[2]].Status.Kind == task.StatusRunning || state.Tasks[ids[2]].Status.Kind == task.StatusDone
	})
}

// Paused groups admit nothing new, but a task already Running is left alone
// (spec.md §4.4 step 5).
func TestPausedGroupStopsAdmissionButNotRunningTasks(t *testing.T) {
	mu, state, sched := newFixture(t)

	mu.Lock()
	running := state.AddTask(func(id int) *task.Task {
		return task.New(id, "sleep 0.2", "", nil, task.DefaultGroup, nil, nil)
	})
	mu.Unlock()
	sched.Tick(time.Now().UTC())

	mu.Lock()
	require.Equal(t, task.StatusRunning, running.Status.Kind)
	state.Groups[task.DefaultGroup].Status = task.GroupPaused
	queued := state.AddTask(func(id int) *task.Task {
		return task.New(id, "echo late", "", nil, task.DefaultGroup, nil, nil)
	})
	mu.Unlock()

	sched.Tick(time.Now().UTC())

	mu.Lock()
	assert.Equal(t, task.StatusQueued, queued.Status.Kind)
	mu.Unlock()

	tickUntil(t, sched, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return running.Status.Kind == task.StatusDone
	})
}

// A dependency id that is missing (e.g. a purged task) never fails the
// dependent; it stays Queued forever, per the Data Model's explicit
// invariant text over the Design Notes' advisory suggestion (DESIGN.md Open
// Question #3).
func TestMissingDependencyStaysQueued(t *testing.T) {
	mu, state, sched := newFixture(t)

	mu.Lock()
	tk := state.AddTask(func(id int) *task.Task {
		return task.New(id, "echo hi", "", nil, task.DefaultGroup, []int{999}, nil)
	})
	mu.Unlock()

	sched.Tick(time.Now().UTC())
	sched.Tick(time.Now().UTC())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, task.StatusQueued, tk.Status.Kind)
}
