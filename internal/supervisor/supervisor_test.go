package supervisor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pueued/pueued/internal/logstore"
	"github.com/pueued/pueued/internal/supervisor"
)

func newSupervisor(t *testing.T) (*supervisor.Supervisor, *logstore.Store) {
	t.Helper()
	logs, err := logstore.New(t.TempDir())
	require.NoError(t, err)
	return supervisor.New(logs), logs
}

func waitForReap(t *testing.T, sup *supervisor.Supervisor, taskID int, timeout time.Duration) supervisor.ReapResult {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		result, ok := sup.Reap(taskID)
		require.True(t, ok)
		if result.Status != supervisor.ReapRunning {
			return result
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %d did not reap within %s", taskID, timeout)
	return supervisor.ReapResult{}
}

func TestSpawnAndReapSuccess(t *testing.T) {
	sup, logs := newSupervisor(t)

	err := sup.Spawn(supervisor.SpawnRequest{TaskID: 1, Command: "echo hello"})
	require.NoError(t, err)

	result := waitForReap(t, sup, 1, time.Second)
	assert.Equal(t, supervisor.ReapExited, result.Status)
	assert.Equal(t, 0, result.ExitCode)

	data, err := logs.Read(1, logstore.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestSpawnNonZeroExit(t *testing.T) {
	sup, _ := newSupervisor(t)

	err := sup.Spawn(supervisor.SpawnRequest{TaskID: 2, Command: "exit 7"})
	require.NoError(t, err)

	result := waitForReap(t, sup, 2, time.Second)
	assert.Equal(t, supervisor.ReapExited, result.Status)
	assert.Equal(t, 7, result.ExitCode)
}

func TestEnvAndWorkingDirApplied(t *testing.T) {
	sup, logs := newSupervisor(t)
	dir := t.TempDir()

	err := sup.Spawn(supervisor.SpawnRequest{
		TaskID:  3,
		Command: "echo $GREETING; pwd",
		Path:    dir,
		Envs:    map[string]string{"GREETING": "howdy"},
	})
	require.NoError(t, err)

	waitForReap(t, sup, 3, time.Second)
	data, err := logs.Read(3, logstore.Stdout)
	require.NoError(t, err)
	assert.Contains(t, string(data), "howdy")
	assert.Contains(t, string(data), dir)
}

func TestSignalTermKillsLongRunningChild(t *testing.T) {
	sup, _ := newSupervisor(t)

	err := sup.Spawn(supervisor.SpawnRequest{TaskID: 4, Command: "sleep 30"})
	require.NoError(t, err)

	degraded, err := sup.Signal(4, supervisor.SIGTERM, true)
	require.NoError(t, err)
	_ = degraded

	result := waitForReap(t, sup, 4, 2*time.Second)
	assert.Equal(t, supervisor.ReapSignalled, result.Status)
}

func TestReapUnknownTaskIsNotOK(t *testing.T) {
	sup, _ := newSupervisor(t)
	_, ok := sup.Reap(999)
	assert.False(t, ok)
}

func TestKillAllEscalatesPastDeadline(t *testing.T) {
	sup, _ := newSupervisor(t)

	require.NoError(t, sup.Spawn(supervisor.SpawnRequest{TaskID: 5, Command: "trap '' TERM; sleep 30"}))

	sup.KillAll([]int{5}, true, 50*time.Millisecond)

	result := waitForReap(t, sup, 5, 2*time.Second)
	assert.Equal(t, supervisor.ReapSignalled, result.Status)
}
