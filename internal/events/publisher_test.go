package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_Constants(t *testing.T) {
	assert.Equal(t, EventType("task.submitted"), EventTaskSubmitted)
	assert.Equal(t, EventType("task.started"), EventTaskStarted)
	assert.Equal(t, EventType("task.completed"), EventTaskCompleted)
	assert.Equal(t, EventType("task.failed"), EventTaskFailed)
	assert.Equal(t, EventType("task.dependency_failed"), EventTaskDependencyFailed)
	assert.Equal(t, EventType("task.stashed"), EventTaskStashed)
	assert.Equal(t, EventType("task.removed"), EventTaskRemoved)
	assert.Equal(t, EventType("group.paused"), EventGroupPaused)
	assert.Equal(t, EventType("group.resumed"), EventGroupResumed)
	assert.Equal(t, EventType("group.added"), EventGroupAdded)
	assert.Equal(t, EventType("group.removed"), EventGroupRemoved)
	assert.Equal(t, EventType("queue.depth"), EventQueueDepth)
	assert.Equal(t, EventType("system.metrics"), EventSystemMetrics)
	assert.Equal(t, EventType("system.shutdown"), EventShutdown)
}

func TestNewEvent(t *testing.T) {
	data := map[string]interface{}{
		"task_id": 123,
		"group":   "default",
	}

	event := NewEvent(EventTaskSubmitted, data)

	assert.Equal(t, EventTaskSubmitted, event.Type)
	assert.Equal(t, data, event.Data)
	assert.False(t, event.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestEvent_ToJSON(t *testing.T) {
	event := &Event{
		Type:      EventTaskCompleted,
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"task_id": 456,
			"result":  "Success",
		},
	}

	data, err := event.ToJSON()
	require.NoError(t, err)

	var parsed map[string]interface{}
	err = json.Unmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, "task.completed", parsed["type"])
	assert.NotEmpty(t, parsed["timestamp"])
	assert.NotNil(t, parsed["data"])
}

func TestFromJSON(t *testing.T) {
	jsonData := `{
		"type": "task.failed",
		"timestamp": "2024-01-15T10:30:00Z",
		"data": {"task_id": 789, "error": "timeout"}
	}`

	event, err := FromJSON([]byte(jsonData))
	require.NoError(t, err)

	assert.Equal(t, EventTaskFailed, event.Type)
	assert.Equal(t, float64(789), event.Data["task_id"])
	assert.Equal(t, "timeout", event.Data["error"])
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("invalid json"))
	assert.Error(t, err)
}

func TestEvent_RoundTrip(t *testing.T) {
	original := NewEvent(EventGroupPaused, map[string]interface{}{
		"group":  "default",
		"status": "Paused",
	})

	data, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Data["group"], restored.Data["group"])
	assert.Equal(t, original.Data["status"], restored.Data["status"])
}

func TestTaskEventData(t *testing.T) {
	data := TaskEventData(123, "default", "Running", map[string]interface{}{
		"command": "echo hi",
	})

	assert.Equal(t, 123, data["task_id"])
	assert.Equal(t, "default", data["group"])
	assert.Equal(t, "Running", data["status"])
	assert.Equal(t, "echo hi", data["command"])
}

func TestTaskEventData_NoExtra(t *testing.T) {
	data := TaskEventData(456, "build", "Queued", nil)

	assert.Equal(t, 456, data["task_id"])
	assert.Equal(t, "build", data["group"])
	assert.Equal(t, "Queued", data["status"])
	assert.Len(t, data, 3)
}

func TestGroupEventData(t *testing.T) {
	data := GroupEventData("default", "Paused", map[string]interface{}{
		"parallel_slots": 2,
	})

	assert.Equal(t, "default", data["group"])
	assert.Equal(t, "Paused", data["status"])
	assert.Equal(t, 2, data["parallel_slots"])
}

func TestGroupEventData_NoExtra(t *testing.T) {
	data := GroupEventData("build", "Running", nil)

	assert.Equal(t, "build", data["group"])
	assert.Equal(t, "Running", data["status"])
	assert.Len(t, data, 2)
}

func TestQueueDepthData(t *testing.T) {
	depths := map[string]int64{
		"default": 10,
		"build":   5,
	}

	data := QueueDepthData(depths)

	assert.NotNil(t, data["depths"])
	depthsData := data["depths"].(map[string]int64)
	assert.Equal(t, int64(10), depthsData["default"])
	assert.Equal(t, int64(5), depthsData["build"])
}
