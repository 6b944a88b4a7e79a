// Package events carries the daemon's internal activity (task and group
// lifecycle changes) to anything that wants to observe it without touching
// the daemon's state lock. The websocket hub is its only subscriber.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Task events
	EventTaskSubmitted        EventType = "task.submitted"
	EventTaskStarted          EventType = "task.started"
	EventTaskCompleted        EventType = "task.completed"
	EventTaskFailed           EventType = "task.failed"
	EventTaskDependencyFailed EventType = "task.dependency_failed"
	EventTaskStashed          EventType = "task.stashed"
	EventTaskRemoved          EventType = "task.removed"

	// Group events
	EventGroupPaused  EventType = "group.paused"
	EventGroupResumed EventType = "group.resumed"
	EventGroupAdded   EventType = "group.added"
	EventGroupRemoved EventType = "group.removed"

	// System events
	EventQueueDepth    EventType = "queue.depth"
	EventSystemMetrics EventType = "system.metrics"
	EventShutdown      EventType = "system.shutdown"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ToJSON serializes the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Publisher defines the interface for event publishers
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error)
	Close() error
}

// Subscriber represents an event subscriber
type Subscriber interface {
	OnEvent(event *Event)
	EventTypes() []EventType
}

// TaskEventData creates event data for task lifecycle events.
func TaskEventData(taskID int, group, status string, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"task_id": taskID,
		"group":   group,
		"status":  status,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// GroupEventData creates event data for group lifecycle events.
func GroupEventData(group, status string, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"group":  group,
		"status": status,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// QueueDepthData creates event data for per-group queue depth events.
func QueueDepthData(depths map[string]int64) map[string]interface{} {
	return map[string]interface{}{
		"depths": depths,
	}
}
