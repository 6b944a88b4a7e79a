package task

import "errors"

// Sentinel errors surfaced by the task/state model. internal/daemon maps
// these onto the protocol's Failure kinds (spec.md §7).
var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrGroupNotFound   = errors.New("group not found")
	ErrGroupExists     = errors.New("group already exists")
	ErrGroupInUse      = errors.New("group has non-terminal tasks")
	ErrDefaultGroup    = errors.New("the default group cannot be removed")
	ErrTaskRunning     = errors.New("task is running")
	ErrInvalidSnapshot = errors.New("invalid or unsupported snapshot version")
	ErrDependencyCycle = errors.New("dependency graph contains a cycle")
)
