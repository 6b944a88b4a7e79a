package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SnapshotVersion is bumped whenever the persisted format changes in a
// backwards-incompatible way. An unknown version is refused outright, never
// silently upgraded (spec.md §6, §9).
const SnapshotVersion = 1

// State is the single top-level entity the daemon mutates. Every field is
// exported so (de)serialization is trivial; callers outside this package are
// expected to hold the daemon's single mutex before touching a *State
// obtained from the daemon (internal/task itself performs no locking).
type State struct {
	Tasks                map[int]*Task     `json:"tasks"`
	Groups               map[string]*Group `json:"groups"`
	NextID               int               `json:"next_id"`
	GlobalPauseRequested bool              `json:"global_pause_requested"`
	ShutdownRequested    bool              `json:"shutdown_requested"`
}

// NewState returns an empty state with only the default group present.
func NewState(defaultParallelSlots int) *State {
	return &State{
		Tasks: make(map[int]*Task),
		Groups: map[string]*Group{
			DefaultGroup: NewGroup(DefaultGroup, defaultParallelSlots),
		},
		NextID: 0,
	}
}

// AddTask assigns the next id to t, stores it, and advances NextID. Ids are
// never reused for the lifetime of the State value (spec.md §3).
func (s *State) AddTask(build func(id int) *Task) *Task {
	id := s.NextID
	s.NextID++
	t := build(id)
	t.ID = id
	s.Tasks[id] = t
	return t
}

// RemoveTask deletes a task. Refuses to remove a Running task unless force is
// true (the caller's promise that it has already been killed, spec.md §4.1).
func (s *State) RemoveTask(id int, force bool) error {
	t, ok := s.Tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.IsRunning() && !force {
		return ErrTaskRunning
	}
	delete(s.Tasks, id)
	return nil
}

// Task looks up a task by id.
func (s *State) Task(id int) (*Task, bool) {
	t, ok := s.Tasks[id]
	return t, ok
}

// SortedTaskIDs returns every task id in ascending order.
func (s *State) SortedTaskIDs() []int {
	ids := make([]int, 0, len(s.Tasks))
	for id := range s.Tasks {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// TasksInGroup returns every task belonging to the named group, ascending by
// id.
func (s *State) TasksInGroup(group string) []*Task {
	var out []*Task
	for _, id := range s.SortedTaskIDs() {
		t := s.Tasks[id]
		if t.Group == group {
			out = append(out, t)
		}
	}
	return out
}

// RunningCount returns the number of Running tasks in the named group.
func (s *State) RunningCount(group string) int {
	n := 0
	for _, t := range s.Tasks {
		if t.Group == group && t.IsRunning() {
			n++
		}
	}
	return n
}

// AddGroup creates a new group with the given parallelism.
func (s *State) AddGroup(name string, parallelSlots int) error {
	if _, ok := s.Groups[name]; ok {
		return ErrGroupExists
	}
	s.Groups[name] = NewGroup(name, parallelSlots)
	return nil
}

// RemoveGroup deletes a group. Refused for the default group, and refused
// while any task in the group is non-terminal (spec.md §3).
func (s *State) RemoveGroup(name string) error {
	if name == DefaultGroup {
		return ErrDefaultGroup
	}
	g, ok := s.Groups[name]
	if !ok {
		return ErrGroupNotFound
	}
	for _, t := range s.Tasks {
		if t.Group == name && !t.IsTerminal() {
			return ErrGroupInUse
		}
	}
	delete(s.Groups, g.Name)
	return nil
}

// Validate checks the State invariants listed in spec.md §3. Snapshot
// restore (Unmarshal/ReadSnapshot) does not call it.
func (s *State) Validate() error {
	for id, t := range s.Tasks {
		if t.ID != id {
			return fmt.Errorf("task stored under key %d has id %d", id, t.ID)
		}
		if _, ok := s.Groups[t.Group]; !ok {
			return fmt.Errorf("task %d references unknown group %q", id, t.Group)
		}
		if t.Status.Kind == StatusDone && t.StartedAt != nil && t.EndedAt != nil {
			if t.EndedAt.Before(*t.StartedAt) {
				return fmt.Errorf("task %d has end before start", id)
			}
			if t.StartedAt.Before(t.CreatedAt) {
				return fmt.Errorf("task %d has start before created", id)
			}
		}
	}
	for name, g := range s.Groups {
		if g.ParallelSlots < 1 {
			return fmt.Errorf("group %q has non-positive parallel slots", name)
		}
		if s.RunningCount(name) > g.ParallelSlots {
			return fmt.Errorf("group %q exceeds its parallel slots", name)
		}
	}
	return nil
}

// snapshotEnvelope is the on-disk format: a version tag plus the state.
type snapshotEnvelope struct {
	Version int    `json:"version"`
	State   *State `json:"state"`
}

// Marshal serializes the state into its versioned snapshot envelope.
func (s *State) Marshal() ([]byte, error) {
	return json.MarshalIndent(snapshotEnvelope{Version: SnapshotVersion, State: s}, "", "  ")
}

// Unmarshal parses a versioned snapshot envelope, refusing unknown versions
// rather than attempting to upgrade them silently (spec.md §6, §9).
func Unmarshal(data []byte) (*State, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if env.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: got version %d, want %d", ErrInvalidSnapshot, env.Version, SnapshotVersion)
	}
	if env.State == nil {
		return nil, fmt.Errorf("%w: missing state", ErrInvalidSnapshot)
	}
	if env.State.Tasks == nil {
		env.State.Tasks = make(map[int]*Task)
	}
	if env.State.Groups == nil {
		env.State.Groups = make(map[string]*Group)
	}
	return env.State, nil
}

// DemoteRunning resets every Running task to Queued. Called after restoring
// from a snapshot: the child process that was running cannot have survived
// the daemon (spec.md §4.1).
func (s *State) DemoteRunning() {
	for _, t := range s.Tasks {
		if t.IsRunning() {
			t.Status = Status{Kind: StatusQueued}
			t.StartedAt = nil
		}
	}
}

// WriteSnapshot atomically persists the state to path via a temp-file +
// rename (spec.md §6).
func (s *State) WriteSnapshot(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads and parses a snapshot file, demoting any Running task
// to Queued as restore requires.
func ReadSnapshot(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	s.DemoteRunning()
	return s, nil
}

// Clone returns a deep copy of the state, safe to hand to callers outside
// the daemon's lock (used for Status responses and query evaluation).
func (s *State) Clone() *State {
	clone := &State{
		Tasks:                make(map[int]*Task, len(s.Tasks)),
		Groups:               make(map[string]*Group, len(s.Groups)),
		NextID:               s.NextID,
		GlobalPauseRequested: s.GlobalPauseRequested,
		ShutdownRequested:    s.ShutdownRequested,
	}
	for id, t := range s.Tasks {
		clone.Tasks[id] = t.Clone()
	}
	for name, g := range s.Groups {
		clone.Groups[name] = g.Clone()
	}
	return clone
}
