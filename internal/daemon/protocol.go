// Package daemon implements C5 (Request Handler) and C8 (Signal & Shutdown):
// the closed catalogue of client requests, applied to the shared task.State
// under one mutex, and the process-signal-driven shutdown sequence.
package daemon

import (
	"time"

	"github.com/pueued/pueued/internal/supervisor"
	"github.com/pueued/pueued/internal/task"
)

// RequestKind discriminates the closed request catalogue from spec.md §4.5.
type RequestKind int

const (
	ReqAdd RequestKind = iota
	ReqRemove
	ReqStart
	ReqPause
	ReqKill
	ReqStash
	ReqEnqueue
	ReqSwitch
	ReqRestart
	ReqEdit
	ReqClean
	ReqReset
	ReqShutdown
	ReqGroupAdd
	ReqGroupRemove
	ReqGroupList
	ReqGroupParallel
	ReqGroupPause
	ReqGroupResume
	ReqStatus
	ReqLog
	ReqStream
)

// SelectionKind discriminates which tasks a request targets.
type SelectionKind int

const (
	SelectionAll SelectionKind = iota
	SelectionGroup
	SelectionTaskIDs
)

// Selection is the `selection ∈ {All, Group(name), TaskIds([…])}` argument
// shared by Start, Pause, Kill, and Stash (spec.md §4.5).
type Selection struct {
	Kind    SelectionKind
	Group   string
	TaskIDs []int
}

// AddPayload carries the Add request's fields (spec.md §4.5).
type AddPayload struct {
	Command          string
	Path             string
	Envs             map[string]string
	Group            string
	Stashed          bool
	EnqueueAt        *time.Time
	Dependencies     []int
	Label            *string
	StartImmediately bool
}

type RemovePayload struct {
	TaskIDs []int
}

type SelectionPayload struct {
	Selection Selection
}

type PausePayload struct {
	Selection Selection
	Wait      bool
	Children  bool
}

type KillPayload struct {
	Selection Selection
	Signal    supervisor.Signal
	Children  bool
}

type EnqueuePayload struct {
	Selection Selection
	EnqueueAt *time.Time
}

// SwitchPayload swaps the admission priority of two tasks (supplemented from
// original_source, see SPEC_FULL.md §4.5).
type SwitchPayload struct {
	ID1 int
	ID2 int
}

type RestartPayload struct {
	TaskIDs []int
}

// EditPayload mutates a non-running task's fields in place. Nil pointers
// mean "leave unchanged". Dependencies is replaced wholesale when EditDeps
// is true (a nil or empty list then clears them).
type EditPayload struct {
	TaskID       int
	Command      *string
	Path         *string
	Label        *string
	Dependencies []int
	EditDeps     bool
}

type CleanPayload struct {
	SuccessfulOnly bool
	Group          string
}

type ResetPayload struct {
	Children bool
}

type ShutdownPayload struct {
	Graceful bool
}

// GroupPayload covers add/remove/list/parallel/pause/resume; not every field
// is meaningful for every ReqGroup* kind.
type GroupPayload struct {
	Name          string
	ParallelSlots int
}

type LogPayload struct {
	TaskIDs []int
	Lines   int
}

type StreamPayload struct {
	TaskIDs []int
}

// Request is the closed-catalogue envelope sent over C6. Exactly one
// payload field is populated, matching the Kind field, following the same
// Kind+payload-fields convention as task.Status rather than an interface
// (Design Notes §9 "preserve exactly").
type Request struct {
	Kind RequestKind

	Add      *AddPayload
	Remove   *RemovePayload
	Start    *SelectionPayload
	Pause    *PausePayload
	Kill     *KillPayload
	Stash    *SelectionPayload
	Enqueue  *EnqueuePayload
	Switch   *SwitchPayload
	Restart  *RestartPayload
	Edit     *EditPayload
	Clean    *CleanPayload
	Reset    *ResetPayload
	Shutdown *ShutdownPayload
	Group    *GroupPayload
	Log      *LogPayload
	Stream   *StreamPayload
}

// ResponseStatus discriminates the three response envelope kinds from
// spec.md §6: Success(payload?), Failure(kind, message), Stream(chunk).
type ResponseStatus int

const (
	RespSuccess ResponseStatus = iota
	RespFailure
	RespStream
)

// TaskLog is one task's captured output returned by a Log request.
type TaskLog struct {
	TaskID int
	Stdout []byte
	Stderr []byte
}

// StreamFrame is one chunk of a Stream subscription (spec.md §4.6): a
// (task_id, bytes-or-eof) pair.
type StreamFrame struct {
	TaskID int
	Chunk  []byte
	EOF    bool
}

// Response is the symmetric reply envelope. Only the fields relevant to the
// originating request's Kind are populated.
type Response struct {
	Status  ResponseStatus
	Failure *Failure

	AddedID *int
	State   *task.State
	Groups  map[string]*task.Group
	Logs    []TaskLog
	Stream  *StreamFrame
}

func ok() *Response { return &Response{Status: RespSuccess} }

func fail(f *Failure) *Response { return &Response{Status: RespFailure, Failure: f} }
