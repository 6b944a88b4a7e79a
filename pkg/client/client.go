// Package client is a Go client library for the daemon's encrypted socket
// protocol (spec.md §4.6). It owns no persistent connection: each call dials,
// sends one request, reads the matching response, and closes, the same
// request/response-per-call model the wire format's implicit handshake
// assumes ("first frame from client must decrypt... else the server
// closes"). Streaming subscriptions are the one exception (see Stream).
package client

import (
	"fmt"
	"time"

	"github.com/pueued/pueued/internal/daemon"
	"github.com/pueued/pueued/internal/supervisor"
	"github.com/pueued/pueued/internal/task"
	"github.com/pueued/pueued/internal/transport"
)

// Client issues requests against a daemon listening on socketPath, sealed
// with the shared secret key.
type Client struct {
	socketPath string
	key        [32]byte
	opts       *options
}

// New builds a Client. It does not dial anything yet; every method call
// opens its own short-lived connection.
func New(socketPath string, key [32]byte, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Client{socketPath: socketPath, key: key, opts: o}
}

// call dials, sends req, and returns the daemon's Response. A RespFailure
// response is returned alongside a non-nil error so callers can inspect
// resp.Failure.Kind without a type assertion.
func (c *Client) call(req *daemon.Request) (*daemon.Response, error) {
	conn, err := transport.DialTimeout(c.socketPath, c.key, c.opts.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteFrame(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	var resp daemon.Response
	if err := conn.ReadFrame(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Status == daemon.RespFailure {
		return &resp, fmt.Errorf("%s: %s", resp.Failure.Kind, resp.Failure.Message)
	}
	return &resp, nil
}

// Selection helpers mirror daemon.Selection's three variants so callers
// never construct the zero-value-sensitive struct literal by hand.

func All() daemon.Selection { return daemon.Selection{Kind: daemon.SelectionAll} }

func ByGroup(name string) daemon.Selection {
	return daemon.Selection{Kind: daemon.SelectionGroup, Group: name}
}

func ByIDs(ids ...int) daemon.Selection {
	return daemon.Selection{Kind: daemon.SelectionTaskIDs, TaskIDs: ids}
}

// Add submits a new task and returns its assigned id.
func (c *Client) Add(p daemon.AddPayload) (int, error) {
	resp, err := c.call(&daemon.Request{Kind: daemon.ReqAdd, Add: &p})
	if err != nil {
		return 0, err
	}
	return *resp.AddedID, nil
}

// Remove deletes the given tasks and their logs.
func (c *Client) Remove(ids ...int) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqRemove, Remove: &daemon.RemovePayload{TaskIDs: ids}})
	return err
}

// Start ungates the selected queued tasks or group.
func (c *Client) Start(sel daemon.Selection) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqStart, Start: &daemon.SelectionPayload{Selection: sel}})
	return err
}

// Pause stops admission for sel, optionally blocking until nothing in scope
// is Running (wait) and/or SIGSTOP-ing already-running children (children).
func (c *Client) Pause(sel daemon.Selection, wait, children bool) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqPause, Pause: &daemon.PausePayload{Selection: sel, Wait: wait, Children: children}})
	return err
}

// Kill signals sel's tasks with sig, optionally fanning out to the whole
// process group.
func (c *Client) Kill(sel daemon.Selection, sig supervisor.Signal, children bool) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqKill, Kill: &daemon.KillPayload{Selection: sel, Signal: sig, Children: children}})
	return err
}

// Stash moves the selected tasks out of the ready queue.
func (c *Client) Stash(sel daemon.Selection) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqStash, Stash: &daemon.SelectionPayload{Selection: sel}})
	return err
}

// Enqueue schedules the selected stashed tasks to become Queued at
// enqueueAt, or immediately if nil.
func (c *Client) Enqueue(sel daemon.Selection, enqueueAt *time.Time) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqEnqueue, Enqueue: &daemon.EnqueuePayload{Selection: sel, EnqueueAt: enqueueAt}})
	return err
}

// Switch swaps the admission priority of two tasks.
func (c *Client) Switch(id1, id2 int) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqSwitch, Switch: &daemon.SwitchPayload{ID1: id1, ID2: id2}})
	return err
}

// Restart re-queues the given terminal tasks from scratch.
func (c *Client) Restart(ids ...int) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqRestart, Restart: &daemon.RestartPayload{TaskIDs: ids}})
	return err
}

// Edit mutates a single non-running task's fields in place.
func (c *Client) Edit(p daemon.EditPayload) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqEdit, Edit: &p})
	return err
}

// Clean removes terminal tasks, optionally only the successful ones and/or
// scoped to one group.
func (c *Client) Clean(successfulOnly bool, group string) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqClean, Clean: &daemon.CleanPayload{SuccessfulOnly: successfulOnly, Group: group}})
	return err
}

// Reset kills every non-terminal task, purges all logs, and returns every
// group to Running.
func (c *Client) Reset(children bool) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqReset, Reset: &daemon.ResetPayload{Children: children}})
	return err
}

// Shutdown asks the daemon to exit, gracefully by default.
func (c *Client) Shutdown(graceful bool) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqShutdown, Shutdown: &daemon.ShutdownPayload{Graceful: graceful}})
	return err
}

// GroupAdd creates a new group with the given parallelism.
func (c *Client) GroupAdd(name string, parallelSlots int) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqGroupAdd, Group: &daemon.GroupPayload{Name: name, ParallelSlots: parallelSlots}})
	return err
}

// GroupRemove deletes a group (refused for "default" or while it has
// non-terminal tasks).
func (c *Client) GroupRemove(name string) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqGroupRemove, Group: &daemon.GroupPayload{Name: name}})
	return err
}

// GroupList returns every group, keyed by name.
func (c *Client) GroupList() (map[string]*task.Group, error) {
	resp, err := c.call(&daemon.Request{Kind: daemon.ReqGroupList})
	if err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

// GroupParallel changes a group's parallel slot count.
func (c *Client) GroupParallel(name string, parallelSlots int) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqGroupParallel, Group: &daemon.GroupPayload{Name: name, ParallelSlots: parallelSlots}})
	return err
}

// GroupPause pauses a group's admission.
func (c *Client) GroupPause(name string) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqGroupPause, Group: &daemon.GroupPayload{Name: name}})
	return err
}

// GroupResume resumes a group's admission.
func (c *Client) GroupResume(name string) error {
	_, err := c.call(&daemon.Request{Kind: daemon.ReqGroupResume, Group: &daemon.GroupPayload{Name: name}})
	return err
}

// Status returns the full daemon state.
func (c *Client) Status() (*daemon.Response, error) {
	return c.call(&daemon.Request{Kind: daemon.ReqStatus})
}

// Log returns the captured output for the given tasks (all tasks if ids is
// empty), optionally truncated to the tail of lines lines.
func (c *Client) Log(ids []int, lines int) ([]daemon.TaskLog, error) {
	resp, err := c.call(&daemon.Request{Kind: daemon.ReqLog, Log: &daemon.LogPayload{TaskIDs: ids, Lines: lines}})
	if err != nil {
		return nil, err
	}
	return resp.Logs, nil
}
