// Command pueuectl is a minimal, scriptable client for pueued: it exercises
// pkg/client to add, list, and control tasks from the shell. The
// interactive TUI is an explicit Non-goal of this daemon (spec.md §1); this
// is the thin, non-interactive surface that remains in scope, in the same
// spirit as the teacher's own cmd/worker and cmd/api-server entrypoints
// being separate from its admin tooling.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pueued/pueued/internal/daemon"
	"github.com/pueued/pueued/internal/supervisor"
	"github.com/pueued/pueued/internal/task"
	"github.com/pueued/pueued/internal/task/query"
	"github.com/pueued/pueued/internal/transport"
	"github.com/pueued/pueued/pkg/client"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	socketPath := transport.DefaultSocketPath()
	secretPath := socketPath + ".secret"
	if v := os.Getenv("PUEUE_SOCKET"); v != "" {
		socketPath = v
	}
	if v := os.Getenv("PUEUE_SECRET"); v != "" {
		secretPath = v
	}

	key, err := transport.LoadOrCreateSecret(secretPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueuectl: load secret: %v\n", err)
		return 2
	}
	c := client.New(socketPath, key)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "add":
		return cmdAdd(c, rest)
	case "remove":
		return cmdIDs(rest, "remove ids", func(ids []int) error { return c.Remove(ids...) })
	case "start":
		return cmdSelection(rest, c.Start)
	case "pause":
		return cmdPause(c, rest)
	case "kill":
		return cmdKill(c, rest)
	case "restart":
		return cmdIDs(rest, "restart ids", func(ids []int) error { return c.Restart(ids...) })
	case "clean":
		return exitErr(c.Clean(contains(rest, "--successful"), flagValue(rest, "--group")))
	case "reset":
		return exitErr(c.Reset(contains(rest, "--children")))
	case "shutdown":
		return exitErr(c.Shutdown(!contains(rest, "--force")))
	case "status":
		return cmdStatus(c, strings.Join(rest, " "))
	case "log":
		return cmdLog(c, rest)
	case "group":
		return cmdGroup(c, rest)
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "pueuectl: unknown command %q\n", cmd)
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: pueuectl <command> [args]

commands:
  add <command...> [--group NAME] [--label TEXT] [--after ID,...] [--immediate]
  remove <id...>
  start [all|group NAME|id...]
  pause [all|group NAME|id...] [--wait] [--children]
  kill [all|group NAME|id...] [--signal SIGTERM|SIGKILL|SIGSTOP|SIGCONT] [--children]
  restart <id...>
  clean [--successful] [--group NAME]
  reset [--children]
  shutdown [--force]
  status [query]
  log [id...] [--lines N]
  group add NAME SLOTS | remove NAME | list | parallel NAME SLOTS | pause NAME | resume NAME`)
}

func exitErr(err error) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueuectl: %v\n", err)
		return 1
	}
	return 0
}

func contains(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		if strings.HasPrefix(a, "--") {
			continue
		}
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid task id %q", a)
		}
		ids = append(ids, n)
	}
	return ids, nil
}

func cmdIDs(args []string, usage string, fn func(ids []int) error) int {
	ids, err := parseIDs(args)
	if err != nil || len(ids) == 0 {
		fmt.Fprintf(os.Stderr, "pueuectl: usage: %s\n", usage)
		return 2
	}
	return exitErr(fn(ids))
}

func cmdAdd(c *client.Client, args []string) int {
	var (
		group    string
		label    *string
		deps     []int
		cmdWords []string
	)
	immediate := false
	i := 0
	for i < len(args) {
		switch args[i] {
		case "--group":
			i++
			group = args[i]
		case "--label":
			i++
			l := args[i]
			label = &l
		case "--after":
			i++
			for _, part := range strings.Split(args[i], ",") {
				if part == "" {
					continue
				}
				n, err := strconv.Atoi(part)
				if err != nil {
					fmt.Fprintf(os.Stderr, "pueuectl: invalid dependency id %q\n", part)
					return 2
				}
				deps = append(deps, n)
			}
		case "--immediate":
			immediate = true
		default:
			cmdWords = append(cmdWords, args[i])
		}
		i++
	}
	if len(cmdWords) == 0 {
		fmt.Fprintln(os.Stderr, "pueuectl: usage: add <command...>")
		return 2
	}

	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueuectl: %v\n", err)
		return 1
	}

	id, err := c.Add(daemon.AddPayload{
		Command:          strings.Join(cmdWords, " "),
		Path:             wd,
		Envs:             envSnapshot(),
		Group:            group,
		Dependencies:     deps,
		Label:            label,
		StartImmediately: immediate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueuectl: %v\n", err)
		return 1
	}
	fmt.Println(id)
	return 0
}

func envSnapshot() map[string]string {
	envs := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			envs[kv[:i]] = kv[i+1:]
		}
	}
	return envs
}

func cmdSelection(args []string, fn func(daemon.Selection) error) int {
	sel, err := parseSelection(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueuectl: %v\n", err)
		return 2
	}
	return exitErr(fn(sel))
}

func cmdPause(c *client.Client, args []string) int {
	sel, err := parseSelection(filterFlags(args))
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueuectl: %v\n", err)
		return 2
	}
	return exitErr(c.Pause(sel, contains(args, "--wait"), contains(args, "--children")))
}

func cmdKill(c *client.Client, args []string) int {
	sel, err := parseSelection(filterFlags(args))
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueuectl: %v\n", err)
		return 2
	}
	sig := supervisor.SIGTERM
	if v := flagValue(args, "--signal"); v != "" {
		parsed, ok := parseSignal(v)
		if !ok {
			fmt.Fprintf(os.Stderr, "pueuectl: unknown signal %q\n", v)
			return 2
		}
		sig = parsed
	}
	return exitErr(c.Kill(sel, sig, contains(args, "--children")))
}

func filterFlags(args []string) []string {
	out := make([]string, 0, len(args))
	skip := false
	for _, a := range args {
		if skip {
			skip = false
			continue
		}
		if a == "--signal" || a == "--lines" {
			skip = true
			continue
		}
		if strings.HasPrefix(a, "--") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func parseSignal(name string) (supervisor.Signal, bool) {
	switch strings.ToUpper(name) {
	case "SIGTERM":
		return supervisor.SIGTERM, true
	case "SIGKILL":
		return supervisor.SIGKILL, true
	case "SIGSTOP":
		return supervisor.SIGSTOP, true
	case "SIGCONT":
		return supervisor.SIGCONT, true
	default:
		return 0, false
	}
}

func parseSelection(args []string) (daemon.Selection, error) {
	if len(args) == 0 || args[0] == "all" {
		return client.All(), nil
	}
	if args[0] == "group" {
		if len(args) < 2 {
			return daemon.Selection{}, fmt.Errorf("usage: group NAME")
		}
		return client.ByGroup(args[1]), nil
	}
	ids, err := parseIDs(args)
	if err != nil {
		return daemon.Selection{}, err
	}
	return client.ByIDs(ids...), nil
}

// cmdStatus fetches the full State from the daemon and, if a query string
// was given, applies the filter/order/limit pipeline client-side (spec.md
// §4.7: "C7 is invoked only by clients before rendering; the daemon returns
// the full state and the client filters").
func cmdStatus(c *client.Client, queryStr string) int {
	resp, err := c.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueuectl: %v\n", err)
		return 1
	}

	tasks := make([]*task.Task, 0, len(resp.State.Tasks))
	for _, id := range resp.State.SortedTaskIDs() {
		tasks = append(tasks, resp.State.Tasks[id])
	}

	if strings.TrimSpace(queryStr) != "" {
		q, err := query.Parse(queryStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pueuectl: %v\n", err)
			return 2
		}
		tasks = q.Apply(tasks)
	}

	for _, t := range tasks {
		label := ""
		if t.Label != nil {
			label = " " + *t.Label
		}
		fmt.Printf("%d\t%s\t%s\t%s%s\n", t.ID, t.Group, t.Status.String(), t.Command, label)
	}
	return 0
}

func cmdLog(c *client.Client, args []string) int {
	lines := 0
	if v := flagValue(args, "--lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pueuectl: invalid --lines value %q\n", v)
			return 2
		}
		lines = n
	}
	ids, err := parseIDs(filterFlags(args))
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueuectl: %v\n", err)
		return 2
	}
	logs, err := c.Log(ids, lines)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pueuectl: %v\n", err)
		return 1
	}
	for _, l := range logs {
		fmt.Printf("=== task %d ===\n%s%s", l.TaskID, l.Stdout, l.Stderr)
	}
	return 0
}

func cmdGroup(c *client.Client, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "pueuectl: usage: group add|remove|list|parallel|pause|resume ...")
		return 2
	}
	switch args[0] {
	case "add":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "pueuectl: usage: group add NAME SLOTS")
			return 2
		}
		slots, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "pueuectl: invalid slot count %q\n", args[2])
			return 2
		}
		return exitErr(c.GroupAdd(args[1], slots))
	case "remove":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "pueuectl: usage: group remove NAME")
			return 2
		}
		return exitErr(c.GroupRemove(args[1]))
	case "list":
		groups, err := c.GroupList()
		if err != nil {
			fmt.Fprintf(os.Stderr, "pueuectl: %v\n", err)
			return 1
		}
		for name, g := range groups {
			fmt.Printf("%s\t%d\t%s\n", name, g.ParallelSlots, g.Status.String())
		}
		return 0
	case "parallel":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "pueuectl: usage: group parallel NAME SLOTS")
			return 2
		}
		slots, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "pueuectl: invalid slot count %q\n", args[2])
			return 2
		}
		return exitErr(c.GroupParallel(args[1], slots))
	case "pause":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "pueuectl: usage: group pause NAME")
			return 2
		}
		return exitErr(c.GroupPause(args[1]))
	case "resume":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "pueuectl: usage: group resume NAME")
			return 2
		}
		return exitErr(c.GroupResume(args[1]))
	default:
		fmt.Fprintf(os.Stderr, "pueuectl: unknown group subcommand %q\n", args[0])
		return 2
	}
}
