package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/pueued/pueued/internal/task"
)

// parseColumns handles `columns=ident,ident,...`.
func parseColumns(q *Query, c *cursor) error {
	token := c.next()
	idx := strings.Index(token, "=")
	if idx < 0 {
		return fmt.Errorf("malformed columns: expected %q", "columns=col,col,...")
	}
	for _, name := range strings.Split(token[idx+1:], ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		col, err := lookupColumn(name)
		if err != nil {
			return err
		}
		q.Columns = append(q.Columns, col)
	}
	return nil
}

// datetimeFilter implements `("start"|"end") op iso8601`.
type datetimeFilter struct {
	column Column
	op     string
	value  time.Time
}

func (f *datetimeFilter) fieldValue(t *task.Task) *time.Time {
	if f.column == ColumnStart {
		return t.StartedAt
	}
	return t.EndedAt
}

func (f *datetimeFilter) Matches(t *task.Task) bool {
	fv := f.fieldValue(t)
	if fv == nil {
		return false
	}
	switch f.op {
	case "<":
		return fv.Before(f.value)
	case "<=":
		return fv.Before(f.value) || fv.Equal(f.value)
	case "=":
		return fv.Equal(f.value)
	case "!=":
		return !fv.Equal(f.value)
	case ">=":
		return fv.After(f.value) || fv.Equal(f.value)
	case ">":
		return fv.After(f.value)
	default:
		return false
	}
}

func parseDatetimeFilter(q *Query, c *cursor) error {
	field, op, value, err := splitFused(c.next())
	if err != nil {
		return err
	}
	col, err := lookupColumn(field)
	if err != nil {
		return err
	}
	if col != ColumnStart && col != ColumnEnd {
		return fmt.Errorf("malformed query: %q is not a datetime column", field)
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return fmt.Errorf("malformed query: invalid RFC3339 timestamp %q: %w", value, err)
	}
	q.filters = append(q.filters, &datetimeFilter{column: col, op: op, value: ts})
	return nil
}

// labelFilter implements `"label" ("="|"!="|"%=") string`. `%=` is a
// substring match (grounded on the Rust client's "contains" label filter).
type labelFilter struct {
	op    string
	value string
}

func (f *labelFilter) Matches(t *task.Task) bool {
	label := ""
	if t.Label != nil {
		label = *t.Label
	}
	switch f.op {
	case "=":
		return label == f.value
	case "!=":
		return label != f.value
	case "%=":
		return strings.Contains(label, f.value)
	default:
		return false
	}
}

func parseLabelFilter(q *Query, c *cursor) error {
	_, op, value, err := splitFused(c.next())
	if err != nil {
		return err
	}
	if op != "=" && op != "!=" && op != "%=" {
		return fmt.Errorf("malformed query: label filter does not support operator %q", op)
	}
	q.filters = append(q.filters, &labelFilter{op: op, value: value})
	return nil
}

// statusFilter implements `"status" ("="|"!=") status_value`.
type statusFilter struct {
	op    string
	value task.Kind
}

var statusNames = map[string]task.Kind{
	"stashed": task.StatusStashed,
	"locked":  task.StatusLocked,
	"queued":  task.StatusQueued,
	"paused":  task.StatusPaused,
	"running": task.StatusRunning,
	"done":    task.StatusDone,
}

func (f *statusFilter) Matches(t *task.Task) bool {
	switch f.op {
	case "=":
		return t.Status.Kind == f.value
	case "!=":
		return t.Status.Kind != f.value
	default:
		return false
	}
}

func parseStatusFilter(q *Query, c *cursor) error {
	_, op, value, err := splitFused(c.next())
	if err != nil {
		return err
	}
	if op != "=" && op != "!=" {
		return fmt.Errorf("malformed query: status filter does not support operator %q", op)
	}
	kind, ok := statusNames[strings.ToLower(value)]
	if !ok {
		return fmt.Errorf("malformed query: unknown status value %q", value)
	}
	q.filters = append(q.filters, &statusFilter{op: op, value: kind})
	return nil
}
