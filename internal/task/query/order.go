package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pueued/pueued/internal/task"
)

// parseOrderBy handles `order_by ident ("asc"|"desc")?`.
func parseOrderBy(q *Query, c *cursor) error {
	c.next() // consume "order_by"
	if c.done() {
		return fmt.Errorf("malformed order_by: expected a column")
	}
	col, err := lookupColumn(c.next())
	if err != nil {
		return err
	}
	ascending := true
	if !c.done() {
		switch dir := strings.ToLower(c.peek()); dir {
		case "asc":
			ascending = true
			c.next()
		case "desc":
			ascending = false
			c.next()
		}
	}
	q.orderBy = &orderBy{column: col, ascending: ascending}
	return nil
}

// orderTasks stably sorts by the requested column and direction. Ties are
// left in their incoming (by-id ascending) order since the sort is stable.
func (q *Query) orderTasks(tasks []*task.Task) []*task.Task {
	if q.orderBy == nil {
		return tasks
	}
	col := q.orderBy.column
	ascending := q.orderBy.ascending
	sort.SliceStable(tasks, func(i, j int) bool {
		if ascending {
			return lessByColumn(tasks[i], tasks[j], col)
		}
		return lessByColumn(tasks[j], tasks[i], col)
	})
	return tasks
}

func lessByColumn(a, b *task.Task, col Column) bool {
	switch col {
	case ColumnID:
		return a.ID < b.ID
	case ColumnStatus:
		return task.CompareRank(a.Status, b.Status) < 0
	case ColumnLabel:
		return labelOf(a) < labelOf(b)
	case ColumnCommand:
		return a.Command < b.Command
	case ColumnPath:
		return a.Path < b.Path
	case ColumnStart:
		return timeLess(a.StartedAt, b.StartedAt)
	case ColumnEnd:
		return timeLess(a.EndedAt, b.EndedAt)
	default:
		return false
	}
}

func labelOf(t *task.Task) string {
	if t.Label == nil {
		return ""
	}
	return *t.Label
}

func timeLess(a, b *time.Time) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil:
		return true
	case b == nil:
		return false
	default:
		return a.Before(*b)
	}
}

