package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pueued/pueued/internal/task"
)

// parseLimit handles `("first"|"last") integer`.
func parseLimit(q *Query, c *cursor) error {
	kind := strings.ToLower(c.next())
	if c.done() {
		return fmt.Errorf("malformed limit: expected a count")
	}
	raw := c.next()
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return fmt.Errorf("malformed limit: expected a non-negative integer, got %q", raw)
	}
	q.limit = &limitClause{first: kind == "first", count: count}
	return nil
}

// limitTasks truncates to the first/last N tasks. A count of zero or a
// count at least the list length is the identity (spec.md §4.7, §8).
func (q *Query) limitTasks(tasks []*task.Task) []*task.Task {
	if q.limit == nil {
		return tasks
	}
	count := q.limit.count
	if count == 0 || count >= len(tasks) {
		return tasks
	}
	if q.limit.first {
		return tasks[:count]
	}
	return tasks[len(tasks)-count:]
}
