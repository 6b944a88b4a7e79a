// Package query implements the small filter/order/limit DSL clients use to
// shape a status listing (spec.md §4.7). Parsing is strict: unknown tokens
// or malformed sections fail the whole query. Columns that parse but don't
// exist fail with a distinct, more specific error (UnknownColumnError) that
// callers can tell apart from a parse failure.
package query

import (
	"fmt"
	"strings"

	"github.com/pueued/pueued/internal/task"
)

// Column identifies one of the sortable/filterable task fields.
type Column int

const (
	ColumnID Column = iota
	ColumnStatus
	ColumnLabel
	ColumnCommand
	ColumnPath
	ColumnStart
	ColumnEnd
)

var columnNames = map[string]Column{
	"id":      ColumnID,
	"status":  ColumnStatus,
	"label":   ColumnLabel,
	"command": ColumnCommand,
	"path":    ColumnPath,
	"start":   ColumnStart,
	"end":     ColumnEnd,
}

func (c Column) String() string {
	for name, col := range columnNames {
		if col == c {
			return name
		}
	}
	return "unknown"
}

// UnknownColumnError is returned when a section names a column that parses
// syntactically but does not exist, distinct from a parse failure
// (spec.md §7).
type UnknownColumnError struct {
	Name string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q", e.Name)
}

func lookupColumn(name string) (Column, error) {
	col, ok := columnNames[strings.ToLower(name)]
	if !ok {
		return 0, &UnknownColumnError{Name: name}
	}
	return col, nil
}

// Query is the parsed, ready-to-execute result of a query string: a set of
// columns to display, a list of filters to intersect, an optional sort, and
// an optional truncation. This mirrors the Rust QueryResult but replaces its
// boxed-closure filter list with an interface, avoiding type erasure while
// keeping filters composable (Design Notes §9).
type Query struct {
	Columns []Column
	filters []Filter
	orderBy *orderBy
	limit   *limitClause
}

type orderBy struct {
	column    Column
	ascending bool
}

type limitClause struct {
	first bool
	count int
}

// Filter is one predicate clause in a parsed query.
type Filter interface {
	Matches(t *task.Task) bool
}

// cursor walks the flat token stream produced by tokenize, letting each
// section parser consume as many tokens as its own grammar rule needs
// (order_by and limit span multiple tokens; filters and columns are a
// single fused token like `status=queued` or `columns=id,status`).
type cursor struct {
	tokens []string
	pos    int
}

func (c *cursor) done() bool { return c.pos >= len(c.tokens) }

func (c *cursor) peek() string {
	if c.done() {
		return ""
	}
	return c.tokens[c.pos]
}

func (c *cursor) next() string {
	t := c.peek()
	c.pos++
	return t
}

// Parse tokenizes and parses a query string into an executable Query. An
// empty or whitespace-only query parses to the identity.
func Parse(input string) (*Query, error) {
	q := &Query{}
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	c := &cursor{tokens: tokens}
	for !c.done() {
		if err := applySection(q, c); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// applySection dispatches the section starting at the cursor's current
// position (e.g. the fused token `status=queued`, or the three tokens
// `order_by id desc`) onto the Query being built.
func applySection(q *Query, c *cursor) error {
	head := strings.ToLower(c.peek())
	switch {
	case head == "order_by":
		return parseOrderBy(q, c)
	case head == "first" || head == "last":
		return parseLimit(q, c)
	case strings.HasPrefix(head, "columns"):
		return parseColumns(q, c)
	case strings.HasPrefix(head, "start") || strings.HasPrefix(head, "end"):
		return parseDatetimeFilter(q, c)
	case strings.HasPrefix(head, "label"):
		return parseLabelFilter(q, c)
	case strings.HasPrefix(head, "status"):
		return parseStatusFilter(q, c)
	default:
		return fmt.Errorf("malformed query: unrecognized section %q", c.peek())
	}
}

// Apply runs the full filter → order → limit pipeline over tasks, per
// spec.md §4.7. The input slice is never mutated.
func (q *Query) Apply(tasks []*task.Task) []*task.Task {
	out := append([]*task.Task(nil), tasks...)
	out = q.applyFilters(out)
	out = q.orderTasks(out)
	out = q.limitTasks(out)
	return out
}

func (q *Query) applyFilters(tasks []*task.Task) []*task.Task {
	for _, f := range q.filters {
		kept := tasks[:0:0]
		for _, t := range tasks {
			if f.Matches(t) {
				kept = append(kept, t)
			}
		}
		tasks = kept
	}
	return tasks
}
