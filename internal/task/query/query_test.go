package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pueued/pueued/internal/task"
	"github.com/pueued/pueued/internal/task/query"
)

func queuedTask(id int) *task.Task {
	return task.New(id, "true", "/tmp", nil, task.DefaultGroup, nil, nil)
}

func TestEmptyQueryIsIdentity(t *testing.T) {
	tasks := []*task.Task{queuedTask(2), queuedTask(4), queuedTask(7)}

	q, err := query.Parse("")
	require.NoError(t, err)

	got := q.Apply(tasks)
	assert.Equal(t, tasks, got)
}

func TestStatusOrderDescFirstThree(t *testing.T) {
	ids := []int{2, 4, 7, 9, 11, 13}
	var tasks []*task.Task
	for _, id := range ids {
		tasks = append(tasks, queuedTask(id))
	}

	q, err := query.Parse("status=queued order_by id desc first 3")
	require.NoError(t, err)

	got := q.Apply(tasks)
	var gotIDs []int
	for _, tk := range got {
		gotIDs = append(gotIDs, tk.ID)
	}
	assert.Equal(t, []int{13, 11, 9}, gotIDs)
}

func TestFirstThenLastComposition(t *testing.T) {
	var tasks []*task.Task
	for id := 0; id < 10; id++ {
		tasks = append(tasks, queuedTask(id))
	}

	first, err := query.Parse("first 6")
	require.NoError(t, err)
	afterFirst := first.Apply(tasks)

	last, err := query.Parse("last 3")
	require.NoError(t, err)
	afterLast := last.Apply(afterFirst)

	var gotIDs []int
	for _, tk := range afterLast {
		gotIDs = append(gotIDs, tk.ID)
	}
	assert.Equal(t, []int{3, 4, 5}, gotIDs)
}

func TestLabelSubstringFilter(t *testing.T) {
	withLabel := func(id int, label string) *task.Task {
		t := queuedTask(id)
		t.Label = &label
		return t
	}
	tasks := []*task.Task{
		withLabel(1, "nightly-backup"),
		withLabel(2, "hourly-sync"),
		withLabel(3, "nightly-cleanup"),
	}

	q, err := query.Parse(`label%=nightly`)
	require.NoError(t, err)

	got := q.Apply(tasks)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, 3, got[1].ID)
}

func TestStatusFilterUnknownValueFails(t *testing.T) {
	_, err := query.Parse("status=bogus")
	assert.Error(t, err)
}

func TestUnknownColumnFails(t *testing.T) {
	_, err := query.Parse("order_by nonsense")
	require.Error(t, err)
	var unknownErr *query.UnknownColumnError
	assert.ErrorAs(t, err, &unknownErr)
}

func TestMalformedQueryFails(t *testing.T) {
	_, err := query.Parse("bogus_section")
	assert.Error(t, err)
}
