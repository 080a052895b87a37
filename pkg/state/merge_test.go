package state_test

import (
	"errors"
	"testing"

	"github.com/aretw0/pergola/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchema() *state.Schema {
	return state.NewSchema(
		state.Declare("topic", state.Replace),
		state.Declare("sections", state.Append),
		state.Declare("tags", state.Union),
		state.Field{Name: "retry_count", Reducer: state.Sum, Default: 0},
		state.Declare("last", state.Replace),
	)
}

func TestReduce_MergesThroughReducers(t *testing.T) {
	values, err := state.Reduce(newSchema(), nil, state.WritesFrom(state.Update{"topic": "agents", "retry_count": 1}, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "agents", values["topic"])
	assert.Equal(t, 1.0, values["retry_count"])
}

func TestReduce_RejectsUndeclaredFieldAtomically(t *testing.T) {
	current := map[string]any{"topic": "a"}

	next, err := state.Reduce(newSchema(), current, state.WritesFrom(state.Update{"topic": "b", "ghost": 1}, 0, 0))
	require.True(t, errors.Is(err, state.ErrUndeclaredField))
	assert.Nil(t, next)
	assert.Equal(t, "a", current["topic"])
}

// Order-sensitive fields follow submission order; other fields follow
// completion order.
func TestReduce_AggregationOrder(t *testing.T) {
	writes := []state.Write{
		{Field: "sections", Value: "third", Submitted: 2, Completed: 0},
		{Field: "sections", Value: "first", Submitted: 0, Completed: 2},
		{Field: "sections", Value: "second", Submitted: 1, Completed: 1},
		{Field: "last", Value: "submitted-first", Submitted: 0, Completed: 1},
		{Field: "last", Value: "submitted-last", Submitted: 1, Completed: 0},
	}

	got, err := state.Reduce(newSchema(), map[string]any{}, writes)
	require.NoError(t, err)
	assert.Equal(t, []any{"first", "second", "third"}, got["sections"])
	// completion order: the writer that finished last wins
	assert.Equal(t, "submitted-first", got["last"])
}

func TestReduce_OrderIndependentFieldsAgree(t *testing.T) {
	a := []state.Write{
		{Field: "tags", Value: []string{"x"}, Submitted: 0, Completed: 0},
		{Field: "tags", Value: []string{"y"}, Submitted: 1, Completed: 1},
		{Field: "retry_count", Value: 1, Submitted: 0, Completed: 0},
		{Field: "retry_count", Value: 2, Submitted: 1, Completed: 1},
	}
	b := []state.Write{
		{Field: "tags", Value: []string{"y"}, Submitted: 1, Completed: 0},
		{Field: "tags", Value: []string{"x"}, Submitted: 0, Completed: 1},
		{Field: "retry_count", Value: 2, Submitted: 1, Completed: 0},
		{Field: "retry_count", Value: 1, Submitted: 0, Completed: 1},
	}

	ga, err := state.Reduce(newSchema(), nil, a)
	require.NoError(t, err)
	gb, err := state.Reduce(newSchema(), nil, b)
	require.NoError(t, err)

	assert.Equal(t, ga["retry_count"], gb["retry_count"])
	assert.ElementsMatch(t, ga["tags"], gb["tags"])
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	values := map[string]any{"sections": []any{"a"}}
	_, err := state.Reduce(newSchema(), values, state.WritesFrom(state.Update{"sections": "b"}, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, values["sections"])
}

func TestSchema_DefaultsAndProject(t *testing.T) {
	s := newSchema()

	defaults, err := s.Defaults()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"retry_count": 0.0}, defaults)

	projected := s.Project(map[string]any{"topic": "x", "other": 1})
	assert.Equal(t, map[string]any{"topic": "x"}, projected)

	extended := s.With(state.Declare("extra", state.Replace))
	assert.True(t, extended.Has("extra"))
	assert.False(t, s.Has("extra"))
}
