package state_test

import (
	"encoding/json"
	"testing"

	"github.com/aretw0/pergola/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReducers(t *testing.T) {
	tests := []struct {
		name     string
		reducer  state.Reducer
		current  any
		incoming any
		want     any
	}{
		{"replace", state.Replace, "old", "new", "new"},
		{"append to empty", state.Append, nil, []string{"a"}, []any{"a"}},
		{"append scalar", state.Append, []any{"a"}, "b", []any{"a", "b"}},
		{"append nil", state.Append, []any{"a"}, nil, []any{"a"}},
		{"sum ints", state.Sum, 1, 2, 3},
		{"sum json numbers", state.Sum, json.Number("2"), 1.5, 3.5},
		{"sum from nil", state.Sum, nil, 4.0, 4},
		{"union dedups", state.Union, []any{"a", "b"}, []any{"b", "c", "a"}, []any{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.reducer.Reduce(tt.current, tt.incoming)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSum_RejectsNonNumbers(t *testing.T) {
	_, err := state.Sum.Reduce(1, "x")
	assert.Error(t, err)
}

func TestDelta(t *testing.T) {
	d, err := state.Delta(2, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, d)

	d, err = state.Delta(nil, 1.5)
	require.NoError(t, err)
	assert.Equal(t, 1.5, d)

	back, err := state.Sum.Reduce(float64(2), 3)
	require.NoError(t, err)
	assert.Equal(t, 5, back, "adding the delta back reproduces the final value")

	_, err = state.Delta("x", 1)
	assert.Error(t, err)
}

func TestAppend_IsOrderSensitive(t *testing.T) {
	assert.True(t, state.Append.OrderSensitive)
	assert.False(t, state.Union.OrderSensitive)
	assert.False(t, state.Sum.OrderSensitive)
}

func TestCustom(t *testing.T) {
	maxReducer := state.Custom("max", func(current, incoming any) (any, error) {
		c, _ := current.(float64)
		i, _ := incoming.(float64)
		if i > c {
			return i, nil
		}
		return c, nil
	}, false)

	got, err := maxReducer.Reduce(3.0, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)
	assert.Equal(t, "max", maxReducer.Name)
}
