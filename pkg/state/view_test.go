package state_test

import (
	"encoding/json"
	"testing"

	"github.com/aretw0/pergola/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type analyst struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation"`
	Turns       int    `json:"turns"`
}

func TestView_Accessors(t *testing.T) {
	v := state.NewView(map[string]any{
		"s":    "text",
		"b":    true,
		"f":    2.0,
		"n":    json.Number("7"),
		"list": []any{"a", 1.0, "b"},
	})

	assert.Equal(t, "text", v.String("s"))
	assert.True(t, v.Bool("b"))
	assert.Equal(t, 2, v.Int("f"))
	assert.Equal(t, 7, v.Int("n"))
	assert.Equal(t, 0, v.Int("s"))
	assert.Equal(t, []string{"a", "b"}, v.Strings("list"))
	assert.False(t, v.Has("missing"))
}

func TestView_IsolatedFromCaller(t *testing.T) {
	values := map[string]any{"list": []any{"a"}}
	v := state.NewView(values)

	got := v.Slice("list")
	got[0] = "mutated"
	values["list"].([]any)[0] = "changed"

	assert.Equal(t, []any{"a"}, v.Slice("list"))
}

func TestView_Require(t *testing.T) {
	v := state.NewView(map[string]any{"topic": "x", "empty": nil})

	assert.NoError(t, v.Require("topic"))

	err := v.Require("topic", "empty")
	var missing *state.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "empty", missing.Field)
}

func TestView_Decode(t *testing.T) {
	normalized, err := state.Normalize([]analyst{{Name: "Ada", Affiliation: "Lab", Turns: 2}})
	require.NoError(t, err)
	v := state.NewView(map[string]any{"analysts": normalized})

	var out []analyst
	require.NoError(t, v.Decode("analysts", &out))
	require.Len(t, out, 1)
	assert.Equal(t, "Ada", out[0].Name)
	assert.Equal(t, 2, out[0].Turns)
}

func TestView_Overlay(t *testing.T) {
	v := state.NewView(map[string]any{"topic": "x", "analyst": "base"})

	o, err := v.Overlay(map[string]any{"analyst": analyst{Name: "Ada"}})
	require.NoError(t, err)

	var a analyst
	require.NoError(t, o.Decode("analyst", &a))
	assert.Equal(t, "Ada", a.Name)
	assert.Equal(t, "x", o.String("topic"))
	assert.Equal(t, "base", v.String("analyst"))
}
