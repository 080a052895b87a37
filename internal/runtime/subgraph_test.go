package runtime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/state"
)

func interviewGraph(t *testing.T) *graph.Graph {
	t.Helper()
	schema := state.NewSchema(
		state.Declare("trail", state.Append),
		state.Declare("answer", state.Replace),
	)
	g, err := graph.NewBuilder("interview", schema).
		AddNode("ask", mark("ask")).
		AddNode("human", func(context.Context, state.View) (domain.Result, error) {
			return domain.Empty(), nil
		}, graph.Reads("answer")).
		AddNode("record", func(_ context.Context, v state.View) (domain.Result, error) {
			return domain.Patch(state.Update{"trail": "record:" + v.String("answer")}), nil
		}).
		SetEntry("ask").
		AddEdge("ask", "human").
		AddEdge("human", "record").
		InterruptBefore("human").
		Compile()
	require.NoError(t, err)
	return g
}

func TestSubgraph_InterruptUpdateResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	g, err := graph.NewBuilder("report", trailSchema(state.Declare("answer", state.Replace))).
		AddNode("intro", mark("intro")).
		AddSubGraph("interview", interviewGraph(t)).
		AddNode("wrap", mark("wrap")).
		SetEntry("intro").
		AddEdge("intro", "interview").
		AddEdge("interview", "wrap").
		Compile()
	require.NoError(t, err)
	id := h.create(t, g)

	out, err := h.exec.Invoke(ctx, g, map[string]any{}, id)
	require.NoError(t, err)
	require.True(t, out.IsInterrupted())
	assert.Equal(t, []string{"interview"}, out.PendingNodes)
	require.Len(t, out.Interrupts, 1)
	path := id + domain.FrameSeparator + "interview"
	assert.Equal(t, path, out.Interrupts[0].Path)
	assert.Equal(t, []string{"human"}, out.Interrupts[0].PendingNodes)
	assert.Equal(t, []string{path}, h.load(t, id).Children)

	child := h.load(t, path)
	assert.Equal(t, "interview", child.Namespace)
	assert.Equal(t, []any{"intro", "ask"}, child.State["trail"])

	_, err = h.exec.UpdateState(ctx, g, path, state.Update{"answer": "yes"})
	require.NoError(t, err)

	out, err = h.exec.Invoke(ctx, g, nil, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonCompleted, out.Reason)
	assert.Equal(t, []any{"intro", "ask", "record:yes", "wrap"}, out.State["trail"])
	assert.Equal(t, "yes", out.State["answer"])

	_, err = h.threads.Load(ctx, path)
	assert.ErrorIs(t, err, domain.ErrThreadNotFound, "finished frames are removed")
}

func TestSubgraph_TasksRunInSeparateFrames(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	childSchema := state.NewSchema(
		state.Declare("topic", state.Replace),
		state.Declare("notes", state.Append),
	)
	review, err := graph.NewBuilder("review", childSchema).
		AddNode("read", func(_ context.Context, v state.View) (domain.Result, error) {
			return domain.Patch(state.Update{"notes": "reviewed:" + v.String("topic")}), nil
		}, graph.Reads("topic")).
		SetEntry("read").
		Compile()
	require.NoError(t, err)

	g, err := graph.NewBuilder("parallel", state.NewSchema(state.Declare("notes", state.Append))).
		AddNode("plan", func(context.Context, state.View) (domain.Result, error) {
			return domain.Dispatch(
				domain.Send("review", map[string]any{"topic": "a"}),
				domain.Send("review", map[string]any{"topic": "b"}),
			), nil
		}, graph.Dispatches("review")).
		AddSubGraph("review", review).
		SetEntry("plan").
		Compile()
	require.NoError(t, err)
	id := h.create(t, g)

	out, err := h.exec.Invoke(ctx, g, map[string]any{}, id)
	require.NoError(t, err)
	assert.Equal(t, []any{"reviewed:a", "reviewed:b"}, out.State["notes"])
	assert.Equal(t, []string{"plan", "review#0", "review#1"}, out.Trajectory)

	keys, err := h.threads.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, keys)
}

func TestSubgraph_ExplicitMappings(t *testing.T) {
	h := newHarness(t)
	childSchema := state.NewSchema(state.Declare("text", state.Replace), state.Declare("length", state.Replace))
	measure, err := graph.NewBuilder("measure", childSchema).
		AddNode("count", func(_ context.Context, v state.View) (domain.Result, error) {
			return domain.Patch(state.Update{"length": len(v.String("text"))}), nil
		}).
		SetEntry("count").
		Compile()
	require.NoError(t, err)

	parentSchema := state.NewSchema(state.Declare("draft", state.Replace), state.Declare("words", state.Replace))
	g, err := graph.NewBuilder("parent", parentSchema).
		AddSubGraph("measure", measure,
			graph.WithInput(func(parent state.View) (map[string]any, error) {
				return map[string]any{"text": parent.String("draft")}, nil
			}),
			graph.WithOutput(func(child state.View) (state.Update, error) {
				return state.Update{"words": child.Int("length")}, nil
			}),
		).
		SetEntry("measure").
		Compile()
	require.NoError(t, err)
	id := h.create(t, g)

	out, err := h.exec.Invoke(context.Background(), g, map[string]any{"draft": "hello"}, id)
	require.NoError(t, err)
	assert.Equal(t, float64(5), out.State["words"])
	assert.NotContains(t, out.State, "text")
}

func TestSubgraph_StaticCallAndTaskUseDistinctFrames(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	childSchema := state.NewSchema(
		state.Declare("topic", state.Replace),
		state.Declare("notes", state.Append),
	)
	review, err := graph.NewBuilder("review", childSchema).
		AddNode("read", func(_ context.Context, v state.View) (domain.Result, error) {
			return domain.Patch(state.Update{"notes": "reviewed:" + v.String("topic")}), nil
		}, graph.Reads("topic")).
		SetEntry("read").
		Compile()
	require.NoError(t, err)

	parentSchema := state.NewSchema(
		state.Declare("topic", state.Replace),
		state.Declare("notes", state.Append),
	)
	g, err := graph.NewBuilder("mixed", parentSchema).
		AddNode("plan", func(context.Context, state.View) (domain.Result, error) {
			return domain.Dispatch(domain.Send("review", map[string]any{"topic": "task"})), nil
		}, graph.Dispatches("review")).
		AddNode("direct", func(context.Context, state.View) (domain.Result, error) {
			return domain.Patch(state.Update{"topic": "static"}), nil
		}).
		AddSubGraph("review", review).
		SetEntry("plan", "direct").
		AddEdge("direct", "review").
		Compile()
	require.NoError(t, err)
	id := h.create(t, g)

	out, err := h.exec.Invoke(ctx, g, map[string]any{}, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"reviewed:static", "reviewed:task"}, out.State["notes"])
	assert.Contains(t, out.Trajectory, "review")
	assert.Contains(t, out.Trajectory, "review#0")
}

func TestSubgraph_DefaultOutputAddsSumDelta(t *testing.T) {
	h := newHarness(t)

	tally, err := graph.NewBuilder("tally", state.NewSchema(state.Declare("count", state.Sum))).
		AddNode("add", func(context.Context, state.View) (domain.Result, error) {
			return domain.Patch(state.Update{"count": 1}), nil
		}).
		SetEntry("add").
		Compile()
	require.NoError(t, err)

	g, err := graph.NewBuilder("counter", trailSchema()).
		AddNode("bump", func(context.Context, state.View) (domain.Result, error) {
			return domain.Patch(state.Update{"count": 2}), nil
		}).
		AddSubGraph("tally", tally).
		SetEntry("bump").
		AddEdge("bump", "tally").
		Compile()
	require.NoError(t, err)
	id := h.create(t, g)

	out, err := h.exec.Invoke(context.Background(), g, map[string]any{}, id)
	require.NoError(t, err)
	assert.EqualValues(t, 3, out.State["count"], "the child inherited 2 and added 1")
}
