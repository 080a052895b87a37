package report_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/report"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/state"
)

func ask(content string) map[string]any {
	return map[string]any{"messages": report.Message{Role: report.RoleHuman, Content: content}}
}

func messages(t *testing.T, values map[string]any) []report.Message {
	t.Helper()
	var msgs []report.Message
	require.NoError(t, state.DecodeValue(values["messages"], &msgs))
	return msgs
}

func builtinEngine(t *testing.T, name string) *pergola.Engine {
	t.Helper()
	reg, err := report.Builtin()
	require.NoError(t, err)
	g, err := reg.Graph(name)
	require.NoError(t, err)
	eng, err := pergola.New(g)
	require.NoError(t, err)
	return eng
}

func TestTools(t *testing.T) {
	sum, err := report.Add().Fn(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5.0, sum)

	product, err := report.Multiply().Fn(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 6.0, product)

	quotient, err := report.Divide().Fn(7, 2)
	require.NoError(t, err)
	assert.Equal(t, 3.5, quotient)

	_, err = report.Divide().Fn(1, 0)
	assert.ErrorIs(t, err, report.ErrDivisionByZero)
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	eng := builtinEngine(t, report.GraphRouter)

	t.Run("Tool Call Runs Once", func(t *testing.T) {
		out, err := eng.Invoke(ctx, ask("Multiply 2 and 3"))
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonCompleted, out.Reason)
		assert.Equal(t, []string{report.NodeToolCallingLLM, report.NodeTools}, out.Trajectory)

		msgs := messages(t, out.State)
		require.Len(t, msgs, 3)
		require.Len(t, msgs[1].ToolCalls, 1)
		assert.Equal(t, "multiply", msgs[1].ToolCalls[0].Name)
		assert.Equal(t, report.Message{Role: report.RoleTool, Name: "multiply", ToolCallID: "call_1", Content: "6"}, msgs[2])
	})

	t.Run("Plain Reply Ends", func(t *testing.T) {
		out, err := eng.Invoke(ctx, ask("Hello"))
		require.NoError(t, err)
		assert.Equal(t, []string{report.NodeToolCallingLLM}, out.Trajectory)

		msgs := messages(t, out.State)
		require.Len(t, msgs, 2)
		assert.Equal(t, report.RoleAssistant, msgs[1].Role)
		assert.Empty(t, msgs[1].ToolCalls)
	})

	t.Run("Only Bound Tools Are Called", func(t *testing.T) {
		out, err := eng.Invoke(ctx, ask("Add 2 and 3"))
		require.NoError(t, err)
		assert.Equal(t, []string{report.NodeToolCallingLLM}, out.Trajectory)
	})
}

func TestAgent(t *testing.T) {
	ctx := context.Background()
	eng := builtinEngine(t, report.GraphAgent)

	t.Run("Chains Tool Results", func(t *testing.T) {
		out, err := eng.Invoke(ctx, ask("Add 3 and 4. Multiply the output by 2. Divide the output by 5."))
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonCompleted, out.Reason)

		msgs := messages(t, out.State)
		var results []string
		for _, m := range msgs {
			if m.Role == report.RoleTool {
				results = append(results, m.Content)
			}
		}
		assert.Equal(t, []string{"7", "14", "2.8"}, results)
		assert.Equal(t, "The result is 2.8.", msgs[len(msgs)-1].Content)
	})

	t.Run("Tool Errors Reach The Model", func(t *testing.T) {
		out, err := eng.Invoke(ctx, ask("Divide 1 by 0"))
		require.NoError(t, err)

		msgs := messages(t, out.State)
		assert.Equal(t, "I could not finish: Error: division by zero", msgs[len(msgs)-1].Content)
	})
}

func TestAgent_LoopGuardExhausts(t *testing.T) {
	g, err := report.NewToolbox(report.MockGenerator{}, report.Arithmetic(), report.WithMaxToolRounds(1)).Agent("agent", false)
	require.NoError(t, err)
	eng, err := pergola.New(g)
	require.NoError(t, err)

	out, err := eng.Invoke(context.Background(), ask("Add 1 and 2"))
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonExhausted, out.Reason)
	assert.Equal(t, []string{report.NodeAssistant, report.NodeTools}, out.Trajectory)
}

func TestSupervisedAgent_PausesBeforeTools(t *testing.T) {
	ctx := context.Background()
	eng := builtinEngine(t, report.GraphSupervisedAgent)

	id, err := eng.Create(ctx)
	require.NoError(t, err)

	out, err := eng.Run(ctx, id, ask("Multiply 2 and 3"))
	require.NoError(t, err)
	require.True(t, out.IsInterrupted())
	assert.Equal(t, []string{report.NodeTools}, out.PendingNodes)

	cp, err := eng.GetState(ctx, id)
	require.NoError(t, err)
	pending := messages(t, cp.State)
	require.Len(t, pending[len(pending)-1].ToolCalls, 1)

	out, err = eng.Resume(ctx, id, nil)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeTerminal, out.Status)

	msgs := messages(t, out.State)
	assert.Equal(t, "The result is 6.", msgs[len(msgs)-1].Content)
}

func TestAgent_Mermaid(t *testing.T) {
	g, err := report.NewToolbox(report.MockGenerator{}, report.Arithmetic()).Agent("agent", true)
	require.NoError(t, err)
	diagram := graph.Mermaid(g, nil)
	assert.Contains(t, diagram, report.NodeAssistant)
	assert.Contains(t, diagram, report.NodeTools)
}
