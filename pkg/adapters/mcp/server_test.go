package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/state"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	g := graph.NewBuilder("approval", state.NewSchema(
		state.Declare("trail", state.Append),
		state.Declare("approved", state.Replace),
	)).
		AddNode("draft", func(context.Context, state.View) (domain.Result, error) {
			return domain.Patch(state.Update{"trail": "draft"}), nil
		}).
		AddNode("publish", func(_ context.Context, v state.View) (domain.Result, error) {
			if !v.Bool("approved") {
				return domain.Patch(state.Update{"trail": "rejected"}), nil
			}
			return domain.Patch(state.Update{"trail": "publish"}), nil
		}).
		SetEntry("draft").
		AddEdge("draft", "publish").
		InterruptBefore("publish").
		MustCompile()

	engine, err := pergola.New(g)
	require.NoError(t, err)
	return NewServer(engine)
}

func TestServer_ThreadTools(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	created, err := s.handleCreateThread(ctx, req, map[string]interface{}{})
	require.NoError(t, err)
	require.NotEmpty(t, created.ThreadID)

	paused, err := s.handleRunThread(ctx, req, map[string]interface{}{
		"thread_id": created.ThreadID,
		"input":     "{}",
	})
	require.NoError(t, err)
	require.NotNil(t, paused.Outcome)
	assert.True(t, paused.Outcome.IsInterrupted())
	assert.Equal(t, []string{"publish"}, paused.Outcome.PendingNodes)

	updated, err := s.handleUpdateState(ctx, req, map[string]interface{}{
		"key":   created.ThreadID,
		"patch": map[string]any{"approved": true},
	})
	require.NoError(t, err)
	assert.Equal(t, true, updated.Checkpoint.State["approved"])

	done, err := s.handleRunThread(ctx, req, map[string]interface{}{"thread_id": created.ThreadID})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonCompleted, done.Outcome.Reason)
	assert.Equal(t, []any{"draft", "publish"}, done.Outcome.State["trail"])

	got, err := s.handleGetState(ctx, req, map[string]interface{}{"key": created.ThreadID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, got.Checkpoint.Status)
}

func TestServer_RunWithPatchResumes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	created, err := s.handleCreateThread(ctx, req, nil)
	require.NoError(t, err)
	_, err = s.handleRunThread(ctx, req, map[string]interface{}{"thread_id": created.ThreadID, "input": "{}"})
	require.NoError(t, err)

	done, err := s.handleRunThread(ctx, req, map[string]interface{}{
		"thread_id": created.ThreadID,
		"patch":     `{"approved": true}`,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"draft", "publish"}, done.Outcome.State["trail"])
}

func TestServer_RejectsInvalidArguments(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	_, err := s.handleUpdateState(ctx, req, map[string]interface{}{"key": "t", "patch": "{not json"})
	assert.ErrorContains(t, err, "invalid patch")

	_, err = s.handleRunThread(ctx, req, map[string]interface{}{"thread_id": "t", "input": "{}", "patch": "{}"})
	assert.ErrorContains(t, err, "mutually exclusive")

	_, err = s.handleGetState(ctx, req, map[string]interface{}{"key": "missing"})
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)
}
