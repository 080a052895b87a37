package runtime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/internal/runtime"
	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/state"
	"github.com/aretw0/pergola/pkg/thread"
)

// harness wires an executor to an in-memory thread store.
type harness struct {
	exec    *runtime.Executor
	threads *thread.Manager
}

func newHarness(t *testing.T, opts ...runtime.ExecutorOption) *harness {
	t.Helper()
	return newHarnessWithStore(t, memory.NewStore(), opts...)
}

func newHarnessWithStore(t *testing.T, store ports.CheckpointStore, opts ...runtime.ExecutorOption) *harness {
	t.Helper()
	threads := thread.NewManager(store)
	return &harness{
		exec:    runtime.NewExecutor(threads, opts...),
		threads: threads,
	}
}

// create starts a thread seeded with the schema defaults of g.
func (h *harness) create(t *testing.T, g *graph.Graph) string {
	t.Helper()
	defaults, err := g.Schema().Defaults()
	require.NoError(t, err)
	cp, err := h.threads.Create(context.Background(), defaults)
	require.NoError(t, err)
	return cp.ThreadID
}

func (h *harness) load(t *testing.T, key string) *domain.Checkpoint {
	t.Helper()
	cp, err := h.threads.Load(context.Background(), key)
	require.NoError(t, err)
	return cp
}

// trailSchema declares an append-only "trail" plus a few scalar fields.
func trailSchema(extra ...state.Field) *state.Schema {
	fields := []state.Field{
		state.Declare("trail", state.Append),
		state.Declare("approved", state.Replace),
		{Name: "count", Reducer: state.Sum, Default: 0},
	}
	return state.NewSchema(append(fields, extra...)...)
}

// mark returns a node that appends its name to the trail.
func mark(name string) graph.NodeFunc {
	return func(context.Context, state.View) (domain.Result, error) {
		return domain.Patch(state.Update{"trail": name}), nil
	}
}
