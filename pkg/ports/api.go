package ports

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
)

// ThreadAPI is the set of thread operations transports expose.
type ThreadAPI interface {
	// Create starts a new thread and returns its id.
	Create(ctx context.Context) (string, error)

	// Run advances a thread until it finishes or pauses. A nil input resumes
	// pending work; a non-nil input starts a new run from the entry nodes.
	Run(ctx context.Context, threadID string, input map[string]any) (*domain.Outcome, error)

	// GetState returns the current checkpoint of a thread or of a namespaced frame.
	GetState(ctx context.Context, key string) (*domain.Checkpoint, error)

	// UpdateState merges a patch into a paused thread through the field reducers.
	UpdateState(ctx context.Context, key string, patch map[string]any) (*domain.Checkpoint, error)

	// History returns superseded checkpoints, oldest first.
	History(ctx context.Context, threadID string) ([]domain.Snapshot, error)

	// Abort cancels in-flight runs of the thread and clears its pending work.
	Abort(ctx context.Context, threadID string) error

	// Threads lists known thread ids.
	Threads(ctx context.Context) ([]string, error)

	// Graph returns the compiled topology the engine runs.
	Graph() *graph.Graph
}
