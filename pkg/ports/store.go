package ports

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
)

// CheckpointStore defines the interface for persisting thread checkpoints.
// Keys are thread ids, or namespaced keys for sub-workflow frames.
type CheckpointStore interface {
	// Save persists the checkpoint under key.
	Save(ctx context.Context, key string, cp *domain.Checkpoint) error

	// Load retrieves the checkpoint stored under key.
	// Returns domain.ErrThreadNotFound if it does not exist.
	Load(ctx context.Context, key string) (*domain.Checkpoint, error)

	// Delete removes the checkpoint. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every stored key.
	List(ctx context.Context) ([]string, error)
}
