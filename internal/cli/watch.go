package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/pergola/pkg/graph"
)

// ErrNoTopology is returned when watching a built-in workflow.
var ErrNoTopology = errors.New("watch requires a topology directory")

// WatchGraph prints the Mermaid flowchart of the topology and prints it
// again after every change until ctx is cancelled. A topology that fails to
// compile is reported and the previous diagram stays valid.
func WatchGraph(ctx context.Context, app *App, w io.Writer) error {
	if app.Loader == nil {
		return ErrNoTopology
	}
	changes, err := app.Loader.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch topology: %w", err)
	}
	fmt.Fprint(w, graph.Mermaid(app.Engine.Graph(), nil))

	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-changes:
			if !ok {
				return nil
			}
			app.Logger.Info("change detected, reloading topology", "document", id)
			g, err := app.Loader.Load(ctx)
			if err != nil {
				app.Logger.Error("topology reload failed", "err", err)
				continue
			}
			fmt.Fprint(w, graph.Mermaid(g, nil))
		}
	}
}
