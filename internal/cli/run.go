package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aretw0/pergola/pkg/domain"
)

// RunOptions configures a single run from the command line.
type RunOptions struct {
	// ThreadID continues an existing thread. Empty creates one.
	ThreadID string
	// Input starts a new run. Nil resumes the stored one.
	Input map[string]any
	// Stream prints every committed step as an NDJSON line.
	Stream bool
}

// RunThread runs a thread and prints its outcome as JSON.
func RunThread(ctx context.Context, app *App, w io.Writer, opts RunOptions) (*domain.Outcome, error) {
	id := opts.ThreadID
	if id == "" {
		var err error
		id, err = app.Engine.Create(ctx)
		if err != nil {
			return nil, err
		}
		app.Logger.Info("thread created", "thread_id", id)
	}

	if !opts.Stream {
		out, err := app.Engine.Run(ctx, id, opts.Input)
		if err != nil {
			return nil, err
		}
		return out, PrintJSON(w, out)
	}

	enc := json.NewEncoder(w)
	var out *domain.Outcome
	for ev := range app.Engine.Stream(ctx, id, opts.Input) {
		if ev.Err != nil {
			return nil, ev.Err
		}
		if ev.Outcome != nil {
			out = ev.Outcome
			break
		}
		if err := enc.Encode(ev); err != nil {
			return nil, err
		}
	}
	if out == nil {
		return nil, ctx.Err()
	}
	return out, enc.Encode(out)
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ParseObject decodes a JSON object flag. An empty string yields nil.
func ParseObject(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("expected a JSON object: %w", err)
	}
	return out, nil
}
