package runtime

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/state"
)

// subOutcome is what a sub-workflow invocation hands back to its parent.
type subOutcome struct {
	key    string
	update state.Update
	frames []domain.Frame
}

// enterSubgraph runs the child graph of en in its own namespaced frame. A
// frame left by an earlier paused or failed invocation is resumed as is;
// otherwise a fresh frame is seeded through the input mapping.
func (e *Executor) enterSubgraph(ctx context.Context, parent *frame, en *entry, view state.View) (*subOutcome, error) {
	node := en.node
	// Task instances carry "#n"; a static invocation owns the bare node id.
	segment := node.ID
	if en.task != nil {
		segment += domain.InstanceSeparator + strconv.Itoa(en.task.Instance)
	}
	namespace := segment
	if parent.namespace != "" {
		namespace = parent.namespace + domain.FrameSeparator + segment
	}
	child := &frame{
		key:       parent.key + domain.FrameSeparator + segment,
		threadID:  parent.threadID,
		namespace: namespace,
		graph:     node.Graph,
		depth:     parent.depth + 1,
		logger:    parent.logger.With("namespace", namespace),
	}

	cp, err := e.threads.Load(ctx, child.key)
	switch {
	case errors.Is(err, domain.ErrThreadNotFound):
		cp, err = e.seedFrame(ctx, child, node, view)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	var out *domain.Outcome
	if cp.Status.IsTerminal() {
		out = domain.OutcomeOf(cp)
	} else {
		out, err = e.drive(ctx, child, cp, cp.Status == domain.StatusInterrupted)
		if err != nil {
			return nil, fmt.Errorf("subgraph %s: %w", segment, err)
		}
	}

	if out.IsInterrupted() {
		frames := []domain.Frame{{Path: child.key, PendingNodes: out.PendingNodes}}
		frames = append(frames, out.Interrupts...)
		return &subOutcome{key: child.key, frames: frames}, nil
	}

	update, err := mapOutput(parent.graph, node, cp.Input, out.State)
	if err != nil {
		return nil, err
	}
	return &subOutcome{key: child.key, update: update}, nil
}

// seedFrame creates the first checkpoint of a child frame.
func (e *Executor) seedFrame(ctx context.Context, child *frame, node *graph.Node, view state.View) (*domain.Checkpoint, error) {
	schema := node.Graph.Schema()

	var input map[string]any
	if node.Input != nil {
		mapped, err := node.Input(view)
		if err != nil {
			return nil, fmt.Errorf("input mapping of %s: %w", node.ID, err)
		}
		input = mapped
	} else {
		input = schema.Project(view.Values())
	}

	values, err := schema.Defaults()
	if err != nil {
		return nil, err
	}
	values, err = state.Reduce(schema, values, state.WritesFrom(input, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("input mapping of %s: %w", node.ID, err)
	}

	cp := domain.NewCheckpoint(child.threadID, values)
	cp.Namespace = child.namespace
	cp.Input = state.CopyMap(values)
	cp.Status = domain.StatusRunning
	cp.PendingNodes = node.Graph.Entry()
	if err := e.threads.Save(ctx, child.key, cp); err != nil {
		return nil, err
	}
	child.logger.Debug("frame entered", "entry", cp.PendingNodes)
	return cp, nil
}

// mapOutput projects the final child state onto a parent update. Without an
// output mapping, fields the parent declares are copied when the child
// changed them: Sum fields as the amount added, order-sensitive fields as
// the items appended.
func mapOutput(parent *graph.Graph, node *graph.Node, input, final map[string]any) (state.Update, error) {
	if node.Output != nil {
		update, err := node.Output(state.NewView(final))
		if err != nil {
			return nil, fmt.Errorf("output mapping of %s: %w", node.ID, err)
		}
		return update, nil
	}
	update := make(state.Update)
	for _, name := range parent.Schema().Names() {
		v, ok := final[name]
		if !ok {
			continue
		}
		before, seen := input[name]
		if seen && reflect.DeepEqual(before, v) {
			continue
		}
		field, _ := parent.Schema().Field(name)
		switch {
		case seen && field.Reducer.Name == state.Sum.Name:
			delta, err := state.Delta(before, v)
			if err != nil {
				return nil, fmt.Errorf("output of %s: field %s: %w", node.ID, name, err)
			}
			v = delta
		case seen && field.Reducer.OrderSensitive:
			v = appended(before, v)
		}
		update[name] = state.Copy(v)
	}
	return update, nil
}

// appended returns the items added after the prefix the child inherited, so
// order-sensitive parent reducers do not see them twice.
func appended(before, after any) any {
	prefix, ok := before.([]any)
	if !ok {
		return after
	}
	items, ok := after.([]any)
	if !ok || len(items) < len(prefix) || !reflect.DeepEqual(prefix, items[:len(prefix)]) {
		return after
	}
	return items[len(prefix):]
}

// resolveGraph finds the graph owning a namespace such as "research#0/review#2".
func resolveGraph(g *graph.Graph, namespace string) (*graph.Graph, error) {
	if namespace == "" {
		return g, nil
	}
	current := g
	for _, segment := range strings.Split(namespace, domain.FrameSeparator) {
		id, _, _ := strings.Cut(segment, domain.InstanceSeparator)
		node, ok := current.Node(id)
		if !ok || node.Kind != graph.KindSubGraph {
			return nil, fmt.Errorf("namespace %q: %q is not a subgraph of %q", namespace, id, current.Name())
		}
		current = node.Graph
	}
	return current, nil
}
