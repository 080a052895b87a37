package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
)

// checkDispatch validates the tasks emitted by an invocation against the
// graph and the dispatch targets its node declared.
func checkDispatch(g *graph.Graph, en *entry, tasks []domain.Task) error {
	targets := make([]string, len(tasks))
	for i, t := range tasks {
		targets[i] = t.Target
	}
	if err := g.CheckTargets(en.node.ID, targets, false); err != nil {
		return err
	}
	if len(en.node.Dispatches) == 0 {
		return nil
	}
	for _, target := range targets {
		if !containsString(en.node.Dispatches, target) {
			return &domain.RoutingError{
				Node:    en.node.ID,
				Target:  target,
				Allowed: append([]string(nil), en.node.Dispatches...),
			}
		}
	}
	return nil
}

// instancer numbers task instances per target, continuing after the
// instances still pending from earlier waves.
type instancer struct {
	next map[string]int
}

func newInstancer(kept []domain.PendingTask) *instancer {
	in := &instancer{next: make(map[string]int)}
	for _, t := range kept {
		if t.Instance >= in.next[t.Target] {
			in.next[t.Target] = t.Instance + 1
		}
	}
	return in
}

// assign turns the tasks of one dispatching invocation into pending tasks.
// Instances follow emission order.
func (in *instancer) assign(dispatch string, tasks []domain.Task) []domain.PendingTask {
	out := make([]domain.PendingTask, len(tasks))
	for i, t := range tasks {
		instance := in.next[t.Target]
		in.next[t.Target] = instance + 1
		out[i] = domain.PendingTask{Task: t, Instance: instance, Dispatch: dispatch}
	}
	return out
}

// dispatchID names the invocation that emitted a task group.
func dispatchID(step int, en *entry) string {
	return fmt.Sprintf("%d:%s", step, en.label())
}

func (e *Executor) emitDispatch(ctx context.Context, f *frame, step int, en *entry, tasks []domain.PendingTask) {
	labels := make([]string, len(tasks))
	for i, t := range tasks {
		labels[i] = fmt.Sprintf("%s%s%d", t.Target, domain.InstanceSeparator, t.Instance)
	}
	f.logger.Debug("tasks dispatched", "node_id", en.label(), "step", step, "tasks", labels)
	if e.hooks.OnTaskDispatch != nil {
		e.hooks.OnTaskDispatch(ctx, &domain.DispatchEvent{
			EventBase: e.base(f, domain.EventTaskDispatch, step),
			NodeID:    en.node.ID,
			Tasks:     labels,
		})
	}
}

func containsString(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
