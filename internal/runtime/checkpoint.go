package runtime

import (
	"context"
	"errors"
	"sort"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/state"
)

// signal is a control-flow arrival: from completed and selected to.
type signal struct {
	from, to string
}

type dispatched struct {
	entry *entry
	tasks []domain.PendingTask
}

// advance merges the results of a wave, routes on the merged state and
// commits the next checkpoint. Nothing is committed when the wave fails.
func (e *Executor) advance(ctx context.Context, f *frame, cp *domain.Checkpoint, w *wave, results []*result) (*domain.Checkpoint, *domain.Outcome, error) {
	if ctx.Err() != nil {
		return nil, nil, cancelled(ctx)
	}
	if w.fatal != nil {
		return nil, nil, e.failWave(ctx, f, cp, w.fatal)
	}

	g := f.graph
	policy := g.FanOutPolicy()

	var (
		writes       []state.Write
		trajectory   []string
		branchErrors []string
		routeOrder   []string
		signals      []signal
		pausedNodes  []string
		keptTasks    []domain.PendingTask
		frames       []domain.Frame
		children     []string
		finished     []string
		emitted      []*result
		updates      = make(map[string]any)
		routed       = make(map[string]bool)
		waiting      = make(map[string]bool)
	)

	for _, r := range results {
		en := r.entry
		id := en.node.ID

		if r.err != nil {
			var missing *domain.MissingFieldError
			if errors.As(r.err, &missing) {
				f.logger.Warn("branch stopped on missing field", "node_id", en.label(), "field", missing.Field)
				branchErrors = append(branchErrors, r.err.Error())
				continue
			}
			// Only partial-policy task failures reach here.
			f.logger.Warn("task failed", "node_id", en.label(), "error", r.err)
			failure := domain.TaskFailure{Target: id, Instance: en.task.Instance, Error: r.err.Error()}
			writes = append(writes, state.Write{Field: policy.ErrorField, Value: failure, Submitted: en.submitted, Completed: r.completed})
			trajectory = append(trajectory, en.label())
			if !routed[id] {
				routed[id] = true
				routeOrder = append(routeOrder, id)
			}
			continue
		}

		if r.paused() {
			frames = append(frames, r.frames...)
			children = append(children, r.childKey)
			if en.task != nil {
				keptTasks = append(keptTasks, *en.task)
				waiting[id] = true
			} else {
				pausedNodes = appendUnique(pausedNodes, id)
			}
			continue
		}

		trajectory = append(trajectory, en.label())
		if r.childKey != "" {
			finished = append(finished, r.childKey)
		}
		writes = append(writes, state.WritesFrom(r.out.Update, en.submitted, r.completed)...)
		if len(r.out.Update) > 0 {
			updates[en.label()] = state.CopyMap(r.out.Update)
		}

		switch {
		case r.out.IsDispatch():
			if err := checkDispatch(g, en, r.out.Tasks); err != nil {
				return nil, nil, e.failWave(ctx, f, cp, err)
			}
			emitted = append(emitted, r)
		case len(r.out.Goto) > 0:
			if err := g.CheckTargets(id, r.out.Goto, true); err != nil {
				return nil, nil, e.failWave(ctx, f, cp, err)
			}
			for _, target := range r.out.Goto {
				signals = append(signals, signal{from: id, to: target})
			}
		default:
			if !routed[id] {
				routed[id] = true
				routeOrder = append(routeOrder, id)
			}
		}
	}

	merged, err := state.Reduce(g.Schema(), cp.State, writes)
	if err != nil {
		return nil, nil, e.failWave(ctx, f, cp, err)
	}

	post := state.NewViewAt(merged, cp.Version+1)
	for _, id := range routeOrder {
		// Task targets route once every instance of the wave finished.
		if waiting[id] {
			continue
		}
		targets, err := g.Route(id, post)
		if err != nil {
			return nil, nil, e.failWave(ctx, f, cp, err)
		}
		for _, target := range targets {
			signals = append(signals, signal{from: id, to: target})
		}
	}

	barriers := cloneBarriers(cp.Barriers)
	ready := arrive(g, barriers, signals)

	pending := append([]string(nil), pausedNodes...)
	for _, id := range ready {
		pending = appendUnique(pending, id)
	}
	sort.SliceStable(pending, func(i, j int) bool { return g.Less(pending[i], pending[j]) })

	numbering := newInstancer(keptTasks)
	tasks := append([]domain.PendingTask(nil), keptTasks...)
	var groups []dispatched
	for _, r := range emitted {
		assigned := numbering.assign(dispatchID(cp.Step, r.entry), r.out.Tasks)
		tasks = append(tasks, assigned...)
		groups = append(groups, dispatched{entry: r.entry, tasks: assigned})
	}

	next := cp.Next(e.historyLimit)
	next.Step = cp.Step + 1
	next.State = merged
	next.PendingNodes = pending
	next.PendingTasks = tasks
	next.Barriers = barriers
	next.Iterations = w.iterations
	next.Trajectory = append(next.Trajectory, trajectory...)
	next.BranchErrors = append(next.BranchErrors, branchErrors...)
	next.Children = children
	next.Status = domain.StatusRunning

	interrupted := len(frames) > 0
	for _, r := range results {
		if r.err == nil && !r.paused() && e.pauseAfter(f, r.entry.node.ID) {
			interrupted = true
		}
	}
	switch {
	case !next.HasPending():
		next.Status = domain.StatusDone
	case interrupted:
		next.Status = domain.StatusInterrupted
	}

	committed, err := e.commit(ctx, f, cp, next, writes)
	if err != nil {
		return nil, nil, err
	}
	for _, key := range finished {
		if err := e.threads.Delete(ctx, key); err != nil {
			f.logger.Warn("failed to delete finished frame", "key", key, "error", err)
		}
	}
	for _, group := range groups {
		e.emitDispatch(ctx, f, cp.Step, group.entry, group.tasks)
	}
	e.emitCheckpoint(ctx, f, committed)
	if f.onStep != nil {
		f.onStep(domain.StepEvent{
			ThreadID: f.threadID,
			Step:     committed.Step,
			Nodes:    trajectory,
			Updates:  updates,
			Delta:    domain.Diff(cp, committed),
			Version:  committed.Version,
		})
	}

	switch committed.Status {
	case domain.StatusDone:
		f.logger.Info("run finished", "status", committed.Status, "steps", committed.Step, "version", committed.Version)
		return nil, domain.OutcomeOf(committed), nil
	case domain.StatusInterrupted:
		return nil, e.interrupted(ctx, f, committed, frames), nil
	}
	return committed, nil, nil
}

// failWave records a failure raised while merging or routing a wave.
func (e *Executor) failWave(ctx context.Context, f *frame, cp *domain.Checkpoint, err error) error {
	var nodeID string
	var routing *domain.RoutingError
	var nodeErr *domain.NodeError
	var taskErr *domain.TaskFailureError
	switch {
	case errors.As(err, &routing):
		nodeID = routing.Node
	case errors.As(err, &nodeErr):
		nodeID = nodeErr.Node
	case errors.As(err, &taskErr):
		nodeID = taskErr.Target
	}
	if errors.Is(err, domain.ErrAborted) || errors.Is(err, domain.ErrSuperseded) {
		return err
	}
	return e.fail(ctx, f, cp, nodeID, err)
}

// arrive feeds signals into the join barriers and returns the nodes that
// became ready, in signal order. Signals from undeclared predecessors of a
// join are ignored.
func arrive(g *graph.Graph, barriers map[string]domain.BarrierState, signals []signal) []string {
	var ready []string
	for _, s := range signals {
		if s.to == graph.END {
			continue
		}
		preds, isJoin := g.JoinPredecessors(s.to)
		if !isJoin {
			ready = appendUnique(ready, s.to)
			continue
		}
		if !containsString(preds, s.from) {
			continue
		}
		b := barriers[s.to]
		if b.Arrived == nil {
			b.Arrived = make(map[string]bool)
		}
		b.Arrived[s.from] = true
		complete := true
		for _, p := range preds {
			if !b.Arrived[p] {
				complete = false
				break
			}
		}
		if complete {
			ready = appendUnique(ready, s.to)
			b.Iteration++
			b.Arrived = nil
		}
		barriers[s.to] = b
	}
	return ready
}

// pause commits next as interrupted.
func (e *Executor) pause(ctx context.Context, f *frame, base, next *domain.Checkpoint, writes []state.Write, frames []domain.Frame) (*domain.Outcome, error) {
	next.Status = domain.StatusInterrupted
	committed, err := e.commit(ctx, f, base, next, writes)
	if err != nil {
		return nil, err
	}
	e.emitCheckpoint(ctx, f, committed)
	return e.interrupted(ctx, f, committed, frames), nil
}

func (e *Executor) interrupted(ctx context.Context, f *frame, cp *domain.Checkpoint, frames []domain.Frame) *domain.Outcome {
	f.logger.Info("run interrupted", "pending", cp.PendingNodes, "step", cp.Step, "frames", len(frames))
	if e.hooks.OnInterrupt != nil {
		e.hooks.OnInterrupt(ctx, &domain.InterruptEvent{
			EventBase:    e.base(f, domain.EventInterrupt, cp.Step),
			PendingNodes: append([]string(nil), cp.PendingNodes...),
		})
	}
	out := domain.OutcomeOf(cp)
	out.Interrupts = frames
	return out
}

func (e *Executor) emitCheckpoint(ctx context.Context, f *frame, cp *domain.Checkpoint) {
	if e.hooks.OnCheckpoint == nil {
		return
	}
	e.hooks.OnCheckpoint(ctx, &domain.CheckpointEvent{
		EventBase: e.base(f, domain.EventCheckpoint, cp.Step),
		Version:   cp.Version,
		Status:    cp.Status,
	})
}

func (e *Executor) emitError(ctx context.Context, f *frame, step int, nodeID string, err error) {
	if e.hooks.OnError == nil {
		return
	}
	e.hooks.OnError(ctx, &domain.ErrorEvent{
		EventBase: e.base(f, domain.EventError, step),
		NodeID:    nodeID,
		Err:       err,
	})
}

func cloneBarriers(in map[string]domain.BarrierState) map[string]domain.BarrierState {
	out := make(map[string]domain.BarrierState, len(in))
	for k, b := range in {
		var arrived map[string]bool
		if len(b.Arrived) > 0 {
			arrived = make(map[string]bool, len(b.Arrived))
			for p, v := range b.Arrived {
				arrived[p] = v
			}
		}
		out[k] = domain.BarrierState{Iteration: b.Iteration, Arrived: arrived}
	}
	return out
}
