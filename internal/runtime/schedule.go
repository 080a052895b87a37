package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/state"
)

// entry is one node invocation of a wave.
type entry struct {
	node      *graph.Node
	task      *domain.PendingTask
	submitted int
}

func (en *entry) instance() int {
	if en.task == nil {
		return 0
	}
	return en.task.Instance
}

func (en *entry) label() string {
	if en.task == nil {
		return en.node.ID
	}
	return fmt.Sprintf("%s%s%d", en.node.ID, domain.InstanceSeparator, en.task.Instance)
}

// wave is the set of invocations scheduled from one checkpoint.
type wave struct {
	entries    []*entry
	iterations map[string]int
	// fatal holds the first error that fails the whole wave.
	fatal error
	once  sync.Once
}

func (w *wave) setFatal(err error) {
	w.once.Do(func() { w.fatal = err })
}

// result is what one invocation produced.
type result struct {
	entry     *entry
	out       domain.Result
	err       error
	completed int
	// childKey is the frame a sub-workflow invocation ran in.
	childKey string
	// frames lists paused sub-workflow instances; non-empty means the
	// invocation did not finish.
	frames []domain.Frame
}

func (r *result) paused() bool {
	return len(r.frames) > 0
}

// plan applies interrupts and loop guards to the pending set and builds the
// next wave. A non-nil outcome means the frame stopped without running it.
func (e *Executor) plan(ctx context.Context, f *frame, cp *domain.Checkpoint, skipInterrupt bool) (*wave, *domain.Outcome, error) {
	if !skipInterrupt {
		for _, id := range scheduledIDs(cp) {
			if e.pauseBefore(f, id) {
				out, err := e.pause(ctx, f, cp, cp.Next(e.historyLimit), nil, nil)
				return nil, out, err
			}
		}
	}

	iterations := make(map[string]int, len(cp.Iterations))
	for k, v := range cp.Iterations {
		iterations[k] = v
	}

	var nodes []string
	for _, id := range cp.PendingNodes {
		guard, ok := f.graph.Guard(id)
		if ok && iterations[id] >= guard.Max {
			if guard.OnExhausted == "" {
				f.logger.Info("loop guard exhausted", "node_id", id, "max", guard.Max)
				out, err := e.finish(ctx, f, cp, domain.StatusExhausted)
				return nil, out, err
			}
			f.logger.Info("loop guard exhausted, diverting", "node_id", id, "max", guard.Max, "target", guard.OnExhausted)
			nodes = appendUnique(nodes, guard.OnExhausted)
			continue
		}
		nodes = appendUnique(nodes, id)
	}
	counted := make(map[string]bool)
	for _, id := range nodes {
		counted[id] = true
	}
	for _, t := range cp.PendingTasks {
		if guard, ok := f.graph.Guard(t.Target); ok && !counted[t.Target] && iterations[t.Target] >= guard.Max {
			f.logger.Info("loop guard exhausted", "node_id", t.Target, "max", guard.Max)
			out, err := e.finish(ctx, f, cp, domain.StatusExhausted)
			return nil, out, err
		}
		counted[t.Target] = true
	}
	for id := range counted {
		if _, ok := f.graph.Guard(id); ok {
			iterations[id]++
		}
	}

	sort.SliceStable(nodes, func(i, j int) bool { return f.graph.Less(nodes[i], nodes[j]) })

	w := &wave{iterations: iterations}
	for _, id := range nodes {
		node, ok := f.graph.Node(id)
		if !ok {
			return nil, nil, fmt.Errorf("pending node %q is not part of graph %q", id, f.graph.Name())
		}
		w.entries = append(w.entries, &entry{node: node, submitted: len(w.entries)})
	}
	for i := range cp.PendingTasks {
		task := cp.PendingTasks[i]
		node, ok := f.graph.Node(task.Target)
		if !ok {
			return nil, nil, fmt.Errorf("pending task target %q is not part of graph %q", task.Target, f.graph.Name())
		}
		w.entries = append(w.entries, &entry{node: node, task: &task, submitted: len(w.entries)})
	}
	return w, nil, nil
}

// runWave invokes every entry of w against the same snapshot with bounded
// parallelism. Results are indexed by submission order.
func (e *Executor) runWave(ctx context.Context, f *frame, cp *domain.Checkpoint, w *wave) []*result {
	f.logger.Debug("wave scheduled", "step", cp.Step, "nodes", labels(w.entries))

	snapshot := state.NewViewAt(cp.State, cp.Version)
	waveCtx, cancelWave := context.WithCancelCause(ctx)
	defer cancelWave(nil)

	failFast := f.graph.FanOutPolicy().Mode == graph.FailFast
	groups := make(map[string]context.Context)
	cancels := make(map[string]context.CancelCauseFunc)
	if failFast {
		for _, en := range w.entries {
			if en.task == nil {
				continue
			}
			if _, ok := groups[en.task.Dispatch]; !ok {
				groups[en.task.Dispatch], cancels[en.task.Dispatch] = context.WithCancelCause(waveCtx)
			}
		}
		defer func() {
			for _, cancel := range cancels {
				cancel(nil)
			}
		}()
	}

	results := make([]*result, len(w.entries))
	var completed atomic.Int64

	var eg errgroup.Group
	eg.SetLimit(e.maxConcurrency)
	for i, en := range w.entries {
		runCtx := waveCtx
		if en.task != nil && failFast {
			runCtx = groups[en.task.Dispatch]
		}
		eg.Go(func() error {
			r := e.invoke(runCtx, f, cp, snapshot, en)
			r.completed = int(completed.Add(1)) - 1
			results[i] = r
			if r.err == nil || runCtx.Err() != nil {
				return nil
			}
			var missing *domain.MissingFieldError
			switch {
			case errors.As(r.err, &missing):
			case en.task != nil && failFast:
				err := &domain.TaskFailureError{Target: en.node.ID, Instance: en.task.Instance, Err: r.err}
				w.setFatal(err)
				cancels[en.task.Dispatch](err)
			case en.task != nil:
			default:
				w.setFatal(nodeError(en.node.ID, r.err))
				cancelWave(r.err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// invoke runs a single entry and never panics.
func (e *Executor) invoke(ctx context.Context, f *frame, cp *domain.Checkpoint, snapshot state.View, en *entry) (r *result) {
	r = &result{entry: en}
	event := &domain.NodeEvent{
		EventBase: e.base(f, domain.EventNodeEnter, cp.Step),
		NodeID:    en.node.ID,
		NodeKind:  en.node.Kind.String(),
		Instance:  en.instance(),
	}
	if e.hooks.OnNodeEnter != nil {
		e.hooks.OnNodeEnter(ctx, event)
	}
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			r.err = fmt.Errorf("panic: %v", p)
		}
		leave := *event
		leave.EventBase = e.base(f, domain.EventNodeLeave, cp.Step)
		leave.Duration = time.Since(start)
		leave.Err = r.err
		if e.hooks.OnNodeLeave != nil {
			e.hooks.OnNodeLeave(ctx, &leave)
		}
		if r.err != nil {
			f.logger.Debug("node failed", "node_id", en.label(), "step", cp.Step, "error", r.err)
		}
	}()

	view := snapshot
	if en.task != nil {
		overlay, err := snapshot.Overlay(en.task.Input)
		if err != nil {
			r.err = err
			return r
		}
		view = overlay
	}
	if err := view.Require(en.node.Reads...); err != nil {
		r.err = err
		withNode(r.err, en.node.ID)
		return r
	}

	switch en.node.Kind {
	case graph.KindSubGraph:
		sub, err := e.enterSubgraph(ctx, f, en, view)
		if err != nil {
			r.err = err
			return r
		}
		r.out = domain.Patch(sub.update)
		r.childKey = sub.key
		r.frames = sub.frames
	default:
		out, err := en.node.Func(ctx, view)
		if err != nil {
			r.err = err
			withNode(r.err, en.node.ID)
			return r
		}
		r.out = out
	}
	return r
}

// base fills the common event fields.
func (e *Executor) base(f *frame, t domain.EventType, step int) domain.EventBase {
	return domain.EventBase{
		Timestamp: time.Now(),
		Type:      t,
		ThreadID:  f.threadID,
		Namespace: f.namespace,
		Step:      step,
	}
}

// scheduledIDs lists the nodes the checkpoint will invoke next.
func scheduledIDs(cp *domain.Checkpoint) []string {
	ids := append([]string(nil), cp.PendingNodes...)
	for _, t := range cp.PendingTasks {
		ids = appendUnique(ids, t.Target)
	}
	return ids
}

func withNode(err error, node string) {
	var missing *domain.MissingFieldError
	if errors.As(err, &missing) && missing.Node == "" {
		missing.Node = node
	}
}

// nodeError wraps a body failure unless it already names its origin.
func nodeError(node string, err error) error {
	switch err.(type) {
	case *domain.NodeError, *domain.RoutingError:
		return err
	}
	return &domain.NodeError{Node: node, Err: err}
}

func labels(entries []*entry) []string {
	out := make([]string, len(entries))
	for i, en := range entries {
		out[i] = en.label()
	}
	return out
}

func appendUnique(list []string, id string) []string {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}
