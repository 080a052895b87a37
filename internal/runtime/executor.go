package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/state"
	"github.com/aretw0/pergola/pkg/thread"
)

const (
	// DefaultMaxConcurrency bounds the node bodies running at once in a wave.
	DefaultMaxConcurrency = 8
	// DefaultRecursionLimit bounds the waves of a single run.
	DefaultRecursionLimit = 100
	// DefaultHistoryLimit bounds the snapshots kept per checkpoint.
	DefaultHistoryLimit = 20

	maxCommitAttempts = 3
)

// Executor runs compiled graphs in waves against persisted threads.
type Executor struct {
	threads         *thread.Manager
	logger          *slog.Logger
	hooks           domain.LifecycleHooks
	maxConcurrency  int
	recursionLimit  int
	historyLimit    int
	interruptBefore map[string]bool
	interruptAfter  map[string]bool

	mu   sync.Mutex
	runs map[string]map[int]context.CancelCauseFunc
	seq  int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) ExecutorOption {
	return func(e *Executor) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithMaxConcurrency bounds parallel node bodies per wave.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithRecursionLimit bounds the number of waves a run may execute.
func WithRecursionLimit(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.recursionLimit = n
		}
	}
}

// WithHistoryLimit bounds the snapshots kept per checkpoint. Zero disables history.
func WithHistoryLimit(n int) ExecutorOption {
	return func(e *Executor) {
		if n >= 0 {
			e.historyLimit = n
		}
	}
}

// WithInterruptBefore pauses top-level runs before the given nodes, in
// addition to the interrupts compiled into the graph.
func WithInterruptBefore(ids ...string) ExecutorOption {
	return func(e *Executor) {
		for _, id := range ids {
			e.interruptBefore[id] = true
		}
	}
}

// WithInterruptAfter pauses top-level runs after the given nodes complete.
func WithInterruptAfter(ids ...string) ExecutorOption {
	return func(e *Executor) {
		for _, id := range ids {
			e.interruptAfter[id] = true
		}
	}
}

// NewExecutor creates an executor persisting through threads.
func NewExecutor(threads *thread.Manager, opts ...ExecutorOption) *Executor {
	e := &Executor{
		threads:         threads,
		logger:          logging.NewNop(),
		maxConcurrency:  DefaultMaxConcurrency,
		recursionLimit:  DefaultRecursionLimit,
		historyLimit:    DefaultHistoryLimit,
		interruptBefore: make(map[string]bool),
		interruptAfter:  make(map[string]bool),
		runs:            make(map[string]map[int]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check reports executor interrupts that name nodes g does not have.
func (e *Executor) Check(g *graph.Graph) error {
	var errs []error
	for _, set := range []map[string]bool{e.interruptBefore, e.interruptAfter} {
		for id := range set {
			if _, ok := g.Node(id); !ok {
				errs = append(errs, fmt.Errorf("interrupt on unknown node %q", id))
			}
		}
	}
	return errors.Join(errs...)
}

// InvokeOption configures a single run.
type InvokeOption func(*invokeConfig)

type invokeConfig struct {
	onStep func(domain.StepEvent)
}

// WithStepHandler receives one event per committed wave of the top-level frame.
func WithStepHandler(fn func(domain.StepEvent)) InvokeOption {
	return func(c *invokeConfig) {
		c.onStep = fn
	}
}

// frame is one level of a run: the top-level thread or a sub-workflow instance.
type frame struct {
	key       string
	threadID  string
	namespace string
	graph     *graph.Graph
	depth     int
	onStep    func(domain.StepEvent)
	logger    *slog.Logger
}

func (e *Executor) pauseBefore(f *frame, id string) bool {
	return f.graph.InterruptsBefore(id) || (f.depth == 0 && e.interruptBefore[id])
}

func (e *Executor) pauseAfter(f *frame, id string) bool {
	return f.graph.InterruptsAfter(id) || (f.depth == 0 && e.interruptAfter[id])
}

// Invoke runs a thread until it completes, pauses or fails.
//
// A non-nil input starts a new run: it is merged into the current state and
// scheduling restarts at the entry nodes. A nil input continues from the
// checkpoint: a paused thread resumes past its interrupt, a failed one
// retries its pending nodes, and a terminal one returns its final outcome.
func (e *Executor) Invoke(ctx context.Context, g *graph.Graph, input map[string]any, threadID string, opts ...InvokeOption) (*domain.Outcome, error) {
	cfg := &invokeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	defer e.register(threadID, cancel)()

	cp, err := e.threads.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}

	f := &frame{
		key:      threadID,
		threadID: threadID,
		graph:    g,
		onStep:   cfg.onStep,
		logger:   e.logger.With("graph", g.Name(), "thread_id", threadID),
	}

	cp, skip, finished, err := e.begin(ctx, f, cp, input)
	if err != nil {
		return nil, err
	}
	if finished {
		return domain.OutcomeOf(cp), nil
	}
	return e.drive(ctx, f, cp, skip)
}

// begin decides how a run starts from the stored checkpoint.
func (e *Executor) begin(ctx context.Context, f *frame, cp *domain.Checkpoint, input map[string]any) (*domain.Checkpoint, bool, bool, error) {
	switch {
	case input != nil || cp.Status == domain.StatusNew:
		writes := state.WritesFrom(input, 0, 0)
		values, err := state.Reduce(f.graph.Schema(), cp.State, writes)
		if err != nil {
			return nil, false, false, err
		}
		next := cp.Next(e.historyLimit)
		next.Epoch = cp.Epoch + 1
		next.Step = 0
		next.Status = domain.StatusRunning
		next.State = values
		next.PendingNodes = f.graph.Entry()
		next.PendingTasks = nil
		next.Barriers = make(map[string]domain.BarrierState)
		next.Iterations = make(map[string]int)
		next.Trajectory = nil
		next.BranchErrors = nil
		next.Children = nil

		if err := e.threads.DeleteFrames(ctx, f.key); err != nil {
			return nil, false, false, err
		}
		committed, err := e.commit(ctx, f, cp, next, writes)
		if err != nil {
			return nil, false, false, err
		}
		f.logger.Info("run started", "epoch", committed.Epoch, "entry", committed.PendingNodes)
		return committed, false, false, nil

	case cp.Status.IsTerminal():
		return cp, false, true, nil

	default:
		if cp.Status == domain.StatusInterrupted {
			f.logger.Info("resuming run", "pending", cp.PendingNodes, "step", cp.Step)
		}
		return cp, cp.Status == domain.StatusInterrupted, false, nil
	}
}

// drive executes waves until the frame stops.
func (e *Executor) drive(ctx context.Context, f *frame, cp *domain.Checkpoint, skipInterrupt bool) (*domain.Outcome, error) {
	for steps := 0; ; steps++ {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		if !cp.HasPending() {
			return e.finish(ctx, f, cp, domain.StatusDone)
		}
		if steps >= e.recursionLimit {
			return nil, e.fail(ctx, f, cp, "", &domain.RecursionLimitError{Limit: e.recursionLimit})
		}

		w, out, err := e.plan(ctx, f, cp, skipInterrupt)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
		skipInterrupt = false

		results := e.runWave(ctx, f, cp, w)
		next, out, err := e.advance(ctx, f, cp, w, results)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
		cp = next
	}
}

// finish commits a terminal status when it is not already stored.
func (e *Executor) finish(ctx context.Context, f *frame, cp *domain.Checkpoint, status domain.Status) (*domain.Outcome, error) {
	if cp.Status != status {
		next := cp.Next(e.historyLimit)
		next.Status = status
		next.PendingNodes = nil
		next.PendingTasks = nil
		committed, err := e.commit(ctx, f, cp, next, nil)
		if err != nil {
			return nil, err
		}
		cp = committed
		e.emitCheckpoint(ctx, f, cp)
	}
	f.logger.Info("run finished", "status", cp.Status, "steps", cp.Step, "version", cp.Version)
	return domain.OutcomeOf(cp), nil
}

// fail marks the last committed checkpoint as failed and returns cause.
// Pending work is kept so a later run can retry it.
func (e *Executor) fail(ctx context.Context, f *frame, cp *domain.Checkpoint, nodeID string, cause error) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	f.logger.Error("run failed", "step", cp.Step, "node_id", nodeID, "error", cause)
	e.emitError(ctx, f, cp.Step, nodeID, cause)

	next := cp.Next(e.historyLimit)
	next.Status = domain.StatusFailed
	next.Error = cause.Error()
	if _, err := e.commit(ctx, f, cp, next, nil); err != nil {
		if errors.Is(err, domain.ErrSuperseded) || errors.Is(err, domain.ErrAborted) {
			return err
		}
		f.logger.Warn("failed to record failure", "error", err)
	}
	return cause
}

// commit persists next over base. On a version conflict the wave writes are
// merged again on top of the newer checkpoint when it only differs by state
// updates; node bodies never re-run. A checkpoint that already moved past
// base's step holds another runner's wave, so the results are discarded.
func (e *Executor) commit(ctx context.Context, f *frame, base, next *domain.Checkpoint, writes []state.Write) (*domain.Checkpoint, error) {
	for attempt := 1; ; attempt++ {
		err := e.threads.CompareAndSwap(ctx, f.key, base.Version, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, thread.ErrVersionConflict) || attempt >= maxCommitAttempts {
			return nil, err
		}

		current, err := e.threads.Load(ctx, f.key)
		if err != nil {
			return nil, err
		}
		if current.Status == domain.StatusAborted {
			return nil, domain.ErrAborted
		}
		if current.Epoch != base.Epoch || current.Step != base.Step {
			f.logger.Debug("discarding wave superseded by another runner", "base_step", base.Step, "current_step", current.Step)
			return nil, domain.ErrSuperseded
		}

		merged, err := state.Reduce(f.graph.Schema(), current.State, writes)
		if err != nil {
			return nil, err
		}
		f.logger.Debug("rebasing wave on newer checkpoint", "from_version", base.Version, "to_version", current.Version, "attempt", attempt)
		base, next = current, rebase(current, next, merged, e.historyLimit)
	}
}

// rebase moves the scheduling outcome of next onto current.
func rebase(current, next *domain.Checkpoint, merged map[string]any, historyLimit int) *domain.Checkpoint {
	out := current.Next(historyLimit)
	out.State = merged
	out.Epoch = next.Epoch
	out.Step = next.Step
	out.Status = next.Status
	out.Error = next.Error
	out.PendingNodes = next.PendingNodes
	out.PendingTasks = next.PendingTasks
	out.Barriers = next.Barriers
	out.Iterations = next.Iterations
	out.Trajectory = next.Trajectory
	out.BranchErrors = next.BranchErrors
	out.Children = next.Children
	return out
}

// UpdateState merges patch into the checkpoint stored at key through the
// reducers of the graph that owns it. Namespaced keys address sub-workflow frames.
func (e *Executor) UpdateState(ctx context.Context, g *graph.Graph, key string, patch state.Update) (*domain.Checkpoint, error) {
	for attempt := 1; ; attempt++ {
		cp, err := e.threads.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		owner, err := resolveGraph(g, cp.Namespace)
		if err != nil {
			return nil, err
		}
		merged, err := state.Reduce(owner.Schema(), cp.State, state.WritesFrom(patch, 0, 0))
		if err != nil {
			return nil, err
		}
		next := cp.Next(e.historyLimit)
		next.State = merged
		err = e.threads.CompareAndSwap(ctx, key, cp.Version, next)
		if err == nil {
			e.logger.Info("state updated", "key", key, "version", next.Version)
			return next, nil
		}
		if !errors.Is(err, thread.ErrVersionConflict) || attempt >= maxCommitAttempts {
			return nil, err
		}
	}
}

// Abort cancels any in-flight run of the thread and marks it aborted.
func (e *Executor) Abort(ctx context.Context, threadID string) error {
	e.cancelRuns(threadID)

	for attempt := 1; ; attempt++ {
		cp, err := e.threads.Load(ctx, threadID)
		if err != nil {
			return err
		}
		if cp.Status == domain.StatusAborted {
			break
		}
		next := cp.Next(e.historyLimit)
		next.Status = domain.StatusAborted
		next.PendingNodes = nil
		next.PendingTasks = nil
		next.Children = nil
		err = e.threads.CompareAndSwap(ctx, threadID, cp.Version, next)
		if err == nil {
			break
		}
		if !errors.Is(err, thread.ErrVersionConflict) || attempt >= maxCommitAttempts {
			return fmt.Errorf("abort %s: %w", threadID, err)
		}
	}
	e.logger.Info("thread aborted", "thread_id", threadID)
	return e.threads.DeleteFrames(ctx, threadID)
}

func (e *Executor) register(threadID string, cancel context.CancelCauseFunc) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	id := e.seq
	if e.runs[threadID] == nil {
		e.runs[threadID] = make(map[int]context.CancelCauseFunc)
	}
	e.runs[threadID][id] = cancel
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.runs[threadID], id)
		if len(e.runs[threadID]) == 0 {
			delete(e.runs, threadID)
		}
	}
}

func (e *Executor) cancelRuns(threadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.runs[threadID] {
		cancel(domain.ErrAborted)
	}
}

// cancelled maps a done context to the error a run reports.
func cancelled(ctx context.Context) error {
	if cause := context.Cause(ctx); errors.Is(cause, domain.ErrAborted) {
		return domain.ErrAborted
	}
	return ctx.Err()
}
