package pergola

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/internal/runtime"
	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/persistence/middleware"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/state"
	"github.com/aretw0/pergola/pkg/thread"
)

// Engine is the high-level entry point for the Pergola library.
// It binds a compiled graph to a checkpoint store and exposes the thread API.
type Engine struct {
	graph       *graph.Graph
	store       ports.CheckpointStore
	middlewares []middleware.Middleware
	locker      ports.DistributedLocker
	threads     *thread.Manager
	executor    *runtime.Executor
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	execOpts    []runtime.ExecutorOption
}

var _ ports.ThreadAPI = (*Engine)(nil)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore sets the checkpoint store. Defaults to an in-memory store.
func WithStore(store ports.CheckpointStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithMiddleware wraps the checkpoint store, first middleware outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) {
		e.middlewares = append(e.middlewares, mws...)
	}
}

// WithLocker adds a distributed lock around checkpoint writes, for engines
// sharing a store across processes.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithLifecycleHooks registers observability hooks. Repeated calls chain.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxConcurrency bounds the node bodies running at once in a wave.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		e.execOpts = append(e.execOpts, runtime.WithMaxConcurrency(n))
	}
}

// WithRecursionLimit bounds the waves of a single run.
func WithRecursionLimit(n int) Option {
	return func(e *Engine) {
		e.execOpts = append(e.execOpts, runtime.WithRecursionLimit(n))
	}
}

// WithHistoryLimit bounds the snapshots kept per thread.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		e.execOpts = append(e.execOpts, runtime.WithHistoryLimit(n))
	}
}

// WithInterruptBefore pauses runs before the given top-level nodes.
func WithInterruptBefore(ids ...string) Option {
	return func(e *Engine) {
		e.execOpts = append(e.execOpts, runtime.WithInterruptBefore(ids...))
	}
}

// WithInterruptAfter pauses runs after the given top-level nodes complete.
func WithInterruptAfter(ids ...string) Option {
	return func(e *Engine) {
		e.execOpts = append(e.execOpts, runtime.WithInterruptAfter(ids...))
	}
}

// New binds a compiled graph to an engine.
func New(g *graph.Graph, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, errors.New("graph is required")
	}
	eng := &Engine{graph: g}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	eng.logger = eng.logger.With("graph", g.Name())

	if eng.store == nil {
		eng.store = memory.NewStore()
	}
	eng.store = middleware.Chain(eng.store, eng.middlewares...)

	threadOpts := []thread.Option{thread.WithLogger(eng.logger)}
	if eng.locker != nil {
		threadOpts = append(threadOpts, thread.WithLocker(eng.locker))
	}
	eng.threads = thread.NewManager(eng.store, threadOpts...)

	execOpts := []runtime.ExecutorOption{
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
	}
	eng.executor = runtime.NewExecutor(eng.threads, append(execOpts, eng.execOpts...)...)
	if err := eng.executor.Check(g); err != nil {
		return nil, fmt.Errorf("graph %q: %w", g.Name(), err)
	}

	return eng, nil
}

// Graph returns the compiled topology.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Create starts a new thread seeded with the schema defaults.
func (e *Engine) Create(ctx context.Context) (string, error) {
	defaults, err := e.graph.Schema().Defaults()
	if err != nil {
		return "", err
	}
	cp, err := e.threads.Create(ctx, defaults)
	if err != nil {
		return "", err
	}
	e.logger.Debug("thread created", "thread_id", cp.ThreadID)
	return cp.ThreadID, nil
}

// Run advances a thread until it finishes, pauses or fails.
// A non-nil input starts a new run; nil continues the stored one.
func (e *Engine) Run(ctx context.Context, threadID string, input map[string]any) (*domain.Outcome, error) {
	return e.executor.Invoke(ctx, e.graph, input, threadID)
}

// Stream runs a thread like Run and reports each committed wave. The channel
// is closed after a final event carrying the Outcome or the error.
func (e *Engine) Stream(ctx context.Context, threadID string, input map[string]any) <-chan domain.StepEvent {
	events := make(chan domain.StepEvent, 16)
	go func() {
		defer close(events)
		send := func(ev domain.StepEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
		out, err := e.executor.Invoke(ctx, e.graph, input, threadID, runtime.WithStepHandler(send))
		final := domain.StepEvent{ThreadID: threadID, Outcome: out, Err: err}
		if out != nil {
			final.Version = out.Version
		}
		send(final)
	}()
	return events
}

// GetState returns the checkpoint of a thread or of a namespaced frame.
func (e *Engine) GetState(ctx context.Context, key string) (*domain.Checkpoint, error) {
	return e.threads.Load(ctx, key)
}

// UpdateState merges a patch through the reducers of the graph owning key.
func (e *Engine) UpdateState(ctx context.Context, key string, patch map[string]any) (*domain.Checkpoint, error) {
	return e.executor.UpdateState(ctx, e.graph, key, state.Update(patch))
}

// Resume applies an optional patch to a paused thread, or one of its
// frames, and continues the run.
func (e *Engine) Resume(ctx context.Context, key string, patch map[string]any) (*domain.Outcome, error) {
	if len(patch) > 0 {
		if _, err := e.UpdateState(ctx, key, patch); err != nil {
			return nil, err
		}
	}
	cp, err := e.threads.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, cp.ThreadID, nil)
}

// History returns the superseded checkpoints of a thread, oldest first.
func (e *Engine) History(ctx context.Context, threadID string) ([]domain.Snapshot, error) {
	cp, err := e.threads.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return cp.History, nil
}

// Abort cancels in-flight runs of the thread and clears its pending work.
func (e *Engine) Abort(ctx context.Context, threadID string) error {
	return e.executor.Abort(ctx, threadID)
}

// Threads lists the top-level thread ids.
func (e *Engine) Threads(ctx context.Context) ([]string, error) {
	return e.threads.Threads(ctx)
}

// Delete removes a thread and its frames.
func (e *Engine) Delete(ctx context.Context, threadID string) error {
	return e.threads.Delete(ctx, threadID)
}

// Invoke runs input on a throwaway thread and returns the outcome. The
// thread is deleted unless the run paused.
func (e *Engine) Invoke(ctx context.Context, input map[string]any) (*domain.Outcome, error) {
	id, err := e.Create(ctx)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	out, err := e.Run(ctx, id, input)
	if err == nil && out.IsInterrupted() {
		return out, nil
	}
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if derr := e.threads.Delete(cleanup, id); derr != nil {
		e.logger.Warn("failed to delete ephemeral thread", "thread_id", id, "error", derr)
	}
	return out, err
}
