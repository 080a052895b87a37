package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/pergola/pkg/domain"
)

// LogHooks returns lifecycle hooks that write each event to logger.
// Node and checkpoint events are logged at debug level.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_enter",
				"thread_id", e.ThreadID,
				"namespace", e.Namespace,
				"node_id", e.NodeID,
				"instance", e.Instance,
			)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			attrs := []any{
				"thread_id", e.ThreadID,
				"node_id", e.NodeID,
				"instance", e.Instance,
				"duration", e.Duration,
			}
			if e.Err != nil {
				logger.WarnContext(ctx, "node_leave", append(attrs, "error", e.Err)...)
				return
			}
			logger.DebugContext(ctx, "node_leave", attrs...)
		},
		OnTaskDispatch: func(ctx context.Context, e *domain.DispatchEvent) {
			logger.InfoContext(ctx, "task_dispatch",
				"thread_id", e.ThreadID,
				"node_id", e.NodeID,
				"tasks", len(e.Tasks),
			)
		},
		OnInterrupt: func(ctx context.Context, e *domain.InterruptEvent) {
			logger.InfoContext(ctx, "interrupt",
				"thread_id", e.ThreadID,
				"namespace", e.Namespace,
				"pending", e.PendingNodes,
			)
		},
		OnCheckpoint: func(ctx context.Context, e *domain.CheckpointEvent) {
			logger.DebugContext(ctx, "checkpoint",
				"thread_id", e.ThreadID,
				"namespace", e.Namespace,
				"version", e.Version,
				"status", e.Status,
			)
		},
		OnError: func(ctx context.Context, e *domain.ErrorEvent) {
			logger.ErrorContext(ctx, "run_error",
				"thread_id", e.ThreadID,
				"node_id", e.NodeID,
				"error", e.Err,
			)
		},
	}
}
