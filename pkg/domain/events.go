package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter    EventType = "node_enter"
	EventNodeLeave    EventType = "node_leave"
	EventTaskDispatch EventType = "task_dispatch"
	EventInterrupt    EventType = "interrupt"
	EventCheckpoint   EventType = "checkpoint"
	EventError        EventType = "error"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	ThreadID  string    `json:"thread_id"`
	Namespace string    `json:"namespace,omitempty"`
	Step      int       `json:"step"`
}

// NodeEvent represents entry or exit from a node invocation.
type NodeEvent struct {
	EventBase
	NodeID   string        `json:"node_id"`
	NodeKind string        `json:"node_kind"`
	Instance int           `json:"instance"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// DispatchEvent is emitted when a node fans out tasks.
type DispatchEvent struct {
	EventBase
	NodeID string   `json:"node_id"`
	Tasks  []string `json:"tasks"`
}

// InterruptEvent is emitted when a run pauses.
type InterruptEvent struct {
	EventBase
	PendingNodes []string `json:"pending_nodes"`
}

// CheckpointEvent is emitted after a checkpoint was persisted.
type CheckpointEvent struct {
	EventBase
	Version int    `json:"version"`
	Status  Status `json:"status"`
}

// ErrorEvent is emitted when a run fails.
type ErrorEvent struct {
	EventBase
	NodeID string `json:"node_id,omitempty"`
	Err    error  `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnNodeEnter    func(context.Context, *NodeEvent)
	OnNodeLeave    func(context.Context, *NodeEvent)
	OnTaskDispatch func(context.Context, *DispatchEvent)
	OnInterrupt    func(context.Context, *InterruptEvent)
	OnCheckpoint   func(context.Context, *CheckpointEvent)
	OnError        func(context.Context, *ErrorEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeEnter:    chain(h.OnNodeEnter, other.OnNodeEnter),
		OnNodeLeave:    chain(h.OnNodeLeave, other.OnNodeLeave),
		OnTaskDispatch: chain(h.OnTaskDispatch, other.OnTaskDispatch),
		OnInterrupt:    chain(h.OnInterrupt, other.OnInterrupt),
		OnCheckpoint:   chain(h.OnCheckpoint, other.OnCheckpoint),
		OnError:        chain(h.OnError, other.OnError),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}

// StepEvent describes one committed wave of a run. The last event of a
// stream carries the Outcome or the error that ended the run.
type StepEvent struct {
	ThreadID string         `json:"thread_id"`
	Step     int            `json:"step"`
	Nodes    []string       `json:"nodes"`
	Updates  map[string]any `json:"updates,omitempty"`
	Delta    *StateDiff     `json:"delta,omitempty"`
	Version  int            `json:"version"`
	Outcome  *Outcome       `json:"outcome,omitempty"`
	Err      error          `json:"-"`
}
