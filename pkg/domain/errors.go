package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/pergola/pkg/state"
)

// ErrThreadNotFound is returned when a thread ID cannot be found in the store.
var ErrThreadNotFound = errors.New("thread not found")

// ErrSuperseded is returned when a run's results were discarded because a
// newer run of the same thread took over.
var ErrSuperseded = errors.New("run superseded by a newer run")

// ErrAborted is returned when a run was cancelled by Abort.
var ErrAborted = errors.New("run aborted")

// MissingFieldError is returned when a node requires a field the state lacks.
// It only fails the branch that raised it.
type MissingFieldError = state.MissingFieldError

// RoutingError is returned when a router or a Goto directive selects a
// target outside the allowed set.
type RoutingError struct {
	Node    string
	Target  string
	Allowed []string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("node %q routed to %q, allowed: [%s]", e.Node, e.Target, strings.Join(e.Allowed, ", "))
}

// TaskFailure records one failed fan-out task under the partial policy.
type TaskFailure struct {
	Target   string `json:"target"`
	Instance int    `json:"instance"`
	Error    string `json:"error"`
}

// TaskFailureError aborts a run when a task fails under the fail-fast policy.
type TaskFailureError struct {
	Target   string
	Instance int
	Err      error
}

func (e *TaskFailureError) Error() string {
	return fmt.Sprintf("task %s#%d failed: %v", e.Target, e.Instance, e.Err)
}

func (e *TaskFailureError) Unwrap() error {
	return e.Err
}

// NonTerminatingLoopError is returned at compile time for a cycle that has no
// loop guard on any of its nodes.
type NonTerminatingLoopError struct {
	Nodes []string
}

func (e *NonTerminatingLoopError) Error() string {
	return fmt.Sprintf("cycle without loop guard through [%s]", strings.Join(e.Nodes, ", "))
}

// RecursionLimitError is returned when a run exceeds the maximum number of waves.
type RecursionLimitError struct {
	Limit int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("recursion limit of %d steps reached without hitting a stop condition", e.Limit)
}

// NodeError wraps a failure raised by a node body.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
