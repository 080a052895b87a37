package graph

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/state"
)

const (
	// START is the virtual source of the entry edges.
	START = "__start__"
	// END is the virtual sink that terminates a branch.
	END = "__end__"
)

// Kind tags the variant of a Node.
type Kind int

const (
	KindLeaf Kind = iota
	KindSubGraph
)

func (k Kind) String() string {
	switch k {
	case KindSubGraph:
		return "subgraph"
	default:
		return "leaf"
	}
}

// NodeFunc is the body of a leaf node. It reads a snapshot and returns what
// to change; it never mutates state directly.
type NodeFunc func(ctx context.Context, v state.View) (domain.Result, error)

// Router selects the next nodes of a conditional edge from the post-merge state.
type Router func(v state.View) ([]string, error)

// InputMapping builds the initial child state of a sub-workflow from the parent state.
type InputMapping func(parent state.View) (map[string]any, error)

// OutputMapping projects the final child state onto a parent update.
type OutputMapping func(child state.View) (state.Update, error)

// Node is a tagged union: a leaf computation or a nested sub-workflow.
type Node struct {
	ID   string
	Kind Kind

	// Leaf
	Func NodeFunc

	// SubGraph
	Graph  *Graph
	Input  InputMapping
	Output OutputMapping

	// Reads lists fields that must be present before the node runs.
	Reads []string
	// Writes lists fields the node may update.
	Writes []string
	// Dispatches lists the targets of tasks this node may fan out.
	Dispatches []string

	order int
}

// Order is the declaration position of the node.
func (n *Node) Order() int {
	return n.order
}

// NodeOption configures a node at declaration.
type NodeOption func(*Node)

// Reads declares the fields the node requires.
func Reads(fields ...string) NodeOption {
	return func(n *Node) {
		n.Reads = append(n.Reads, fields...)
	}
}

// Writes declares the fields the node updates.
func Writes(fields ...string) NodeOption {
	return func(n *Node) {
		n.Writes = append(n.Writes, fields...)
	}
}

// Dispatches declares the targets the node may send tasks to.
func Dispatches(targets ...string) NodeOption {
	return func(n *Node) {
		n.Dispatches = append(n.Dispatches, targets...)
	}
}

// WithInput sets the input mapping of a sub-workflow node.
func WithInput(fn InputMapping) NodeOption {
	return func(n *Node) {
		n.Input = fn
	}
}

// WithOutput sets the output mapping of a sub-workflow node.
func WithOutput(fn OutputMapping) NodeOption {
	return func(n *Node) {
		n.Output = fn
	}
}

// ConditionalEdge routes from a node through a Router restricted to Allowed targets.
type ConditionalEdge struct {
	From    string
	Router  Router
	Allowed []string
}

// LoopGuard bounds how many times a node may be scheduled within a thread.
type LoopGuard struct {
	Node string
	Max  int
	// OnExhausted is scheduled instead of Node once the bound is reached.
	// Empty terminates the run with the exhausted reason.
	OnExhausted string
}

// FanOutMode is the failure policy of a task dispatch.
type FanOutMode string

const (
	// Partial records failed tasks and keeps the successful contributions.
	Partial FanOutMode = "partial"
	// FailFast cancels sibling tasks and aborts the run on the first failure.
	FailFast FanOutMode = "fail_fast"
)

// FanOutPolicy decides what happens when dispatched tasks fail.
type FanOutPolicy struct {
	Mode FanOutMode
	// ErrorField receives domain.TaskFailure entries under Partial.
	ErrorField string
}

// DefaultFanOutPolicy is Partial with failures recorded in domain.DefaultTaskErrorField.
func DefaultFanOutPolicy() FanOutPolicy {
	return FanOutPolicy{Mode: Partial, ErrorField: domain.DefaultTaskErrorField}
}
