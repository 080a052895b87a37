package graph

import (
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/state"
)

// Graph is a compiled, immutable topology.
type Graph struct {
	name        string
	schema      *state.Schema
	nodes       map[string]*Node
	order       []string
	entry       []string
	edges       map[string][]string
	conditional map[string]*ConditionalEdge
	joins       map[string][]string
	guards      map[string]LoopGuard
	policy      FanOutPolicy
	before      map[string]bool
	after       map[string]bool
	// depth is the longest path in nodes; zero when the graph has guarded cycles.
	depth int
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Schema returns the state schema, including fields declared by the fan-out policy.
func (g *Graph) Schema() *state.Schema { return g.schema }

// Entry returns the nodes scheduled in the first wave.
func (g *Graph) Entry() []string { return append([]string(nil), g.entry...) }

// Node looks up a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns the static successors of a node.
func (g *Graph) Edges(from string) []string {
	return append([]string(nil), g.edges[from]...)
}

// Conditional returns the conditional edge leaving a node, if any.
func (g *Graph) Conditional(from string) (*ConditionalEdge, bool) {
	c, ok := g.conditional[from]
	return c, ok
}

// JoinPredecessors returns the declared predecessors of a join node.
func (g *Graph) JoinPredecessors(id string) ([]string, bool) {
	preds, ok := g.joins[id]
	return preds, ok
}

// Guard returns the loop guard of a node, if any.
func (g *Graph) Guard(id string) (LoopGuard, bool) {
	lg, ok := g.guards[id]
	return lg, ok
}

// FanOutPolicy returns the task failure policy.
func (g *Graph) FanOutPolicy() FanOutPolicy { return g.policy }

// InterruptsBefore reports whether the graph pauses before scheduling id.
func (g *Graph) InterruptsBefore(id string) bool { return g.before[id] }

// InterruptsAfter reports whether the graph pauses after running id.
func (g *Graph) InterruptsAfter(id string) bool { return g.after[id] }

// Depth returns the longest path, in nodes, of an acyclic graph, and zero
// for graphs with guarded cycles.
func (g *Graph) Depth() int { return g.depth }

// Route computes the successors of a node that completed without a directive:
// its static edges followed by the router selection. The result may contain END.
func (g *Graph) Route(from string, v state.View) ([]string, error) {
	targets := append([]string(nil), g.edges[from]...)

	cond, ok := g.conditional[from]
	if !ok {
		return targets, nil
	}
	selected, err := cond.Router(v)
	if err != nil {
		return nil, &domain.NodeError{Node: from, Err: err}
	}
	for _, target := range selected {
		if !contains(cond.Allowed, target) {
			return nil, &domain.RoutingError{Node: from, Target: target, Allowed: append([]string(nil), cond.Allowed...)}
		}
		targets = appendUnique(targets, target)
	}
	return targets, nil
}

// CheckTargets validates the targets of a Goto directive or a task dispatch
// issued by from: each must be a node of the graph (or END for directives).
func (g *Graph) CheckTargets(from string, targets []string, allowEnd bool) error {
	for _, target := range targets {
		if _, ok := g.nodes[target]; ok {
			continue
		}
		if allowEnd && target == END {
			continue
		}
		allowed := append([]string(nil), g.order...)
		if allowEnd {
			allowed = append(allowed, END)
		}
		return &domain.RoutingError{Node: from, Target: target, Allowed: allowed}
	}
	return nil
}

// Less orders node ids by declaration.
func (g *Graph) Less(a, b string) bool {
	na, oka := g.nodes[a]
	nb, okb := g.nodes[b]
	if !oka || !okb {
		return a < b
	}
	return na.order < nb.order
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
