package graph

import (
	"errors"
	"fmt"

	"github.com/aretw0/pergola/pkg/state"
)

// Builder assembles a topology. Declaration errors are collected and
// reported by Compile, so calls can be chained.
type Builder struct {
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
	errs        []error
}

// NewBuilder starts a topology over the given schema.
func NewBuilder(name string, schema *state.Schema) *Builder {
	if schema == nil {
		schema = state.NewSchema()
	}
	return &Builder{
		name:        name,
		schema:      schema,
		nodes:       make(map[string]*Node),
		edges:       make(map[string][]string),
		conditional: make(map[string]*ConditionalEdge),
		joins:       make(map[string][]string),
		guards:      make(map[string]LoopGuard),
		policy:      DefaultFanOutPolicy(),
		before:      make(map[string]bool),
		after:       make(map[string]bool),
	}
}

func (b *Builder) fail(format string, args ...any) *Builder {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
	return b
}

func (b *Builder) add(n *Node, opts []NodeOption) *Builder {
	switch {
	case n.ID == "":
		return b.fail("node id cannot be empty")
	case n.ID == START || n.ID == END:
		return b.fail("node id %q is reserved", n.ID)
	}
	if _, exists := b.nodes[n.ID]; exists {
		return b.fail("node %q declared twice", n.ID)
	}
	for _, opt := range opts {
		opt(n)
	}
	n.order = len(b.order)
	b.nodes[n.ID] = n
	b.order = append(b.order, n.ID)
	return b
}

// AddNode declares a leaf node.
func (b *Builder) AddNode(id string, fn NodeFunc, opts ...NodeOption) *Builder {
	if fn == nil {
		return b.fail("node %q has no function", id)
	}
	return b.add(&Node{ID: id, Kind: KindLeaf, Func: fn}, opts)
}

// AddSubGraph declares a node that runs a compiled child graph as one step.
func (b *Builder) AddSubGraph(id string, child *Graph, opts ...NodeOption) *Builder {
	if child == nil {
		return b.fail("subgraph node %q has no graph", id)
	}
	return b.add(&Node{ID: id, Kind: KindSubGraph, Graph: child}, opts)
}

// AddEdge declares a static edge. from may be START and to may be END.
func (b *Builder) AddEdge(from, to string) *Builder {
	if from == END || to == START {
		return b.fail("invalid edge %s -> %s", from, to)
	}
	if from == START {
		b.entry = appendUnique(b.entry, to)
		return b
	}
	b.edges[from] = appendUnique(b.edges[from], to)
	return b
}

// SetEntry declares the nodes scheduled in the first wave.
func (b *Builder) SetEntry(ids ...string) *Builder {
	for _, id := range ids {
		b.AddEdge(START, id)
	}
	return b
}

// AddConditionalEdges routes from a node through a router. The router may
// only select targets listed in allowed (END included when listed).
func (b *Builder) AddConditionalEdges(from string, router Router, allowed ...string) *Builder {
	if router == nil {
		return b.fail("conditional edge from %q has no router", from)
	}
	if len(allowed) == 0 {
		return b.fail("conditional edge from %q has no allowed targets", from)
	}
	if _, exists := b.conditional[from]; exists {
		return b.fail("node %q already has conditional edges", from)
	}
	b.conditional[from] = &ConditionalEdge{From: from, Router: router, Allowed: append([]string(nil), allowed...)}
	return b
}

// AddJoin declares node as a join barrier over preds. The node fires once
// all of preds arrived, and ignores signals from anything else.
func (b *Builder) AddJoin(preds []string, node string) *Builder {
	if len(preds) < 2 {
		return b.fail("join %q needs at least two predecessors", node)
	}
	if _, exists := b.joins[node]; exists {
		return b.fail("join %q declared twice", node)
	}
	for _, p := range preds {
		b.AddEdge(p, node)
	}
	b.joins[node] = append([]string(nil), preds...)
	return b
}

// SetLoopGuard bounds how many times node may be scheduled. Scheduling it
// for the (max+1)-th time either routes to onExhausted or, when onExhausted
// is empty, ends the run as exhausted.
func (b *Builder) SetLoopGuard(node string, max int, onExhausted string) *Builder {
	if max < 1 {
		return b.fail("loop guard on %q must allow at least one iteration", node)
	}
	b.guards[node] = LoopGuard{Node: node, Max: max, OnExhausted: onExhausted}
	return b
}

// InterruptBefore pauses a run before any wave that schedules one of ids.
func (b *Builder) InterruptBefore(ids ...string) *Builder {
	for _, id := range ids {
		b.before[id] = true
	}
	return b
}

// InterruptAfter pauses a run after any wave that ran one of ids.
func (b *Builder) InterruptAfter(ids ...string) *Builder {
	for _, id := range ids {
		b.after[id] = true
	}
	return b
}

// SetFanOutPolicy sets the failure policy for dispatched tasks.
func (b *Builder) SetFanOutPolicy(p FanOutPolicy) *Builder {
	if p.Mode == "" {
		p.Mode = Partial
	}
	if p.Mode == Partial && p.ErrorField == "" {
		p.ErrorField = DefaultFanOutPolicy().ErrorField
	}
	b.policy = p
	return b
}

// Compile validates the topology and freezes it.
func (b *Builder) Compile() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("graph %q: %w", b.name, errors.Join(b.errs...))
	}

	schema := b.schema
	if b.policy.Mode == Partial && !schema.Has(b.policy.ErrorField) {
		schema = schema.With(state.Declare(b.policy.ErrorField, state.Append))
	}

	g := &Graph{
		name:        b.name,
		schema:      schema,
		nodes:       copyMap(b.nodes),
		order:       append([]string(nil), b.order...),
		entry:       append([]string(nil), b.entry...),
		edges:       copyMap(b.edges),
		conditional: copyMap(b.conditional),
		joins:       copyMap(b.joins),
		guards:      copyMap(b.guards),
		policy:      b.policy,
		before:      copyMap(b.before),
		after:       copyMap(b.after),
	}

	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("graph %q: %w", b.name, err)
	}

	return g, nil
}

// MustCompile is like Compile but panics on error.
func (b *Builder) MustCompile() *Graph {
	g, err := b.Compile()
	if err != nil {
		panic(err)
	}
	return g
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
