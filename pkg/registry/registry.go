package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/state"
)

// ErrNotRegistered is returned when a name has no registered implementation.
var ErrNotRegistered = errors.New("not registered")

// Registry maps names used by declarative topologies to Go implementations:
// node bodies, routers, compiled sub-workflows and reducers.
type Registry struct {
	mu       sync.RWMutex
	nodes    map[string]graph.NodeFunc
	routers  map[string]graph.Router
	graphs   map[string]*graph.Graph
	reducers map[string]state.Reducer
}

// NewRegistry creates a registry with the built-in reducers.
func NewRegistry() *Registry {
	r := &Registry{
		nodes:    make(map[string]graph.NodeFunc),
		routers:  make(map[string]graph.Router),
		graphs:   make(map[string]*graph.Graph),
		reducers: make(map[string]state.Reducer),
	}
	for _, red := range []state.Reducer{state.Replace, state.Append, state.Sum, state.Union} {
		r.reducers[red.Name] = red
	}
	return r
}

// RegisterNode adds a node body. An existing name is overwritten.
func (r *Registry) RegisterNode(name string, fn graph.NodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[name] = fn
}

// RegisterRouter adds a router for conditional edges.
func (r *Registry) RegisterRouter(name string, fn graph.Router) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routers[name] = fn
}

// RegisterGraph adds a compiled graph usable as a sub-workflow.
func (r *Registry) RegisterGraph(name string, g *graph.Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[name] = g
}

// RegisterReducer adds a custom reducer under its name.
func (r *Registry) RegisterReducer(red state.Reducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reducers[red.Name] = red
}

// Node looks up a node body.
func (r *Registry) Node(name string) (graph.NodeFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.nodes[name]
	if !ok {
		return nil, fmt.Errorf("node function %q: %w", name, ErrNotRegistered)
	}
	return fn, nil
}

// Router looks up a router.
func (r *Registry) Router(name string) (graph.Router, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.routers[name]
	if !ok {
		return nil, fmt.Errorf("router %q: %w", name, ErrNotRegistered)
	}
	return fn, nil
}

// Graph looks up a sub-workflow.
func (r *Registry) Graph(name string) (*graph.Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[name]
	if !ok {
		return nil, fmt.Errorf("graph %q: %w", name, ErrNotRegistered)
	}
	return g, nil
}

// Reducer looks up a reducer; an empty name means replace.
func (r *Registry) Reducer(name string) (state.Reducer, error) {
	if name == "" {
		return state.Replace, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	red, ok := r.reducers[name]
	if !ok {
		return state.Reducer{}, fmt.Errorf("reducer %q: %w", name, ErrNotRegistered)
	}
	return red, nil
}

// Execute looks up a node body by name and runs it.
func (r *Registry) Execute(ctx context.Context, name string, v state.View) (domain.Result, error) {
	fn, err := r.Node(name)
	if err != nil {
		return domain.Result{}, err
	}
	return fn(ctx, v)
}

// Nodes lists the registered node function names, sorted.
func (r *Registry) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
