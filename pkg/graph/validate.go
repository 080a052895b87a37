package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/gammazero/toposort"
)

func (g *Graph) validate() error {
	var errs []error
	exists := func(id string) bool {
		_, ok := g.nodes[id]
		return ok
	}
	target := func(id string) bool {
		return id == END || exists(id)
	}

	if len(g.entry) == 0 {
		errs = append(errs, errors.New("no entry node"))
	}
	for _, id := range g.entry {
		if !exists(id) {
			errs = append(errs, fmt.Errorf("entry node %q not found", id))
		}
	}
	for from, tos := range g.edges {
		if !exists(from) {
			errs = append(errs, fmt.Errorf("edge source %q not found", from))
		}
		for _, to := range tos {
			if !target(to) {
				errs = append(errs, fmt.Errorf("edge %s -> %s: target not found", from, to))
			}
		}
	}
	for from, cond := range g.conditional {
		if !exists(from) {
			errs = append(errs, fmt.Errorf("conditional edge source %q not found", from))
		}
		for _, to := range cond.Allowed {
			if !target(to) {
				errs = append(errs, fmt.Errorf("conditional edge %s -> %s: target not found", from, to))
			}
		}
	}
	for node, preds := range g.joins {
		if !exists(node) {
			errs = append(errs, fmt.Errorf("join node %q not found", node))
		}
		for _, p := range preds {
			if !exists(p) {
				errs = append(errs, fmt.Errorf("join %q: predecessor %q not found", node, p))
			}
		}
	}
	for node, lg := range g.guards {
		if !exists(node) {
			errs = append(errs, fmt.Errorf("loop guard node %q not found", node))
		}
		if lg.OnExhausted != "" && !exists(lg.OnExhausted) {
			errs = append(errs, fmt.Errorf("loop guard %q: exhaustion target %q not found", node, lg.OnExhausted))
		}
	}
	for _, ids := range []map[string]bool{g.before, g.after} {
		for id := range ids {
			if !exists(id) {
				errs = append(errs, fmt.Errorf("interrupt on unknown node %q", id))
			}
		}
	}
	for _, id := range g.order {
		n := g.nodes[id]
		for _, to := range n.Dispatches {
			if !exists(to) {
				errs = append(errs, fmt.Errorf("node %q dispatches to unknown node %q", id, to))
			}
		}
		for _, f := range n.Reads {
			if !g.schema.Has(f) {
				errs = append(errs, fmt.Errorf("node %q reads undeclared field %q", id, f))
			}
		}
		for _, f := range n.Writes {
			if !g.schema.Has(f) {
				errs = append(errs, fmt.Errorf("node %q writes undeclared field %q", id, f))
			}
		}
	}
	if len(errs) > 0 {
		sortErrors(errs)
		return errors.Join(errs...)
	}

	return g.checkLoops()
}

// checkLoops rejects cycles that no loop guard can break and records the
// longest path of acyclic graphs.
func (g *Graph) checkLoops() error {
	all := g.dependencies(nil)
	if order, ok := sortEdges(all); ok {
		g.depth = g.longestPath(order, all)
		return nil
	}

	unguarded := g.dependencies(func(id string) bool {
		_, guarded := g.guards[id]
		return !guarded
	})
	if _, ok := sortEdges(unguarded); ok {
		return nil
	}
	return &domain.NonTerminatingLoopError{Nodes: g.cycleNodes(unguarded)}
}

// dependencies lists every edge the scheduler may follow, including
// conditional and dispatch edges. keep filters the nodes considered.
func (g *Graph) dependencies(keep func(string) bool) [][2]string {
	var out [][2]string
	add := func(from, to string) {
		if to == END {
			return
		}
		if keep != nil && (!keep(from) || !keep(to)) {
			return
		}
		out = append(out, [2]string{from, to})
	}
	for _, from := range g.order {
		for _, to := range g.edges[from] {
			add(from, to)
		}
		if cond, ok := g.conditional[from]; ok {
			for _, to := range cond.Allowed {
				add(from, to)
			}
		}
		for _, to := range g.nodes[from].Dispatches {
			add(from, to)
		}
		if lg, ok := g.guards[from]; ok && lg.OnExhausted != "" {
			add(from, lg.OnExhausted)
		}
	}
	return out
}

func sortEdges(deps [][2]string) ([]string, bool) {
	edges := make([]toposort.Edge, 0, len(deps))
	for _, d := range deps {
		if d[0] == d[1] {
			return nil, false
		}
		edges = append(edges, toposort.Edge{d[0], d[1]})
	}
	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, false
	}
	order := make([]string, 0, len(sorted))
	for _, n := range sorted {
		order = append(order, n.(string))
	}
	return order, true
}

func (g *Graph) longestPath(order []string, deps [][2]string) int {
	dist := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		dist[id] = 1
	}
	preds := make(map[string][]string)
	for _, d := range deps {
		preds[d[1]] = append(preds[d[1]], d[0])
	}
	longest := 0
	for _, id := range order {
		for _, p := range preds[id] {
			if dist[p]+1 > dist[id] {
				dist[id] = dist[p] + 1
			}
		}
	}
	for _, d := range dist {
		if d > longest {
			longest = d
		}
	}
	return longest
}

// cycleNodes strips sources and sinks until only nodes on cycles remain.
func (g *Graph) cycleNodes(deps [][2]string) []string {
	remaining := deps
	for {
		in := make(map[string]int)
		out := make(map[string]int)
		for _, d := range remaining {
			out[d[0]]++
			in[d[1]]++
		}
		var next [][2]string
		for _, d := range remaining {
			if in[d[0]] > 0 && out[d[1]] > 0 {
				next = append(next, d)
			}
		}
		if len(next) == len(remaining) {
			break
		}
		remaining = next
	}

	seen := make(map[string]bool)
	var nodes []string
	for _, d := range remaining {
		for _, id := range d {
			if !seen[id] {
				seen[id] = true
				nodes = append(nodes, id)
			}
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return g.Less(nodes[i], nodes[j]) })
	return nodes
}

func sortErrors(errs []error) {
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
}
