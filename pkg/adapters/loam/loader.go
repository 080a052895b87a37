package loam

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/loam"

	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/registry"
	"github.com/aretw0/pergola/pkg/state"
)

// Loader builds compiled graphs from a directory of topology documents,
// resolving node bodies, routers and sub-workflows through a registry.
type Loader struct {
	Repo     *loam.TypedRepository[NodeMetadata]
	Registry *registry.Registry
}

// New creates a Loam topology loader.
func New(repo *loam.TypedRepository[NodeMetadata], reg *registry.Registry) *Loader {
	return &Loader{
		Repo:     repo,
		Registry: reg,
	}
}

// Open initializes a read-only Loam repository at path.
func Open(path string, reg *registry.Registry) (*Loader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	// Strict mode keeps numbers as json.Number across Markdown, YAML and JSON
	// documents; the loader never writes.
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
		loam.WithVersioning(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[NodeMetadata](repo), reg), nil
}

type document struct {
	id   string
	meta NodeMetadata
}

// documents lists the repository documents with normalized ids.
func (l *Loader) documents(ctx context.Context) ([]document, error) {
	docs, err := l.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	out := make([]document, 0, len(docs))
	for _, doc := range docs {
		rawID := doc.Data.ID
		if rawID == "" {
			rawID = doc.ID
		}
		id := trimExtension(rawID)

		if existingPath, ok := seen[id]; ok {
			return nil, fmt.Errorf("collision detected: ID '%s' is defined in both '%s' and '%s'", id, existingPath, doc.ID)
		}
		seen[id] = doc.ID
		out = append(out, document{id: id, meta: doc.Data})
	}
	return out, nil
}

// ListNodes lists the node ids of the topology, in declaration order.
func (l *Loader) ListNodes(ctx context.Context) ([]string, error) {
	_, nodes, err := l.split(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.id
	}
	return ids, nil
}

// split separates the graph header from the node documents and orders the
// nodes by (order, id).
func (l *Loader) split(ctx context.Context) (*document, []document, error) {
	docs, err := l.documents(ctx)
	if err != nil {
		return nil, nil, err
	}

	var header *document
	var nodes []document
	for i := range docs {
		if docs[i].meta.Kind != KindGraph {
			nodes = append(nodes, docs[i])
			continue
		}
		if header != nil {
			return nil, nil, fmt.Errorf("graph header defined in both '%s' and '%s'", header.id, docs[i].id)
		}
		header = &docs[i]
	}
	if header == nil {
		return nil, nil, fmt.Errorf("no document of kind %q found", KindGraph)
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].meta.Order != nodes[j].meta.Order {
			return nodes[i].meta.Order < nodes[j].meta.Order
		}
		return nodes[i].id < nodes[j].id
	})
	return header, nodes, nil
}

// Load reads the topology and compiles it.
func (l *Loader) Load(ctx context.Context) (*graph.Graph, error) {
	header, nodes, err := l.split(ctx)
	if err != nil {
		return nil, err
	}

	schema, err := l.schema(header.meta.Fields)
	if err != nil {
		return nil, err
	}

	name := header.meta.Name
	if name == "" {
		name = header.id
	}
	b := graph.NewBuilder(name, schema)

	var errs []error
	for _, n := range nodes {
		if err := l.addNode(b, n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	b.SetEntry(header.meta.Entry...)
	for _, n := range nodes {
		m := n.meta
		for _, to := range m.To {
			b.AddEdge(n.id, target(to))
		}
		if m.Router != nil {
			router, err := l.Registry.Router(m.Router.Func)
			if err != nil {
				errs = append(errs, fmt.Errorf("node %s: %w", n.id, err))
				continue
			}
			allowed := make([]string, len(m.Router.Allowed))
			for i, a := range m.Router.Allowed {
				allowed[i] = target(a)
			}
			b.AddConditionalEdges(n.id, router, allowed...)
		}
		if len(m.Join) > 0 {
			b.AddJoin(m.Join, n.id)
		}
		if m.MaxIterations > 0 {
			b.SetLoopGuard(n.id, m.MaxIterations, m.OnExhausted)
		}
		if m.InterruptBefore {
			b.InterruptBefore(n.id)
		}
		if m.InterruptAfter {
			b.InterruptAfter(n.id)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if fo := header.meta.FanOut; fo != nil {
		b.SetFanOutPolicy(graph.FanOutPolicy{Mode: graph.FanOutMode(fo.Mode), ErrorField: fo.ErrorField})
	}

	return b.Compile()
}

func (l *Loader) schema(specs []FieldSpec) (*state.Schema, error) {
	fields := make([]state.Field, 0, len(specs))
	for _, spec := range specs {
		red, err := l.Registry.Reducer(spec.Reducer)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", spec.Name, err)
		}
		fields = append(fields, state.Field{Name: spec.Name, Reducer: red, Default: spec.Default})
	}
	return state.NewSchema(fields...), nil
}

func (l *Loader) addNode(b *graph.Builder, n document) error {
	m := n.meta
	opts := []graph.NodeOption{
		graph.Reads(m.Reads...),
		graph.Writes(m.Writes...),
		graph.Dispatches(m.Dispatches...),
	}

	if m.Kind == KindSubGraph {
		ref := m.Graph
		if ref == "" {
			ref = n.id
		}
		child, err := l.Registry.Graph(ref)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.id, err)
		}
		b.AddSubGraph(n.id, child, opts...)
		return nil
	}

	ref := m.Func
	if ref == "" {
		ref = n.id
	}
	fn, err := l.Registry.Node(ref)
	if err != nil {
		return fmt.Errorf("node %s: %w", n.id, err)
	}
	b.AddNode(n.id, fn, opts...)
	return nil
}

// target maps the "end" alias to graph.END.
func target(id string) string {
	if strings.EqualFold(id, "end") {
		return graph.END
	}
	return id
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

// Watch reports the ids of topology documents as they change.
func (l *Loader) Watch(ctx context.Context) (<-chan string, error) {
	events, err := l.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case ch <- evt.ID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
