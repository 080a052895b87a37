/*
Package pergola is a directed-graph workflow engine for multi-step document pipelines.

A workflow is a graph of nodes sharing a typed state. Every node reads an
immutable snapshot and returns what to change; the engine merges those
changes through per-field reducers, routes on the merged state and persists
a checkpoint after every wave, so a thread can pause for human input and
resume later, even in another process.

# Concept

Execution proceeds in waves (supersteps). All nodes that are ready run in
parallel against the same snapshot. Their updates are merged in a fixed
order, conditional edges are evaluated on the result, join barriers collect
their predecessors, and the next checkpoint is committed with optimistic
versioning. A node can also fan out: it returns tasks, each a target node
plus a private state fragment, which run as parallel instances in the next
wave. A node may itself be a compiled graph, run in a namespaced child frame.

# Key Features

  - Reducers per state field (replace, append, sum, union or custom).
  - Conditional routing, explicit Goto directives, join barriers.
  - Fan-out dispatch with partial or fail-fast failure policies.
  - Interrupts before or after nodes; state patches while paused.
  - Loop guards validated at compile time; a recursion limit at run time.
  - Pluggable checkpoint stores (memory, file, Redis) with encryption and
    PII-masking middleware.

# Usage

	schema := state.NewSchema(
		state.Declare("topic", state.Replace),
		state.Declare("sections", state.Append),
	)

	g := graph.NewBuilder("report", schema).
		AddNode("plan", plan, graph.Dispatches("write")).
		AddNode("write", write).
		AddNode("assemble", assemble).
		SetEntry("plan").
		AddEdge("write", "assemble").
		MustCompile()

	eng, err := pergola.New(g, pergola.WithStore(file.New(".pergola/threads")))
	if err != nil {
		log.Fatal(err)
	}

	id, _ := eng.Create(ctx)
	outcome, err := eng.Run(ctx, id, map[string]any{"topic": "graph engines"})
*/
package pergola
