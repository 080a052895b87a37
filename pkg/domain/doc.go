/*
Package domain contains the core domain models of the Pergola workflow engine.

It defines what flows between the graph definition, the executor and the
persistence layer: node results and fan-out tasks, checkpoints and their
history, run outcomes, lifecycle events and the typed errors of the engine.
This package is kept free of I/O and persistence concerns.

# Key Entities

  - Result: What a node body returns (a partial update, a task list, or a Goto directive).
  - Task: A dynamically dispatched, independently executed sub-unit with its own state fragment.
  - Checkpoint: A durable snapshot of a thread (state, pending nodes, barriers, history).
  - Outcome: The end of a run, either Terminal or Interrupted.
*/
package domain
