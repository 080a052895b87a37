/*
Package ports defines the driven ports (interfaces) for the Pergola engine.

These interfaces decouple the executor from external implementations, allowing
the engine to work with various storage backends, lock services and
transports.

# Key Interfaces

  - CheckpointStore: Responsible for persisting and loading thread checkpoints.
  - DistributedLocker: Provides distributed locking for concurrent thread access.
  - ThreadAPI: The thread operations exposed by the engine to transports (HTTP, MCP, CLI).
*/
package ports
