/*
Package observability turns engine lifecycle hooks into telemetry.

Metrics records node invocations, task dispatches, interrupts, checkpoints
and failures as Prometheus collectors. LogHooks writes the same events as
structured log records. Both return domain.LifecycleHooks and can be
combined with LifecycleHooks.Merge.
*/
package observability
