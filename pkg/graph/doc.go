// Package graph defines workflow topologies: nodes, static and conditional
// edges, join barriers, loop guards and nested sub-workflows.
//
// A topology is assembled with a Builder and frozen by Compile, which checks
// every reference and rejects cycles that carry no loop guard. A compiled
// Graph is immutable and safe for concurrent use by any number of runs.
package graph
