// Package dynamo provides the core numeric primitives shared by the
// constraint engine.
//
// The package defines:
//
//   - [State]: flat vector used for positions, velocities, forces and impulses
//   - sentinel errors reported by the solver and the step pipeline
//   - [SolveError]: wraps a solver failure with step context
//   - [ParallelFor]: chunked data-parallel loop used for attachment levels and
//     the friction directions of a contact handler
//
// # Thread Safety
//
// State values are plain slices and are NOT safe for concurrent mutation.
// ParallelFor callers must only write to disjoint index ranges.
package dynamo
