// Package pipeline caches compiled graphics pipelines.
//
// Pipeline creation compiles shader stages and fixed-function state and is
// the one expensive blocking operation in the render core, so pipelines are
// stored under a key covering material, vertex layout, target format, and
// render-state overrides. A hit returns the existing handle and bumps its
// reference count; a miss builds synchronously and inserts under a narrow
// critical section.
//
// Eviction runs under a soft limit in least-recently-used order, but a
// pipeline is only destroyed once no in-flight frame references it and all
// frame slots have cycled past its last use.
package pipeline
