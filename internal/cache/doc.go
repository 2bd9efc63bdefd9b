// Package cache provides a generic thread-safe LRU cache used by the
// derived-artifact caches of the engine: descriptor layouts keyed by shader
// tuples and pipeline state objects keyed by build tuples.
//
// The cache enforces a soft limit: exceeding it evicts the least recently
// used unpinned entries. Entries can be pinned while GPU frames still
// reference them, which excludes them from eviction until unpinned.
package cache
