// Package memory manages device buffer memory for the engine.
//
// Two lifetime scopes exist. Persistent allocations come from a free-list
// sub-allocator over large device blocks and live until an explicit
// Release; releasing twice or touching a released allocation is a contract
// violation and panics. PerFrame allocations come from a fixed-size ring
// tied to a frame slot; they are bump-allocated, never individually freed,
// and recycled wholesale when the slot's fence retires. Workers record in
// parallel against pre-partitioned disjoint ring ranges, so the per-draw
// path takes no lock.
package memory
