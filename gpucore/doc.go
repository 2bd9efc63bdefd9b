// Package gpucore provides the shared device abstractions for the forge
// rendering engine.
//
// This package defines the [DeviceAdapter] interface, which abstracts over
// GPU backend implementations, allowing the same engine core to run against:
//   - gogpu/wgpu (Pure Go WebGPU via HAL), see backend/wgpu
//   - an in-memory fake device for tests and headless runs, see backend/fake
//
// # Architecture
//
// The engine core (reflection, pipeline cache, allocator, frame
// orchestrator) is implemented once against [DeviceAdapter], while thin
// adapters translate between the interface and specific backend APIs:
//
//	            +----------------+
//	            |   forge core   |
//	            | (frame, memory,|
//	            |  pipeline)     |
//	            +-------+--------+
//	                    |
//	       +------------+------------+
//	       |                         |
//	+------v-------+         +------v-------+
//	| wgpu adapter |         | fake adapter |
//	| (hal.Device) |         | (in-memory)  |
//	+--------------+         +--------------+
//
// # Resource Management
//
// GPU resources are referenced via opaque IDs ([BufferID], [PipelineID],
// [FenceID], ...). Adapters track the mapping between IDs and backend
// resources. IDs are never reused within the lifetime of an adapter, so a
// stale ID is detected rather than silently aliased.
//
// # Command Model
//
// Frame workers record [CommandBatch] values on the CPU without touching
// the device. Batches are merged in a deterministic order and replayed by
// the adapter in a single Submit call, paired with a fence that signals
// when the device has finished the frame.
//
// Backends register themselves via [Register], following the database/sql
// driver pattern: import a backend package for its side effects and open it
// by name.
package gpucore
