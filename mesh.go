package forge

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/forge/frame"
	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/memory"
)

// Mesh is indexed geometry resident in device memory. Create with
// Engine.CreateMesh, free with Release.
type Mesh struct {
	vertex *memory.Buffer
	index  *memory.Buffer
	layout gpucore.VertexLayout
	count  uint32

	eng *Engine
}

// CreateMesh uploads vertex and index data into persistent device memory.
// vertexData must be a whole number of strides; indices are uint32.
func (e *Engine) CreateMesh(vertexData []byte, indices []uint32, layout gpucore.VertexLayout) (*Mesh, error) {
	if layout.Stride == 0 || len(vertexData)%int(layout.Stride) != 0 {
		gpucore.Violate("forge.CreateMesh", "vertex data length %d is not a multiple of stride %d",
			len(vertexData), layout.Stride)
	}
	if len(indices) == 0 {
		gpucore.Violate("forge.CreateMesh", "mesh has no indices")
	}

	guard := memory.NewGuard(e.alloc)
	defer guard.Close()

	vb, err := e.alloc.Acquire(uint64(len(vertexData)), gpucore.BufferUsageVertex|gpucore.BufferUsageCopyDst, memory.ScopePersistent)
	if err != nil {
		return nil, fmt.Errorf("forge: mesh vertex buffer: %w", err)
	}
	guard.Track(vb)
	if err := e.alloc.Upload(vb, 0, vertexData); err != nil {
		return nil, fmt.Errorf("forge: mesh vertex upload: %w", err)
	}

	indexData := make([]byte, 4*len(indices))
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(indexData[4*i:], idx)
	}
	ib, err := e.alloc.Acquire(uint64(len(indexData)), gpucore.BufferUsageIndex|gpucore.BufferUsageCopyDst, memory.ScopePersistent)
	if err != nil {
		return nil, fmt.Errorf("forge: mesh index buffer: %w", err)
	}
	guard.Track(ib)
	if err := e.alloc.Upload(ib, 0, indexData); err != nil {
		return nil, fmt.Errorf("forge: mesh index upload: %w", err)
	}

	guard.Keep()
	return &Mesh{
		vertex: vb,
		index:  ib,
		layout: layout,
		count:  uint32(len(indices)),
		eng:    e,
	}, nil
}

// IndexCount returns the number of indices drawn per instance.
func (m *Mesh) IndexCount() uint32 { return m.count }

// Layout returns the vertex layout the mesh was created with.
func (m *Mesh) Layout() gpucore.VertexLayout { return m.layout }

// Release returns the mesh's device memory to the allocator. The mesh
// must not appear in draws submitted after Release; in-flight frames that
// already reference it are unaffected only if the caller waits for them.
func (m *Mesh) Release() {
	m.eng.alloc.Release(m.vertex)
	m.eng.alloc.Release(m.index)
}

func (m *Mesh) ref() frame.Mesh {
	return frame.Mesh{
		Vertex:       m.vertex.ID(),
		VertexOffset: m.vertex.Offset(),
		Index:        m.index.ID(),
		IndexOffset:  m.index.Offset(),
		Layout:       m.layout,
		IndexCount:   m.count,
	}
}
