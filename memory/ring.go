package memory

import (
	"fmt"

	"github.com/gogpu/forge/gpucore"
)

// FrameRing is the per-slot transient buffer region. Uniform data for a
// frame is staged into a CPU shadow with bump allocation, then uploaded to
// the device buffer in one write at submit time.
//
// A ring is owned by exactly one frame slot. The single-threaded Alloc path
// serves the orchestrator (frame globals); workers get disjoint sub-ranges
// via Partition and allocate without synchronization.
type FrameRing struct {
	buffer gpucore.BufferID
	shadow []byte
	size   uint32
	align  uint32
	head   uint32

	ranges []*RingRange
}

// NewFrameRing creates a ring of the given size backed by a device uniform
// buffer. align is the offset alignment for every allocation, normally the
// device's MinUniformOffsetAlignment.
func NewFrameRing(dev gpucore.DeviceAdapter, label string, size, align uint32) (*FrameRing, error) {
	if size == 0 || align == 0 || align&(align-1) != 0 {
		gpucore.Violate("memory.NewFrameRing", "size %d align %d", size, align)
	}
	buf, err := dev.CreateBuffer(&gpucore.BufferDescriptor{
		Label: label,
		Size:  uint64(size),
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: create frame ring: %w", err)
	}
	return &FrameRing{
		buffer: buf,
		shadow: make([]byte, size),
		size:   size,
		align:  align,
	}, nil
}

// Buffer returns the device buffer the ring stages into.
func (r *FrameRing) Buffer() gpucore.BufferID { return r.buffer }

// Size returns the ring capacity in bytes.
func (r *FrameRing) Size() uint32 { return r.size }

// Alloc reserves n bytes from the ring head and returns the aligned device
// offset plus the shadow slice to write uniform data into. Exceeding the
// ring capacity yields ErrOutOfMemory; previously written bytes are never
// overwritten within a frame.
func (r *FrameRing) Alloc(n uint32) (uint32, []byte, error) {
	offset := alignUp(r.head, r.align)
	if n > r.size || offset > r.size-n {
		return 0, nil, fmt.Errorf("memory: frame ring %d/%d bytes, need %d: %w",
			r.head, r.size, n, gpucore.ErrOutOfMemory)
	}
	r.head = offset + n
	return offset, r.shadow[offset : offset+n : offset+n], nil
}

// Partition splits the remaining ring space into n disjoint sub-ranges, one
// per worker. Ranges stay valid until the next Reset; allocating from a
// range is lock-free because no two ranges overlap.
func (r *FrameRing) Partition(n int) []*RingRange {
	if n <= 0 {
		gpucore.Violate("memory.Partition", "n = %d", n)
	}
	base := alignUp(r.head, r.align)
	if base > r.size {
		base = r.size
	}
	per := alignDown((r.size-base)/uint32(n), r.align)
	ranges := make([]*RingRange, n)
	for i := range ranges {
		lo := base + uint32(i)*per
		hi := lo + per
		if i == n-1 {
			hi = r.size
		}
		ranges[i] = &RingRange{ring: r, base: lo, limit: hi, head: lo}
	}
	r.ranges = ranges
	r.head = r.size // the remainder now belongs to the partitions
	return ranges
}

// Used returns the high-water mark of written bytes, covering both the
// head allocations and every partition.
func (r *FrameRing) Used() uint32 {
	used := r.head
	if len(r.ranges) > 0 {
		// Partition marked the head as fully consumed; recompute from the
		// actual partition cursors.
		used = r.ranges[0].base
		for _, rr := range r.ranges {
			if rr.head > used {
				used = rr.head
			}
		}
	}
	return used
}

// Flush uploads the written region of the shadow to the device buffer.
// Called once per frame at submit time.
func (r *FrameRing) Flush(dev gpucore.DeviceAdapter) error {
	used := r.Used()
	if used == 0 {
		return nil
	}
	if err := dev.WriteBuffer(r.buffer, 0, r.shadow[:used]); err != nil {
		return fmt.Errorf("memory: flush frame ring: %w", err)
	}
	return nil
}

// Reset recycles the ring for the next frame using this slot. Only valid
// after the slot's fence has signaled.
func (r *FrameRing) Reset() {
	r.head = 0
	for _, rr := range r.ranges {
		rr.ring = nil // retaining a range past retirement is a bug
	}
	r.ranges = nil
}

// Destroy releases the device buffer.
func (r *FrameRing) Destroy(dev gpucore.DeviceAdapter) {
	if r.buffer != gpucore.InvalidID {
		dev.DestroyBuffer(r.buffer)
		r.buffer = gpucore.InvalidID
	}
}

// RingRange is one worker's slice of a FrameRing. Not safe for sharing
// between workers; each worker allocates only from its own range.
type RingRange struct {
	ring  *FrameRing
	base  uint32
	limit uint32
	head  uint32
}

// Alloc reserves n bytes within the range. Same contract as FrameRing.Alloc.
func (rr *RingRange) Alloc(n uint32) (uint32, []byte, error) {
	if rr.ring == nil {
		gpucore.Violate("memory.RingRange.Alloc", "range used after slot retirement")
	}
	offset := alignUp(rr.head, rr.ring.align)
	if n > rr.limit || offset > rr.limit-n {
		return 0, nil, fmt.Errorf("memory: ring partition %d/%d bytes, need %d: %w",
			rr.head-rr.base, rr.limit-rr.base, n, gpucore.ErrOutOfMemory)
	}
	rr.head = offset + n
	return offset, rr.ring.shadow[offset : offset+n : offset+n], nil
}

// Remaining returns the bytes still available in the range.
func (rr *RingRange) Remaining() uint32 {
	head := alignUp(rr.head, rr.ring.align)
	if head > rr.limit {
		return 0
	}
	return rr.limit - head
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

func alignDown(v, align uint32) uint32 {
	return v &^ (align - 1)
}
