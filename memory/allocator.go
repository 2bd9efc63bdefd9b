package memory

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/internal/logging"
)

// Scope selects the lifetime of an allocation.
type Scope int

const (
	// ScopePersistent allocations live until an explicit Release.
	ScopePersistent Scope = iota

	// ScopePerFrame allocations live until the owning frame slot retires.
	ScopePerFrame
)

// Default allocator sizing.
const (
	// DefaultBudgetMB is the default device memory budget (256 MB).
	DefaultBudgetMB = 256

	// MinBudgetMB is the minimum allowed budget (16 MB).
	MinBudgetMB = 16

	// blockSize is the granularity persistent device blocks are created at.
	// Requests larger than a block get a dedicated block.
	blockSize = 16 << 20

	// allocAlign is the sub-allocation offset alignment.
	allocAlign = 256
)

// Buffer is a sub-allocation within a device buffer.
type Buffer struct {
	id     gpucore.BufferID
	offset uint64
	size   uint64
	scope  Scope

	block    *block // nil for PerFrame
	released bool
}

// ID returns the backing device buffer. Several allocations may share one
// device buffer at disjoint offsets.
func (b *Buffer) ID() gpucore.BufferID {
	b.check("memory.Buffer.ID")
	return b.id
}

// Offset returns the allocation's byte offset within the device buffer.
func (b *Buffer) Offset() uint64 {
	b.check("memory.Buffer.Offset")
	return b.offset
}

// Size returns the allocation size in bytes.
func (b *Buffer) Size() uint64 {
	b.check("memory.Buffer.Size")
	return b.size
}

func (b *Buffer) check(op string) {
	if b.released {
		gpucore.Violate(op, "use after release of %d bytes at %#x", b.size, b.offset)
	}
}

// Allocator owns persistent device memory and hands out sub-allocations.
// Safe for concurrent use.
type Allocator struct {
	mu     sync.Mutex
	dev    gpucore.DeviceAdapter
	log    *slog.Logger
	budget uint64
	ring   *FrameRing

	blocks []*block

	usedBytes  uint64
	blockBytes uint64
	allocCount int

	imageBytes uint64
	imageCount int
}

// block is one device buffer carved up by a first-fit free list.
type block struct {
	id    gpucore.BufferID
	size  uint64
	usage gpucore.BufferUsage
	free  []span // sorted by offset, adjacent spans merged
}

type span struct {
	offset uint64
	size   uint64
}

// NewAllocator creates an allocator over the device with a budget in
// megabytes. Budgets below MinBudgetMB fall back to DefaultBudgetMB.
func NewAllocator(dev gpucore.DeviceAdapter, budgetMB int, log *slog.Logger) *Allocator {
	if budgetMB < MinBudgetMB {
		budgetMB = DefaultBudgetMB
	}
	return &Allocator{
		dev:    dev,
		log:    logging.Or(log),
		budget: uint64(budgetMB) << 20,
	}
}

// BindRing attaches the active frame slot's ring so ScopePerFrame requests
// can be served. The orchestrator rebinds at the start of every frame.
func (a *Allocator) BindRing(ring *FrameRing) {
	a.mu.Lock()
	a.ring = ring
	a.mu.Unlock()
}

// Acquire allocates size bytes with the given usage and lifetime scope.
//
// PerFrame allocations come from the bound ring and must not be retained
// past the current frame; they have no Release. Persistent allocations
// require an explicit Release. Exhaustion yields ErrOutOfMemory.
func (a *Allocator) Acquire(size uint64, usage gpucore.BufferUsage, scope Scope) (*Buffer, error) {
	if size == 0 {
		gpucore.Violate("memory.Acquire", "zero-size allocation")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	switch scope {
	case ScopePerFrame:
		return a.acquirePerFrameLocked(size)
	case ScopePersistent:
		return a.acquirePersistentLocked(size, usage)
	default:
		gpucore.Violate("memory.Acquire", "unknown scope %d", scope)
		return nil, nil
	}
}

func (a *Allocator) acquirePerFrameLocked(size uint64) (*Buffer, error) {
	if a.ring == nil {
		gpucore.Violate("memory.Acquire", "PerFrame acquire with no frame ring bound")
	}
	if size > uint64(a.ring.Size()) {
		return nil, fmt.Errorf("memory: per-frame request %d exceeds ring size %d: %w",
			size, a.ring.Size(), gpucore.ErrOutOfMemory)
	}
	offset, _, err := a.ring.Alloc(uint32(size))
	if err != nil {
		return nil, err
	}
	return &Buffer{
		id:     a.ring.Buffer(),
		offset: uint64(offset),
		size:   size,
		scope:  ScopePerFrame,
	}, nil
}

func (a *Allocator) acquirePersistentLocked(size uint64, usage gpucore.BufferUsage) (*Buffer, error) {
	aligned := alignUp64(size, allocAlign)

	// First fit across existing blocks with matching usage.
	for _, blk := range a.blocks {
		if blk.usage != usage {
			continue
		}
		if offset, ok := blk.take(aligned); ok {
			a.usedBytes += aligned
			a.allocCount++
			return &Buffer{id: blk.id, offset: offset, size: size, block: blk}, nil
		}
	}

	// Grow. Oversized requests get a dedicated block.
	grow := uint64(blockSize)
	if aligned > grow {
		grow = aligned
	}
	if a.blockBytes+a.imageBytes+grow > a.budget {
		return nil, fmt.Errorf("memory: %d bytes requested, %d of %d budget committed: %w",
			size, a.blockBytes+a.imageBytes, a.budget, gpucore.ErrOutOfMemory)
	}
	id, err := a.dev.CreateBuffer(&gpucore.BufferDescriptor{
		Label: "forge-block",
		Size:  grow,
		Usage: usage | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: create block: %w", err)
	}
	blk := &block{id: id, size: grow, usage: usage, free: []span{{0, grow}}}
	a.blocks = append(a.blocks, blk)
	a.blockBytes += grow
	a.log.Debug("device block created", "bytes", grow, "blocks", len(a.blocks))

	offset, _ := blk.take(aligned)
	a.usedBytes += aligned
	a.allocCount++
	return &Buffer{id: blk.id, offset: offset, size: size, block: blk}, nil
}

// Release returns a persistent allocation to its block's free list.
// Releasing twice, or releasing a PerFrame allocation, panics with a
// contract violation.
func (a *Allocator) Release(b *Buffer) {
	if b == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if b.scope != ScopePersistent {
		gpucore.Violate("memory.Release", "release of per-frame allocation")
	}
	if b.released {
		gpucore.Violate("memory.Release", "double release of %d bytes at %#x", b.size, b.offset)
	}
	b.released = true

	aligned := alignUp64(b.size, allocAlign)
	b.block.give(span{b.offset, aligned})
	a.usedBytes -= aligned
	a.allocCount--
}

// Upload writes data into an allocation at a relative offset.
func (a *Allocator) Upload(b *Buffer, offset uint64, data []byte) error {
	b.check("memory.Upload")
	if offset+uint64(len(data)) > b.size {
		gpucore.Violate("memory.Upload", "write of %d bytes at +%d exceeds allocation of %d",
			len(data), offset, b.size)
	}
	if err := a.dev.WriteBuffer(b.id, b.offset+offset, data); err != nil {
		return fmt.Errorf("memory: upload: %w", err)
	}
	return nil
}

// Stats returns a snapshot of allocator usage.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	var utilization float64
	if a.budget > 0 {
		utilization = float64(a.usedBytes+a.imageBytes) / float64(a.budget)
	}
	return Stats{
		BudgetBytes:     a.budget,
		CommittedBytes:  a.blockBytes + a.imageBytes,
		UsedBytes:       a.usedBytes,
		BlockCount:      len(a.blocks),
		AllocationCount: a.allocCount,
		ImageBytes:      a.imageBytes,
		ImageCount:      a.imageCount,
		Utilization:     utilization,
	}
}

// Close destroys every device block. Outstanding persistent allocations are
// invalidated; the caller must have released them first in a correct
// program.
func (a *Allocator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, blk := range a.blocks {
		a.dev.DestroyBuffer(blk.id)
	}
	a.blocks = nil
	a.blockBytes = 0
	a.usedBytes = 0
	a.allocCount = 0
	a.imageBytes = 0
	a.imageCount = 0
}

func (b *block) take(size uint64) (uint64, bool) {
	for i, s := range b.free {
		if s.size < size {
			continue
		}
		offset := s.offset
		if s.size == size {
			b.free = append(b.free[:i], b.free[i+1:]...)
		} else {
			b.free[i] = span{s.offset + size, s.size - size}
		}
		return offset, true
	}
	return 0, false
}

func (b *block) give(s span) {
	i := sort.Search(len(b.free), func(i int) bool { return b.free[i].offset > s.offset })
	b.free = append(b.free, span{})
	copy(b.free[i+1:], b.free[i:])
	b.free[i] = s

	// Merge with the right neighbor, then the left.
	if i+1 < len(b.free) && b.free[i].offset+b.free[i].size == b.free[i+1].offset {
		b.free[i].size += b.free[i+1].size
		b.free = append(b.free[:i+1], b.free[i+2:]...)
	}
	if i > 0 && b.free[i-1].offset+b.free[i-1].size == b.free[i].offset {
		b.free[i-1].size += b.free[i].size
		b.free = append(b.free[:i], b.free[i+1:]...)
	}
}

// Stats contains allocator usage statistics.
type Stats struct {
	// BudgetBytes is the configured device memory budget.
	BudgetBytes uint64

	// CommittedBytes is the total size of created device blocks.
	CommittedBytes uint64

	// UsedBytes is the sum of live persistent sub-allocations.
	UsedBytes uint64

	// BlockCount is the number of device blocks.
	BlockCount int

	// AllocationCount is the number of live persistent allocations.
	AllocationCount int

	// ImageBytes is the sum of live image allocations.
	ImageBytes uint64

	// ImageCount is the number of live image allocations.
	ImageCount int

	// Utilization is the fraction of budget in use (0.0 to 1.0).
	Utilization float64
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("GPUMemory[%.1f%% used, %d/%d MB committed, %d allocs in %d blocks]",
		s.Utilization*100,
		s.CommittedBytes>>20,
		s.BudgetBytes>>20,
		s.AllocationCount,
		s.BlockCount)
}

func alignUp64(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
