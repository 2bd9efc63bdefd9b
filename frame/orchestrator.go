package frame

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/internal/logging"
	"github.com/gogpu/forge/memory"
	"github.com/gogpu/forge/pipeline"
)

// ErrFrameSkipped wraps a recoverable recording failure: the frame was
// dropped without a partial submission and the next frame may succeed.
// errors.Is unwraps to the underlying cause as well.
var ErrFrameSkipped = errors.New("frame: frame skipped")

// Defaults.
const (
	DefaultFramesInFlight = 2
	MaxFramesInFlight     = 3
	DefaultRingSize       = 1 << 20
	DefaultFenceTimeout   = 2 * time.Second
)

// Mesh references the device-resident geometry of a draw.
type Mesh struct {
	// Vertex is the vertex buffer; VertexOffset is the byte offset of
	// the geometry within it.
	Vertex       gpucore.BufferID
	VertexOffset uint64

	// Index is the index buffer (uint32 indices) and its byte offset.
	Index       gpucore.BufferID
	IndexOffset uint64

	// Layout describes the vertex buffer memory layout.
	Layout gpucore.VertexLayout

	// IndexCount is the number of indices to draw.
	IndexCount uint32
}

// TextureBinding supplies the resource for one image or sampler slot of a
// material's set 0. A binding carries a texture, a sampler, or both when
// the material declares them at the same binding number.
type TextureBinding struct {
	// Binding is the binding number within set 0.
	Binding uint32

	// Texture fills a sampled-image slot.
	Texture gpucore.TextureID

	// Sampler fills a sampler slot.
	Sampler gpucore.SamplerID
}

// DrawRequest is one draw submitted for a frame.
type DrawRequest struct {
	// Material selects the shader set and descriptor layout.
	Material *pipeline.Material

	// Mesh is the geometry to draw.
	Mesh Mesh

	// Textures fills the material's image and sampler slots. A material
	// binding with no matching entry fails the frame with
	// ErrLayoutConflict.
	Textures []TextureBinding

	// Push is the push-constant payload, typically the model transform.
	// Retained by reference until the frame is submitted.
	Push []byte

	// Uniforms is an optional per-draw uniform block, staged into the
	// frame ring and bound at a dynamic offset.
	Uniforms []byte

	// State holds the fixed-function overrides for this draw.
	State gpucore.RenderState
}

// Config holds orchestrator construction parameters.
type Config struct {
	// FramesInFlight is the slot count, clamped to [1, MaxFramesInFlight].
	// Zero means DefaultFramesInFlight.
	FramesInFlight int

	// Workers is the recording pool size. Zero means GOMAXPROCS.
	Workers int

	// RingSize is the per-slot transient buffer size in bytes. Zero means
	// DefaultRingSize.
	RingSize uint32

	// FenceTimeout bounds fence waits and worker joins. Expiry is treated
	// as a lost device. Zero means DefaultFenceTimeout.
	FenceTimeout time.Duration

	// TargetFormat is the color attachment format pipelines render to.
	TargetFormat gpucore.TextureFormat

	// Allocator, when set, has the active slot's ring bound each frame so
	// ScopePerFrame acquisitions outside the orchestrator land in it.
	Allocator *memory.Allocator

	// Logger receives frame events. Nil discards them.
	Logger *slog.Logger
}

// Orchestrator drives the frame lifecycle. One coordinating goroutine calls
// SubmitFrame per logical frame; recording fans out across the worker pool.
// Orchestrator methods are not safe for concurrent use with each other.
type Orchestrator struct {
	dev   gpucore.DeviceAdapter
	cache *pipeline.Cache
	alloc *memory.Allocator
	log   *slog.Logger
	pool  *recordPool

	slots        []*Slot
	frame        uint64
	format       gpucore.TextureFormat
	width        uint32
	height       uint32
	fenceTimeout time.Duration
	closed       bool

	skipped atomic.Uint64
}

// New creates an orchestrator over the device and pipeline cache.
func New(dev gpucore.DeviceAdapter, cache *pipeline.Cache, cfg Config) (*Orchestrator, error) {
	fif := cfg.FramesInFlight
	if fif == 0 {
		fif = DefaultFramesInFlight
	}
	if fif < 1 || fif > MaxFramesInFlight {
		return nil, fmt.Errorf("frame: frames in flight %d out of range [1, %d]", fif, MaxFramesInFlight)
	}
	ringSize := cfg.RingSize
	if ringSize == 0 {
		ringSize = DefaultRingSize
	}
	timeout := cfg.FenceTimeout
	if timeout == 0 {
		timeout = DefaultFenceTimeout
	}

	align := dev.Limits().MinUniformOffsetAlignment
	slots := make([]*Slot, fif)
	for i := range slots {
		s, err := newSlot(dev, i, ringSize, align)
		if err != nil {
			for _, prev := range slots[:i] {
				prev.destroy(dev)
			}
			return nil, err
		}
		slots[i] = s
	}

	return &Orchestrator{
		dev:          dev,
		cache:        cache,
		alloc:        cfg.Allocator,
		log:          logging.Or(cfg.Logger),
		pool:         newRecordPool(cfg.Workers),
		slots:        slots,
		format:       cfg.TargetFormat,
		fenceTimeout: timeout,
	}, nil
}

// Frame returns the current logical frame index.
func (o *Orchestrator) Frame() uint64 { return o.frame }

// SkippedFrames returns how many frames were dropped recoverably.
func (o *Orchestrator) SkippedFrames() uint64 { return o.skipped.Load() }

// TargetFormat returns the current render target format.
func (o *Orchestrator) TargetFormat() gpucore.TextureFormat { return o.format }

// SubmitFrame records and submits one frame. globals is the frame-wide
// uniform block (view and projection), bound to every draw at dynamic
// offset zero of the slot ring.
//
// Recoverable failures (missing material, corrupt bytecode, ring
// exhaustion) drop the frame and return ErrFrameSkipped wrapping the
// cause; fence or join timeouts and submission failures return
// ErrLostDevice unmasked.
func (o *Orchestrator) SubmitFrame(globals []byte, draws []DrawRequest) error {
	if o.closed {
		return gpucore.ErrDeviceClosed
	}
	slot := o.slots[o.frame%uint64(len(o.slots))]

	if err := o.acquire(slot); err != nil {
		return err
	}
	o.cache.BeginFrame(o.frame)
	if o.alloc != nil {
		o.alloc.BindRing(slot.ring)
	}
	slot.state = slotRecording

	var globalsOff uint32
	if len(globals) > 0 {
		off, dst, err := slot.ring.Alloc(uint32(len(globals)))
		if err != nil {
			return o.skip(slot, err)
		}
		copy(dst, globals)
		globalsOff = off
	}

	groups := groupDraws(draws)
	workers := o.pool.Workers()
	if workers > len(groups) {
		workers = len(groups)
	}

	results := make([]workerResult, workers)
	if workers > 0 {
		ranges := slot.ring.Partition(workers)
		chunks := chunkGroups(groups, workers)
		tasks := make([]recordTask, workers)
		for i := 0; i < workers; i++ {
			chunk, rr, res := chunks[i], ranges[i], &results[i]
			tasks[i] = func(workerID int) {
				o.recordChunk(slot, chunk, rr, globalsOff, res)
			}
		}
		if !o.pool.runAll(tasks, o.fenceTimeout) {
			return o.fail(slot, fmt.Errorf("frame %d: worker join timed out after %v: %w",
				o.frame, o.fenceTimeout, gpucore.ErrLostDevice))
		}
	}

	for i := range results {
		if err := results[i].err; err != nil {
			if recoverable(err) {
				return o.skip(slot, err)
			}
			return o.fail(slot, err)
		}
	}

	// Merge in draw-group submission order: chunk i precedes chunk i+1 and
	// each chunk recorded its groups in order, so the stream is
	// deterministic regardless of which worker finished first.
	batches := make([]gpucore.CommandBatch, 0, workers)
	for i := range results {
		for _, p := range results[i].used {
			p.Retain()
			slot.retained = append(slot.retained, p)
		}
		if len(results[i].batch.Commands) > 0 {
			batches = append(batches, results[i].batch)
		}
	}

	if err := slot.ring.Flush(o.dev); err != nil {
		if recoverable(err) {
			return o.skip(slot, err)
		}
		return o.fail(slot, err)
	}
	fence, err := o.dev.CreateFence()
	if err != nil {
		return o.fail(slot, err)
	}
	if err := o.dev.Submit(batches, fence); err != nil {
		_ = o.dev.DestroyFence(fence)
		return o.fail(slot, err)
	}
	slot.fence = fence
	slot.state = slotSubmitted
	o.log.Debug("frame submitted", "frame", o.frame, "slot", slot.index,
		"draws", len(draws), "groups", len(groups), "ringBytes", slot.ring.Used())
	o.frame++
	return nil
}

// Resize reacts to a surface change: pipelines keyed to the old format are
// invalidated and the new extent is recorded for slot sizing.
func (o *Orchestrator) Resize(width, height uint32, format gpucore.TextureFormat) {
	if format != o.format && format != gpucore.TextureFormatUndefined {
		o.cache.InvalidateFormat(o.format)
		o.format = format
	}
	o.width, o.height = width, height
	o.log.Info("surface resized", "width", width, "height", height, "format", o.format)
}

// Close waits for in-flight frames and tears the orchestrator down. A
// fence that never signals within the timeout reports ErrLostDevice, but
// teardown still completes.
func (o *Orchestrator) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true

	var lost error
	for _, slot := range o.slots {
		if slot.state == slotSubmitted {
			ok, err := o.dev.WaitFence(slot.fence, o.fenceTimeout)
			if err == nil && !ok {
				lost = fmt.Errorf("frame: slot %d fence unsignaled at close: %w",
					slot.index, gpucore.ErrLostDevice)
			}
		}
		slot.destroy(o.dev)
	}
	o.pool.Close()
	return lost
}

// acquire waits for the slot's previous frame to retire. The fence is
// polled first; only an unsignaled fence costs a bounded wait.
func (o *Orchestrator) acquire(slot *Slot) error {
	if slot.state != slotSubmitted {
		return nil
	}
	signaled, err := o.dev.FenceSignaled(slot.fence)
	if err != nil {
		return err
	}
	if !signaled {
		ok, werr := o.dev.WaitFence(slot.fence, o.fenceTimeout)
		if werr != nil {
			return werr
		}
		if !ok {
			return fmt.Errorf("frame: slot %d fence wait timed out after %v: %w",
				slot.index, o.fenceTimeout, gpucore.ErrLostDevice)
		}
	}
	slot.retire(o.dev)
	return nil
}

// skip drops the current frame after a recoverable failure. The slot goes
// back to idle with its ring recycled; nothing was submitted.
func (o *Orchestrator) skip(slot *Slot, cause error) error {
	slot.ring.Reset()
	slot.state = slotIdle
	o.skipped.Add(1)
	o.log.Warn("frame skipped", "frame", o.frame, "cause", cause)
	o.frame++
	return fmt.Errorf("%w: %w", ErrFrameSkipped, cause)
}

// fail abandons the current frame after a fatal failure, returning the
// error unmasked. The slot still goes back to idle with its ring recycled
// and pipeline references dropped, so a caller that survives the error
// does not inherit a half-recorded slot.
func (o *Orchestrator) fail(slot *Slot, cause error) error {
	for _, p := range slot.retained {
		p.Release()
	}
	slot.retained = slot.retained[:0]
	slot.ring.Reset()
	slot.state = slotIdle
	return cause
}

type workerResult struct {
	batch gpucore.CommandBatch
	used  []*pipeline.Pipeline
	err   error
}

// recordChunk records one worker's contiguous span of draw groups into its
// own batch and ring range. No shared mutable state is touched on the draw
// path.
func (o *Orchestrator) recordChunk(slot *Slot, groups []drawGroup,
	rr *memory.RingRange, globalsOff uint32, res *workerResult) {

	res.batch.Label = fmt.Sprintf("frame-%d", o.frame)
	for gi := range groups {
		g := &groups[gi]
		p, err := o.cache.GetOrBuild(g.material, g.layout, o.format, g.state)
		if err != nil {
			res.err = err
			return
		}
		res.used = append(res.used, p)
		bg, err := slot.bindGroupFor(o.dev, p, g.textures)
		if err != nil {
			res.err = err
			return
		}
		res.batch.SetPipeline(p.ID())

		dyn := dynamicSlots(p)
		push := p.DescriptorLayout().Push
		for di := range g.draws {
			d := &g.draws[di]
			res.batch.SetVertexBuffer(d.Mesh.Vertex, d.Mesh.VertexOffset)
			res.batch.SetIndexBuffer(d.Mesh.Index, d.Mesh.IndexOffset)
			var uniformOff uint32
			if len(d.Uniforms) > 0 {
				off, dst, aerr := rr.Alloc(uint32(len(d.Uniforms)))
				if aerr != nil {
					res.err = aerr
					return
				}
				copy(dst, d.Uniforms)
				uniformOff = off
			}
			if bg != gpucore.InvalidID && dyn > 0 {
				// Offset order follows the dynamic bindings of set 0:
				// the frame globals block first, the per-draw block second.
				offsets := make([]uint32, dyn)
				offsets[0] = globalsOff
				if dyn > 1 {
					offsets[1] = uniformOff
				}
				res.batch.SetBindGroup(0, bg, offsets)
			}
			if push.Size > 0 && len(d.Push) > 0 {
				res.batch.PushConstants(push.Stages, d.Push)
			}
			res.batch.DrawIndexed(d.Mesh.IndexCount, 1, 0, 0)
		}
	}
}

// dynamicSlots counts the dynamic-offset bindings of a pipeline's set 0.
func dynamicSlots(p *pipeline.Pipeline) int {
	n := 0
	for _, e := range p.DescriptorLayout().SetEntries(0) {
		if e.HasDynamicOffset {
			n++
		}
	}
	return n
}

// drawGroup is a maximal contiguous run of draws sharing a pipeline key.
// Runs preserve the caller's submission order: grouping coalesces adjacent
// draws for pipeline reuse but never reorders across groups, which keeps
// overlapping and transparent geometry stable across runs.
type drawGroup struct {
	material *pipeline.Material
	layout   gpucore.VertexLayout
	state    gpucore.RenderState
	textures []TextureBinding
	draws    []DrawRequest
}

func groupDraws(draws []DrawRequest) []drawGroup {
	var groups []drawGroup
	for _, d := range draws {
		n := len(groups)
		if n > 0 {
			g := &groups[n-1]
			if g.material == d.Material && g.layout == d.Mesh.Layout &&
				g.state == d.State && sameTextures(g.textures, d.Textures) {
				g.draws = append(g.draws, d)
				continue
			}
		}
		groups = append(groups, drawGroup{
			material: d.Material,
			layout:   d.Mesh.Layout,
			state:    d.State,
			textures: d.Textures,
			draws:    []DrawRequest{d},
		})
	}
	return groups
}

func sameTextures(a, b []TextureBinding) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// chunkGroups splits groups into n contiguous chunks of near-equal size.
func chunkGroups(groups []drawGroup, n int) [][]drawGroup {
	chunks := make([][]drawGroup, n)
	per := len(groups) / n
	rem := len(groups) % n
	lo := 0
	for i := 0; i < n; i++ {
		hi := lo + per
		if i < rem {
			hi++
		}
		chunks[i] = groups[lo:hi]
		lo = hi
	}
	return chunks
}

func recoverable(err error) bool {
	return errors.Is(err, gpucore.ErrNotFound) ||
		errors.Is(err, gpucore.ErrCorrupt) ||
		errors.Is(err, gpucore.ErrOutOfMemory)
}
