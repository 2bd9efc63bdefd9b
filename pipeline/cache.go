package pipeline

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/internal/logging"
	"github.com/gogpu/forge/spirv"
)

// DefaultSoftLimit is the default pipeline count the cache evicts toward.
const DefaultSoftLimit = 128

// Pipeline is a cached graphics pipeline handle. Handles are shared between
// the cache and in-flight frames; reference counting keeps a pipeline alive
// until its last referencing frame has retired.
type Pipeline struct {
	id         gpucore.PipelineID
	layoutID   gpucore.PipelineLayoutID
	setLayouts []gpucore.BindGroupLayoutID
	modules    []string

	key    uint64
	format gpucore.TextureFormat
	desc   *spirv.DescriptorLayout

	refs     atomic.Int32
	lastUsed atomic.Uint64
	dead     bool // removed from the map, destroy once refs drop to zero
}

// ID returns the device pipeline handle.
func (p *Pipeline) ID() gpucore.PipelineID { return p.id }

// SetLayout returns the bind group layout for a descriptor set.
func (p *Pipeline) SetLayout(set uint32) gpucore.BindGroupLayoutID {
	if int(set) >= len(p.setLayouts) {
		return gpucore.InvalidID
	}
	return p.setLayouts[set]
}

// DescriptorLayout returns the reflected layout the pipeline was built from.
func (p *Pipeline) DescriptorLayout() *spirv.DescriptorLayout { return p.desc }

// Retain marks the pipeline referenced by an in-flight frame.
func (p *Pipeline) Retain() { p.refs.Add(1) }

// Release drops one frame reference. Called when the referencing frame
// retires; the cache destroys unreferenced dead pipelines on its next sweep.
func (p *Pipeline) Release() {
	if p.refs.Add(-1) < 0 {
		gpucore.Violate("pipeline.Release", "release without matching retain")
	}
}

// Config holds cache construction parameters.
type Config struct {
	// SoftLimit is the pipeline count eviction aims for. Zero means
	// DefaultSoftLimit.
	SoftLimit int

	// FramesInFlight is the frame slot count; eviction of a pipeline is
	// deferred until this many frames have passed since its last use.
	FramesInFlight uint64

	// Logger receives cache events. Nil discards them.
	Logger *slog.Logger
}

// Cache stores built pipelines keyed by (material, vertex layout, target
// format, render state).
//
// Cache is safe for concurrent use. Lookups take a read lock; the build on
// miss runs under the write lock with a double check, so racing workers
// build a pipeline at most once.
type Cache struct {
	mu  sync.RWMutex
	dev gpucore.DeviceAdapter
	log *slog.Logger

	limit          int
	framesInFlight uint64
	frame          atomic.Uint64

	pipelines map[uint64]*Pipeline
	graveyard []*Pipeline
	modules   map[string]*moduleEntry

	hits   atomic.Uint64
	misses atomic.Uint64
}

type moduleEntry struct {
	id   gpucore.ShaderModuleID
	refs int
}

// NewCache creates a pipeline cache over the device.
func NewCache(dev gpucore.DeviceAdapter, cfg Config) *Cache {
	limit := cfg.SoftLimit
	if limit <= 0 {
		limit = DefaultSoftLimit
	}
	fif := cfg.FramesInFlight
	if fif == 0 {
		fif = 2
	}
	return &Cache{
		dev:            dev,
		log:            logging.Or(cfg.Logger),
		limit:          limit,
		framesInFlight: fif,
		pipelines:      make(map[uint64]*Pipeline),
		modules:        make(map[string]*moduleEntry),
	}
}

// GetOrBuild returns the pipeline for the key tuple, building it on a miss.
// A returned pipeline is not retained; callers that keep it across a frame
// must Retain it.
func (c *Cache) GetOrBuild(mat *Material, layout gpucore.VertexLayout,
	format gpucore.TextureFormat, state gpucore.RenderState) (*Pipeline, error) {

	key := hashKey(mat.CacheID(), layout, format, state)
	frame := c.frame.Load()

	// Fast path: read lock.
	c.mu.RLock()
	if p, ok := c.pipelines[key]; ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		p.lastUsed.Store(frame)
		return p, nil
	}
	c.mu.RUnlock()

	// Slow path: write lock with double check.
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pipelines[key]; ok {
		c.hits.Add(1)
		p.lastUsed.Store(frame)
		return p, nil
	}

	p, err := c.buildLocked(mat, layout, format, state, key)
	if err != nil {
		return nil, err
	}
	p.lastUsed.Store(frame)
	c.pipelines[key] = p
	c.misses.Add(1)
	c.log.Debug("pipeline built", "material", mat.Name, "format", format, "cached", len(c.pipelines))
	return p, nil
}

// Prewarm builds pipelines for materials expected in an upcoming frame,
// keeping the compile cost off the per-draw path.
func (c *Cache) Prewarm(mats []*Material, layout gpucore.VertexLayout,
	format gpucore.TextureFormat) error {
	for _, mat := range mats {
		if _, err := c.GetOrBuild(mat, layout, format, mat.State); err != nil {
			return fmt.Errorf("pipeline: prewarm %q: %w", mat.Name, err)
		}
	}
	return nil
}

// BeginFrame advances the cache's frame counter, destroys dead pipelines
// whose frames have retired, and evicts over the soft limit. Called once
// per frame by the orchestrator, off the recording hot path.
func (c *Cache) BeginFrame(frame uint64) {
	c.frame.Store(frame)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepGraveyardLocked()
	c.evictLocked(frame)
}

// InvalidateFormat removes every pipeline rendering to the given target
// format; the resize path calls this before rebuilding against the new
// surface. Pipelines still referenced by in-flight frames are destroyed
// once those frames retire.
func (c *Cache) InvalidateFormat(format gpucore.TextureFormat) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, p := range c.pipelines {
		if p.format != format {
			continue
		}
		delete(c.pipelines, key)
		p.dead = true
		c.graveyard = append(c.graveyard, p)
		n++
	}
	c.sweepGraveyardLocked()
	if n > 0 {
		c.log.Info("pipelines invalidated", "format", format, "count", n)
	}
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// HitRate returns the hit fraction (0.0 to 1.0).
func (c *Cache) HitRate() float64 {
	hits, misses := c.Stats()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Size returns the number of live cached pipelines.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pipelines)
}

// Close destroys every pipeline and shader module. Call only after all
// frame slots have retired.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, p := range c.pipelines {
		delete(c.pipelines, key)
		c.destroyLocked(p)
	}
	for _, p := range c.graveyard {
		c.destroyLocked(p)
	}
	c.graveyard = nil
	for id, m := range c.modules {
		_ = c.dev.DestroyShaderModule(m.id)
		delete(c.modules, id)
	}
}

func (c *Cache) buildLocked(mat *Material, layout gpucore.VertexLayout,
	format gpucore.TextureFormat, state gpucore.RenderState, key uint64) (p *Pipeline, err error) {

	vert := mat.Stage(gpucore.StageVertex)
	frag := mat.Stage(gpucore.StageFragment)
	if vert == nil || frag == nil {
		return nil, fmt.Errorf("pipeline: material %q lacks a mandatory stage: %w",
			mat.Name, gpucore.ErrCorrupt)
	}

	var (
		moduleKeys []string
		setLayouts []gpucore.BindGroupLayoutID
		layoutID   gpucore.PipelineLayoutID
	)
	defer func() {
		if err == nil {
			return
		}
		// Unwind partial device state.
		if layoutID != gpucore.InvalidID {
			_ = c.dev.DestroyPipelineLayout(layoutID)
		}
		for _, l := range setLayouts {
			_ = c.dev.DestroyBindGroupLayout(l)
		}
		for _, k := range moduleKeys {
			c.releaseModuleLocked(k)
		}
	}()

	vertMod, err := c.acquireModuleLocked(vert)
	if err != nil {
		return nil, err
	}
	moduleKeys = append(moduleKeys, vert.ID)
	fragMod, err := c.acquireModuleLocked(frag)
	if err != nil {
		return nil, err
	}
	moduleKeys = append(moduleKeys, frag.ID)

	for set := uint32(0); set < mat.Layout.SetCount(); set++ {
		l, lerr := c.dev.CreateBindGroupLayout(&gpucore.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s-set%d", mat.Name, set),
			Entries: mat.Layout.SetEntries(set),
		})
		if lerr != nil {
			err = fmt.Errorf("pipeline: bind group layout for %q set %d: %w", mat.Name, set, lerr)
			return nil, err
		}
		setLayouts = append(setLayouts, l)
	}

	layoutID, err = c.dev.CreatePipelineLayout(&gpucore.PipelineLayoutDescriptor{
		Label:            mat.Name,
		BindGroupLayouts: setLayouts,
		PushConstants: gpucore.PushConstantRange{
			Offset: mat.Layout.Push.Offset,
			Size:   mat.Layout.Push.Size,
			Stages: mat.Layout.Push.Stages,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: pipeline layout for %q: %w", mat.Name, err)
	}

	id, err := c.dev.CreatePipeline(&gpucore.PipelineDescriptor{
		Label:        mat.Name,
		Layout:       layoutID,
		Vertex:       vertMod,
		Fragment:     fragMod,
		VertexLayout: layout,
		TargetFormat: format,
		DepthFormat:  gpucore.TextureFormatDepth32Float,
		State:        state,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: build %q: %w", mat.Name, err)
	}

	return &Pipeline{
		id:         id,
		layoutID:   layoutID,
		setLayouts: setLayouts,
		modules:    moduleKeys,
		key:        key,
		format:     format,
		desc:       mat.Layout,
	}, nil
}

func (c *Cache) acquireModuleLocked(blob *spirv.StageBlob) (gpucore.ShaderModuleID, error) {
	if m, ok := c.modules[blob.ID]; ok {
		m.refs++
		return m.id, nil
	}
	id, err := c.dev.CreateShaderModule(&gpucore.ShaderModuleDescriptor{
		Label: blob.ID,
		SPIRV: blob.Code,
		Stage: blob.Stage,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("pipeline: shader module %q: %w", blob.ID, err)
	}
	c.modules[blob.ID] = &moduleEntry{id: id, refs: 1}
	return id, nil
}

func (c *Cache) releaseModuleLocked(key string) {
	m, ok := c.modules[key]
	if !ok {
		return
	}
	m.refs--
	if m.refs == 0 {
		_ = c.dev.DestroyShaderModule(m.id)
		delete(c.modules, key)
	}
}

// evictLocked brings the cache back under the soft limit, oldest last use
// first. Pipelines used within the last framesInFlight frames, or still
// referenced, are not eligible.
func (c *Cache) evictLocked(frame uint64) {
	for len(c.pipelines) > c.limit {
		var victim *Pipeline
		var victimKey uint64
		for key, p := range c.pipelines {
			if p.refs.Load() != 0 {
				continue
			}
			if last := p.lastUsed.Load(); last+c.framesInFlight > frame {
				continue
			}
			if victim == nil || p.lastUsed.Load() < victim.lastUsed.Load() {
				victim, victimKey = p, key
			}
		}
		if victim == nil {
			return // everything over the limit is still in flight
		}
		delete(c.pipelines, victimKey)
		c.destroyLocked(victim)
		c.log.Debug("pipeline evicted", "lastUsed", victim.lastUsed.Load(), "cached", len(c.pipelines))
	}
}

func (c *Cache) sweepGraveyardLocked() {
	kept := c.graveyard[:0]
	for _, p := range c.graveyard {
		if p.refs.Load() == 0 {
			c.destroyLocked(p)
		} else {
			kept = append(kept, p)
		}
	}
	c.graveyard = kept
}

func (c *Cache) destroyLocked(p *Pipeline) {
	_ = c.dev.DestroyPipeline(p.id)
	_ = c.dev.DestroyPipelineLayout(p.layoutID)
	for _, l := range p.setLayouts {
		_ = c.dev.DestroyBindGroupLayout(l)
	}
	for _, k := range p.modules {
		c.releaseModuleLocked(k)
	}
}

// hashKey computes the FNV-1a cache key over the full pipeline identity
// tuple.
func hashKey(materialID string, layout gpucore.VertexLayout,
	format gpucore.TextureFormat, state gpucore.RenderState) uint64 {

	h := fnv.New64a()
	hashWriteString(h, materialID)
	hashWriteUint32(h, layout.Stride)
	hashWriteUint32(h, uint32(layout.AttributeCount))
	for i := uint8(0); i < layout.AttributeCount; i++ {
		attr := &layout.Attributes[i]
		hashWriteUint32(h, attr.Location)
		hashWriteUint32(h, uint32(attr.Format))
		hashWriteUint32(h, attr.Offset)
	}
	hashWriteUint32(h, uint32(format))
	hashWriteUint32(h, uint32(state.Blend))
	hashWriteUint32(h, uint32(state.Cull))
	return h.Sum64()
}

func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteString(h hash.Hash64, s string) {
	hashWriteUint32(h, uint32(len(s)))
	_, _ = h.Write([]byte(s))
}
