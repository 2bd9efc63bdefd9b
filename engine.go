package forge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/forge/frame"
	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/memory"
	"github.com/gogpu/forge/pipeline"
	"github.com/gogpu/forge/spirv"
	"github.com/gogpu/forge/store"
)

// Camera supplies the frame-wide view and projection.
type Camera struct {
	View       Mat4
	Projection Mat4
}

// ViewProjection returns the combined matrix in device clip conventions.
func (c Camera) ViewProjection() Mat4 {
	return ClipCorrection().Mul(c.Projection).Mul(c.View)
}

// DrawRequest is one object to render this frame.
type DrawRequest struct {
	// Mesh is the geometry, created via CreateMesh.
	Mesh *Mesh

	// Material selects the shader set. Nil draws with the fallback
	// material.
	Material *pipeline.Material

	// Transform is the model matrix.
	Transform Mat4

	// Uniforms is an optional extra per-draw uniform block. For materials
	// without push constants the block is staged behind the model
	// transform, so its shader-side struct starts after a mat4.
	Uniforms []byte

	// Textures fills the material's sampled-image bindings.
	Textures []TextureSlot
}

// CullFunc decides whether a draw is visible this frame. Returning false
// skips the draw before recording.
type CullFunc func(*DrawRequest) bool

// Engine owns the render core: material store, shader reflection, pipeline
// cache, device memory, and the frame orchestrator. Construct with New,
// release with Close.
//
// SubmitFrame must be called from a single goroutine; the other methods
// are safe for concurrent use.
type Engine struct {
	dev       gpucore.DeviceAdapter
	ownsDev   bool
	store     *store.Store
	ownsStore bool

	reflector *spirv.Reflector
	cache     *pipeline.Cache
	alloc     *memory.Allocator
	orch      *frame.Orchestrator
	log       *slog.Logger

	mu        sync.Mutex
	materials map[string]*pipeline.Material
	fallback  *pipeline.Material
	sampler   gpucore.SamplerID
	cull      CullFunc

	closed bool
}

// New creates an engine. Without WithDeviceAdapter, the backend selected
// by WithBackend (default "wgpu") is opened via the registry; importing a
// backend package registers it.
func New(opts ...Option) (*Engine, error) {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := Logger()

	dev := o.adapter
	ownsDev := false
	if dev == nil {
		var err error
		dev, err = gpucore.Open(o.backend)
		if err != nil {
			return nil, fmt.Errorf("forge: open backend: %w", err)
		}
		ownsDev = true
	}

	st := o.store
	ownsStore := false
	if st == nil && o.storePath != "" {
		var err error
		st, err = store.Open(o.storePath, log)
		if err != nil {
			if ownsDev {
				_ = dev.Close()
			}
			return nil, err
		}
		ownsStore = true
	}

	fif := o.framesInFlight
	if fif == 0 {
		fif = frame.DefaultFramesInFlight
	}
	cache := pipeline.NewCache(dev, pipeline.Config{
		SoftLimit:      o.cacheLimit,
		FramesInFlight: uint64(fif),
		Logger:         log,
	})
	alloc := memory.NewAllocator(dev, o.budgetMB, log)

	orch, err := frame.New(dev, cache, frame.Config{
		FramesInFlight: fif,
		Workers:        o.workers,
		RingSize:       o.ringSize,
		FenceTimeout:   o.fenceTimeout,
		TargetFormat:   o.targetFormat,
		Allocator:      alloc,
		Logger:         log,
	})
	if err != nil {
		cache.Close()
		alloc.Close()
		if ownsStore {
			_ = st.Close()
		}
		if ownsDev {
			_ = dev.Close()
		}
		return nil, err
	}

	log.Info("engine created", "backend", dev.Name(), "framesInFlight", fif)
	return &Engine{
		dev:       dev,
		ownsDev:   ownsDev,
		store:     st,
		ownsStore: ownsStore,
		reflector: spirv.NewReflector(dev.Limits().MaxPushConstantSize),
		cache:     cache,
		alloc:     alloc,
		orch:      orch,
		log:       log,
		materials: make(map[string]*pipeline.Material),
	}, nil
}

// Device returns the underlying adapter, for callers that create their own
// resources against it.
func (e *Engine) Device() gpucore.DeviceAdapter { return e.dev }

// SetCullFunc installs a visibility test run per draw before recording.
// Nil accepts everything.
func (e *Engine) SetCullFunc(f CullFunc) {
	e.mu.Lock()
	e.cull = f
	e.mu.Unlock()
}

// SubmitFrame renders one frame of draws with the given camera.
//
// Recoverable failures drop the frame and return ErrFrameSkipped wrapping
// the cause; ErrLostDevice means the engine must be rebuilt.
func (e *Engine) SubmitFrame(cam Camera, draws []DrawRequest) error {
	e.mu.Lock()
	cull := e.cull
	e.mu.Unlock()

	reqs := make([]frame.DrawRequest, 0, len(draws))
	for i := range draws {
		d := &draws[i]
		if d.Mesh == nil {
			gpucore.Violate("forge.SubmitFrame", "draw %d has no mesh", i)
		}
		if cull != nil && !cull(d) {
			continue
		}
		mat := d.Material
		if mat == nil {
			var err error
			mat, err = e.fallbackMaterial()
			if err != nil {
				return err
			}
		}

		fd := frame.DrawRequest{
			Material: mat,
			Mesh:     d.Mesh.ref(),
			Uniforms: d.Uniforms,
			State:    mat.State,
		}
		// The model transform rides in push constants when the material
		// declares a range, otherwise it leads the per-draw uniform block.
		transform := d.Transform.Bytes()
		if mat.Layout.Push.Size > 0 {
			fd.Push = transform
		} else if len(fd.Uniforms) == 0 {
			fd.Uniforms = transform
		} else {
			block := make([]byte, 0, len(transform)+len(d.Uniforms))
			block = append(block, transform...)
			block = append(block, d.Uniforms...)
			fd.Uniforms = block
		}
		textures, err := e.textureBindings(mat, d.Textures)
		if err != nil {
			return err
		}
		fd.Textures = textures
		reqs = append(reqs, fd)
	}

	return e.orch.SubmitFrame(cam.ViewProjection().Bytes(), reqs)
}

// Resize reacts to a surface change, invalidating pipelines keyed to the
// old target format.
func (e *Engine) Resize(width, height uint32, format gpucore.TextureFormat) {
	e.orch.Resize(width, height, format)
}

// Prewarm loads the named materials and pre-builds their pipelines for a
// vertex layout, keeping compiles out of the frame loop.
func (e *Engine) Prewarm(names []string, layout gpucore.VertexLayout) error {
	mats := make([]*pipeline.Material, 0, len(names))
	for _, name := range names {
		mat, err := e.LoadMaterial(name)
		if err != nil {
			return err
		}
		mats = append(mats, mat)
	}
	return e.cache.Prewarm(mats, layout, e.orch.TargetFormat())
}

// MemoryStats returns a snapshot of device memory usage.
func (e *Engine) MemoryStats() memory.Stats { return e.alloc.Stats() }

// PipelineHitRate returns the pipeline cache hit fraction.
func (e *Engine) PipelineHitRate() float64 { return e.cache.HitRate() }

// SkippedFrames returns how many frames were dropped recoverably.
func (e *Engine) SkippedFrames() uint64 { return e.orch.SkippedFrames() }

// Close tears the engine down: in-flight frames are waited on, then all
// GPU state is released. The engine must not be used afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var errs []error
	if err := e.orch.Close(); err != nil {
		errs = append(errs, err)
	}
	e.cache.Close()
	e.alloc.Close()
	if e.sampler != gpucore.InvalidID {
		_ = e.dev.DestroySampler(e.sampler)
		e.sampler = gpucore.InvalidID
	}
	if e.ownsStore && e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.ownsDev {
		if err := e.dev.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.log.Info("engine closed")
	return errors.Join(errs...)
}
