package forge

import (
	"time"

	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/store"
)

// DefaultBackend is the device backend used when none is selected.
// Importing a backend package registers it; see backend/wgpu.
const DefaultBackend = "wgpu"

// Option configures an Engine during creation.
//
// Example:
//
//	eng, err := forge.New(
//	    forge.WithMaterialDB("assets/materials.db"),
//	    forge.WithFramesInFlight(3),
//	)
type Option func(*engineOptions)

type engineOptions struct {
	backend        string
	adapter        gpucore.DeviceAdapter
	store          *store.Store
	storePath      string
	framesInFlight int
	workers        int
	ringSize       uint32
	budgetMB       int
	cacheLimit     int
	fenceTimeout   time.Duration
	targetFormat   gpucore.TextureFormat
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		backend:      DefaultBackend,
		targetFormat: gpucore.TextureFormatBGRA8UnormSRGB,
	}
}

// WithBackend selects a registered device backend by name.
func WithBackend(name string) Option {
	return func(o *engineOptions) { o.backend = name }
}

// WithDeviceAdapter injects an already-open device adapter. The engine
// does not close an injected adapter.
func WithDeviceAdapter(dev gpucore.DeviceAdapter) Option {
	return func(o *engineOptions) { o.adapter = dev }
}

// WithMaterialDB opens the material database at path (read-only) during
// engine creation.
func WithMaterialDB(path string) Option {
	return func(o *engineOptions) { o.storePath = path }
}

// WithStore injects an already-open material store. The engine does not
// close an injected store.
func WithStore(s *store.Store) Option {
	return func(o *engineOptions) { o.store = s }
}

// WithFramesInFlight sets the number of frame slots (1 to 3, default 2).
func WithFramesInFlight(n int) Option {
	return func(o *engineOptions) { o.framesInFlight = n }
}

// WithWorkers sets the recording worker pool size. Zero means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *engineOptions) { o.workers = n }
}

// WithFrameRingSize sets the per-slot transient buffer size in bytes.
func WithFrameRingSize(bytes uint32) Option {
	return func(o *engineOptions) { o.ringSize = bytes }
}

// WithMemoryBudget sets the persistent device memory budget in megabytes.
func WithMemoryBudget(megabytes int) Option {
	return func(o *engineOptions) { o.budgetMB = megabytes }
}

// WithPipelineCacheLimit sets the pipeline cache's soft entry limit.
func WithPipelineCacheLimit(n int) Option {
	return func(o *engineOptions) { o.cacheLimit = n }
}

// WithFenceTimeout bounds fence waits and worker joins. Expiry is treated
// as a lost device.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.fenceTimeout = d }
}

// WithTargetFormat sets the color attachment format pipelines render to.
func WithTargetFormat(f gpucore.TextureFormat) Option {
	return func(o *engineOptions) { o.targetFormat = f }
}
