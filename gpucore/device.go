package gpucore

import "time"

// BufferDescriptor describes parameters for creating a buffer.
type BufferDescriptor struct {
	// Label is an optional debug label for the buffer.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage specifies how the buffer will be used.
	Usage BufferUsage
}

// TextureDescriptor describes parameters for creating a 2D texture.
type TextureDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Width and Height are the texture extent in texels.
	Width  uint32
	Height uint32

	// Format is the texel format.
	Format TextureFormat

	// Usage specifies how the texture will be used.
	Usage TextureUsage

	// MipLevels is the mip chain length. Zero means 1.
	MipLevels uint32
}

// SamplerDescriptor describes a texture sampler.
// The zero value is linear filtering with clamp-to-edge addressing.
type SamplerDescriptor struct {
	// Label is an optional debug label.
	Label string

	// MagFilter and MinFilter select texel interpolation.
	MagFilter FilterMode
	MinFilter FilterMode

	// AddressMode applies to all three coordinate axes.
	AddressMode AddressMode
}

// ShaderModuleDescriptor describes a shader module to compile.
type ShaderModuleDescriptor struct {
	// Label is an optional debug label.
	Label string

	// SPIRV is the compiled bytecode, little-endian 32-bit words.
	SPIRV []byte

	// Stage is the pipeline stage the module serves.
	Stage ShaderStage
}

// BindGroupLayoutEntry describes one binding slot within a layout.
type BindGroupLayoutEntry struct {
	// Binding is the binding number within the set.
	Binding uint32

	// Kind is the bound resource kind.
	Kind BindingKind

	// Visibility is the set of stages that access the binding.
	Visibility StageMask

	// HasDynamicOffset marks a uniform/storage binding whose offset is
	// supplied at bind time.
	HasDynamicOffset bool
}

// BindGroupLayoutDescriptor describes a bind group layout (one descriptor
// set layout).
type BindGroupLayoutDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Entries lists the binding slots, ordered by binding number.
	Entries []BindGroupLayoutEntry
}

// BindGroupEntry binds one resource to a layout slot. Exactly one of
// Buffer, Texture, or Sampler is set, matching the layout entry's kind.
type BindGroupEntry struct {
	// Binding is the binding number within the set.
	Binding uint32

	// Buffer is the bound buffer, for buffer kinds.
	Buffer BufferID

	// Offset is the starting byte offset within the buffer.
	Offset uint64

	// Size is the bound range in bytes.
	Size uint64

	// Texture is the bound texture, for sampled-image kinds.
	Texture TextureID

	// Sampler is the bound sampler, for sampler kinds.
	Sampler SamplerID
}

// BindGroupDescriptor describes a bind group (one descriptor set).
type BindGroupDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Layout is the layout the group instantiates.
	Layout BindGroupLayoutID

	// Entries lists the bound resources.
	Entries []BindGroupEntry
}

// PushConstantRange describes the push-constant window of a pipeline layout.
type PushConstantRange struct {
	// Offset is the starting byte offset.
	Offset uint32

	// Size is the range size in bytes. Zero means no push constants.
	Size uint32

	// Stages is the set of stages that read the range.
	Stages StageMask
}

// PipelineLayoutDescriptor describes a pipeline layout.
type PipelineLayoutDescriptor struct {
	// Label is an optional debug label.
	Label string

	// BindGroupLayouts lists the set layouts, ordered by set number.
	BindGroupLayouts []BindGroupLayoutID

	// PushConstants is the merged push-constant range of all stages.
	PushConstants PushConstantRange
}

// PipelineDescriptor describes a graphics pipeline state object.
type PipelineDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Layout is the pipeline layout.
	Layout PipelineLayoutID

	// Vertex is the vertex stage module.
	Vertex ShaderModuleID

	// Fragment is the fragment stage module.
	Fragment ShaderModuleID

	// VertexLayout describes the vertex buffer memory layout.
	VertexLayout VertexLayout

	// TargetFormat is the color attachment format the pipeline renders to.
	TargetFormat TextureFormat

	// DepthFormat is the depth attachment format, or
	// TextureFormatUndefined for no depth.
	DepthFormat TextureFormat

	// State holds the fixed-function render-state overrides.
	State RenderState
}

// DeviceAdapter is the boundary between the engine core and a GPU backend.
//
// All methods are safe for concurrent use unless noted. Create/Destroy
// pairs follow strict ownership: the caller that created a resource
// destroys it exactly once; adapters report a second destroy via
// ErrInvalidHandle rather than corrupting state.
type DeviceAdapter interface {
	// Name returns the backend identifier the adapter was registered under.
	Name() string

	// Limits reports the device capabilities.
	Limits() Limits

	// CreateBuffer allocates a device buffer. Returns ErrOutOfMemory when
	// the heap cannot satisfy the request.
	CreateBuffer(desc *BufferDescriptor) (BufferID, error)

	// WriteBuffer copies data into a buffer at the given offset. The write
	// is ordered before any subsequently submitted batch.
	WriteBuffer(buf BufferID, offset uint64, data []byte) error

	// DestroyBuffer releases a buffer.
	DestroyBuffer(buf BufferID) error

	// CreateTexture allocates a device texture. Returns ErrOutOfMemory
	// when the heap cannot satisfy the request.
	CreateTexture(desc *TextureDescriptor) (TextureID, error)

	// WriteTexture copies tightly packed rows of data into mip level zero.
	// bytesPerRow is the source row pitch in bytes.
	WriteTexture(tex TextureID, data []byte, bytesPerRow uint32) error

	// DestroyTexture releases a texture.
	DestroyTexture(tex TextureID) error

	// CreateSampler creates a texture sampler.
	CreateSampler(desc *SamplerDescriptor) (SamplerID, error)

	// DestroySampler releases a sampler.
	DestroySampler(s SamplerID) error

	// CreateShaderModule compiles bytecode into a device shader module.
	CreateShaderModule(desc *ShaderModuleDescriptor) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(mod ShaderModuleID) error

	// CreateBindGroupLayout creates a descriptor set layout.
	CreateBindGroupLayout(desc *BindGroupLayoutDescriptor) (BindGroupLayoutID, error)

	// DestroyBindGroupLayout releases a bind group layout.
	DestroyBindGroupLayout(layout BindGroupLayoutID) error

	// CreateBindGroup creates a descriptor set bound to concrete resources.
	CreateBindGroup(desc *BindGroupDescriptor) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(group BindGroupID) error

	// CreatePipelineLayout creates a pipeline layout.
	CreatePipelineLayout(desc *PipelineLayoutDescriptor) (PipelineLayoutID, error)

	// DestroyPipelineLayout releases a pipeline layout.
	DestroyPipelineLayout(layout PipelineLayoutID) error

	// CreatePipeline builds a graphics pipeline state object. This is the
	// one expensive blocking call of the boundary; callers keep it off the
	// per-draw hot path.
	CreatePipeline(desc *PipelineDescriptor) (PipelineID, error)

	// DestroyPipeline releases a pipeline.
	DestroyPipeline(p PipelineID) error

	// CreateFence creates an unsignaled fence.
	CreateFence() (FenceID, error)

	// DestroyFence releases a fence.
	DestroyFence(f FenceID) error

	// FenceSignaled polls a fence without blocking.
	FenceSignaled(f FenceID) (bool, error)

	// WaitFence blocks until the fence signals or the timeout expires.
	// Returns false on timeout; the caller decides whether a timeout is a
	// lost-device condition.
	WaitFence(f FenceID, timeout time.Duration) (bool, error)

	// Submit replays the merged command batches on the device queue and
	// arms the fence to signal on completion. Batches are executed in
	// slice order. A device-level submission failure is reported as
	// ErrLostDevice.
	Submit(batches []CommandBatch, fence FenceID) error

	// Close tears down the adapter. All resources created through it
	// become invalid.
	Close() error
}
