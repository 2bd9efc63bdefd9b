package gpucore

// Resource IDs
//
// These opaque IDs represent GPU resources. Each adapter implementation
// maintains a mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// ShaderModuleID is an opaque handle to a compiled shader module.
type ShaderModuleID uint64

// PipelineID is an opaque handle to a graphics pipeline state object.
type PipelineID uint64

// SamplerID is an opaque handle to a texture sampler.
type SamplerID uint64

// BindGroupLayoutID is an opaque handle to a bind group layout.
type BindGroupLayoutID uint64

// BindGroupID is an opaque handle to a bind group.
type BindGroupID uint64

// PipelineLayoutID is an opaque handle to a pipeline layout.
type PipelineLayoutID uint64

// FenceID is an opaque handle to a device fence.
type FenceID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// ShaderStage identifies one programmable pipeline stage.
type ShaderStage uint8

// Shader stages. The order of the constants is the canonical stage order
// for a material: vertex first, fragment second.
const (
	// StageVertex is the vertex shader stage.
	StageVertex ShaderStage = iota

	// StageFragment is the fragment shader stage.
	StageFragment

	// StageCompute is the compute shader stage.
	StageCompute
)

// String returns the lower-case stage name as stored in the material
// database.
func (s ShaderStage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// Mask returns the single-stage mask for s.
func (s ShaderStage) Mask() StageMask { return 1 << s }

// StageMask is a bitmask of shader stages.
type StageMask uint8

// Stage mask values.
const (
	// StageMaskVertex selects the vertex stage.
	StageMaskVertex StageMask = 1 << StageVertex

	// StageMaskFragment selects the fragment stage.
	StageMaskFragment StageMask = 1 << StageFragment

	// StageMaskCompute selects the compute stage.
	StageMaskCompute StageMask = 1 << StageCompute
)

// Has reports whether the mask includes stage s.
func (m StageMask) Has(s ShaderStage) bool { return m&s.Mask() != 0 }

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 0

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 1

	// BufferUsageIndex indicates the buffer can be used as an index buffer.
	BufferUsageIndex BufferUsage = 1 << 2

	// BufferUsageVertex indicates the buffer can be used as a vertex buffer.
	BufferUsageVertex BufferUsage = 1 << 3

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 4

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 5
)

// TextureUsage is a bitmask specifying how a texture will be used.
type TextureUsage uint32

// Texture usage flags.
const (
	// TextureUsageCopySrc indicates the texture can be used as a copy source.
	TextureUsageCopySrc TextureUsage = 1 << 0

	// TextureUsageCopyDst indicates the texture can be used as a copy destination.
	TextureUsageCopyDst TextureUsage = 1 << 1

	// TextureUsageBinding indicates the texture can be sampled by shaders.
	TextureUsageBinding TextureUsage = 1 << 2

	// TextureUsageRenderAttachment indicates the texture can be rendered to.
	TextureUsageRenderAttachment TextureUsage = 1 << 3
)

// FilterMode selects how a sampler interpolates texels.
type FilterMode uint8

// Sampler filter modes.
const (
	// FilterLinear interpolates between texels. The engine default.
	FilterLinear FilterMode = iota

	// FilterNearest snaps to the closest texel.
	FilterNearest
)

// AddressMode selects how a sampler treats coordinates outside [0, 1].
type AddressMode uint8

// Sampler address modes.
const (
	// AddressClampToEdge clamps to the border texel. The engine default.
	AddressClampToEdge AddressMode = iota

	// AddressRepeat wraps coordinates.
	AddressRepeat

	// AddressMirrorRepeat wraps with mirroring.
	AddressMirrorRepeat
)

// TextureFormat specifies the format of render target data.
type TextureFormat uint32

// Texture formats used by render targets.
const (
	// TextureFormatUndefined is the zero value, no format selected.
	TextureFormatUndefined TextureFormat = iota

	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	TextureFormatRGBA8Unorm

	// TextureFormatRGBA8UnormSRGB is 8-bit RGBA in sRGB color space.
	TextureFormatRGBA8UnormSRGB

	// TextureFormatBGRA8Unorm is 8-bit BGRA, normalized unsigned integer.
	TextureFormatBGRA8Unorm

	// TextureFormatBGRA8UnormSRGB is 8-bit BGRA in sRGB color space.
	TextureFormatBGRA8UnormSRGB

	// TextureFormatDepth32Float is a 32-bit float depth attachment format.
	TextureFormatDepth32Float
)

// TexelSize returns the byte size of one texel, or zero for Undefined.
func (f TextureFormat) TexelSize() uint32 {
	switch f {
	case TextureFormatRGBA8Unorm, TextureFormatRGBA8UnormSRGB,
		TextureFormatBGRA8Unorm, TextureFormatBGRA8UnormSRGB,
		TextureFormatDepth32Float:
		return 4
	default:
		return 0
	}
}

// BindingKind specifies the resource kind of a shader binding.
type BindingKind uint8

// Binding kinds derivable from shader bytecode.
const (
	// BindingUniformBuffer is a uniform buffer binding.
	BindingUniformBuffer BindingKind = iota + 1

	// BindingStorageBuffer is a storage buffer binding.
	BindingStorageBuffer

	// BindingSampledImage is a sampled image binding.
	BindingSampledImage

	// BindingSampler is a sampler binding.
	BindingSampler
)

// String returns a short name for the binding kind.
func (k BindingKind) String() string {
	switch k {
	case BindingUniformBuffer:
		return "uniform-buffer"
	case BindingStorageBuffer:
		return "storage-buffer"
	case BindingSampledImage:
		return "sampled-image"
	case BindingSampler:
		return "sampler"
	default:
		return "unknown"
	}
}

// VertexFormat specifies the format of a single vertex attribute.
type VertexFormat uint8

// Vertex attribute formats.
const (
	// VertexFormatFloat32x2 is two 32-bit floats.
	VertexFormatFloat32x2 VertexFormat = iota + 1

	// VertexFormatFloat32x3 is three 32-bit floats.
	VertexFormatFloat32x3

	// VertexFormatFloat32x4 is four 32-bit floats.
	VertexFormatFloat32x4
)

// Size returns the byte size of one attribute of this format.
func (f VertexFormat) Size() uint32 {
	switch f {
	case VertexFormatFloat32x2:
		return 8
	case VertexFormatFloat32x3:
		return 12
	case VertexFormatFloat32x4:
		return 16
	default:
		return 0
	}
}

// VertexAttribute describes one attribute within a vertex buffer.
type VertexAttribute struct {
	// Location is the shader input location.
	Location uint32

	// Format is the attribute data format.
	Format VertexFormat

	// Offset is the byte offset of the attribute within one vertex.
	Offset uint32
}

// VertexLayout describes the memory layout of a mesh's vertex buffer.
// Layouts are part of the pipeline cache key, so they must be comparable by
// value; the attribute array is fixed-size for that reason.
type VertexLayout struct {
	// Stride is the byte distance between consecutive vertices.
	Stride uint32

	// AttributeCount is the number of valid entries in Attributes.
	AttributeCount uint8

	// Attributes holds up to 8 attributes, ordered by location.
	Attributes [8]VertexAttribute
}

// BlendMode selects the fixed-function blend state of a pipeline.
type BlendMode uint8

// Blend modes available as material render-state overrides.
const (
	// BlendOpaque disables blending.
	BlendOpaque BlendMode = iota

	// BlendAlpha enables standard premultiplied alpha blending.
	BlendAlpha

	// BlendAdditive sums source and destination color.
	BlendAdditive
)

// CullMode selects which triangle faces are discarded.
type CullMode uint8

// Cull modes available as material render-state overrides.
const (
	// CullBack discards back faces. The engine default.
	CullBack CullMode = iota

	// CullNone keeps all faces.
	CullNone

	// CullFront discards front faces.
	CullFront
)

// RenderState holds the static render-state overrides of a material.
// The zero value is the engine default (opaque, back-face culling).
type RenderState struct {
	// Blend is the blend mode.
	Blend BlendMode

	// Cull is the face culling mode.
	Cull CullMode
}

// Limits reports device capabilities the engine core must respect.
type Limits struct {
	// MaxPushConstantSize is the largest push-constant range in bytes.
	MaxPushConstantSize uint32

	// MaxBindGroups is the maximum number of descriptor sets.
	MaxBindGroups uint32

	// MinUniformOffsetAlignment is the required alignment of dynamic
	// uniform buffer offsets.
	MinUniformOffsetAlignment uint32

	// MaxBufferSize is the largest single buffer allocation in bytes.
	MaxBufferSize uint64
}

// DefaultLimits returns conservative limits matching the Vulkan/WebGPU
// guaranteed minimums.
func DefaultLimits() Limits {
	return Limits{
		MaxPushConstantSize:       128,
		MaxBindGroups:             4,
		MinUniformOffsetAlignment: 256,
		MaxBufferSize:             256 << 20,
	}
}
