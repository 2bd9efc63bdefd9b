package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/forge/gpucore"
)

func bufferUsage(u gpucore.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u&gpucore.BufferUsageCopySrc != 0 {
		out |= gputypes.BufferUsageCopySrc
	}
	if u&gpucore.BufferUsageCopyDst != 0 {
		out |= gputypes.BufferUsageCopyDst
	}
	if u&gpucore.BufferUsageIndex != 0 {
		out |= gputypes.BufferUsageIndex
	}
	if u&gpucore.BufferUsageVertex != 0 {
		out |= gputypes.BufferUsageVertex
	}
	if u&gpucore.BufferUsageUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	if u&gpucore.BufferUsageStorage != 0 {
		out |= gputypes.BufferUsageStorage
	}
	return out
}

func stageVisibility(m gpucore.StageMask) gputypes.ShaderStage {
	var out gputypes.ShaderStage
	if m&gpucore.StageMaskVertex != 0 {
		out |= gputypes.ShaderStageVertex
	}
	if m&gpucore.StageMaskFragment != 0 {
		out |= gputypes.ShaderStageFragment
	}
	return out
}

func layoutEntry(e gpucore.BindGroupLayoutEntry) (gputypes.BindGroupLayoutEntry, error) {
	out := gputypes.BindGroupLayoutEntry{
		Binding:    e.Binding,
		Visibility: stageVisibility(e.Visibility),
	}
	switch e.Kind {
	case gpucore.BindingUniformBuffer:
		out.Buffer = &gputypes.BufferBindingLayout{
			Type:             gputypes.BufferBindingTypeUniform,
			HasDynamicOffset: e.HasDynamicOffset,
		}
	case gpucore.BindingStorageBuffer:
		out.Buffer = &gputypes.BufferBindingLayout{
			Type:             gputypes.BufferBindingTypeReadOnlyStorage,
			HasDynamicOffset: e.HasDynamicOffset,
		}
	case gpucore.BindingSampledImage:
		out.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case gpucore.BindingSampler:
		out.Sampler = &gputypes.SamplerBindingLayout{
			Type: gputypes.SamplerBindingTypeFiltering,
		}
	default:
		return out, fmt.Errorf("%w: binding kind %v", gpucore.ErrLayoutConflict, e.Kind)
	}
	return out, nil
}

func textureFormat(f gpucore.TextureFormat) gputypes.TextureFormat {
	switch f {
	case gpucore.TextureFormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	case gpucore.TextureFormatRGBA8UnormSRGB:
		return gputypes.TextureFormatRGBA8UnormSrgb
	case gpucore.TextureFormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm
	case gpucore.TextureFormatBGRA8UnormSRGB:
		return gputypes.TextureFormatBGRA8UnormSrgb
	case gpucore.TextureFormatDepth32Float:
		return gputypes.TextureFormatDepth32Float
	default:
		return gputypes.TextureFormatUndefined
	}
}

func textureUsage(u gpucore.TextureUsage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u&gpucore.TextureUsageCopySrc != 0 {
		out |= gputypes.TextureUsageCopySrc
	}
	if u&gpucore.TextureUsageCopyDst != 0 {
		out |= gputypes.TextureUsageCopyDst
	}
	if u&gpucore.TextureUsageBinding != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	if u&gpucore.TextureUsageRenderAttachment != 0 {
		out |= gputypes.TextureUsageRenderAttachment
	}
	return out
}

func filterMode(f gpucore.FilterMode) gputypes.FilterMode {
	if f == gpucore.FilterNearest {
		return gputypes.FilterModeNearest
	}
	return gputypes.FilterModeLinear
}

func addressMode(m gpucore.AddressMode) gputypes.AddressMode {
	switch m {
	case gpucore.AddressRepeat:
		return gputypes.AddressModeRepeat
	case gpucore.AddressMirrorRepeat:
		return gputypes.AddressModeMirrorRepeat
	default:
		return gputypes.AddressModeClampToEdge
	}
}

func blendState(mode gpucore.BlendMode) *gputypes.BlendState {
	switch mode {
	case gpucore.BlendAlpha:
		blend := gputypes.BlendStatePremultiplied()
		return &blend
	case gpucore.BlendAdditive:
		return &gputypes.BlendState{
			Color: gputypes.BlendComponent{
				SrcFactor: gputypes.BlendFactorOne,
				DstFactor: gputypes.BlendFactorOne,
				Operation: gputypes.BlendOperationAdd,
			},
			Alpha: gputypes.BlendComponent{
				SrcFactor: gputypes.BlendFactorOne,
				DstFactor: gputypes.BlendFactorOne,
				Operation: gputypes.BlendOperationAdd,
			},
		}
	default:
		// Opaque draws with blending disabled.
		return nil
	}
}

func cullMode(mode gpucore.CullMode) gputypes.CullMode {
	switch mode {
	case gpucore.CullNone:
		return gputypes.CullModeNone
	case gpucore.CullFront:
		return gputypes.CullModeFront
	default:
		return gputypes.CullModeBack
	}
}

func vertexFormat(f gpucore.VertexFormat) gputypes.VertexFormat {
	switch f {
	case gpucore.VertexFormatFloat32x2:
		return gputypes.VertexFormatFloat32x2
	case gpucore.VertexFormatFloat32x4:
		return gputypes.VertexFormatFloat32x4
	default:
		return gputypes.VertexFormatFloat32x3
	}
}

func vertexLayout(l gpucore.VertexLayout) []gputypes.VertexBufferLayout {
	attrs := make([]gputypes.VertexAttribute, l.AttributeCount)
	for i := range attrs {
		a := l.Attributes[i]
		attrs[i] = gputypes.VertexAttribute{
			Format:         vertexFormat(a.Format),
			Offset:         uint64(a.Offset),
			ShaderLocation: a.Location,
		}
	}
	return []gputypes.VertexBufferLayout{{
		ArrayStride: uint64(l.Stride),
		StepMode:    gputypes.VertexStepModeVertex,
		Attributes:  attrs,
	}}
}
