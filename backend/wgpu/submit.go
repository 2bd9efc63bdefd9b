package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/forge/gpucore"
)

// Default offscreen target size, used until Configure is called.
const (
	defaultTargetWidth  = 1280
	defaultTargetHeight = 720
)

// renderTarget is the internal offscreen color and depth attachment pair
// submissions render into.
type renderTarget struct {
	width  uint32
	height uint32
	format gpucore.TextureFormat

	colorTex  hal.Texture
	colorView hal.TextureView
	depthTex  hal.Texture
	depthView hal.TextureView
}

func (t *renderTarget) ensure(device hal.Device, width, height uint32, format gpucore.TextureFormat) error {
	if t.colorTex != nil && t.width == width && t.height == height && t.format == format {
		return nil
	}
	t.destroy(device)

	size := hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1}
	colorTex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "forge_color",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        textureFormat(format),
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create color target: %w", err)
	}
	t.colorTex = colorTex

	colorView, err := device.CreateTextureView(colorTex, &hal.TextureViewDescriptor{
		Label: "forge_color_view",
	})
	if err != nil {
		t.destroy(device)
		return fmt.Errorf("wgpu: create color view: %w", err)
	}
	t.colorView = colorView

	depthTex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "forge_depth",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatDepth32Float,
		Usage:         gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		t.destroy(device)
		return fmt.Errorf("wgpu: create depth target: %w", err)
	}
	t.depthTex = depthTex

	depthView, err := device.CreateTextureView(depthTex, &hal.TextureViewDescriptor{
		Label: "forge_depth_view",
	})
	if err != nil {
		t.destroy(device)
		return fmt.Errorf("wgpu: create depth view: %w", err)
	}
	t.depthView = depthView

	t.width = width
	t.height = height
	t.format = format
	return nil
}

func (t *renderTarget) destroy(device hal.Device) {
	if t.colorView != nil {
		device.DestroyTextureView(t.colorView)
		t.colorView = nil
	}
	if t.colorTex != nil {
		device.DestroyTexture(t.colorTex)
		t.colorTex = nil
	}
	if t.depthView != nil {
		device.DestroyTextureView(t.depthView)
		t.depthView = nil
	}
	if t.depthTex != nil {
		device.DestroyTexture(t.depthTex)
		t.depthTex = nil
	}
}

// Configure sets the offscreen render target dimensions and color format.
// The target is recreated lazily at the next Submit.
func (d *Device) Configure(width, height uint32, format gpucore.TextureFormat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target.width = width
	d.target.height = height
	d.target.format = format
	// Drop the textures now so ensure rebuilds at the new size.
	d.target.destroy(d.device)
}

// Submit replays the merged batches in one render pass and arms the fence.
func (d *Device) Submit(batches []gpucore.CommandBatch, fenceID gpucore.FenceID) error {
	d.mu.Lock()
	fence, ok := d.fences[fenceID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: fence %d", gpucore.ErrInvalidHandle, fenceID)
	}
	width, height, format := d.target.width, d.target.height, d.target.format
	d.mu.Unlock()

	if width == 0 || height == 0 {
		width, height = defaultTargetWidth, defaultTargetHeight
	}
	if format == gpucore.TextureFormatUndefined {
		format = gpucore.TextureFormatBGRA8UnormSRGB
	}
	if err := d.target.ensure(d.device, width, height, format); err != nil {
		return fmt.Errorf("%w: %v", gpucore.ErrLostDevice, err)
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "forge_frame",
	})
	if err != nil {
		return fmt.Errorf("%w: create encoder: %v", gpucore.ErrLostDevice, err)
	}
	if err := encoder.BeginEncoding("forge_frame"); err != nil {
		return fmt.Errorf("%w: begin encoding: %v", gpucore.ErrLostDevice, err)
	}

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "forge_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       d.target.colorView,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
		}},
		DepthStencilAttachment: &hal.RenderPassDepthStencilAttachment{
			View:            d.target.depthView,
			DepthLoadOp:     gputypes.LoadOpClear,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: 1.0,
		},
	})

	var current *pipelineEntry
	for bi := range batches {
		for _, cmd := range batches[bi].Commands {
			switch cmd.Op {
			case gpucore.OpSetPipeline:
				d.mu.Lock()
				entry, ok := d.pipelines[cmd.Pipeline]
				d.mu.Unlock()
				if !ok {
					encoder.DiscardEncoding()
					return fmt.Errorf("%w: pipeline %d", gpucore.ErrInvalidHandle, cmd.Pipeline)
				}
				current = entry
				rp.SetPipeline(entry.handle)

			case gpucore.OpSetVertexBuffer:
				d.mu.Lock()
				buf, ok := d.buffers[cmd.Buffer]
				d.mu.Unlock()
				if !ok {
					encoder.DiscardEncoding()
					return fmt.Errorf("%w: buffer %d", gpucore.ErrInvalidHandle, cmd.Buffer)
				}
				rp.SetVertexBuffer(0, buf, cmd.BufferOffset)

			case gpucore.OpSetIndexBuffer:
				d.mu.Lock()
				buf, ok := d.buffers[cmd.Buffer]
				d.mu.Unlock()
				if !ok {
					encoder.DiscardEncoding()
					return fmt.Errorf("%w: buffer %d", gpucore.ErrInvalidHandle, cmd.Buffer)
				}
				rp.SetIndexBuffer(buf, gputypes.IndexFormatUint32, cmd.BufferOffset)

			case gpucore.OpSetBindGroup:
				d.mu.Lock()
				group, ok := d.bindGroups[cmd.Group]
				d.mu.Unlock()
				if !ok {
					encoder.DiscardEncoding()
					return fmt.Errorf("%w: bind group %d", gpucore.ErrInvalidHandle, cmd.Group)
				}
				rp.SetBindGroup(cmd.GroupIndex, group, cmd.DynamicOffsets)

			case gpucore.OpPushConstants:
				if current == nil || current.layout.pushLayout == nil {
					continue
				}
				if err := d.emulatePush(rp, fence, current.layout, cmd.Bytes); err != nil {
					encoder.DiscardEncoding()
					return err
				}

			case gpucore.OpDrawIndexed:
				rp.DrawIndexed(cmd.IndexCount, cmd.InstanceCount, cmd.FirstIndex, cmd.BaseVertex, 0)
			}
		}
	}
	rp.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("%w: end encoding: %v", gpucore.ErrLostDevice, err)
	}

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence.handle, 1); err != nil {
		d.device.FreeCommandBuffer(cmdBuf)
		return fmt.Errorf("%w: submit: %v", gpucore.ErrLostDevice, err)
	}

	d.mu.Lock()
	fence.garbage = append(fence.garbage, func() {
		d.device.FreeCommandBuffer(cmdBuf)
	})
	d.mu.Unlock()
	return nil
}

// emulatePush uploads a push-constant payload into a transient uniform
// buffer and binds it at the layout's emulation set. The buffer and group
// live until the submission's fence is destroyed.
func (d *Device) emulatePush(rp hal.RenderPassEncoder, fence *fenceEntry, layout *pipelineLayout, data []byte) error {
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "forge_push",
		Size:  uint64(layout.push.Size),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("%w: push upload: %v", gpucore.ErrOutOfMemory, err)
	}
	d.queue.WriteBuffer(buf, 0, data)

	group, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "forge_push_bind",
		Layout: layout.pushLayout,
		Entries: []gputypes.BindGroupEntry{{
			Binding: 0,
			Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(),
				Offset: 0,
				Size:   uint64(layout.push.Size),
			},
		}},
	})
	if err != nil {
		d.device.DestroyBuffer(buf)
		return fmt.Errorf("%w: push bind group: %v", gpucore.ErrLostDevice, err)
	}
	rp.SetBindGroup(layout.pushSet, group, nil)

	d.mu.Lock()
	fence.garbage = append(fence.garbage, func() {
		d.device.DestroyBindGroup(group)
		d.device.DestroyBuffer(buf)
	})
	d.mu.Unlock()
	return nil
}
