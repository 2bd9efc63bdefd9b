package wgpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/spirv"
)

// BackendName is the registry name of this backend.
const BackendName = "wgpu"

func init() {
	gpucore.Register(BackendName, func() (gpucore.DeviceAdapter, error) {
		return Open()
	})
}

// pipelineLayout tracks the HAL layout plus the push-constant emulation
// state derived from it.
type pipelineLayout struct {
	handle hal.PipelineLayout

	// pushLayout is the extra bind group layout appended for push-constant
	// emulation, nil when the layout declares no push range.
	pushLayout hal.BindGroupLayout

	// pushSet is the set index the emulation group binds at.
	pushSet uint32

	push gpucore.PushConstantRange
}

type pipelineEntry struct {
	handle hal.RenderPipeline
	layout *pipelineLayout
}

type shaderEntry struct {
	handle hal.ShaderModule
	entry  string
}

// textureEntry pairs a texture with the default 2D view shaders sample
// through.
type textureEntry struct {
	handle hal.Texture
	view   hal.TextureView
	width  uint32
	height uint32
	texel  uint32
}

type fenceEntry struct {
	handle hal.Fence

	// garbage holds transient per-submission resources released when the
	// fence is destroyed.
	garbage []func()
}

// Device implements gpucore.DeviceAdapter on the gogpu wgpu HAL.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	limits   gpucore.Limits
	name     string

	// sharedDevice marks a device owned by an external provider; Close
	// then releases the resource tables but not the device itself.
	sharedDevice bool

	nextID      uint64
	buffers     map[gpucore.BufferID]hal.Buffer
	textures    map[gpucore.TextureID]*textureEntry
	samplers    map[gpucore.SamplerID]hal.Sampler
	shaders     map[gpucore.ShaderModuleID]*shaderEntry
	bgLayouts   map[gpucore.BindGroupLayoutID]hal.BindGroupLayout
	bindGroups  map[gpucore.BindGroupID]hal.BindGroup
	pipeLayouts map[gpucore.PipelineLayoutID]*pipelineLayout
	pipelines   map[gpucore.PipelineID]*pipelineEntry
	fences      map[gpucore.FenceID]*fenceEntry

	target renderTarget

	closed bool
}

// Open opens the Vulkan HAL backend and wraps the first suitable adapter.
func Open() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("wgpu: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	d := newDevice(openDev.Device, openDev.Queue)
	d.instance = instance
	d.name = selected.Info.Name
	return d, nil
}

// OpenShared wraps a GPU device owned by an embedding application, so the
// engine renders on the same device that presents the window. The provider
// must expose HAL types via HalDevice() and HalQueue(); windowing layers
// built on gogpu do.
//
// The returned adapter does not own the device: Close releases the
// resources created through it but leaves the device to the provider.
func OpenShared(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}

	d := newDevice(device, queue)
	d.sharedDevice = true
	return d, nil
}

func newDevice(device hal.Device, queue hal.Queue) *Device {
	return &Device{
		device:      device,
		queue:       queue,
		limits:      gpucore.DefaultLimits(),
		buffers:     make(map[gpucore.BufferID]hal.Buffer),
		textures:    make(map[gpucore.TextureID]*textureEntry),
		samplers:    make(map[gpucore.SamplerID]hal.Sampler),
		shaders:     make(map[gpucore.ShaderModuleID]*shaderEntry),
		bgLayouts:   make(map[gpucore.BindGroupLayoutID]hal.BindGroupLayout),
		bindGroups:  make(map[gpucore.BindGroupID]hal.BindGroup),
		pipeLayouts: make(map[gpucore.PipelineLayoutID]*pipelineLayout),
		pipelines:   make(map[gpucore.PipelineID]*pipelineEntry),
		fences:      make(map[gpucore.FenceID]*fenceEntry),
	}
}

// Name returns the registry backend name.
func (d *Device) Name() string { return BackendName }

// AdapterName returns the GPU's reported name.
func (d *Device) AdapterName() string { return d.name }

// Limits reports the device capabilities.
func (d *Device) Limits() gpucore.Limits { return d.limits }

func (d *Device) allocID() uint64 {
	d.nextID++
	return d.nextID
}

// CreateBuffer allocates a device buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDescriptor) (gpucore.BufferID, error) {
	if desc.Size > d.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("%w: buffer size %d exceeds limit %d",
			gpucore.ErrOutOfMemory, desc.Size, d.limits.MaxBufferSize)
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: %v", gpucore.ErrOutOfMemory, err)
	}

	d.mu.Lock()
	id := gpucore.BufferID(d.allocID())
	d.buffers[id] = buf
	d.mu.Unlock()
	return id, nil
}

// WriteBuffer copies data into a buffer via the queue. The write lands
// before any later submission.
func (d *Device) WriteBuffer(buf gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	handle, ok := d.buffers[buf]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrInvalidHandle, buf)
	}
	d.queue.WriteBuffer(handle, offset, data)
	return nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(buf gpucore.BufferID) error {
	d.mu.Lock()
	handle, ok := d.buffers[buf]
	delete(d.buffers, buf)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrInvalidHandle, buf)
	}
	d.device.DestroyBuffer(handle)
	return nil
}

// CreateTexture allocates a 2D texture and its sampling view.
func (d *Device) CreateTexture(desc *gpucore.TextureDescriptor) (gpucore.TextureID, error) {
	mips := desc.MipLevels
	if mips == 0 {
		mips = 1
	}
	format := textureFormat(desc.Format)
	if format == gputypes.TextureFormatUndefined {
		return gpucore.InvalidID, fmt.Errorf("wgpu: texture format %v: %w",
			desc.Format, gpucore.ErrInvalidHandle)
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: mips,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         textureUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: %v", gpucore.ErrOutOfMemory, err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         desc.Label + "_view",
		Format:        format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: mips,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return gpucore.InvalidID, fmt.Errorf("wgpu: create texture view: %w", err)
	}

	d.mu.Lock()
	id := gpucore.TextureID(d.allocID())
	d.textures[id] = &textureEntry{
		handle: tex,
		view:   view,
		width:  desc.Width,
		height: desc.Height,
		texel:  desc.Format.TexelSize(),
	}
	d.mu.Unlock()
	return id, nil
}

// WriteTexture uploads tightly packed rows into mip level zero via the
// queue.
func (d *Device) WriteTexture(tex gpucore.TextureID, data []byte, bytesPerRow uint32) error {
	d.mu.Lock()
	entry, ok := d.textures[tex]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: texture %d", gpucore.ErrInvalidHandle, tex)
	}
	d.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: entry.handle, MipLevel: 0},
		data,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: bytesPerRow, RowsPerImage: entry.height},
		&hal.Extent3D{Width: entry.width, Height: entry.height, DepthOrArrayLayers: 1},
	)
	return nil
}

// DestroyTexture releases a texture and its view.
func (d *Device) DestroyTexture(tex gpucore.TextureID) error {
	d.mu.Lock()
	entry, ok := d.textures[tex]
	delete(d.textures, tex)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: texture %d", gpucore.ErrInvalidHandle, tex)
	}
	d.device.DestroyTextureView(entry.view)
	d.device.DestroyTexture(entry.handle)
	return nil
}

// CreateSampler creates a texture sampler.
func (d *Device) CreateSampler(desc *gpucore.SamplerDescriptor) (gpucore.SamplerID, error) {
	addr := addressMode(desc.AddressMode)
	smp, err := d.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: addr,
		AddressModeV: addr,
		AddressModeW: addr,
		MagFilter:    filterMode(desc.MagFilter),
		MinFilter:    filterMode(desc.MinFilter),
		MipmapFilter: filterMode(desc.MinFilter),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create sampler: %w", err)
	}

	d.mu.Lock()
	id := gpucore.SamplerID(d.allocID())
	d.samplers[id] = smp
	d.mu.Unlock()
	return id, nil
}

// DestroySampler releases a sampler.
func (d *Device) DestroySampler(s gpucore.SamplerID) error {
	d.mu.Lock()
	handle, ok := d.samplers[s]
	delete(d.samplers, s)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: sampler %d", gpucore.ErrInvalidHandle, s)
	}
	d.device.DestroySampler(handle)
	return nil
}

// CreateShaderModule compiles SPIR-V bytecode into a HAL shader module.
// The stage's entry point name is read from the bytecode so that modules
// from different compilers resolve correctly.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDescriptor) (gpucore.ShaderModuleID, error) {
	entry, err := spirv.EntryPoint(desc.SPIRV, desc.Stage)
	if err != nil {
		return gpucore.InvalidID, err
	}
	code := make([]uint32, len(desc.SPIRV)/4)
	for i := range code {
		code[i] = uint32(desc.SPIRV[i*4]) |
			uint32(desc.SPIRV[i*4+1])<<8 |
			uint32(desc.SPIRV[i*4+2])<<16 |
			uint32(desc.SPIRV[i*4+3])<<24
	}
	mod, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create shader module: %w", err)
	}

	d.mu.Lock()
	id := gpucore.ShaderModuleID(d.allocID())
	d.shaders[id] = &shaderEntry{handle: mod, entry: entry}
	d.mu.Unlock()
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(mod gpucore.ShaderModuleID) error {
	d.mu.Lock()
	entry, ok := d.shaders[mod]
	delete(d.shaders, mod)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: shader module %d", gpucore.ErrInvalidHandle, mod)
	}
	d.device.DestroyShaderModule(entry.handle)
	return nil
}

// CreateBindGroupLayout creates a descriptor set layout.
func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDescriptor) (gpucore.BindGroupLayoutID, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		entry, err := layoutEntry(e)
		if err != nil {
			return gpucore.InvalidID, err
		}
		entries[i] = entry
	}
	layout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create bind group layout: %w", err)
	}

	d.mu.Lock()
	id := gpucore.BindGroupLayoutID(d.allocID())
	d.bgLayouts[id] = layout
	d.mu.Unlock()
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (d *Device) DestroyBindGroupLayout(layout gpucore.BindGroupLayoutID) error {
	d.mu.Lock()
	handle, ok := d.bgLayouts[layout]
	delete(d.bgLayouts, layout)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: bind group layout %d", gpucore.ErrInvalidHandle, layout)
	}
	d.device.DestroyBindGroupLayout(handle)
	return nil
}

// CreateBindGroup creates a descriptor set bound to buffer ranges.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDescriptor) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	layout, ok := d.bgLayouts[desc.Layout]
	if !ok {
		d.mu.Unlock()
		return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", gpucore.ErrInvalidHandle, desc.Layout)
	}
	entries := make([]gputypes.BindGroupEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		entries[i] = gputypes.BindGroupEntry{Binding: e.Binding}
		switch {
		case e.Buffer != gpucore.InvalidID:
			buf, ok := d.buffers[e.Buffer]
			if !ok {
				d.mu.Unlock()
				return gpucore.InvalidID, fmt.Errorf("%w: buffer %d", gpucore.ErrInvalidHandle, e.Buffer)
			}
			entries[i].Resource = gputypes.BufferBinding{
				Buffer: buf.NativeHandle(),
				Offset: e.Offset,
				Size:   e.Size,
			}
		case e.Texture != gpucore.InvalidID:
			tex, ok := d.textures[e.Texture]
			if !ok {
				d.mu.Unlock()
				return gpucore.InvalidID, fmt.Errorf("%w: texture %d", gpucore.ErrInvalidHandle, e.Texture)
			}
			entries[i].Resource = gputypes.TextureViewBinding{
				TextureView: tex.view.NativeHandle(),
			}
		case e.Sampler != gpucore.InvalidID:
			smp, ok := d.samplers[e.Sampler]
			if !ok {
				d.mu.Unlock()
				return gpucore.InvalidID, fmt.Errorf("%w: sampler %d", gpucore.ErrInvalidHandle, e.Sampler)
			}
			entries[i].Resource = gputypes.SamplerBinding{
				Sampler: smp.NativeHandle(),
			}
		default:
			d.mu.Unlock()
			return gpucore.InvalidID, fmt.Errorf("%w: empty bind group entry %d", gpucore.ErrInvalidHandle, e.Binding)
		}
	}
	d.mu.Unlock()

	group, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create bind group: %w", err)
	}

	d.mu.Lock()
	id := gpucore.BindGroupID(d.allocID())
	d.bindGroups[id] = group
	d.mu.Unlock()
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (d *Device) DestroyBindGroup(group gpucore.BindGroupID) error {
	d.mu.Lock()
	handle, ok := d.bindGroups[group]
	delete(d.bindGroups, group)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: bind group %d", gpucore.ErrInvalidHandle, group)
	}
	d.device.DestroyBindGroup(handle)
	return nil
}

// CreatePipelineLayout creates a pipeline layout. A declared push-constant
// range appends one extra uniform-buffer set for emulation.
func (d *Device) CreatePipelineLayout(desc *gpucore.PipelineLayoutDescriptor) (gpucore.PipelineLayoutID, error) {
	if desc.PushConstants.Size > d.limits.MaxPushConstantSize {
		return gpucore.InvalidID, fmt.Errorf("%w: push range %d exceeds limit %d",
			gpucore.ErrLayoutConflict, desc.PushConstants.Size, d.limits.MaxPushConstantSize)
	}

	d.mu.Lock()
	sets := make([]hal.BindGroupLayout, len(desc.BindGroupLayouts))
	for i, id := range desc.BindGroupLayouts {
		layout, ok := d.bgLayouts[id]
		if !ok {
			d.mu.Unlock()
			return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", gpucore.ErrInvalidHandle, id)
		}
		sets[i] = layout
	}
	d.mu.Unlock()

	pl := &pipelineLayout{push: desc.PushConstants}
	if desc.PushConstants.Size > 0 {
		pushLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label: desc.Label + "_push",
			Entries: []gputypes.BindGroupLayoutEntry{{
				Binding:    0,
				Visibility: stageVisibility(desc.PushConstants.Stages),
				Buffer: &gputypes.BufferBindingLayout{
					Type:           gputypes.BufferBindingTypeUniform,
					MinBindingSize: uint64(desc.PushConstants.Size),
				},
			}},
		})
		if err != nil {
			return gpucore.InvalidID, fmt.Errorf("wgpu: create push emulation layout: %w", err)
		}
		pl.pushLayout = pushLayout
		pl.pushSet = uint32(len(sets))
		sets = append(sets, pushLayout)
	}

	handle, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: sets,
	})
	if err != nil {
		if pl.pushLayout != nil {
			d.device.DestroyBindGroupLayout(pl.pushLayout)
		}
		return gpucore.InvalidID, fmt.Errorf("wgpu: create pipeline layout: %w", err)
	}
	pl.handle = handle

	d.mu.Lock()
	id := gpucore.PipelineLayoutID(d.allocID())
	d.pipeLayouts[id] = pl
	d.mu.Unlock()
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (d *Device) DestroyPipelineLayout(layout gpucore.PipelineLayoutID) error {
	d.mu.Lock()
	pl, ok := d.pipeLayouts[layout]
	delete(d.pipeLayouts, layout)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: pipeline layout %d", gpucore.ErrInvalidHandle, layout)
	}
	d.device.DestroyPipelineLayout(pl.handle)
	if pl.pushLayout != nil {
		d.device.DestroyBindGroupLayout(pl.pushLayout)
	}
	return nil
}

// CreatePipeline builds a graphics pipeline state object.
func (d *Device) CreatePipeline(desc *gpucore.PipelineDescriptor) (gpucore.PipelineID, error) {
	d.mu.Lock()
	layout, ok := d.pipeLayouts[desc.Layout]
	if !ok {
		d.mu.Unlock()
		return gpucore.InvalidID, fmt.Errorf("%w: pipeline layout %d", gpucore.ErrInvalidHandle, desc.Layout)
	}
	vert, ok := d.shaders[desc.Vertex]
	if !ok {
		d.mu.Unlock()
		return gpucore.InvalidID, fmt.Errorf("%w: shader module %d", gpucore.ErrInvalidHandle, desc.Vertex)
	}
	frag, ok := d.shaders[desc.Fragment]
	if !ok {
		d.mu.Unlock()
		return gpucore.InvalidID, fmt.Errorf("%w: shader module %d", gpucore.ErrInvalidHandle, desc.Fragment)
	}
	d.mu.Unlock()

	halDesc := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout.handle,
		Vertex: hal.VertexState{
			Module:     vert.handle,
			EntryPoint: vert.entry,
			Buffers:    vertexLayout(desc.VertexLayout),
		},
		Fragment: &hal.FragmentState{
			Module:     frag.handle,
			EntryPoint: frag.entry,
			Targets: []gputypes.ColorTargetState{{
				Format:    textureFormat(desc.TargetFormat),
				Blend:     blendState(desc.State.Blend),
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: cullMode(desc.State.Cull),
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	}
	if desc.DepthFormat != gpucore.TextureFormatUndefined {
		halDesc.DepthStencil = &hal.DepthStencilState{
			Format:            textureFormat(desc.DepthFormat),
			DepthWriteEnabled: true,
			DepthCompare:      gputypes.CompareFunctionLessEqual,
			StencilFront: hal.StencilFaceState{
				Compare:     gputypes.CompareFunctionAlways,
				FailOp:      hal.StencilOperationKeep,
				DepthFailOp: hal.StencilOperationKeep,
				PassOp:      hal.StencilOperationKeep,
			},
			StencilBack: hal.StencilFaceState{
				Compare:     gputypes.CompareFunctionAlways,
				FailOp:      hal.StencilOperationKeep,
				DepthFailOp: hal.StencilOperationKeep,
				PassOp:      hal.StencilOperationKeep,
			},
		}
	}

	pipeline, err := d.device.CreateRenderPipeline(halDesc)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create pipeline: %w", err)
	}

	d.mu.Lock()
	id := gpucore.PipelineID(d.allocID())
	d.pipelines[id] = &pipelineEntry{handle: pipeline, layout: layout}
	d.mu.Unlock()
	return id, nil
}

// DestroyPipeline releases a pipeline.
func (d *Device) DestroyPipeline(p gpucore.PipelineID) error {
	d.mu.Lock()
	entry, ok := d.pipelines[p]
	delete(d.pipelines, p)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: pipeline %d", gpucore.ErrInvalidHandle, p)
	}
	d.device.DestroyRenderPipeline(entry.handle)
	return nil
}

// CreateFence creates an unsignaled fence.
func (d *Device) CreateFence() (gpucore.FenceID, error) {
	fence, err := d.device.CreateFence()
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create fence: %w", err)
	}
	d.mu.Lock()
	id := gpucore.FenceID(d.allocID())
	d.fences[id] = &fenceEntry{handle: fence}
	d.mu.Unlock()
	return id, nil
}

// DestroyFence releases a fence and any transient submission resources
// tied to it.
func (d *Device) DestroyFence(f gpucore.FenceID) error {
	d.mu.Lock()
	entry, ok := d.fences[f]
	delete(d.fences, f)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: fence %d", gpucore.ErrInvalidHandle, f)
	}
	for _, free := range entry.garbage {
		free()
	}
	d.device.DestroyFence(entry.handle)
	return nil
}

// FenceSignaled polls a fence without blocking.
func (d *Device) FenceSignaled(f gpucore.FenceID) (bool, error) {
	d.mu.Lock()
	entry, ok := d.fences[f]
	d.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: fence %d", gpucore.ErrInvalidHandle, f)
	}
	return d.device.Wait(entry.handle, 1, 0)
}

// WaitFence blocks until the fence signals or the timeout expires.
func (d *Device) WaitFence(f gpucore.FenceID, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	entry, ok := d.fences[f]
	d.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: fence %d", gpucore.ErrInvalidHandle, f)
	}
	return d.device.Wait(entry.handle, 1, timeout)
}

// Close tears down the adapter and every resource created through it.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.target.destroy(d.device)
	for _, entry := range d.fences {
		for _, free := range entry.garbage {
			free()
		}
		d.device.DestroyFence(entry.handle)
	}
	for _, entry := range d.pipelines {
		d.device.DestroyRenderPipeline(entry.handle)
	}
	for _, pl := range d.pipeLayouts {
		d.device.DestroyPipelineLayout(pl.handle)
		if pl.pushLayout != nil {
			d.device.DestroyBindGroupLayout(pl.pushLayout)
		}
	}
	for _, group := range d.bindGroups {
		d.device.DestroyBindGroup(group)
	}
	for _, layout := range d.bgLayouts {
		d.device.DestroyBindGroupLayout(layout)
	}
	for _, entry := range d.shaders {
		d.device.DestroyShaderModule(entry.handle)
	}
	for _, buf := range d.buffers {
		d.device.DestroyBuffer(buf)
	}
	for _, smp := range d.samplers {
		d.device.DestroySampler(smp)
	}
	for _, tex := range d.textures {
		d.device.DestroyTextureView(tex.view)
		d.device.DestroyTexture(tex.handle)
	}
	if !d.sharedDevice {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	return nil
}
