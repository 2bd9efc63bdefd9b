// Package fake provides an in-memory DeviceAdapter for tests and headless
// runs. Buffers are byte-backed, submissions are recorded for inspection,
// and fences can be switched to manual signaling to exercise slot-reuse
// and timeout paths deterministically.
//
// Importing the package registers the "fake" backend.
package fake

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/forge/gpucore"
)

// BackendName is the registry name of the fake backend.
const BackendName = "fake"

func init() {
	gpucore.Register(BackendName, func() (gpucore.DeviceAdapter, error) {
		return New(), nil
	})
}

// Submission is one recorded Submit call.
type Submission struct {
	// Fence is the fence armed by the submission.
	Fence gpucore.FenceID

	// Batches is a deep copy of the submitted command batches.
	Batches []gpucore.CommandBatch
}

type texture struct {
	desc gpucore.TextureDescriptor
	data []byte
}

type fence struct {
	done chan struct{}
	once sync.Once
}

func (f *fence) signal() { f.once.Do(func() { close(f.done) }) }

func (f *fence) signaled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Device is an in-memory DeviceAdapter. Safe for concurrent use.
type Device struct {
	mu     sync.Mutex
	nextID uint64
	closed bool

	limits gpucore.Limits

	buffers     map[gpucore.BufferID][]byte
	textures    map[gpucore.TextureID]*texture
	samplers    map[gpucore.SamplerID]gpucore.SamplerDescriptor
	shaders     map[gpucore.ShaderModuleID]gpucore.ShaderModuleDescriptor
	bgLayouts   map[gpucore.BindGroupLayoutID]gpucore.BindGroupLayoutDescriptor
	bindGroups  map[gpucore.BindGroupID]gpucore.BindGroupDescriptor
	pipeLayouts map[gpucore.PipelineLayoutID]gpucore.PipelineLayoutDescriptor
	pipelines   map[gpucore.PipelineID]gpucore.PipelineDescriptor
	fences      map[gpucore.FenceID]*fence

	manualFences   bool
	pipelineBuilds int
	submissions    []Submission

	// FailSubmit, when non-nil, is returned by every Submit call. Tests
	// set it to exercise device-loss paths.
	FailSubmit error
}

// New creates a fake device with default limits.
func New() *Device {
	return &Device{
		limits:      gpucore.DefaultLimits(),
		buffers:     make(map[gpucore.BufferID][]byte),
		textures:    make(map[gpucore.TextureID]*texture),
		samplers:    make(map[gpucore.SamplerID]gpucore.SamplerDescriptor),
		shaders:     make(map[gpucore.ShaderModuleID]gpucore.ShaderModuleDescriptor),
		bgLayouts:   make(map[gpucore.BindGroupLayoutID]gpucore.BindGroupLayoutDescriptor),
		bindGroups:  make(map[gpucore.BindGroupID]gpucore.BindGroupDescriptor),
		pipeLayouts: make(map[gpucore.PipelineLayoutID]gpucore.PipelineLayoutDescriptor),
		pipelines:   make(map[gpucore.PipelineID]gpucore.PipelineDescriptor),
		fences:      make(map[gpucore.FenceID]*fence),
	}
}

// SetManualFences switches fence signaling. When manual, Submit leaves the
// fence unsignaled until SignalFence is called; otherwise submission
// completes instantly.
func (d *Device) SetManualFences(manual bool) {
	d.mu.Lock()
	d.manualFences = manual
	d.mu.Unlock()
}

// SignalFence signals a fence from test code.
func (d *Device) SignalFence(f gpucore.FenceID) {
	d.mu.Lock()
	fn := d.fences[f]
	d.mu.Unlock()
	if fn != nil {
		fn.signal()
	}
}

// Submissions returns a copy of the recorded submissions.
func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Submission, len(d.submissions))
	copy(out, d.submissions)
	return out
}

// PipelineBuilds returns how many pipelines have been created.
func (d *Device) PipelineBuilds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelineBuilds
}

// PipelineDesc returns the stored descriptor of a pipeline.
func (d *Device) PipelineDesc(p gpucore.PipelineID) (gpucore.PipelineDescriptor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc, ok := d.pipelines[p]
	return desc, ok
}

// BufferData returns a copy of a buffer's contents.
func (d *Device) BufferData(buf gpucore.BufferID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.buffers[buf]
	if !ok {
		return nil
	}
	return append([]byte(nil), data...)
}

// BindGroupDesc returns the stored descriptor of a bind group.
func (d *Device) BindGroupDesc(g gpucore.BindGroupID) (gpucore.BindGroupDescriptor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc, ok := d.bindGroups[g]
	return desc, ok
}

// TextureData returns a copy of a texture's contents.
func (d *Device) TextureData(tex gpucore.TextureID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[tex]
	if !ok {
		return nil
	}
	return append([]byte(nil), t.data...)
}

// LiveTextures returns the number of undestroyed textures.
func (d *Device) LiveTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.textures)
}

// LiveBuffers returns the number of undestroyed buffers.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

func (d *Device) Name() string { return BackendName }

func (d *Device) Limits() gpucore.Limits { return d.limits }

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

func (d *Device) CreateBuffer(desc *gpucore.BufferDescriptor) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	if desc.Size > d.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("fake: buffer size %d exceeds limit %d: %w",
			desc.Size, d.limits.MaxBufferSize, gpucore.ErrOutOfMemory)
	}
	id := gpucore.BufferID(d.id())
	d.buffers[id] = make([]byte, desc.Size)
	return id, nil
}

func (d *Device) WriteBuffer(buf gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dst, ok := d.buffers[buf]
	if !ok {
		return fmt.Errorf("fake: write buffer %d: %w", buf, gpucore.ErrInvalidHandle)
	}
	if offset+uint64(len(data)) > uint64(len(dst)) {
		return fmt.Errorf("fake: write of %d bytes at %d exceeds buffer of %d: %w",
			len(data), offset, len(dst), gpucore.ErrInvalidHandle)
	}
	copy(dst[offset:], data)
	return nil
}

func (d *Device) DestroyBuffer(buf gpucore.BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[buf]; !ok {
		return fmt.Errorf("fake: destroy buffer %d: %w", buf, gpucore.ErrInvalidHandle)
	}
	delete(d.buffers, buf)
	return nil
}

func (d *Device) CreateTexture(desc *gpucore.TextureDescriptor) (gpucore.TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	size := uint64(desc.Width) * uint64(desc.Height) * uint64(desc.Format.TexelSize())
	if size > d.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("fake: texture of %d bytes exceeds limit %d: %w",
			size, d.limits.MaxBufferSize, gpucore.ErrOutOfMemory)
	}
	id := gpucore.TextureID(d.id())
	d.textures[id] = &texture{desc: *desc, data: make([]byte, size)}
	return id, nil
}

func (d *Device) WriteTexture(tex gpucore.TextureID, data []byte, bytesPerRow uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[tex]
	if !ok {
		return fmt.Errorf("fake: write texture %d: %w", tex, gpucore.ErrInvalidHandle)
	}
	if bytesPerRow != t.desc.Width*t.desc.Format.TexelSize() || len(data) != len(t.data) {
		return fmt.Errorf("fake: write of %d bytes (pitch %d) to %dx%d texture: %w",
			len(data), bytesPerRow, t.desc.Width, t.desc.Height, gpucore.ErrInvalidHandle)
	}
	copy(t.data, data)
	return nil
}

func (d *Device) DestroyTexture(tex gpucore.TextureID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.textures[tex]; !ok {
		return fmt.Errorf("fake: destroy texture %d: %w", tex, gpucore.ErrInvalidHandle)
	}
	delete(d.textures, tex)
	return nil
}

func (d *Device) CreateSampler(desc *gpucore.SamplerDescriptor) (gpucore.SamplerID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.SamplerID(d.id())
	d.samplers[id] = *desc
	return id, nil
}

func (d *Device) DestroySampler(s gpucore.SamplerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.samplers[s]; !ok {
		return fmt.Errorf("fake: destroy sampler %d: %w", s, gpucore.ErrInvalidHandle)
	}
	delete(d.samplers, s)
	return nil
}

func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDescriptor) (gpucore.ShaderModuleID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.ShaderModuleID(d.id())
	stored := *desc
	stored.SPIRV = append([]byte(nil), desc.SPIRV...)
	d.shaders[id] = stored
	return id, nil
}

func (d *Device) DestroyShaderModule(mod gpucore.ShaderModuleID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.shaders[mod]; !ok {
		return fmt.Errorf("fake: destroy shader module %d: %w", mod, gpucore.ErrInvalidHandle)
	}
	delete(d.shaders, mod)
	return nil
}

func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDescriptor) (gpucore.BindGroupLayoutID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.BindGroupLayoutID(d.id())
	stored := *desc
	stored.Entries = append([]gpucore.BindGroupLayoutEntry(nil), desc.Entries...)
	d.bgLayouts[id] = stored
	return id, nil
}

func (d *Device) DestroyBindGroupLayout(layout gpucore.BindGroupLayoutID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.bgLayouts[layout]; !ok {
		return fmt.Errorf("fake: destroy bind group layout %d: %w", layout, gpucore.ErrInvalidHandle)
	}
	delete(d.bgLayouts, layout)
	return nil
}

// CreateBindGroup checks the entries against the layout the way a real
// device validates descriptor sets: every layout slot must be filled, and
// each entry's resource must match its slot's kind.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDescriptor) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	layout, ok := d.bgLayouts[desc.Layout]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("fake: bind group layout %d: %w",
			desc.Layout, gpucore.ErrInvalidHandle)
	}
	if len(desc.Entries) != len(layout.Entries) {
		return gpucore.InvalidID, fmt.Errorf("fake: %d entries for a %d-binding layout: %w",
			len(desc.Entries), len(layout.Entries), gpucore.ErrLayoutConflict)
	}
	for _, le := range layout.Entries {
		e, found := entryAt(desc.Entries, le.Binding)
		if !found {
			return gpucore.InvalidID, fmt.Errorf("fake: layout binding %d has no entry: %w",
				le.Binding, gpucore.ErrLayoutConflict)
		}
		if err := d.checkEntryLocked(le, e); err != nil {
			return gpucore.InvalidID, err
		}
	}
	id := gpucore.BindGroupID(d.id())
	stored := *desc
	stored.Entries = append([]gpucore.BindGroupEntry(nil), desc.Entries...)
	d.bindGroups[id] = stored
	return id, nil
}

func entryAt(entries []gpucore.BindGroupEntry, binding uint32) (gpucore.BindGroupEntry, bool) {
	for _, e := range entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return gpucore.BindGroupEntry{}, false
}

func (d *Device) checkEntryLocked(le gpucore.BindGroupLayoutEntry, e gpucore.BindGroupEntry) error {
	switch le.Kind {
	case gpucore.BindingUniformBuffer, gpucore.BindingStorageBuffer:
		if _, ok := d.buffers[e.Buffer]; !ok {
			return fmt.Errorf("fake: binding %d (%s) bound to buffer %d: %w",
				le.Binding, le.Kind, e.Buffer, gpucore.ErrLayoutConflict)
		}
	case gpucore.BindingSampledImage:
		if _, ok := d.textures[e.Texture]; !ok {
			return fmt.Errorf("fake: binding %d (%s) bound to texture %d: %w",
				le.Binding, le.Kind, e.Texture, gpucore.ErrLayoutConflict)
		}
	case gpucore.BindingSampler:
		if _, ok := d.samplers[e.Sampler]; !ok {
			return fmt.Errorf("fake: binding %d (%s) bound to sampler %d: %w",
				le.Binding, le.Kind, e.Sampler, gpucore.ErrLayoutConflict)
		}
	}
	return nil
}

func (d *Device) DestroyBindGroup(group gpucore.BindGroupID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.bindGroups[group]; !ok {
		return fmt.Errorf("fake: destroy bind group %d: %w", group, gpucore.ErrInvalidHandle)
	}
	delete(d.bindGroups, group)
	return nil
}

func (d *Device) CreatePipelineLayout(desc *gpucore.PipelineLayoutDescriptor) (gpucore.PipelineLayoutID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	if desc.PushConstants.Size > d.limits.MaxPushConstantSize {
		return gpucore.InvalidID, fmt.Errorf("fake: push constant range %d exceeds limit %d: %w",
			desc.PushConstants.Size, d.limits.MaxPushConstantSize, gpucore.ErrLayoutConflict)
	}
	id := gpucore.PipelineLayoutID(d.id())
	stored := *desc
	stored.BindGroupLayouts = append([]gpucore.BindGroupLayoutID(nil), desc.BindGroupLayouts...)
	d.pipeLayouts[id] = stored
	return id, nil
}

func (d *Device) DestroyPipelineLayout(layout gpucore.PipelineLayoutID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pipeLayouts[layout]; !ok {
		return fmt.Errorf("fake: destroy pipeline layout %d: %w", layout, gpucore.ErrInvalidHandle)
	}
	delete(d.pipeLayouts, layout)
	return nil
}

func (d *Device) CreatePipeline(desc *gpucore.PipelineDescriptor) (gpucore.PipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	if _, ok := d.pipeLayouts[desc.Layout]; !ok {
		return gpucore.InvalidID, fmt.Errorf("fake: pipeline layout %d: %w",
			desc.Layout, gpucore.ErrInvalidHandle)
	}
	id := gpucore.PipelineID(d.id())
	d.pipelines[id] = *desc
	d.pipelineBuilds++
	return id, nil
}

func (d *Device) DestroyPipeline(p gpucore.PipelineID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pipelines[p]; !ok {
		return fmt.Errorf("fake: destroy pipeline %d: %w", p, gpucore.ErrInvalidHandle)
	}
	delete(d.pipelines, p)
	return nil
}

func (d *Device) CreateFence() (gpucore.FenceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.FenceID(d.id())
	d.fences[id] = &fence{done: make(chan struct{})}
	return id, nil
}

func (d *Device) DestroyFence(f gpucore.FenceID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fences[f]; !ok {
		return fmt.Errorf("fake: destroy fence %d: %w", f, gpucore.ErrInvalidHandle)
	}
	delete(d.fences, f)
	return nil
}

func (d *Device) FenceSignaled(f gpucore.FenceID) (bool, error) {
	d.mu.Lock()
	fn, ok := d.fences[f]
	d.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("fake: fence %d: %w", f, gpucore.ErrInvalidHandle)
	}
	return fn.signaled(), nil
}

func (d *Device) WaitFence(f gpucore.FenceID, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	fn, ok := d.fences[f]
	d.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("fake: fence %d: %w", f, gpucore.ErrInvalidHandle)
	}
	select {
	case <-fn.done:
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func (d *Device) Submit(batches []gpucore.CommandBatch, fenceID gpucore.FenceID) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return gpucore.ErrDeviceClosed
	}
	if d.FailSubmit != nil {
		err := d.FailSubmit
		d.mu.Unlock()
		return err
	}
	fn, ok := d.fences[fenceID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("fake: fence %d: %w", fenceID, gpucore.ErrInvalidHandle)
	}
	copied := make([]gpucore.CommandBatch, len(batches))
	for i, b := range batches {
		copied[i] = gpucore.CommandBatch{
			Label:    b.Label,
			Commands: append([]gpucore.Command(nil), b.Commands...),
		}
	}
	d.submissions = append(d.submissions, Submission{Fence: fenceID, Batches: copied})
	manual := d.manualFences
	d.mu.Unlock()

	if !manual {
		fn.signal()
	}
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	d.closed = true
	for _, fn := range d.fences {
		fn.signal()
	}
	return nil
}
