package frame

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/memory"
	"github.com/gogpu/forge/pipeline"
)

// slotState tracks where a FrameSlot is in its lifecycle. Retirement folds
// back into idle: a slot is retired by observing its fence and resetting,
// after which it is immediately reusable.
type slotState uint8

const (
	slotIdle slotState = iota
	slotRecording
	slotSubmitted
)

// uniformWindow is the byte range bound per dynamic uniform binding. The
// actual block offset is supplied per draw as a dynamic offset.
const uniformWindow = 16 << 10

// Slot is one in-flight frame's GPU-side state: the fence guarding reuse,
// the transient uniform ring, and the pipelines the frame references.
type Slot struct {
	index int
	state slotState

	// fence is the signal-on-completion fence of the last submission, or
	// InvalidID before the slot's first use. A fresh fence is created per
	// submission and destroyed at retirement.
	fence gpucore.FenceID

	ring     *memory.FrameRing
	retained []*pipeline.Pipeline

	// bindGroups caches descriptor sets keyed by layout and bound
	// textures. The ring buffer never moves and textures are immutable
	// handles, so groups survive across frames.
	bgMu       sync.Mutex
	bindGroups map[bindGroupKey]gpucore.BindGroupID
}

// bindGroupKey identifies one cached descriptor set: the layout plus an
// FNV-1a hash of the texture and sampler bindings filling it.
type bindGroupKey struct {
	layout gpucore.BindGroupLayoutID
	tex    uint64
}

func newSlot(dev gpucore.DeviceAdapter, index int, ringSize, align uint32) (*Slot, error) {
	ring, err := memory.NewFrameRing(dev, fmt.Sprintf("frame-slot-%d", index), ringSize, align)
	if err != nil {
		return nil, err
	}
	return &Slot{
		index:      index,
		ring:       ring,
		bindGroups: make(map[bindGroupKey]gpucore.BindGroupID),
	}, nil
}

// bindGroupFor returns the slot's descriptor set for a pipeline's set 0,
// creating it on first use. Buffer bindings point into the slot ring with
// dynamic offsets; image and sampler bindings come from the draw group's
// texture bindings. Per-group this is off the per-draw hot path.
func (s *Slot) bindGroupFor(dev gpucore.DeviceAdapter, p *pipeline.Pipeline,
	textures []TextureBinding) (gpucore.BindGroupID, error) {

	layout := p.SetLayout(0)
	if layout == gpucore.InvalidID {
		return gpucore.InvalidID, nil
	}

	key := bindGroupKey{layout: layout, tex: hashTextures(textures)}

	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if bg, ok := s.bindGroups[key]; ok {
		return bg, nil
	}

	window := uint64(uniformWindow)
	if rs := uint64(s.ring.Size()); rs < window {
		window = rs
	}
	var entries []gpucore.BindGroupEntry
	for _, e := range p.DescriptorLayout().SetEntries(0) {
		switch e.Kind {
		case gpucore.BindingUniformBuffer, gpucore.BindingStorageBuffer:
			entries = append(entries, gpucore.BindGroupEntry{
				Binding: e.Binding,
				Buffer:  s.ring.Buffer(),
				Size:    window,
			})
		case gpucore.BindingSampledImage:
			tex := textureAt(textures, e.Binding)
			if tex == gpucore.InvalidID {
				return gpucore.InvalidID, fmt.Errorf(
					"frame: no texture bound for set 0 binding %d: %w",
					e.Binding, gpucore.ErrLayoutConflict)
			}
			entries = append(entries, gpucore.BindGroupEntry{
				Binding: e.Binding,
				Texture: tex,
			})
		case gpucore.BindingSampler:
			smp := samplerAt(textures, e.Binding)
			if smp == gpucore.InvalidID {
				return gpucore.InvalidID, fmt.Errorf(
					"frame: no sampler bound for set 0 binding %d: %w",
					e.Binding, gpucore.ErrLayoutConflict)
			}
			entries = append(entries, gpucore.BindGroupEntry{
				Binding: e.Binding,
				Sampler: smp,
			})
		}
	}
	bg, err := dev.CreateBindGroup(&gpucore.BindGroupDescriptor{
		Label:   fmt.Sprintf("frame-slot-%d", s.index),
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("frame: slot %d bind group: %w", s.index, err)
	}
	s.bindGroups[key] = bg
	return bg, nil
}

func textureAt(textures []TextureBinding, binding uint32) gpucore.TextureID {
	for i := range textures {
		if textures[i].Binding == binding && textures[i].Texture != gpucore.InvalidID {
			return textures[i].Texture
		}
	}
	return gpucore.InvalidID
}

func samplerAt(textures []TextureBinding, binding uint32) gpucore.SamplerID {
	for i := range textures {
		if textures[i].Binding == binding && textures[i].Sampler != gpucore.InvalidID {
			return textures[i].Sampler
		}
	}
	return gpucore.InvalidID
}

func hashTextures(textures []TextureBinding) uint64 {
	h := fnv.New64a()
	var w [8]byte
	for i := range textures {
		binary.LittleEndian.PutUint32(w[:4], textures[i].Binding)
		h.Write(w[:4])
		binary.LittleEndian.PutUint64(w[:], uint64(textures[i].Texture))
		h.Write(w[:])
		binary.LittleEndian.PutUint64(w[:], uint64(textures[i].Sampler))
		h.Write(w[:])
	}
	return h.Sum64()
}

// retire resets the slot after its fence has been observed signaled:
// per-frame ring memory is recycled, in-flight pipeline references are
// dropped, and the spent fence is destroyed.
func (s *Slot) retire(dev gpucore.DeviceAdapter) {
	for _, p := range s.retained {
		p.Release()
	}
	s.retained = s.retained[:0]
	s.ring.Reset()
	if s.fence != gpucore.InvalidID {
		_ = dev.DestroyFence(s.fence)
		s.fence = gpucore.InvalidID
	}
	s.state = slotIdle
}

// destroy releases all device state owned by the slot.
func (s *Slot) destroy(dev gpucore.DeviceAdapter) {
	s.retire(dev)
	s.bgMu.Lock()
	for _, bg := range s.bindGroups {
		_ = dev.DestroyBindGroup(bg)
	}
	s.bindGroups = nil
	s.bgMu.Unlock()
	s.ring.Destroy(dev)
}
