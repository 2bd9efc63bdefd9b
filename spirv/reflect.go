package spirv

import (
	"fmt"
	"sort"

	"github.com/gogpu/forge/gpucore"
)

// StageBlob is one shader stage's bytecode plus its stable identity.
type StageBlob struct {
	// ID is the shader's stable identifier (content hash).
	ID string

	// Stage is the pipeline stage the bytecode serves.
	Stage gpucore.ShaderStage

	// Code is the SPIR-V bytecode.
	Code []byte
}

// Binding is one reflected resource slot.
type Binding struct {
	// Set is the descriptor set number.
	Set uint32

	// Binding is the binding number within the set.
	Binding uint32

	// Kind is the resource kind declared by the shader.
	Kind gpucore.BindingKind

	// Stages is the set of stages that declare the binding.
	Stages gpucore.StageMask
}

// PushRange is the merged push-constant byte range of all stages.
// A Size of zero means the material uses no push constants.
type PushRange struct {
	// Offset is the first byte of the range.
	Offset uint32

	// Size is the range length in bytes.
	Size uint32

	// Stages is the set of stages that read the range.
	Stages gpucore.StageMask
}

// End returns the exclusive end offset of the range.
func (r PushRange) End() uint32 { return r.Offset + r.Size }

// DescriptorLayout is the derived binding layout of one material: the
// ordered resource slots of all stages plus the merged push-constant range.
//
// Invariants: (set, binding) pairs are unique, bindings are sorted by
// (set, binding), and the push range is the byte-range union of all stages.
type DescriptorLayout struct {
	// Bindings is the ordered slot list.
	Bindings []Binding

	// Push is the merged push-constant range.
	Push PushRange
}

// SetCount returns the number of descriptor sets the layout spans
// (highest set number + 1), or zero for an empty layout.
func (l *DescriptorLayout) SetCount() uint32 {
	var n uint32
	for i := range l.Bindings {
		if l.Bindings[i].Set+1 > n {
			n = l.Bindings[i].Set + 1
		}
	}
	return n
}

// SetEntries converts one descriptor set of the layout into bind group
// layout entries for device creation. Uniform buffers in set 0 are given
// dynamic offsets: per-frame data is sub-allocated from a ring buffer.
func (l *DescriptorLayout) SetEntries(set uint32) []gpucore.BindGroupLayoutEntry {
	var entries []gpucore.BindGroupLayoutEntry
	for i := range l.Bindings {
		b := &l.Bindings[i]
		if b.Set != set {
			continue
		}
		entries = append(entries, gpucore.BindGroupLayoutEntry{
			Binding:          b.Binding,
			Kind:             b.Kind,
			Visibility:       b.Stages,
			HasDynamicOffset: set == 0 && b.Kind == gpucore.BindingUniformBuffer,
		})
	}
	return entries
}

// Reflect derives the descriptor layout of a material from the bytecode of
// its stages. maxPushBytes is the device's reported push-constant limit.
//
// Errors:
//   - gpucore.ErrCorrupt: a blob fails parsing.
//   - gpucore.ErrLayoutConflict: two stages declare the same (set, binding)
//     with different resource kinds, or the merged push range exceeds
//     maxPushBytes.
func Reflect(stages []StageBlob, maxPushBytes uint32) (*DescriptorLayout, error) {
	type slot struct {
		kind   gpucore.BindingKind
		stages gpucore.StageMask
	}
	type slotKey struct {
		set, binding uint32
	}
	slots := make(map[slotKey]*slot)
	var push PushRange

	for _, sb := range stages {
		m, err := parse(sb.Code)
		if err != nil {
			return nil, fmt.Errorf("stage %s (%s): %w", sb.Stage, sb.ID, err)
		}
		mask := sb.Stage.Mask()

		for _, v := range m.vars {
			t, typeID, ok := m.pointee(v.typeID)
			if !ok {
				continue
			}

			if v.class == classPushConstant {
				size := m.sizeOf(typeID)
				if size == 0 {
					continue
				}
				// Byte-range union: stages share one push-constant range
				// space, so offsets must line up rather than concatenate.
				var offset uint32
				if offs := m.memberOffsets[typeID]; len(offs) > 0 {
					offset = minOffset(offs)
				}
				if push.Size == 0 {
					push = PushRange{Offset: offset, Size: size - offset}
				} else {
					lo := min(push.Offset, offset)
					hi := max(push.End(), size)
					push.Offset, push.Size = lo, hi-lo
				}
				push.Stages |= mask
				continue
			}

			kind, ok := bindingKind(m, v, t, typeID)
			if !ok {
				continue
			}

			key := slotKey{set: m.sets[v.id], binding: m.bindings[v.id]}
			if existing, dup := slots[key]; dup {
				if existing.kind != kind {
					return nil, fmt.Errorf(
						"%w: set %d binding %d declared as %s and %s",
						gpucore.ErrLayoutConflict, key.set, key.binding, existing.kind, kind)
				}
				existing.stages |= mask
				continue
			}
			slots[key] = &slot{kind: kind, stages: mask}
		}
	}

	if push.Size > 0 && push.End() > maxPushBytes {
		return nil, fmt.Errorf("%w: push-constant range [%d,%d) exceeds device limit %d",
			gpucore.ErrLayoutConflict, push.Offset, push.End(), maxPushBytes)
	}

	layout := &DescriptorLayout{Push: push}
	for key, s := range slots {
		layout.Bindings = append(layout.Bindings, Binding{
			Set:     key.set,
			Binding: key.binding,
			Kind:    s.kind,
			Stages:  s.stages,
		})
	}
	sort.Slice(layout.Bindings, func(i, j int) bool {
		a, b := layout.Bindings[i], layout.Bindings[j]
		if a.Set != b.Set {
			return a.Set < b.Set
		}
		return a.Binding < b.Binding
	})
	return layout, nil
}

// bindingKind maps a module-scope variable to the resource kind it binds,
// or ok=false for variables that are not descriptor-bound (inputs, outputs,
// builtins).
func bindingKind(m *module, v variable, t typeInfo, typeID uint32) (gpucore.BindingKind, bool) {
	switch v.class {
	case classUniform:
		if m.buffer[typeID] {
			// Legacy SSBO: BufferBlock struct in Uniform storage.
			return gpucore.BindingStorageBuffer, true
		}
		if m.blocks[typeID] {
			return gpucore.BindingUniformBuffer, true
		}
	case classStorageBuffer:
		return gpucore.BindingStorageBuffer, true
	case classUniformConstant:
		switch t.kind {
		case kindImage, kindSampledImage:
			return gpucore.BindingSampledImage, true
		case kindSampler:
			return gpucore.BindingSampler, true
		}
	}
	return 0, false
}

func minOffset(offs map[uint32]uint32) uint32 {
	first := true
	var lo uint32
	for _, o := range offs {
		if first || o < lo {
			lo = o
			first = false
		}
	}
	return lo
}
