package spirv

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/gogpu/forge/gpucore"
)

// spvBuilder assembles minimal SPIR-V modules word by word for tests.
type spvBuilder struct {
	words []uint32
}

func newSPV() *spvBuilder {
	return &spvBuilder{words: []uint32{MagicNumber, 0x00010300, 0, 100, 0}}
}

func (b *spvBuilder) ins(op uint32, args ...uint32) *spvBuilder {
	b.words = append(b.words, uint32(len(args)+1)<<16|op)
	b.words = append(b.words, args...)
	return b
}

func (b *spvBuilder) bytes() []byte {
	out := make([]byte, len(b.words)*4)
	for i, w := range b.words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// commonTypes emits float/vec4/mat4 type declarations with fixed IDs
// 2 (f32), 3 (vec4), 4 (mat4).
func (b *spvBuilder) commonTypes() *spvBuilder {
	return b.
		ins(opTypeFloat, 2, 32).
		ins(opTypeVector, 3, 2, 4).
		ins(opTypeMatrix, 4, 3, 4)
}

// uniformBlock declares a two-mat4 uniform block (128 bytes) bound at the
// given set/binding, using IDs 10 (struct), 11 (pointer), varID.
func (b *spvBuilder) uniformBlock(set, binding, varID uint32) *spvBuilder {
	return b.
		ins(opDecorate, 10, decorationBlock).
		ins(opMemberDecorate, 10, 0, decorationOffset, 0).
		ins(opMemberDecorate, 10, 1, decorationOffset, 64).
		ins(opDecorate, varID, decorationDescriptorSet, set).
		ins(opDecorate, varID, decorationBinding, binding).
		ins(opTypeStruct, 10, 4, 4).
		ins(opTypePointer, 11, classUniform, 10).
		ins(opVariable, 11, varID, classUniform)
}

// pushBlock declares a one-mat4 push-constant block starting at the given
// byte offset, using IDs 12 (struct), 13 (pointer), varID.
func (b *spvBuilder) pushBlock(offset, varID uint32) *spvBuilder {
	return b.
		ins(opDecorate, 12, decorationBlock).
		ins(opMemberDecorate, 12, 0, decorationOffset, offset).
		ins(opTypeStruct, 12, 4).
		ins(opTypePointer, 13, classPushConstant, 12).
		ins(opVariable, 13, varID, classPushConstant)
}

// sampledImage declares a sampled image bound at the given set/binding,
// using IDs 5 (image), 6 (sampled image), 7 (pointer), varID.
func (b *spvBuilder) sampledImage(set, binding, varID uint32) *spvBuilder {
	return b.
		ins(opDecorate, varID, decorationDescriptorSet, set).
		ins(opDecorate, varID, decorationBinding, binding).
		ins(opTypeImage, 5, 2, 1, 0, 0, 0, 1, 0).
		ins(opTypeSampledImage, 6, 5).
		ins(opTypePointer, 7, classUniformConstant, 6).
		ins(opVariable, 7, varID, classUniformConstant)
}

func testVertex() []byte {
	return newSPV().commonTypes().uniformBlock(0, 0, 20).pushBlock(0, 21).bytes()
}

func testFragment() []byte {
	return newSPV().commonTypes().uniformBlock(0, 0, 20).sampledImage(0, 1, 30).bytes()
}

func testStages() []StageBlob {
	return []StageBlob{
		{ID: "vert-a", Stage: gpucore.StageVertex, Code: testVertex()},
		{ID: "frag-a", Stage: gpucore.StageFragment, Code: testFragment()},
	}
}

func TestEntryPoint(t *testing.T) {
	// "vs_main" packed little-endian with a null terminator word.
	code := newSPV().
		ins(15, 0, 1, 0x6d5f7376, 0x006e6961).
		ins(15, 4, 2, 0x6d5f7366, 0x006e6961).
		bytes()

	name, err := EntryPoint(code, gpucore.StageVertex)
	if err != nil {
		t.Fatalf("EntryPoint: %v", err)
	}
	if name != "vs_main" {
		t.Fatalf("vertex entry point = %q, want vs_main", name)
	}
	name, err = EntryPoint(code, gpucore.StageFragment)
	if err != nil {
		t.Fatalf("EntryPoint: %v", err)
	}
	if name != "fs_main" {
		t.Fatalf("fragment entry point = %q, want fs_main", name)
	}

	vertexOnly := newSPV().ins(15, 0, 1, 0x6e69616d, 0).bytes()
	if _, err := EntryPoint(vertexOnly, gpucore.StageFragment); !errors.Is(err, gpucore.ErrCorrupt) {
		t.Fatalf("missing entry point must be corrupt, got %v", err)
	}
	if name, _ := EntryPoint(vertexOnly, gpucore.StageVertex); name != "main" {
		t.Fatalf("entry point = %q, want main", name)
	}
}

func TestValidateHeader(t *testing.T) {
	if err := ValidateHeader(testVertex()); err != nil {
		t.Fatalf("valid module rejected: %v", err)
	}

	bad := testVertex()
	bad[0] ^= 0xff
	if err := ValidateHeader(bad); !errors.Is(err, gpucore.ErrCorrupt) {
		t.Errorf("bad magic: expected ErrCorrupt, got %v", err)
	}

	if err := ValidateHeader(testVertex()[:7]); !errors.Is(err, gpucore.ErrCorrupt) {
		t.Errorf("short module: expected ErrCorrupt, got %v", err)
	}

	odd := append(testVertex(), 0xAA)
	if err := ValidateHeader(odd); !errors.Is(err, gpucore.ErrCorrupt) {
		t.Errorf("unaligned module: expected ErrCorrupt, got %v", err)
	}
}

func TestReflectBindings(t *testing.T) {
	layout, err := Reflect(testStages(), 128)
	if err != nil {
		t.Fatal(err)
	}

	want := []Binding{
		{Set: 0, Binding: 0, Kind: gpucore.BindingUniformBuffer,
			Stages: gpucore.StageMaskVertex | gpucore.StageMaskFragment},
		{Set: 0, Binding: 1, Kind: gpucore.BindingSampledImage,
			Stages: gpucore.StageMaskFragment},
	}
	if !reflect.DeepEqual(layout.Bindings, want) {
		t.Errorf("bindings mismatch:\n got %+v\nwant %+v", layout.Bindings, want)
	}

	if layout.Push.Offset != 0 || layout.Push.Size != 64 {
		t.Errorf("push range: got [%d,%d), want [0,64)", layout.Push.Offset, layout.Push.End())
	}
	if layout.Push.Stages != gpucore.StageMaskVertex {
		t.Errorf("push stages: got %b", layout.Push.Stages)
	}
	if layout.SetCount() != 1 {
		t.Errorf("SetCount: got %d, want 1", layout.SetCount())
	}
}

func TestReflectDeterministic(t *testing.T) {
	a, err := Reflect(testStages(), 128)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Reflect(testStages(), 128)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("reflection of identical input produced different layouts")
	}
}

func TestReflectPushRangeUnion(t *testing.T) {
	// Vertex pushes [0,64), fragment pushes [64,128): the merged range is
	// the byte-range union, not a concatenation.
	stages := []StageBlob{
		{ID: "v", Stage: gpucore.StageVertex, Code: newSPV().commonTypes().pushBlock(0, 21).bytes()},
		{ID: "f", Stage: gpucore.StageFragment, Code: newSPV().commonTypes().pushBlock(64, 21).bytes()},
	}
	layout, err := Reflect(stages, 128)
	if err != nil {
		t.Fatal(err)
	}
	if layout.Push.Offset != 0 || layout.Push.End() != 128 {
		t.Errorf("push union: got [%d,%d), want [0,128)", layout.Push.Offset, layout.Push.End())
	}
	if layout.Push.Stages != gpucore.StageMaskVertex|gpucore.StageMaskFragment {
		t.Errorf("push stages: got %b", layout.Push.Stages)
	}
}

func TestReflectKindConflict(t *testing.T) {
	// Vertex declares (0,0) as a uniform buffer, fragment as a sampled
	// image: must fail, not silently pick one.
	stages := []StageBlob{
		{ID: "v", Stage: gpucore.StageVertex, Code: newSPV().commonTypes().uniformBlock(0, 0, 20).bytes()},
		{ID: "f", Stage: gpucore.StageFragment, Code: newSPV().commonTypes().sampledImage(0, 0, 30).bytes()},
	}
	_, err := Reflect(stages, 128)
	if !errors.Is(err, gpucore.ErrLayoutConflict) {
		t.Fatalf("expected ErrLayoutConflict, got %v", err)
	}
}

func TestReflectPushLimitExceeded(t *testing.T) {
	stages := []StageBlob{
		{ID: "v", Stage: gpucore.StageVertex, Code: newSPV().commonTypes().pushBlock(0, 21).bytes()},
	}
	_, err := Reflect(stages, 32)
	if !errors.Is(err, gpucore.ErrLayoutConflict) {
		t.Fatalf("expected ErrLayoutConflict for oversized push range, got %v", err)
	}
}

func TestReflectStorageBuffer(t *testing.T) {
	code := newSPV().commonTypes().
		ins(opDecorate, 10, decorationBlock).
		ins(opMemberDecorate, 10, 0, decorationOffset, 0).
		ins(opDecorate, 40, decorationDescriptorSet, 1).
		ins(opDecorate, 40, decorationBinding, 2).
		ins(opTypeRuntimeArray, 9, 4).
		ins(opTypeStruct, 10, 9).
		ins(opTypePointer, 11, classStorageBuffer, 10).
		ins(opVariable, 11, 40, classStorageBuffer).
		bytes()

	layout, err := Reflect([]StageBlob{{ID: "c", Stage: gpucore.StageCompute, Code: code}}, 128)
	if err != nil {
		t.Fatal(err)
	}
	if len(layout.Bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(layout.Bindings))
	}
	b := layout.Bindings[0]
	if b.Set != 1 || b.Binding != 2 || b.Kind != gpucore.BindingStorageBuffer {
		t.Errorf("unexpected binding %+v", b)
	}
	if layout.SetCount() != 2 {
		t.Errorf("SetCount: got %d, want 2", layout.SetCount())
	}
}

func TestReflectorCaches(t *testing.T) {
	r := NewReflector(128)

	a, err := r.Layout(testStages())
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Layout(testStages())
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("expected pointer-identical cached layout")
	}
	if r.Cached() != 1 {
		t.Errorf("expected 1 cached layout, got %d", r.Cached())
	}
}

func TestSetEntriesDynamicUniforms(t *testing.T) {
	layout, err := Reflect(testStages(), 128)
	if err != nil {
		t.Fatal(err)
	}
	entries := layout.SetEntries(0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entries[0].HasDynamicOffset {
		t.Error("set-0 uniform buffer should use a dynamic offset")
	}
	if entries[1].HasDynamicOffset {
		t.Error("sampled image must not use a dynamic offset")
	}
}
