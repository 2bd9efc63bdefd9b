package forge

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gogpu/forge/backend/fake"
	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/store"
)

// spvWords assembles a SPIR-V module from raw instruction words.
type spvWords struct {
	words []uint32
}

func newModule() *spvWords {
	return &spvWords{words: []uint32{spvMagic, 0x00010300, 0, 100, 0}}
}

const (
	spvMagic = 0x07230203

	opTypeFloat      = 22
	opTypeVector     = 23
	opTypeMatrix     = 24
	opTypeStruct     = 30
	opTypePointer    = 32
	opVariable       = 59
	opDecorate       = 71
	opMemberDecorate = 72

	decBlock   = 2
	decBinding = 33
	decSet     = 34
	decOffset  = 35

	classUniform      = 2
	classPushConstant = 9
)

func (b *spvWords) ins(op uint32, args ...uint32) *spvWords {
	b.words = append(b.words, uint32(len(args)+1)<<16|op)
	b.words = append(b.words, args...)
	return b
}

func (b *spvWords) bytes() []byte {
	out := make([]byte, len(b.words)*4)
	for i, w := range b.words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// vertexSPV declares a mat4 uniform block at set 0 binding 0 and a mat4
// push-constant block, the shape the engine expects of a lit vertex stage.
func vertexSPV() []byte {
	return newModule().
		ins(opTypeFloat, 2, 32).
		ins(opTypeVector, 3, 2, 4).
		ins(opTypeMatrix, 4, 3, 4).
		ins(opDecorate, 10, decBlock).
		ins(opMemberDecorate, 10, 0, decOffset, 0).
		ins(opDecorate, 20, decSet, 0).
		ins(opDecorate, 20, decBinding, 0).
		ins(opTypeStruct, 10, 4).
		ins(opTypePointer, 11, classUniform, 10).
		ins(opVariable, 11, 20, classUniform).
		ins(opDecorate, 12, decBlock).
		ins(opMemberDecorate, 12, 0, decOffset, 0).
		ins(opTypeStruct, 12, 4).
		ins(opTypePointer, 13, classPushConstant, 12).
		ins(opVariable, 13, 21, classPushConstant).
		bytes()
}

func fragmentSPV() []byte {
	return newModule().
		ins(opTypeFloat, 2, 32).
		ins(opTypeVector, 3, 2, 4).
		ins(opTypeMatrix, 4, 3, 4).
		ins(opDecorate, 10, decBlock).
		ins(opMemberDecorate, 10, 0, decOffset, 0).
		ins(opDecorate, 20, decSet, 0).
		ins(opDecorate, 20, decBinding, 0).
		ins(opTypeStruct, 10, 4).
		ins(opTypePointer, 11, classUniform, 10).
		ins(opVariable, 11, 20, classUniform).
		bytes()
}

func seedTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenDSN("file:"+t.Name()+"?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if _, err := st.DB().Exec(store.Schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	vs := vertexSPV()
	fs := fragmentSPV()
	vsID := store.HashBytecode(vs)
	fsID := store.HashBytecode(fs)
	for _, row := range []struct {
		id, stage string
		code      []byte
	}{
		{vsID, "vertex", vs},
		{fsID, "fragment", fs},
	} {
		if _, err := st.DB().Exec(
			`INSERT INTO shader (id, stage, bytecode) VALUES (?, ?, ?)`,
			row.id, row.stage, row.code,
		); err != nil {
			t.Fatalf("seed shader: %v", err)
		}
	}
	res, err := st.DB().Exec(`INSERT INTO material (name) VALUES (?)`, "lit")
	if err != nil {
		t.Fatalf("seed material: %v", err)
	}
	matID, _ := res.LastInsertId()
	for _, sid := range []string{vsID, fsID} {
		if _, err := st.DB().Exec(
			`INSERT INTO shader_material (material_id, shader_id) VALUES (?, ?)`,
			matID, sid,
		); err != nil {
			t.Fatalf("seed association: %v", err)
		}
	}
	return st
}

func newTestEngine(t *testing.T) (*Engine, *fake.Device) {
	t.Helper()
	dev := fake.New()
	eng, err := New(
		WithDeviceAdapter(dev),
		WithStore(seedTestStore(t)),
		WithWorkers(2),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := eng.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return eng, dev
}

func quadLayout() gpucore.VertexLayout {
	layout := gpucore.VertexLayout{Stride: 12, AttributeCount: 1}
	layout.Attributes[0] = gpucore.VertexAttribute{Location: 0, Format: gpucore.VertexFormatFloat32x3, Offset: 0}
	return layout
}

func quadMesh(t *testing.T, eng *Engine) *Mesh {
	t.Helper()
	mesh, err := eng.CreateMesh(make([]byte, 4*12), []uint32{0, 1, 2, 2, 1, 3}, quadLayout())
	if err != nil {
		t.Fatalf("CreateMesh: %v", err)
	}
	return mesh
}

func TestSubmitFrameDrawsThroughDevice(t *testing.T) {
	eng, dev := newTestEngine(t)
	mat, err := eng.LoadMaterial("lit")
	if err != nil {
		t.Fatalf("LoadMaterial: %v", err)
	}
	mesh := quadMesh(t, eng)
	defer mesh.Release()

	transform := Translation(Vec3{0, 0, -3})
	err = eng.SubmitFrame(Camera{View: Identity(), Projection: Identity()}, []DrawRequest{
		{Mesh: mesh, Material: mat, Transform: transform},
	})
	if err != nil {
		t.Fatalf("SubmitFrame: %v", err)
	}

	subs := dev.Submissions()
	if len(subs) != 1 {
		t.Fatalf("got %d submissions, want 1", len(subs))
	}
	draws := 0
	var push []byte
	for _, batch := range subs[0].Batches {
		draws += batch.DrawCount()
		for _, cmd := range batch.Commands {
			if cmd.Op == gpucore.OpPushConstants {
				push = cmd.Bytes
			}
		}
	}
	if draws != 1 {
		t.Fatalf("got %d draws, want 1", draws)
	}
	want := transform.Bytes()
	if string(push) != string(want) {
		t.Fatal("push constants do not carry the model transform")
	}
}

func TestTransformLeadsUniformBlockWithoutPushRange(t *testing.T) {
	eng, dev := newTestEngine(t)
	mat, err := eng.LoadMaterial("unlit_missing") // resolves to the fallback
	if err != nil {
		t.Fatalf("LoadMaterial: %v", err)
	}
	if mat.Layout.Push.Size != 0 {
		t.Fatalf("fallback declares a %d-byte push range", mat.Layout.Push.Size)
	}
	mesh := quadMesh(t, eng)
	defer mesh.Release()

	transform := Translation(Vec3{1, 2, 3})
	extra := bytes.Repeat([]byte{0xC3}, 32)
	if err := eng.SubmitFrame(Camera{View: Identity(), Projection: Identity()}, []DrawRequest{
		{Mesh: mesh, Material: mat, Transform: transform, Uniforms: extra},
	}); err != nil {
		t.Fatalf("SubmitFrame: %v", err)
	}

	// The staged per-draw block must carry the transform ahead of the
	// caller's uniforms. Locate the slot ring through the recorded bind
	// group and look for the combined block.
	var ringBuf gpucore.BufferID
	for _, batch := range dev.Submissions()[0].Batches {
		for _, cmd := range batch.Commands {
			if cmd.Op == gpucore.OpSetBindGroup {
				if desc, ok := dev.BindGroupDesc(cmd.Group); ok {
					ringBuf = desc.Entries[0].Buffer
				}
			}
		}
	}
	if ringBuf == gpucore.InvalidID {
		t.Fatal("no bind group recorded")
	}
	want := append(transform.Bytes(), extra...)
	if !bytes.Contains(dev.BufferData(ringBuf), want) {
		t.Fatal("model transform does not lead the per-draw uniform block")
	}
}

func TestCreateTextureUploadsPixels(t *testing.T) {
	eng, dev := newTestEngine(t)
	pixels := bytes.Repeat([]byte{0x11, 0x22, 0x33, 0xFF}, 4*4)
	tex, err := eng.CreateTexture(4, 4, pixels)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	if tex.Width() != 4 || tex.Height() != 4 {
		t.Fatalf("texture reports %dx%d, want 4x4", tex.Width(), tex.Height())
	}
	if !bytes.Equal(dev.TextureData(tex.img.ID()), pixels) {
		t.Fatal("uploaded pixels do not round-trip through the device")
	}

	tex.Release()
	if dev.LiveTextures() != 0 {
		t.Fatal("released texture still live on the device")
	}
}

func TestCreateTextureValidatesPixelSize(t *testing.T) {
	eng, _ := newTestEngine(t)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a contract violation panic")
		}
		if _, ok := r.(*gpucore.ContractViolation); !ok {
			t.Fatalf("panicked with %v, want *gpucore.ContractViolation", r)
		}
	}()
	eng.CreateTexture(4, 4, make([]byte, 8))
}

func TestLoadMaterialCached(t *testing.T) {
	eng, _ := newTestEngine(t)
	a, err := eng.LoadMaterial("lit")
	if err != nil {
		t.Fatalf("LoadMaterial: %v", err)
	}
	b, err := eng.LoadMaterial("lit")
	if err != nil {
		t.Fatalf("LoadMaterial: %v", err)
	}
	if a != b {
		t.Fatal("repeated loads must return the same material")
	}
	if a.Layout.Push.Size != 64 {
		t.Fatalf("reflected push range is %d bytes, want 64", a.Layout.Push.Size)
	}
}

func TestLoadMaterialFallback(t *testing.T) {
	eng, _ := newTestEngine(t)
	mat, err := eng.LoadMaterial("no_such_material")
	if err != nil {
		t.Fatalf("missing material must fall back, got %v", err)
	}
	if mat.Name != "fallback" {
		t.Fatalf("got material %q, want fallback", mat.Name)
	}
	again, err := eng.LoadMaterial("also_missing")
	if err != nil {
		t.Fatalf("LoadMaterial: %v", err)
	}
	if mat != again {
		t.Fatal("fallback material must be compiled once and shared")
	}
}

func TestCullFuncSkipsDraws(t *testing.T) {
	eng, dev := newTestEngine(t)
	mat, err := eng.LoadMaterial("lit")
	if err != nil {
		t.Fatalf("LoadMaterial: %v", err)
	}
	mesh := quadMesh(t, eng)
	defer mesh.Release()

	eng.SetCullFunc(func(*DrawRequest) bool { return false })
	if err := eng.SubmitFrame(Camera{View: Identity(), Projection: Identity()}, []DrawRequest{
		{Mesh: mesh, Material: mat},
	}); err != nil {
		t.Fatalf("SubmitFrame: %v", err)
	}

	subs := dev.Submissions()
	if len(subs) != 1 {
		t.Fatalf("culled frame must still submit, got %d submissions", len(subs))
	}
	for _, batch := range subs[0].Batches {
		if batch.DrawCount() != 0 {
			t.Fatal("culled draw reached the device")
		}
	}
}

func TestPrewarmBuildsOnce(t *testing.T) {
	eng, dev := newTestEngine(t)
	if err := eng.Prewarm([]string{"lit"}, quadLayout()); err != nil {
		t.Fatalf("Prewarm: %v", err)
	}
	if got := dev.PipelineBuilds(); got != 1 {
		t.Fatalf("prewarm built %d pipelines, want 1", got)
	}

	mat, _ := eng.LoadMaterial("lit")
	mesh := quadMesh(t, eng)
	defer mesh.Release()
	if err := eng.SubmitFrame(Camera{}, []DrawRequest{{Mesh: mesh, Material: mat}}); err != nil {
		t.Fatalf("SubmitFrame: %v", err)
	}
	if got := dev.PipelineBuilds(); got != 1 {
		t.Fatalf("frame rebuilt a prewarmed pipeline, %d builds", got)
	}
	if eng.PipelineHitRate() == 0 {
		t.Fatal("hit rate must reflect the prewarmed pipeline")
	}
}

func TestMeshReleaseReturnsMemory(t *testing.T) {
	eng, _ := newTestEngine(t)
	before := eng.MemoryStats().UsedBytes
	mesh := quadMesh(t, eng)
	during := eng.MemoryStats().UsedBytes
	if during <= before {
		t.Fatal("mesh creation did not account any memory")
	}
	mesh.Release()
	if after := eng.MemoryStats().UsedBytes; after != before {
		t.Fatalf("release left %d bytes accounted, want %d", after, before)
	}
}

func TestCreateMeshValidatesStride(t *testing.T) {
	eng, _ := newTestEngine(t)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a contract violation panic")
		}
		if _, ok := r.(*gpucore.ContractViolation); !ok {
			t.Fatalf("panicked with %v, want *gpucore.ContractViolation", r)
		}
	}()
	eng.CreateMesh(make([]byte, 10), []uint32{0}, quadLayout())
}

func TestSubmitAfterCloseFails(t *testing.T) {
	dev := fake.New()
	eng, err := New(WithDeviceAdapter(dev), WithStore(seedTestStore(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("second Close must be a no-op, got %v", err)
	}
	if err := eng.SubmitFrame(Camera{}, nil); err == nil {
		t.Fatal("SubmitFrame after Close must fail")
	}
}
