package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/gogpu/forge/gpucore"
)

// minimalSPIRV builds the smallest blob that passes header validation, with
// a trailing word to make each shader's content distinct.
func minimalSPIRV(seed uint32) []byte {
	words := []uint32{
		0x07230203, // magic
		0x00010300, // version 1.3
		0,          // generator
		1,          // bound
		0,          // schema
		seed,
	}
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenDSN(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), nil)
	if err != nil {
		t.Fatalf("OpenDSN: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.DB().Exec(Schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return s
}

func seedShader(t *testing.T, s *Store, stage string, code []byte) string {
	t.Helper()
	id := HashBytecode(code)
	_, err := s.DB().Exec(
		`INSERT OR IGNORE INTO shader (id, stage, bytecode) VALUES (?, ?, ?)`,
		id, stage, code)
	if err != nil {
		t.Fatalf("seed shader: %v", err)
	}
	return id
}

func seedMaterial(t *testing.T, s *Store, name string, shaderIDs ...string) {
	t.Helper()
	res, err := s.DB().Exec(`INSERT INTO material (name) VALUES (?)`, name)
	if err != nil {
		t.Fatalf("seed material: %v", err)
	}
	matID, _ := res.LastInsertId()
	for _, sid := range shaderIDs {
		_, err := s.DB().Exec(
			`INSERT OR IGNORE INTO shader_material (material_id, shader_id) VALUES (?, ?)`,
			matID, sid)
		if err != nil {
			t.Fatalf("seed association: %v", err)
		}
	}
}

func TestLoadShader(t *testing.T) {
	s := openTestStore(t)
	code := minimalSPIRV(1)
	id := seedShader(t, s, "vertex", code)

	got, err := s.LoadShader(id)
	if err != nil {
		t.Fatalf("LoadShader: %v", err)
	}
	if string(got) != string(code) {
		t.Fatal("bytecode mismatch")
	}
}

func TestLoadShaderNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadShader("no-such-id")
	if !errors.Is(err, gpucore.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestLoadShaderCorrupt(t *testing.T) {
	s := openTestStore(t)
	bad := []byte{0xde, 0xad, 0xbe, 0xef}
	id := HashBytecode(bad)
	if _, err := s.DB().Exec(
		`INSERT INTO shader (id, stage, bytecode) VALUES (?, 'vertex', ?)`, id, bad); err != nil {
		t.Fatal(err)
	}
	_, err := s.LoadShader(id)
	if !errors.Is(err, gpucore.ErrCorrupt) {
		t.Fatalf("got %v, want ErrCorrupt", err)
	}
}

func TestResolveMaterialStageOrder(t *testing.T) {
	s := openTestStore(t)
	frag := seedShader(t, s, "fragment", minimalSPIRV(2))
	vert := seedShader(t, s, "vertex", minimalSPIRV(3))
	// Associate fragment first to prove result order does not follow
	// insertion order.
	seedMaterial(t, s, "pbr", frag, vert)

	refs, err := s.ResolveMaterial("pbr")
	if err != nil {
		t.Fatalf("ResolveMaterial: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d shaders, want 2", len(refs))
	}
	if refs[0].Stage != gpucore.StageVertex || refs[0].ID != vert {
		t.Fatalf("refs[0] = %v %q, want vertex %q", refs[0].Stage, refs[0].ID, vert)
	}
	if refs[1].Stage != gpucore.StageFragment || refs[1].ID != frag {
		t.Fatalf("refs[1] = %v %q, want fragment %q", refs[1].Stage, refs[1].ID, frag)
	}
}

func TestResolveMaterialNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ResolveMaterial("missing")
	if !errors.Is(err, gpucore.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestResolveMaterialMissingStage(t *testing.T) {
	s := openTestStore(t)
	vert := seedShader(t, s, "vertex", minimalSPIRV(4))
	seedMaterial(t, s, "vertex-only", vert)

	_, err := s.ResolveMaterial("vertex-only")
	if !errors.Is(err, gpucore.ErrCorrupt) {
		t.Fatalf("got %v, want ErrCorrupt", err)
	}
}

func TestResolveMaterialDuplicateStage(t *testing.T) {
	s := openTestStore(t)
	v1 := seedShader(t, s, "vertex", minimalSPIRV(5))
	v2 := seedShader(t, s, "vertex", minimalSPIRV(6))
	frag := seedShader(t, s, "fragment", minimalSPIRV(7))
	seedMaterial(t, s, "doubled", v1, v2, frag)

	_, err := s.ResolveMaterial("doubled")
	if !errors.Is(err, gpucore.ErrCorrupt) {
		t.Fatalf("got %v, want ErrCorrupt", err)
	}
}

func TestResolveMaterialSharedBytecode(t *testing.T) {
	s := openTestStore(t)
	code := minimalSPIRV(8)
	// Two materials seeding identical vertex bytecode produce one shader
	// row keyed by content hash.
	vert := seedShader(t, s, "vertex", code)
	vert2 := seedShader(t, s, "vertex", code)
	if vert != vert2 {
		t.Fatalf("content hash differs: %q vs %q", vert, vert2)
	}
	fragA := seedShader(t, s, "fragment", minimalSPIRV(9))
	fragB := seedShader(t, s, "fragment", minimalSPIRV(10))
	seedMaterial(t, s, "a", vert, fragA)
	seedMaterial(t, s, "b", vert, fragB)

	refsA, err := s.ResolveMaterial("a")
	if err != nil {
		t.Fatal(err)
	}
	refsB, err := s.ResolveMaterial("b")
	if err != nil {
		t.Fatal(err)
	}
	if refsA[0].ID != refsB[0].ID {
		t.Fatal("shared vertex shader resolved to different identities")
	}
}

func TestMaterials(t *testing.T) {
	s := openTestStore(t)
	v := seedShader(t, s, "vertex", minimalSPIRV(11))
	f := seedShader(t, s, "fragment", minimalSPIRV(12))
	seedMaterial(t, s, "zebra", v, f)
	seedMaterial(t, s, "apple", v, f)

	names, err := s.Materials()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "apple" || names[1] != "zebra" {
		t.Fatalf("got %v, want [apple zebra]", names)
	}
}

func TestHashBytecodeStable(t *testing.T) {
	code := minimalSPIRV(13)
	if HashBytecode(code) != HashBytecode(append([]byte(nil), code...)) {
		t.Fatal("hash not stable across copies")
	}
	if HashBytecode(code) == HashBytecode(minimalSPIRV(14)) {
		t.Fatal("distinct bytecode hashed equal")
	}
}
