package forge

import (
	"math"
	"testing"
)

const epsilon = 1e-5

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < epsilon
}

func matNear(t *testing.T, got, want Mat4) {
	t.Helper()
	for i := range got {
		if !near(got[i], want[i]) {
			t.Fatalf("matrix element %d = %v, want %v\ngot  %v\nwant %v", i, got[i], want[i], got, want)
		}
	}
}

func TestMat4IdentityMul(t *testing.T) {
	m := Translation(Vec3{1, 2, 3}).Mul(RotationY(0.7))
	matNear(t, Identity().Mul(m), m)
	matNear(t, m.Mul(Identity()), m)
}

func TestMat4MulVec(t *testing.T) {
	v := Translation(Vec3{10, 0, 0}).MulVec(Vec3{1, 2, 3})
	if !near(v.X, 11) || !near(v.Y, 2) || !near(v.Z, 3) {
		t.Fatalf("translated point = %+v", v)
	}
}

func TestMat4MulOrder(t *testing.T) {
	// Scale then translate: the point lands at translation + scaled offset.
	m := Translation(Vec3{5, 0, 0}).Mul(Scaling(Vec3{2, 2, 2}))
	v := m.MulVec(Vec3{1, 0, 0})
	if !near(v.X, 7) {
		t.Fatalf("composed transform moved x to %v, want 7", v.X)
	}
}

func TestRotationYQuarterTurn(t *testing.T) {
	v := RotationY(math.Pi / 2).MulVec(Vec3{1, 0, 0})
	if !near(v.X, 0) || !near(v.Z, -1) {
		t.Fatalf("quarter turn about Y gave %+v", v)
	}
}

func TestVec3Normalize(t *testing.T) {
	n := Vec3{3, 0, 4}.Normalize()
	if !near(n.Length(), 1) {
		t.Fatalf("normalized length = %v", n.Length())
	}
	if (Vec3{}).Normalize().Length() != 0 {
		t.Fatal("normalizing the zero vector must stay zero")
	}
}

func TestVec3Cross(t *testing.T) {
	c := Vec3{1, 0, 0}.Cross(Vec3{0, 1, 0})
	if !near(c.X, 0) || !near(c.Y, 0) || !near(c.Z, 1) {
		t.Fatalf("x cross y = %+v, want z", c)
	}
}

func TestLookAtOrigin(t *testing.T) {
	// Camera at +5z looking at the origin maps the origin to -5 along
	// the view z axis.
	view := LookAt(Vec3{0, 0, 5}, Vec3{}, Vec3{0, 1, 0})
	v := view.MulVec(Vec3{})
	if !near(v.X, 0) || !near(v.Y, 0) || !near(v.Z, -5) {
		t.Fatalf("origin in view space = %+v", v)
	}
}

func TestClipCorrectionDepthRange(t *testing.T) {
	// GL clip z in [-1, 1] must land in [0, 1] with y flipped.
	c := ClipCorrection()
	back := c.MulVec(Vec3{0, 1, -1})
	front := c.MulVec(Vec3{0, 1, 1})
	if !near(back.Z, 0) || !near(front.Z, 1) {
		t.Fatalf("depth remap gave near=%v far=%v", back.Z, front.Z)
	}
	if !near(back.Y, -1) {
		t.Fatalf("y flip gave %v", back.Y)
	}
}

func TestMat4BytesLayout(t *testing.T) {
	b := Identity().Bytes()
	if len(b) != 64 {
		t.Fatalf("matrix payload is %d bytes, want 64", len(b))
	}
	// Column-major: element [0] and [5] are the 1.0 diagonals.
	if b[0] != 0 || b[3] != 0x3f || b[20] != 0 || b[23] != 0x3f {
		t.Fatalf("unexpected little-endian layout: % x", b[:24])
	}
}
