package forge

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
)

// Vec3 is a three-component float vector.
type Vec3 struct {
	X, Y, Z float32
}

// Add returns v + u.
func (v Vec3) Add(u Vec3) Vec3 { return Vec3{v.X + u.X, v.Y + u.Y, v.Z + u.Z} }

// Sub returns v - u.
func (v Vec3) Sub(u Vec3) Vec3 { return Vec3{v.X - u.X, v.Y - u.Y, v.Z - u.Z} }

// Scale returns v scaled by s.
func (v Vec3) Scale(s float32) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Dot returns the dot product of v and u.
func (v Vec3) Dot(u Vec3) float32 { return v.X*u.X + v.Y*u.Y + v.Z*u.Z }

// Cross returns the cross product of v and u.
func (v Vec3) Cross(u Vec3) Vec3 {
	return Vec3{
		v.Y*u.Z - v.Z*u.Y,
		v.Z*u.X - v.X*u.Z,
		v.X*u.Y - v.Y*u.X,
	}
}

// Length returns the Euclidean length of v.
func (v Vec3) Length() float32 { return math32.Sqrt(v.Dot(v)) }

// Normalize returns v scaled to unit length. The zero vector is returned
// unchanged.
func (v Vec3) Normalize() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// Mat4 is a 4x4 matrix in column-major order, matching the memory layout
// shaders expect for uniform and push-constant blocks.
type Mat4 [16]float32

// Identity returns the identity matrix.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mul returns m * n.
func (m Mat4) Mul(n Mat4) Mat4 {
	var out Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m[k*4+row] * n[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

// MulVec transforms a point (w = 1) by m and returns the xyz of the result.
func (m Mat4) MulVec(v Vec3) Vec3 {
	x := m[0]*v.X + m[4]*v.Y + m[8]*v.Z + m[12]
	y := m[1]*v.X + m[5]*v.Y + m[9]*v.Z + m[13]
	z := m[2]*v.X + m[6]*v.Y + m[10]*v.Z + m[14]
	return Vec3{x, y, z}
}

// Bytes encodes the matrix as 64 little-endian bytes for uniform or
// push-constant upload.
func (m Mat4) Bytes() []byte {
	buf := make([]byte, 64)
	for i, f := range m {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Translation returns a translation matrix.
func Translation(v Vec3) Mat4 {
	out := Identity()
	out[12], out[13], out[14] = v.X, v.Y, v.Z
	return out
}

// Scaling returns a uniform or per-axis scaling matrix.
func Scaling(v Vec3) Mat4 {
	out := Identity()
	out[0], out[5], out[10] = v.X, v.Y, v.Z
	return out
}

// RotationY returns a rotation about the Y axis by angle radians.
func RotationY(angle float32) Mat4 {
	s, c := math32.Sincos(angle)
	out := Identity()
	out[0], out[8] = c, s
	out[2], out[10] = -s, c
	return out
}

// RotationX returns a rotation about the X axis by angle radians.
func RotationX(angle float32) Mat4 {
	s, c := math32.Sincos(angle)
	out := Identity()
	out[5], out[9] = c, -s
	out[6], out[10] = s, c
	return out
}

// Perspective returns a right-handed GL-style perspective projection with
// clip z in [-1, 1]. Compose with ClipCorrection before upload.
func Perspective(fovy, aspect, near, far float32) Mat4 {
	f := 1 / math32.Tan(fovy/2)
	var out Mat4
	out[0] = f / aspect
	out[5] = f
	out[10] = (far + near) / (near - far)
	out[11] = -1
	out[14] = (2 * far * near) / (near - far)
	return out
}

// LookAt returns a right-handed view matrix from eye toward center.
func LookAt(eye, center, up Vec3) Mat4 {
	fwd := center.Sub(eye).Normalize()
	side := fwd.Cross(up).Normalize()
	u := side.Cross(fwd)

	var out Mat4
	out[0], out[4], out[8] = side.X, side.Y, side.Z
	out[1], out[5], out[9] = u.X, u.Y, u.Z
	out[2], out[6], out[10] = -fwd.X, -fwd.Y, -fwd.Z
	out[12] = -side.Dot(eye)
	out[13] = -u.Dot(eye)
	out[14] = fwd.Dot(eye)
	out[15] = 1
	return out
}

// ClipCorrection maps GL-style clip space (y up, z in [-1, 1]) to the
// device convention (y down, z in [0, 1]). Multiply the projection by this
// on the left before uploading frame globals.
func ClipCorrection() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, -1, 0, 0,
		0, 0, 0.5, 0,
		0, 0, 0.5, 1,
	}
}
