// Package spatial holds the small amount of 3D and 6D vector algebra the
// engine needs on top of mgl64: skew matrices, twists, wrenches and a
// deterministic tangent basis for friction.
package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DoublePrec is the machine epsilon used for degenerate-direction checks.
const DoublePrec = 2.2204460492503131e-16

// Skew returns the cross-product matrix [v]x, so that Skew(v).Mul3x1(u) == v.Cross(u).
func Skew(v mgl64.Vec3) mgl64.Mat3 {
	// mgl64 matrices are column major
	return mgl64.Mat3{
		0, v[2], -v[1],
		-v[2], 0, v[0],
		v[1], -v[0], 0,
	}
}

// Perpendicular returns a unit vector perpendicular to n. The result depends
// only on n, so friction directions chosen from it are reproducible.
func Perpendicular(n mgl64.Vec3) mgl64.Vec3 {
	ax, ay, az := math.Abs(n[0]), math.Abs(n[1]), math.Abs(n[2])
	var axis mgl64.Vec3
	switch {
	case ax <= ay && ax <= az:
		axis = mgl64.Vec3{1, 0, 0}
	case ay <= az:
		axis = mgl64.Vec3{0, 1, 0}
	default:
		axis = mgl64.Vec3{0, 0, 1}
	}
	p := n.Cross(axis)
	l := p.Len()
	if l == 0 {
		return mgl64.Vec3{1, 0, 0}
	}
	return p.Mul(1 / l)
}

// TangentBasis returns two unit vectors spanning the plane perpendicular to n.
// If hint has a usable tangential component it becomes the first direction.
func TangentBasis(n, hint mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	t := hint.Sub(n.Mul(n.Dot(hint)))
	l := t.Len()
	if l > DoublePrec {
		t = t.Mul(1 / l)
	} else {
		t = Perpendicular(n)
	}
	return t, n.Cross(t)
}

// Wrench returns the 6-vector [f; r x f] produced by force f applied at
// world offset r from a body origin.
func Wrench(f, r mgl64.Vec3) [6]float64 {
	m := r.Cross(f)
	return [6]float64{f[0], f[1], f[2], m[0], m[1], m[2]}
}

// PointVelocity returns v + w x r.
func PointVelocity(v, w, r mgl64.Vec3) mgl64.Vec3 {
	return v.Add(w.Cross(r))
}

// Rotation returns the rotation matrix of q.
func Rotation(q mgl64.Quat) mgl64.Mat3 {
	return q.Normalize().Mat4().Mat3()
}

// IntegrateRotation advances q by angular velocity w (world frame) over h.
func IntegrateRotation(q mgl64.Quat, w mgl64.Vec3, h float64) mgl64.Quat {
	angle := w.Len() * h
	if angle < DoublePrec {
		return q
	}
	dq := mgl64.QuatRotate(angle, w.Normalize())
	return dq.Mul(q).Normalize()
}

// WorldInertia rotates a body-frame inertia into world coordinates.
func WorldInertia(body mgl64.Mat3, q mgl64.Quat) mgl64.Mat3 {
	r := Rotation(q)
	return r.Mul3(body).Mul3(r.Transpose())
}

// Vec3 reads three entries of buf starting at off.
func Vec3(buf []float64, off int) mgl64.Vec3 {
	return mgl64.Vec3{buf[off], buf[off+1], buf[off+2]}
}

// PutVec3 writes v into buf starting at off.
func PutVec3(buf []float64, off int, v mgl64.Vec3) {
	buf[off] = v[0]
	buf[off+1] = v[1]
	buf[off+2] = v[2]
}

// AddVec3 accumulates v into buf starting at off.
func AddVec3(buf []float64, off int, v mgl64.Vec3) {
	buf[off] += v[0]
	buf[off+1] += v[1]
	buf[off+2] += v[2]
}
