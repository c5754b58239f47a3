package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Quaternion is an orientation. Only unit quaternions are meaningful; use
// Normalized on values from untrusted sources.
type Quaternion quat.Number

// Identity returns the identity rotation.
func Identity() Quaternion {
	return Quaternion{Real: 1}
}

// NewQuaternion builds a quaternion from its scalar and vector parts.
func NewQuaternion(w, x, y, z float64) Quaternion {
	return Quaternion{Real: w, Imag: x, Jmag: y, Kmag: z}
}

// FromAxisAngle returns the rotation of angle radians about axis.
func FromAxisAngle(axis Point3, angle float64) Quaternion {
	return Quaternion(r3.NewRotation(angle, axis))
}

// FromHeading returns a rotation about +Z by heading radians.
func FromHeading(heading float64) Quaternion {
	s, c := math.Sincos(heading / 2)
	return Quaternion{Real: c, Kmag: s}
}

// IsIdentity reports whether q leaves every vector unchanged.
func (q Quaternion) IsIdentity() bool {
	return q == Quaternion{Real: 1} || q == Quaternion{Real: -1}
}

// Normalized returns q scaled to unit length. The zero quaternion maps to
// the identity.
func (q Quaternion) Normalized() Quaternion {
	n := quat.Abs(quat.Number(q))
	if n < Epsilon {
		return Identity()
	}
	return Quaternion(quat.Scale(1/n, quat.Number(q)))
}

// Mul returns the composition q*p (p applied first).
func (q Quaternion) Mul(p Quaternion) Quaternion {
	return Quaternion(quat.Mul(quat.Number(q), quat.Number(p)))
}

// Conj returns the inverse of a unit quaternion.
func (q Quaternion) Conj() Quaternion {
	return Quaternion(quat.Conj(quat.Number(q)))
}

// Rotate applies the rotation to v.
func (q Quaternion) Rotate(v Point3) Point3 {
	if q.IsIdentity() {
		return v
	}
	return r3.Rotation(q).Rotate(v)
}

// Heading returns the rotation about +Z in radians, (-π, π].
func (q Quaternion) Heading() float64 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return math.Atan2(2*(x*y+w*z), 1-2*(x*x+z*z))
}

// HeadingDegrees returns Heading in degrees.
func (q Quaternion) HeadingDegrees() float64 {
	return Degrees(q.Heading())
}
