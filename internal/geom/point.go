package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Point2 is a point (or vector) in the ground plane.
type Point2 = r2.Vec

// Point3 is a point (or vector) in world space.
type Point3 = r3.Vec

// Epsilon is the length below which vectors are treated as zero.
const Epsilon = 1e-9

// To2D projects a world point onto the ground plane.
func To2D(p Point3) Point2 {
	return Point2{X: p.X, Y: p.Y}
}

// To3D lifts a ground point to world space at height z.
func To3D(p Point2, z float64) Point3 {
	return Point3{X: p.X, Y: p.Y, Z: z}
}

// IsZero2 reports whether v is shorter than Epsilon.
func IsZero2(v Point2) bool {
	return r2.Norm(v) < Epsilon
}

// LeftNormal returns v rotated by +90°.
func LeftNormal(v Point2) Point2 {
	return Point2{X: -v.Y, Y: v.X}
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * math.Pi / 180 }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }

// NormalizeDegrees maps a to [0, 360).
func NormalizeDegrees(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	// math.Mod can hand back 360 for tiny negative inputs after the shift.
	if a >= 360 {
		a -= 360
	}
	return a
}

// AngleOf returns the direction of v in radians.
func AngleOf(v Point2) float64 {
	return math.Atan2(v.Y, v.X)
}

// FromPolar returns the vector of the given length pointing at angle (radians).
func FromPolar(length, angle float64) Point2 {
	return Point2{X: length * math.Cos(angle), Y: length * math.Sin(angle)}
}
