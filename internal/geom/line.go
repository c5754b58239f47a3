package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Line2 is an infinite directed line through P and Q. The direction runs
// from P to Q.
type Line2 struct {
	P, Q Point2
}

// LineThrough returns the line through p with direction dir.
func LineThrough(p, dir Point2) Line2 {
	return Line2{P: p, Q: r2.Add(p, dir)}
}

// IsDegenerate reports whether the defining points coincide.
func (l Line2) IsDegenerate() bool {
	return IsZero2(r2.Sub(l.Q, l.P))
}

// Direction returns the unit direction vector, or the zero vector for a
// degenerate line.
func (l Line2) Direction() Point2 {
	d := r2.Sub(l.Q, l.P)
	if IsZero2(d) {
		return Point2{}
	}
	return r2.Unit(d)
}

// Angle returns the direction angle in degrees in [0, 360).
func (l Line2) Angle() float64 {
	return NormalizeDegrees(Degrees(AngleOf(r2.Sub(l.Q, l.P))))
}

// AngleTo returns the counter-clockwise angle in degrees, in [0, 360), that
// rotates this line's direction onto dir.
func (l Line2) AngleTo(dir Point2) float64 {
	return NormalizeDegrees(Degrees(AngleOf(dir)) - l.Angle())
}

// Opposite returns the same supporting line with the direction flipped.
func (l Line2) Opposite() Line2 {
	return Line2{P: l.Q, Q: l.P}
}

// Translate shifts the line by v.
func (l Line2) Translate(v Point2) Line2 {
	return Line2{P: r2.Add(l.P, v), Q: r2.Add(l.Q, v)}
}

// SignedDistance returns the perpendicular distance from p to the line.
// Points left of the direction are positive. A degenerate line measures
// the plain distance to P.
func (l Line2) SignedDistance(p Point2) float64 {
	dir := l.Direction()
	if IsZero2(dir) {
		return r2.Norm(r2.Sub(p, l.P))
	}
	return r2.Cross(dir, r2.Sub(p, l.P))
}

// Project returns the foot of the perpendicular from p onto the line.
func (l Line2) Project(p Point2) Point2 {
	dir := l.Direction()
	if IsZero2(dir) {
		return l.P
	}
	t := r2.Dot(r2.Sub(p, l.P), dir)
	return r2.Add(l.P, r2.Scale(t, dir))
}

// Segment2 is a bounded directed segment from Source to Target.
type Segment2 struct {
	Source, Target Point2
}

// Length returns the segment length.
func (s Segment2) Length() float64 {
	return r2.Norm(r2.Sub(s.Target, s.Source))
}

// IsDegenerate reports whether the endpoints coincide.
func (s Segment2) IsDegenerate() bool {
	return IsZero2(r2.Sub(s.Target, s.Source))
}

// Midpoint returns the point halfway between the endpoints.
func (s Segment2) Midpoint() Point2 {
	return r2.Scale(0.5, r2.Add(s.Source, s.Target))
}

// SupportingLine returns the infinite line carrying the segment.
func (s Segment2) SupportingLine() Line2 {
	return Line2{P: s.Source, Q: s.Target}
}

// Opposite swaps the endpoints.
func (s Segment2) Opposite() Segment2 {
	return Segment2{Source: s.Target, Target: s.Source}
}

// SignedDistance returns the distance from p to the nearest point of the
// segment, signed by which side of the segment's direction p lies on
// (left positive). Points on the supporting line count as positive.
func (s Segment2) SignedDistance(p Point2) float64 {
	d := r2.Sub(s.Target, s.Source)
	len2 := r2.Dot(d, d)
	if len2 < Epsilon*Epsilon {
		return r2.Norm(r2.Sub(p, s.Source))
	}
	t := r2.Dot(r2.Sub(p, s.Source), d) / len2
	t = math.Max(0, math.Min(1, t))
	nearest := r2.Add(s.Source, r2.Scale(t, d))
	dist := r2.Norm(r2.Sub(p, nearest))
	if r2.Cross(d, r2.Sub(p, s.Source)) < 0 {
		return -dist
	}
	return dist
}

// Segment3 is a bounded segment in world space.
type Segment3 struct {
	Source, Target Point3
}

// To2D projects the segment onto the ground plane.
func (s Segment3) To2D() Segment2 {
	return Segment2{Source: To2D(s.Source), Target: To2D(s.Target)}
}
