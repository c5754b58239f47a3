package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineSignedDistance(t *testing.T) {
	t.Parallel()

	l := Line2{P: Point2{X: 0, Y: 0}, Q: Point2{X: 10, Y: 0}}
	assert.InDelta(t, 3, l.SignedDistance(Point2{X: 5, Y: 3}), 1e-12)
	assert.InDelta(t, -4, l.SignedDistance(Point2{X: -50, Y: -4}), 1e-12)
	assert.InDelta(t, -3, l.Opposite().SignedDistance(Point2{X: 5, Y: 3}), 1e-12)
}

func TestSegmentSignedDistanceClampsToEnds(t *testing.T) {
	t.Parallel()

	s := Segment2{Source: Point2{X: 0, Y: 0}, Target: Point2{X: 10, Y: 0}}
	assert.InDelta(t, 3, s.SignedDistance(Point2{X: 5, Y: 3}), 1e-12)
	// Beyond the target the nearest point is the endpoint itself.
	assert.InDelta(t, 5, s.SignedDistance(Point2{X: 14, Y: 3}), 1e-12)
	assert.InDelta(t, 3, s.SupportingLine().SignedDistance(Point2{X: 14, Y: 3}), 1e-12)
	assert.InDelta(t, -5, s.SignedDistance(Point2{X: 14, Y: -3}), 1e-12)
}

func TestLineAngleTo(t *testing.T) {
	t.Parallel()

	l := Line2{P: Point2{}, Q: Point2{X: 1, Y: 0}}
	tests := []struct {
		name string
		dir  Point2
		want float64
	}{
		{"same", Point2{X: 1}, 0},
		{"left", Point2{Y: 1}, 90},
		{"opposite", Point2{X: -1}, 180},
		{"right", Point2{Y: -1}, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, l.AngleTo(tt.dir), 1e-9)
		})
	}
}

func TestQuaternionRotateAndHeading(t *testing.T) {
	t.Parallel()

	q := FromHeading(math.Pi / 2)
	v := q.Rotate(Point3{X: 1})
	assert.InDelta(t, 0, v.X, 1e-12)
	assert.InDelta(t, 1, v.Y, 1e-12)
	assert.InDelta(t, 90, q.HeadingDegrees(), 1e-9)

	axis := FromAxisAngle(Point3{Z: 1}, -math.Pi/4)
	assert.InDelta(t, -45, axis.HeadingDegrees(), 1e-9)

	assert.Equal(t, Point3{X: 1, Y: 2, Z: 3}, Identity().Rotate(Point3{X: 1, Y: 2, Z: 3}))
}

func TestQuaternionNormalized(t *testing.T) {
	t.Parallel()

	if got := (Quaternion{}).Normalized(); got != Identity() {
		t.Fatalf("zero quaternion normalized to %v, want identity", got)
	}
	q := NewQuaternion(2, 0, 0, 0).Normalized()
	if !q.IsIdentity() {
		t.Fatalf("expected identity, got %v", q)
	}
}

func TestPolygonArea(t *testing.T) {
	t.Parallel()

	field := &PolygonWithHoles{
		Outer: Polygon{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}},
		Holes: []Polygon{{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 2, Y: 2}, {X: 1, Y: 2}}},
	}
	assert.InDelta(t, 99, field.Area(), 1e-12)
	assert.False(t, field.IsDegenerate())

	var none *PolygonWithHoles
	assert.True(t, none.IsDegenerate())

	flat := &PolygonWithHoles{Outer: Polygon{{X: 0}, {X: 5}, {X: 10}}}
	assert.True(t, flat.IsDegenerate())
}

func TestLineCrossesRing(t *testing.T) {
	t.Parallel()

	ring := Polygon{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	assert.True(t, LineCrossesRing(Line2{P: Point2{Y: 5}, Q: Point2{X: 1, Y: 5}}, ring))
	assert.True(t, LineCrossesRing(Line2{P: Point2{Y: 10}, Q: Point2{X: 1, Y: 10}}, ring))
	assert.False(t, LineCrossesRing(Line2{P: Point2{Y: 11}, Q: Point2{X: 1, Y: 11}}, ring))
}

func TestNormalizeDegrees(t *testing.T) {
	t.Parallel()

	for in, want := range map[float64]float64{-90: 270, 360: 0, 725: 5, 0: 0} {
		if got := NormalizeDegrees(in); math.Abs(got-want) > 1e-12 {
			t.Errorf("NormalizeDegrees(%v) = %v, want %v", in, got, want)
		}
	}
}
