package geom

import "math"

// Polygon is a closed ring of vertices; the closing edge is implicit.
type Polygon []Point2

// SignedArea returns the shoelace area, positive for counter-clockwise rings.
func (p Polygon) SignedArea() float64 {
	if len(p) < 3 {
		return 0
	}
	var sum float64
	for i := range p {
		a, b := p[i], p[(i+1)%len(p)]
		sum += a.X*b.Y - b.X*a.Y
	}
	return sum / 2
}

// Area returns the unsigned ring area.
func (p Polygon) Area() float64 {
	return math.Abs(p.SignedArea())
}

// PolygonWithHoles is a field boundary: one outer ring and zero or more holes.
type PolygonWithHoles struct {
	Outer Polygon
	Holes []Polygon
}

// Area returns the outer area minus the hole areas, never negative.
func (p *PolygonWithHoles) Area() float64 {
	if p == nil {
		return 0
	}
	a := p.Outer.Area()
	for _, h := range p.Holes {
		a -= h.Area()
	}
	return math.Max(0, a)
}

// IsDegenerate reports whether the polygon encloses no area.
func (p *PolygonWithHoles) IsDegenerate() bool {
	return p.Area() < Epsilon
}

// Clone returns a deep copy.
func (p *PolygonWithHoles) Clone() *PolygonWithHoles {
	if p == nil {
		return nil
	}
	c := &PolygonWithHoles{Outer: append(Polygon(nil), p.Outer...)}
	if len(p.Holes) > 0 {
		c.Holes = make([]Polygon, len(p.Holes))
		for i, h := range p.Holes {
			c.Holes[i] = append(Polygon(nil), h...)
		}
	}
	return c
}

// LineCrossesRing reports whether the infinite line touches or crosses the
// ring, i.e. the ring has vertices on both sides of it or on it.
func LineCrossesRing(l Line2, ring Polygon) bool {
	var left, right bool
	for _, v := range ring {
		d := l.SignedDistance(v)
		switch {
		case math.Abs(d) < Epsilon:
			return true
		case d > 0:
			left = true
		default:
			right = true
		}
		if left && right {
			return true
		}
	}
	return false
}
