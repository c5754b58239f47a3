package plan

import (
	"fmt"

	"github.com/fieldguide/guidance/internal/geom"
	"gonum.org/v1/gonum/spatial/r2"
)

// Kind discriminates the geometry carried by a Primitive.
type Kind uint8

const (
	KindLine    Kind = iota + 1 // infinite line
	KindSegment                 // bounded segment
	KindCircle                  // reserved: arc around a centre
)

func (k Kind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindSegment:
		return "segment"
	case KindCircle:
		return "circle"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Circle is the payload of a KindCircle primitive. Clockwise selects the
// travel sense; Reverse toggles it.
type Circle struct {
	Center    geom.Point2
	Radius    float64
	Clockwise bool
}

// Primitive is one element of a plan. The zero value has no kind and is
// never produced by the constructors.
type Primitive struct {
	kind Kind

	// AnyDirection is true if the vehicle may traverse the primitive facing
	// either way.
	AnyDirection bool
	// ImplementWidth is the lateral spacing of the pass family this
	// primitive belongs to.
	ImplementWidth float64
	// PassNumber identifies the primitive within its plan.
	PassNumber int32

	line    geom.Line2
	segment geom.Segment2
	circle  Circle
}

// NewLine returns a line primitive.
func NewLine(l geom.Line2, implementWidth float64, passNumber int32, anyDirection bool) Primitive {
	return Primitive{
		kind:           KindLine,
		line:           l,
		ImplementWidth: implementWidth,
		PassNumber:     passNumber,
		AnyDirection:   anyDirection,
	}
}

// NewSegment returns a segment primitive.
func NewSegment(s geom.Segment2, implementWidth float64, passNumber int32, anyDirection bool) Primitive {
	return Primitive{
		kind:           KindSegment,
		segment:        s,
		ImplementWidth: implementWidth,
		PassNumber:     passNumber,
		AnyDirection:   anyDirection,
	}
}

// NewCircle returns a circle primitive.
func NewCircle(c Circle, implementWidth float64, passNumber int32, anyDirection bool) Primitive {
	return Primitive{
		kind:           KindCircle,
		circle:         c,
		ImplementWidth: implementWidth,
		PassNumber:     passNumber,
		AnyDirection:   anyDirection,
	}
}

// Kind returns the variant tag.
func (p Primitive) Kind() Kind { return p.kind }

// Line returns the line payload if p is a line.
func (p Primitive) Line() (geom.Line2, bool) {
	return p.line, p.kind == KindLine
}

// Segment returns the segment payload if p is a segment.
func (p Primitive) Segment() (geom.Segment2, bool) {
	return p.segment, p.kind == KindSegment
}

// Circle returns the circle payload if p is a circle.
func (p Primitive) Circle() (Circle, bool) {
	return p.circle, p.kind == KindCircle
}

// Direction returns the unit travel direction for lines and segments, and
// the zero vector for circles.
func (p Primitive) Direction() geom.Point2 {
	switch p.kind {
	case KindLine:
		return p.line.Direction()
	case KindSegment:
		return p.segment.SupportingLine().Direction()
	default:
		return geom.Point2{}
	}
}

// DistanceToPoint returns the signed distance from pt to the primitive's
// geometry, positive to the left of the travel direction. Lines measure to
// their infinite extent, segments to their nearest point. For circles the
// value is the radial distance, positive outside.
func (p Primitive) DistanceToPoint(pt geom.Point2) float64 {
	switch p.kind {
	case KindLine:
		return p.line.SignedDistance(pt)
	case KindSegment:
		return p.segment.SignedDistance(pt)
	case KindCircle:
		return r2.Norm(r2.Sub(pt, p.circle.Center)) - p.circle.Radius
	default:
		return 0
	}
}

// Reverse returns p with its travel direction flipped. PassNumber,
// ImplementWidth and AnyDirection are preserved.
func (p Primitive) Reverse() Primitive {
	switch p.kind {
	case KindLine:
		p.line = p.line.Opposite()
	case KindSegment:
		p.segment = p.segment.Opposite()
	case KindCircle:
		p.circle.Clockwise = !p.circle.Clockwise
	}
	return p
}

// Equal compares primitives the way plan diffing needs: lines are equal when
// their pass numbers match regardless of geometry, segments and circles when
// their geometry matches exactly. Primitives of different kinds are never
// equal.
func (p Primitive) Equal(o Primitive) bool {
	if p.kind != o.kind {
		return false
	}
	switch p.kind {
	case KindLine:
		return p.PassNumber == o.PassNumber
	case KindSegment:
		return p.segment == o.segment
	case KindCircle:
		return p.circle == o.circle
	default:
		return true
	}
}

// GeometryEqual reports exact geometric equality, ignoring the attributes.
func (p Primitive) GeometryEqual(o Primitive) bool {
	if p.kind != o.kind {
		return false
	}
	switch p.kind {
	case KindLine:
		return p.line == o.line
	case KindSegment:
		return p.segment == o.segment
	case KindCircle:
		return p.circle == o.circle
	default:
		return true
	}
}

func (p Primitive) String() string {
	switch p.kind {
	case KindLine:
		return fmt.Sprintf("line#%d (%.3f,%.3f)->(%.3f,%.3f)", p.PassNumber, p.line.P.X, p.line.P.Y, p.line.Q.X, p.line.Q.Y)
	case KindSegment:
		return fmt.Sprintf("segment#%d (%.3f,%.3f)->(%.3f,%.3f)", p.PassNumber, p.segment.Source.X, p.segment.Source.Y, p.segment.Target.X, p.segment.Target.Y)
	case KindCircle:
		return fmt.Sprintf("circle#%d c=(%.3f,%.3f) r=%.3f", p.PassNumber, p.circle.Center.X, p.circle.Center.Y, p.circle.Radius)
	default:
		return "primitive(none)"
	}
}
