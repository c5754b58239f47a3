// Package localplanner picks the one plan line the vehicle should track and
// orients it to match the vehicle's heading.
package localplanner

import (
	"math"

	"github.com/fieldguide/guidance/internal/geom"
	"github.com/fieldguide/guidance/internal/kinematic"
	"github.com/fieldguide/guidance/internal/plan"
)

// Reversal window in degrees, both ends inclusive. A line whose direction is
// this far off the heading in either rotational sense is flipped.
const (
	ReverseFromDegrees = 80.0
	ReverseToDegrees   = 280.0

	// angleTolerance absorbs round-off so headings built from exact boundary
	// values still land inside the window.
	angleTolerance = 1e-9
)

// ActiveListener receives every plan the selector publishes.
type ActiveListener func(p *plan.Plan)

// Selector tracks a plan and publishes the nearest line for each pose. It is
// not safe for concurrent use.
type Selector struct {
	tracked *plan.Plan
	// prims is the selector's own copy; reversals are applied here and
	// persist until the next SetPlan.
	prims     []plan.Primitive
	active    *plan.Plan
	listeners []ActiveListener
}

// New returns a selector tracking an empty plan.
func New() *Selector {
	empty := plan.Empty(plan.TypeOnlyLines)
	return &Selector{tracked: empty, active: empty}
}

// OnActiveChanged registers fn to be called on every publication.
func (s *Selector) OnActiveChanged(fn ActiveListener) {
	s.listeners = append(s.listeners, fn)
}

// Active returns the last published plan.
func (s *Selector) Active() *plan.Plan { return s.active }

// Tracked returns the plan the selector searches.
func (s *Selector) Tracked() *plan.Plan { return s.tracked }

// SetPlan replaces the tracked plan and republishes it unfiltered.
func (s *Selector) SetPlan(p *plan.Plan) {
	if p == nil {
		p = plan.Empty(plan.TypeOnlyLines)
	}
	s.tracked = p
	s.prims = p.Primitives()
	diagf("tracking run %d with %d primitives", p.RunNumber(), p.Len())
	s.publish(p)
}

// SetPose selects the line nearest to the pose, reverses it if it points
// away from the heading, and publishes it as a one-element plan. It returns
// false when the tracked plan has no lines. Local offset poses are ignored.
func (s *Selector) SetPose(pose kinematic.Pose) (plan.Primitive, bool) {
	if pose.Options.Has(kinematic.CalculateLocalOffsets) {
		return plan.Primitive{}, false
	}
	pt := pose.Position2D()

	best := -1
	bestDist := math.Inf(1)
	for i, prim := range s.prims {
		if prim.Kind() != plan.KindLine {
			continue
		}
		if d := math.Abs(prim.DistanceToPoint(pt)); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		if len(s.prims) > 0 {
			opsf("run %d has no line primitives", s.tracked.RunNumber())
		}
		return plan.Primitive{}, false
	}

	chosen := s.prims[best]
	if chosen.AnyDirection && needsReversal(chosen, pose.Orientation.Heading()) {
		chosen = chosen.Reverse()
		s.prims[best] = chosen
		diagf("pass %d reversed to match heading %.1f°", chosen.PassNumber, pose.Orientation.HeadingDegrees())
	}
	tracef("pass %d at %.3f m", chosen.PassNumber, bestDist)

	active, err := plan.New(s.tracked.Type(), s.tracked.RunNumber(), chosen)
	if err != nil {
		opsf("publish pass %d: %v", chosen.PassNumber, err)
		return chosen, true
	}
	s.publish(active)
	return chosen, true
}

// needsReversal reports whether the counter-clockwise angle from the line's
// direction to the heading falls in the reversal window.
func needsReversal(prim plan.Primitive, heading float64) bool {
	l, _ := prim.Line()
	a := l.AngleTo(geom.FromPolar(1, heading))
	return a >= ReverseFromDegrees-angleTolerance && a <= ReverseToDegrees+angleTolerance
}

func (s *Selector) publish(p *plan.Plan) {
	s.active = p
	for _, fn := range s.listeners {
		fn(p)
	}
}
