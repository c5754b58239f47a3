package globalplanner

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/fieldguide/guidance/internal/geom"
	"github.com/fieldguide/guidance/internal/plan"
)

// Status classifies the outcome of a plan computation or an ignored command.
type Status uint8

const (
	StatusOK Status = iota
	// StatusDegenerateBaseline means A and B coincide in the ground plane.
	StatusDegenerateBaseline
	// StatusZeroImplementWidth means the implement edges coincide so no
	// offset passes can be spaced.
	StatusZeroImplementWidth
	// StatusDegenerateField means the field boundary encloses no area.
	StatusDegenerateField
	// StatusIgnored means a command arrived in a state that cannot use it.
	StatusIgnored
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDegenerateBaseline:
		return "degenerate-baseline"
	case StatusZeroImplementWidth:
		return "zero-implement-width"
	case StatusDegenerateField:
		return "degenerate-field"
	case StatusIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Report describes the last computation or command outcome.
type Report struct {
	Status    Status
	Message   string
	RunNumber uint32
}

// Settings are the user-facing generation parameters.
type Settings struct {
	PathsToGenerate int
	PathsInReserve  int
	ForwardPasses   int
	ReversePasses   int
	StartRight      bool
	Mirror          bool
}

// Partitioned reports whether passes alternate between forward and reverse
// groups.
func (s Settings) Partitioned() bool {
	return s.ForwardPasses > 0 && s.ReversePasses > 0
}

// Inputs is the snapshot a computation works from. It shares nothing with
// the planner that produced it.
type Inputs struct {
	A, B geom.Point3
	// Heading is the vehicle heading in radians when B was captured, used
	// as the baseline direction if A and B coincide.
	Heading          float64
	ImplementSegment geom.Segment2
	Settings         Settings
	Field            *geom.PolygonWithHoles
	MaxPasses        int
}

// Result is a finished computation tagged with the run number it was
// started under.
type Result struct {
	RunNumber uint32
	Plan      *plan.Plan
	Report    Report
}

// CreatePlanAB builds the pass family for in. It is pure and safe to call
// from any goroutine.
func CreatePlanAB(in Inputs, runNumber uint32) Result {
	a2, b2 := geom.To2D(in.A), geom.To2D(in.B)
	width := in.ImplementSegment.Length()
	report := Report{Status: StatusOK, RunNumber: runNumber}

	var baseline geom.Line2
	if geom.IsZero2(r2.Sub(b2, a2)) {
		baseline = geom.LineThrough(a2, geom.FromPolar(1, in.Heading))
		report.Status = StatusDegenerateBaseline
		report.Message = fmt.Sprintf("A and B coincide at (%.3f,%.3f), using heading %.1f°", a2.X, a2.Y, geom.NormalizeDegrees(geom.Degrees(in.Heading)))
	} else {
		baseline = geom.Line2{P: a2, Q: b2}
	}

	field := in.Field
	if report.Status == StatusOK && width < geom.Epsilon {
		report.Status = StatusZeroImplementWidth
		report.Message = "implement edges coincide, emitting baseline only"
	}
	if report.Status == StatusOK && field != nil && field.IsDegenerate() {
		report.Status = StatusDegenerateField
		report.Message = fmt.Sprintf("field area %.6f, emitting baseline only", field.Area())
	}

	s := in.Settings
	total := 1 + s.PathsToGenerate + s.PathsInReserve
	if in.MaxPasses > 0 && total > in.MaxPasses {
		total = in.MaxPasses
	}
	if report.Status != StatusOK {
		total = 1
		field = nil
	}

	side := geom.LeftNormal(baseline.Direction())
	if s.StartRight != s.Mirror {
		side = r2.Scale(-1, side)
	}

	prims := make([]plan.Primitive, 0, total)
	for k := 0; k < total; k++ {
		line := baseline.Translate(r2.Scale(float64(k)*width, side))
		if k > 0 && field != nil && !geom.LineCrossesRing(line, field.Outer) {
			tracef("pass %d outside field, skipped", k)
			continue
		}
		forward := true
		if s.Partitioned() {
			forward = k%(s.ForwardPasses+s.ReversePasses) < s.ForwardPasses
		}
		if !forward {
			line = line.Opposite()
		}
		prim := plan.NewLine(line, width, int32(k), !s.Partitioned())
		if isLineAlreadyInPlan(prims, prim) {
			continue
		}
		prims = append(prims, prim)
	}
	sortPlan(prims, a2, side)

	p, err := plan.New(plan.TypeOnlyLines, runNumber, prims...)
	if err != nil {
		// Only lines are ever built here.
		opsf("run %d: %v", runNumber, err)
		p = plan.Empty(plan.TypeOnlyLines)
	}
	return Result{RunNumber: runNumber, Plan: p, Report: report}
}

func isLineAlreadyInPlan(prims []plan.Primitive, prim plan.Primitive) bool {
	for _, q := range prims {
		if q.Equal(prim) {
			return true
		}
	}
	return false
}

// sortPlan orders lines by lateral offset from origin along side, then by
// pass number.
func sortPlan(prims []plan.Primitive, origin, side geom.Point2) {
	offset := func(p plan.Primitive) float64 {
		l, _ := p.Line()
		return r2.Dot(r2.Sub(l.P, origin), side)
	}
	sort.SliceStable(prims, func(i, j int) bool {
		oi, oj := offset(prims[i]), offset(prims[j])
		if d := oi - oj; d < -geom.Epsilon || d > geom.Epsilon {
			return d < 0
		}
		return prims[i].PassNumber < prims[j].PassNumber
	})
}
