// Package globalplanner turns two captured anchor poses into a family of
// parallel guidance passes spaced by the implement width.
package globalplanner

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/fieldguide/guidance/internal/config"
	"github.com/fieldguide/guidance/internal/geom"
	"github.com/fieldguide/guidance/internal/kinematic"
	"github.com/fieldguide/guidance/internal/plan"
)

// State is the anchor capture state.
type State uint8

const (
	StateIdle State = iota
	StateHasA
	StateHasAB
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHasA:
		return "has-a"
	case StateHasAB:
		return "has-ab"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// DefaultMaxPasses bounds the pass family when no configuration is given.
const DefaultMaxPasses = 1000

// Config holds the planner's startup parameters.
type Config struct {
	Settings  Settings
	MaxPasses int
}

// DefaultConfig returns five generated passes, three in reserve and no
// forward/reverse partitioning.
func DefaultConfig() Config {
	return Config{
		Settings:  Settings{PathsToGenerate: 5, PathsInReserve: 3},
		MaxPasses: DefaultMaxPasses,
	}
}

// ConfigFromGuidance builds a Config from the loaded guidance configuration.
func ConfigFromGuidance(cfg *config.GuidanceConfig) Config {
	return Config{
		Settings: Settings{
			PathsToGenerate: cfg.GetPathsToGenerate(),
			PathsInReserve:  cfg.GetPathsInReserve(),
			ForwardPasses:   cfg.GetForwardPasses(),
			ReversePasses:   cfg.GetReversePasses(),
			StartRight:      cfg.GetStartRight(),
			Mirror:          cfg.GetMirror(),
		},
		MaxPasses: cfg.GetMaxPasses(),
	}
}

// Submitter runs computations off the caller's goroutine. Results come back
// through Planner.ApplyResult. *dispatch.Dispatcher[Result] satisfies it.
type Submitter interface {
	Submit(runNumber uint32, compute func() Result) error
}

// PlanListener is called each time a plan is published.
type PlanListener func(p *plan.Plan, r Report)

// Planner owns the anchor state machine and the published plan. It is not
// safe for concurrent use; drive it from one goroutine and feed results from
// the submitter back through ApplyResult on that same goroutine.
type Planner struct {
	maxPasses int
	settings  Settings

	position    geom.Point3
	orientation geom.Quaternion

	state      State
	aPoint     geom.Point3
	bPoint     geom.Point3
	abSegment  geom.Segment3
	headingAtB float64

	implementSegment geom.Segment2
	field            *geom.PolygonWithHoles

	runNumber uint32
	current   *plan.Plan
	report    Report
	stale     uint64

	submitter Submitter
	listeners []PlanListener
}

// New returns an idle planner. With a nil submitter plans are computed
// inline.
func New(cfg Config, submitter Submitter) *Planner {
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = DefaultMaxPasses
	}
	p := &Planner{
		maxPasses:   cfg.MaxPasses,
		orientation: geom.Identity(),
		current:     plan.Empty(plan.TypeOnlyLines),
		submitter:   submitter,
	}
	p.settings = p.clampSettings(cfg.Settings)
	return p
}

// OnPlanChanged registers fn to be called after every publication.
func (p *Planner) OnPlanChanged(fn PlanListener) {
	p.listeners = append(p.listeners, fn)
}

// State returns the anchor capture state.
func (p *Planner) State() State { return p.state }

// Plan returns the last published plan. It is never nil.
func (p *Planner) Plan() *plan.Plan { return p.current }

// LastReport returns the outcome of the last computation or command.
func (p *Planner) LastReport() Report { return p.report }

// RunNumber returns the current run counter.
func (p *Planner) RunNumber() uint32 { return p.runNumber }

// StaleResults returns how many results were discarded because a newer run
// had started.
func (p *Planner) StaleResults() uint64 { return p.stale }

// Settings returns the effective generation parameters.
func (p *Planner) Settings() Settings { return p.settings }

// ImplementSegment returns the implement edges in the vehicle frame.
func (p *Planner) ImplementSegment() geom.Segment2 { return p.implementSegment }

// AB returns the captured anchors. The second value is false until both are
// set.
func (p *Planner) AB() (geom.Segment3, bool) {
	return p.abSegment, p.state == StateHasAB
}

// SetPose records the current vehicle position and orientation. It never
// regenerates. Poses marked as local offsets are ignored here.
func (p *Planner) SetPose(pose kinematic.Pose) {
	if pose.Options.Has(kinematic.CalculateLocalOffsets) {
		return
	}
	p.position = pose.Position
	p.orientation = pose.Orientation
	tracef("pose (%.3f,%.3f,%.3f) heading %.1f°", pose.Position.X, pose.Position.Y, pose.Position.Z, pose.Orientation.HeadingDegrees())
}

// SetPoseLeftEdge updates the left implement edge from a local offset pose.
func (p *Planner) SetPoseLeftEdge(pose kinematic.Pose) {
	p.setEdge(pose, true)
}

// SetPoseRightEdge updates the right implement edge from a local offset pose.
func (p *Planner) SetPoseRightEdge(pose kinematic.Pose) {
	p.setEdge(pose, false)
}

func (p *Planner) setEdge(pose kinematic.Pose, left bool) {
	if !pose.Options.Has(kinematic.CalculateLocalOffsets | kinematic.CalculateWithoutOrientation) {
		return
	}
	pt := pose.Position2D()
	seg := p.implementSegment
	if left {
		seg.Source = pt
	} else {
		seg.Target = pt
	}
	if seg == p.implementSegment {
		return
	}
	p.implementSegment = seg
	diagf("implement width %.3f", seg.Length())
	p.inputsChanged()
}

// SetField replaces the field boundary. The planner keeps its own copy.
func (p *Planner) SetField(field *geom.PolygonWithHoles) {
	p.field = field.Clone()
	diagf("field set, area %.3f", p.field.Area())
	p.inputsChanged()
}

// MarkA captures the current position as anchor A and discards B.
func (p *Planner) MarkA() {
	p.aPoint = p.position
	p.state = StateHasA
	p.report = Report{Status: StatusOK, RunNumber: p.runNumber}
	diagf("A marked at (%.3f,%.3f,%.3f)", p.aPoint.X, p.aPoint.Y, p.aPoint.Z)
	p.inputsChanged()
}

// MarkB captures the current position as anchor B and generates a plan. It is
// ignored until A has been marked.
func (p *Planner) MarkB() {
	if p.state == StateIdle {
		p.ignore("mark B before A")
		return
	}
	p.bPoint = p.position
	p.headingAtB = p.orientation.Heading()
	p.abSegment = geom.Segment3{Source: p.aPoint, Target: p.bPoint}
	p.state = StateHasAB
	p.current = plan.Empty(plan.TypeOnlyLines)
	diagf("B marked at (%.3f,%.3f,%.3f)", p.bPoint.X, p.bPoint.Y, p.bPoint.Z)
	p.inputsChanged()
}

// Snap shifts the AB line sideways so it passes through the implement centre
// at the current pose. Heading and elevation are kept.
func (p *Planner) Snap() {
	if p.state != StateHasAB {
		p.ignore("snap without AB line")
		return
	}
	dir := r2.Sub(geom.To2D(p.bPoint), geom.To2D(p.aPoint))
	if geom.IsZero2(dir) {
		dir = geom.FromPolar(1, p.headingAtB)
	}
	normal := geom.LeftNormal(r2.Unit(dir))

	mid := p.implementSegment.Midpoint()
	centre := r2.Add(geom.To2D(p.position), geom.To2D(p.orientation.Rotate(geom.To3D(mid, 0))))

	d := r2.Dot(r2.Sub(centre, geom.To2D(p.aPoint)), normal)
	shift := geom.To3D(r2.Scale(d, normal), 0)
	p.aPoint = r3.Add(p.aPoint, shift)
	p.bPoint = r3.Add(p.bPoint, shift)
	p.abSegment = geom.Segment3{Source: p.aPoint, Target: p.bPoint}
	diagf("snapped AB by %.3f", d)
	p.inputsChanged()
}

// TurnLeft is accepted and logged; headland turns are not generated.
func (p *Planner) TurnLeft() {
	diagf("turn left requested, no turn generation")
}

// TurnRight is accepted and logged; headland turns are not generated.
func (p *Planner) TurnRight() {
	diagf("turn right requested, no turn generation")
}

// SetPassNumberTo is accepted and logged; it does not change the plan.
func (p *Planner) SetPassNumberTo(n int32) {
	diagf("set pass number to %d requested, ignored", n)
}

// SetPlannerSettings sets how many passes to generate and keep in reserve.
func (p *Planner) SetPlannerSettings(pathsToGenerate, pathsInReserve int) {
	s := p.settings
	s.PathsToGenerate = pathsToGenerate
	s.PathsInReserve = pathsInReserve
	p.settings = p.clampSettings(s)
	p.inputsChanged()
}

// SetPassSettings sets the forward/reverse partition and the generation
// side. If either pass count is zero both become zero.
func (p *Planner) SetPassSettings(forward, reverse int, startRight, mirror bool) {
	s := p.settings
	s.ForwardPasses = forward
	s.ReversePasses = reverse
	s.StartRight = startRight
	s.Mirror = mirror
	p.settings = p.clampSettings(s)
	p.inputsChanged()
}

// SetRunNumber overwrites the run counter. Results tagged with any other
// number are discarded.
func (p *Planner) SetRunNumber(n uint32) {
	p.runNumber = n
	diagf("run number set to %d", n)
}

// ApplyResult publishes res if it belongs to the current run and reports
// whether it did.
func (p *Planner) ApplyResult(res Result) bool {
	if res.RunNumber != p.runNumber || p.state != StateHasAB {
		p.stale++
		diagf("discarding result of run %d, current run %d", res.RunNumber, p.runNumber)
		return false
	}
	p.publish(res)
	return true
}

func (p *Planner) clampSettings(s Settings) Settings {
	limit := p.maxPasses - 1
	s.PathsToGenerate = clampCount(s.PathsToGenerate, limit)
	s.PathsInReserve = clampCount(s.PathsInReserve, limit-s.PathsToGenerate)
	s.ForwardPasses = clampCount(s.ForwardPasses, p.maxPasses)
	s.ReversePasses = clampCount(s.ReversePasses, p.maxPasses)
	if s.ForwardPasses == 0 || s.ReversePasses == 0 {
		s.ForwardPasses, s.ReversePasses = 0, 0
	}
	return s
}

func clampCount(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

func (p *Planner) ignore(what string) {
	p.report = Report{Status: StatusIgnored, Message: what, RunNumber: p.runNumber}
	diagf("%s, ignored", what)
}

// inputsChanged invalidates any in-flight run and starts a new one when both
// anchors are set.
func (p *Planner) inputsChanged() {
	p.runNumber++
	if p.state != StateHasAB {
		return
	}
	in := p.snapshot()
	run := p.runNumber
	if p.submitter != nil {
		err := p.submitter.Submit(run, func() Result { return CreatePlanAB(in, run) })
		if err == nil {
			return
		}
		opsf("submit run %d: %v, computing inline", run, err)
	}
	p.publish(CreatePlanAB(in, run))
}

func (p *Planner) snapshot() Inputs {
	return Inputs{
		A:                p.aPoint,
		B:                p.bPoint,
		Heading:          p.headingAtB,
		ImplementSegment: p.implementSegment,
		Settings:         p.settings,
		Field:            p.field.Clone(),
		MaxPasses:        p.maxPasses,
	}
}

func (p *Planner) publish(res Result) {
	p.current = res.Plan
	p.report = res.Report
	if res.Report.Status != StatusOK {
		opsf("run %d: %s: %s", res.RunNumber, res.Report.Status, res.Report.Message)
	}
	diagf("run %d published %d passes", res.RunNumber, res.Plan.Len())
	for _, fn := range p.listeners {
		fn(res.Plan, res.Report)
	}
}
