package monitor

import (
	"time"

	"github.com/fieldguide/guidance/internal/geom"
	"github.com/fieldguide/guidance/internal/kinematic"
	"github.com/fieldguide/guidance/internal/pipeline"
	"github.com/fieldguide/guidance/internal/plan"
)

// PointView is a 2D point in field coordinates (metres).
type PointView struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PrimitiveView is the wire form of one primitive. Lines and segments carry
// From and To; circles carry Center and Radius.
type PrimitiveView struct {
	Kind           string     `json:"kind"`
	PassNumber     int32      `json:"pass_number"`
	AnyDirection   bool       `json:"any_direction"`
	ImplementWidth float64    `json:"implement_width"`
	From           *PointView `json:"from,omitempty"`
	To             *PointView `json:"to,omitempty"`
	Center         *PointView `json:"center,omitempty"`
	Radius         float64    `json:"radius,omitempty"`
	Clockwise      bool       `json:"clockwise,omitempty"`
}

// PlanView is the wire form of a plan.
type PlanView struct {
	RunNumber  uint32          `json:"run_number"`
	Type       string          `json:"type"`
	Primitives []PrimitiveView `json:"primitives"`
}

// PoseView is a derived pose with its heading in degrees.
type PoseView struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	HeadingDeg float64 `json:"heading_deg"`
}

// ReportView is the outcome of the latest planner action.
type ReportView struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	RunNumber uint32 `json:"run_number"`
}

// StatusView summarises the engine.
type StatusView struct {
	State          string              `json:"state"`
	RunNumber      uint32              `json:"run_number"`
	PlanRunNumber  uint32              `json:"plan_run_number"`
	PlanPasses     int                 `json:"plan_passes"`
	ActivePass     *PrimitiveView      `json:"active_pass,omitempty"`
	Report         ReportView          `json:"report"`
	StaleResults   uint64              `json:"stale_results"`
	EvictedJobs    uint64              `json:"evicted_jobs"`
	PoseCount      uint64              `json:"pose_count"`
	ImplementWidth float64             `json:"implement_width"`
	A              *PointView          `json:"a,omitempty"`
	B              *PointView          `json:"b,omitempty"`
	Poses          map[string]PoseView `json:"poses"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func pointView(p geom.Point2) *PointView {
	return &PointView{X: p.X, Y: p.Y}
}

func primitiveView(p plan.Primitive) PrimitiveView {
	v := PrimitiveView{
		Kind:           p.Kind().String(),
		PassNumber:     p.PassNumber,
		AnyDirection:   p.AnyDirection,
		ImplementWidth: p.ImplementWidth,
	}
	if l, ok := p.Line(); ok {
		v.From, v.To = pointView(l.P), pointView(l.Q)
	}
	if s, ok := p.Segment(); ok {
		v.From, v.To = pointView(s.Source), pointView(s.Target)
	}
	if c, ok := p.Circle(); ok {
		v.Center, v.Radius, v.Clockwise = pointView(c.Center), c.Radius, c.Clockwise
	}
	return v
}

func planView(p *plan.Plan) PlanView {
	v := PlanView{
		RunNumber:  p.RunNumber(),
		Type:       p.Type().String(),
		Primitives: make([]PrimitiveView, 0, p.Len()),
	}
	for _, prim := range p.Primitives() {
		v.Primitives = append(v.Primitives, primitiveView(prim))
	}
	return v
}

func poseView(p kinematic.Pose) PoseView {
	return PoseView{
		X:          p.Position.X,
		Y:          p.Position.Y,
		Z:          p.Position.Z,
		HeadingDeg: p.Orientation.HeadingDegrees(),
	}
}

func statusView(s pipeline.Snapshot) StatusView {
	v := StatusView{
		State:         s.State.String(),
		RunNumber:     s.RunNumber,
		PlanRunNumber: s.Plan.RunNumber(),
		PlanPasses:    s.Plan.Len(),
		Report: ReportView{
			Status:    s.Report.Status.String(),
			Message:   s.Report.Message,
			RunNumber: s.Report.RunNumber,
		},
		StaleResults:   s.StaleResults,
		EvictedJobs:    s.EvictedJobs,
		PoseCount:      s.PoseCount,
		ImplementWidth: s.ImplementWidth,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.Active.Len() == 1 {
		pv := primitiveView(s.Active.At(0))
		v.ActivePass = &pv
	}
	if s.HasAB {
		v.A = pointView(geom.To2D(s.AB.Source))
		v.B = pointView(geom.To2D(s.AB.Target))
	}
	if s.PoseCount > 0 {
		v.Poses = map[string]PoseView{
			"hook":  poseView(s.Poses.Hook),
			"pivot": poseView(s.Poses.Pivot),
			"tow":   poseView(s.Poses.Tow),
		}
	}
	return v
}
