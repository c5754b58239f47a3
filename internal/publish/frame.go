package publish

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/fieldguide/guidance/internal/geom"
	"github.com/fieldguide/guidance/internal/plan"
)

// ErrBadFrame is returned by DecodeFrame for structs that are not frames.
var ErrBadFrame = errors.New("malformed frame")

// Topic selects which engine output a stream carries.
type Topic string

const (
	TopicPlan   Topic = "plan"   // every published pass family
	TopicActive Topic = "active" // the line currently being tracked
)

// Frame is one plan publication as delivered to a stream client.
type Frame struct {
	Topic       Topic
	Sequence    uint64
	PublishedAt time.Time
	Plan        *plan.Plan
}

// Frames travel as structpb.Struct:
//
//	{topic, sequence, run_number, plan_type, published_at{seconds,nanos},
//	 primitives: [{kind, pass_number, any_direction, implement_width,
//	               points: [x1,y1,x2,y2] | [cx,cy], radius, clockwise}]}
func encodeFrame(f Frame) (*structpb.Struct, error) {
	prims := make([]any, 0, f.Plan.Len())
	for _, p := range f.Plan.Primitives() {
		prims = append(prims, primitiveFields(p))
	}
	ts := timestamppb.New(f.PublishedAt)
	return structpb.NewStruct(map[string]any{
		"topic":      string(f.Topic),
		"sequence":   float64(f.Sequence),
		"run_number": float64(f.Plan.RunNumber()),
		"plan_type":  f.Plan.Type().String(),
		"published_at": map[string]any{
			"seconds": float64(ts.GetSeconds()),
			"nanos":   float64(ts.GetNanos()),
		},
		"primitives": prims,
	})
}

func primitiveFields(p plan.Primitive) map[string]any {
	m := map[string]any{
		"kind":            p.Kind().String(),
		"pass_number":     float64(p.PassNumber),
		"any_direction":   p.AnyDirection,
		"implement_width": p.ImplementWidth,
	}
	if l, ok := p.Line(); ok {
		m["points"] = []any{l.P.X, l.P.Y, l.Q.X, l.Q.Y}
	}
	if s, ok := p.Segment(); ok {
		m["points"] = []any{s.Source.X, s.Source.Y, s.Target.X, s.Target.Y}
	}
	if c, ok := p.Circle(); ok {
		m["points"] = []any{c.Center.X, c.Center.Y}
		m["radius"] = c.Radius
		m["clockwise"] = c.Clockwise
	}
	return m
}

// DecodeFrame rebuilds a Frame from its wire form.
func DecodeFrame(s *structpb.Struct) (Frame, error) {
	m := s.AsMap()
	topic, _ := m["topic"].(string)
	seq, _ := m["sequence"].(float64)
	run, _ := m["run_number"].(float64)
	typName, _ := m["plan_type"].(string)

	var typ plan.Type
	switch typName {
	case plan.TypeOnlyLines.String():
		typ = plan.TypeOnlyLines
	case plan.TypeMixed.String():
		typ = plan.TypeMixed
	default:
		return Frame{}, fmt.Errorf("%w: plan type %q", ErrBadFrame, typName)
	}

	at, ok := m["published_at"].(map[string]any)
	if !ok {
		return Frame{}, fmt.Errorf("%w: no published_at", ErrBadFrame)
	}
	secs, _ := at["seconds"].(float64)
	nanos, _ := at["nanos"].(float64)
	ts := &timestamppb.Timestamp{Seconds: int64(secs), Nanos: int32(nanos)}
	if err := ts.CheckValid(); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	raw, _ := m["primitives"].([]any)
	prims := make([]plan.Primitive, 0, len(raw))
	for i, r := range raw {
		pm, ok := r.(map[string]any)
		if !ok {
			return Frame{}, fmt.Errorf("%w: primitive %d is %T", ErrBadFrame, i, r)
		}
		p, err := decodePrimitive(pm)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: primitive %d: %v", ErrBadFrame, i, err)
		}
		prims = append(prims, p)
	}
	pl, err := plan.New(typ, uint32(run), prims...)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return Frame{Topic: Topic(topic), Sequence: uint64(seq), PublishedAt: ts.AsTime(), Plan: pl}, nil
}

func decodePrimitive(m map[string]any) (plan.Primitive, error) {
	kind, _ := m["kind"].(string)
	pass, _ := m["pass_number"].(float64)
	anyDir, _ := m["any_direction"].(bool)
	width, _ := m["implement_width"].(float64)
	raw, _ := m["points"].([]any)
	pts := make([]float64, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return plan.Primitive{}, fmt.Errorf("point %d is %T", i, v)
		}
		pts[i] = f
	}

	want := 4
	if kind == plan.KindCircle.String() {
		want = 2
	}
	if len(pts) != want {
		return plan.Primitive{}, fmt.Errorf("%s needs %d coordinates, got %d", kind, want, len(pts))
	}

	switch kind {
	case plan.KindLine.String():
		l := geom.Line2{P: geom.Point2{X: pts[0], Y: pts[1]}, Q: geom.Point2{X: pts[2], Y: pts[3]}}
		return plan.NewLine(l, width, int32(pass), anyDir), nil
	case plan.KindSegment.String():
		s := geom.Segment2{Source: geom.Point2{X: pts[0], Y: pts[1]}, Target: geom.Point2{X: pts[2], Y: pts[3]}}
		return plan.NewSegment(s, width, int32(pass), anyDir), nil
	case plan.KindCircle.String():
		radius, _ := m["radius"].(float64)
		clockwise, _ := m["clockwise"].(bool)
		c := plan.Circle{Center: geom.Point2{X: pts[0], Y: pts[1]}, Radius: radius, Clockwise: clockwise}
		return plan.NewCircle(c, width, int32(pass), anyDir), nil
	default:
		return plan.Primitive{}, fmt.Errorf("unknown kind %q", kind)
	}
}
