package plan

import (
	"errors"
	"fmt"
)

// ErrKindNotAllowed is returned when a primitive's kind is not permitted by
// the plan type.
var ErrKindNotAllowed = errors.New("primitive kind not allowed by plan type")

// Type constrains the primitive kinds a plan may contain.
type Type uint8

const (
	TypeOnlyLines Type = iota + 1 // lines only
	TypeMixed                     // any kind
)

func (t Type) String() string {
	switch t {
	case TypeOnlyLines:
		return "only-lines"
	case TypeMixed:
		return "mixed"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Allows reports whether k may appear in a plan of type t.
func (t Type) Allows(k Kind) bool {
	switch t {
	case TypeOnlyLines:
		return k == KindLine
	case TypeMixed:
		return k == KindLine || k == KindSegment || k == KindCircle
	default:
		return false
	}
}

// Plan is an immutable ordered sequence of primitives. A nil *Plan behaves
// as an empty plan.
type Plan struct {
	typ        Type
	runNumber  uint32
	primitives []Primitive
}

// New copies prims into a new plan of type t tagged with runNumber.
func New(t Type, runNumber uint32, prims ...Primitive) (*Plan, error) {
	for i, p := range prims {
		if !t.Allows(p.Kind()) {
			return nil, fmt.Errorf("primitive %d (%s) in %s plan: %w", i, p.Kind(), t, ErrKindNotAllowed)
		}
	}
	cp := make([]Primitive, len(prims))
	copy(cp, prims)
	return &Plan{typ: t, runNumber: runNumber, primitives: cp}, nil
}

// Empty returns a plan with no primitives.
func Empty(t Type) *Plan {
	return &Plan{typ: t}
}

// Type returns the plan type.
func (p *Plan) Type() Type {
	if p == nil {
		return TypeMixed
	}
	return p.typ
}

// RunNumber returns the generation counter the plan was built under.
func (p *Plan) RunNumber() uint32 {
	if p == nil {
		return 0
	}
	return p.runNumber
}

// Len returns the number of primitives.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.primitives)
}

// At returns the i-th primitive. Like a slice index it panics unless
// 0 <= i < Len(), which for a nil plan is never.
func (p *Plan) At(i int) Primitive {
	if p == nil {
		panic(fmt.Sprintf("plan: index %d out of range for nil plan", i))
	}
	return p.primitives[i]
}

// Primitives returns a copy of the primitive sequence.
func (p *Plan) Primitives() []Primitive {
	if p == nil {
		return nil
	}
	cp := make([]Primitive, len(p.primitives))
	copy(cp, p.primitives)
	return cp
}

// PassNumbers returns the pass numbers in sequence order.
func (p *Plan) PassNumbers() []int32 {
	out := make([]int32, 0, p.Len())
	for i := 0; i < p.Len(); i++ {
		out = append(out, p.primitives[i].PassNumber)
	}
	return out
}

// Contains reports whether a primitive Equal to q is already present.
func (p *Plan) Contains(q Primitive) bool {
	for i := 0; i < p.Len(); i++ {
		if p.primitives[i].Equal(q) {
			return true
		}
	}
	return false
}
