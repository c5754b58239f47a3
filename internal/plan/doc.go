// Package plan owns the path primitives a vehicle can track and the
// immutable Plan snapshot that carries them between planners.
//
// A Primitive is a tagged variant (Line, Segment or the reserved Circle);
// its Kind is always checked before the geometry payload is read. Plans are
// never mutated after construction: a planner builds a new Plan and hands it
// out, and every holder may read it concurrently.
package plan
