// Package kinematic derives the poses of the rigidly linked reference points
// of a vehicle (hook, pivot and tow point) from one measured pose.
package kinematic

import (
	"strings"

	"github.com/fieldguide/guidance/internal/geom"
)

// PoseOption is a flag set describing how a pose should be interpreted.
type PoseOption uint8

const (
	// CalculateLocalOffsets marks poses expressed in the vehicle's local
	// frame (edge offsets of the implement) rather than in world space.
	CalculateLocalOffsets PoseOption = 1 << iota
	// CalculateWithoutOrientation treats the orientation as identity.
	CalculateWithoutOrientation
	// CalculateFromPivotPoint marks the position as the pivot point rather
	// than the hook point.
	CalculateFromPivotPoint
)

// Has reports whether every flag in f is set.
func (o PoseOption) Has(f PoseOption) bool { return o&f == f }

// With returns o with f set.
func (o PoseOption) With(f PoseOption) PoseOption { return o | f }

// Without returns o with f cleared.
func (o PoseOption) Without(f PoseOption) PoseOption { return o &^ f }

func (o PoseOption) String() string {
	if o == 0 {
		return "none"
	}
	var parts []string
	if o.Has(CalculateLocalOffsets) {
		parts = append(parts, "local-offsets")
	}
	if o.Has(CalculateWithoutOrientation) {
		parts = append(parts, "without-orientation")
	}
	if o.Has(CalculateFromPivotPoint) {
		parts = append(parts, "from-pivot")
	}
	return strings.Join(parts, "|")
}

// Pose is a position with orientation and interpretation flags.
type Pose struct {
	Position    geom.Point3
	Orientation geom.Quaternion
	Options     PoseOption
}

// NewPose returns a pose with the given position, orientation and flags.
func NewPose(pos geom.Point3, orientation geom.Quaternion, opts PoseOption) Pose {
	return Pose{Position: pos, Orientation: orientation, Options: opts}
}

// Position2D returns the ground-plane projection of the position.
func (p Pose) Position2D() geom.Point2 {
	return geom.To2D(p.Position)
}
