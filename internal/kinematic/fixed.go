package kinematic

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/fieldguide/guidance/internal/config"
	"github.com/fieldguide/guidance/internal/geom"
)

// DerivedPoses holds the three points emitted for one input pose.
type DerivedPoses struct {
	Hook  Pose
	Pivot Pose
	Tow   Pose
}

// FixedKinematic is a rigid linkage with vehicle-local offsets (x forward).
// The hook offset is measured from the pivot to the hook, so for a hitch
// behind the pivot it is a negative-x vector.
type FixedKinematic struct {
	OffsetHookPoint geom.Point3
	OffsetTowPoint  geom.Point3
}

// NewFixedKinematic returns a linkage with the default offsets: hook at the
// pivot and tow point one metre behind it.
func NewFixedKinematic() *FixedKinematic {
	return &FixedKinematic{OffsetTowPoint: geom.Point3{X: -1}}
}

// FromGuidance builds a linkage from the loaded configuration.
func FromGuidance(cfg *config.GuidanceConfig) *FixedKinematic {
	return &FixedKinematic{
		OffsetHookPoint: cfg.GetOffsetHookPoint(),
		OffsetTowPoint:  cfg.GetOffsetTowPoint(),
	}
}

// SetOffsetHookPoint replaces the hook offset.
func (k *FixedKinematic) SetOffsetHookPoint(v geom.Point3) { k.OffsetHookPoint = v }

// SetOffsetTowPoint replaces the tow offset.
func (k *FixedKinematic) SetOffsetTowPoint(v geom.Point3) { k.OffsetTowPoint = v }

// SetPose derives hook, pivot and tow poses from p.
//
// Normally p is the hook point and the pivot lies at -OffsetHookPoint from
// it. With CalculateFromPivotPoint, p is the pivot and the hook is found by
// the inverse offset; the flag is cleared on the outputs so downstream
// consumers do not correct again. All outputs carry the effective
// orientation, which is identity under CalculateWithoutOrientation.
func (k *FixedKinematic) SetPose(p Pose) DerivedPoses {
	orientation := geom.Identity()
	if !p.Options.Has(CalculateWithoutOrientation) {
		orientation = p.Orientation
	}

	hookOffset := orientation.Rotate(k.OffsetHookPoint)
	opts := p.Options

	var hook, pivot geom.Point3
	if p.Options.Has(CalculateFromPivotPoint) {
		pivot = p.Position
		hook = r3.Add(pivot, hookOffset)
		opts = opts.Without(CalculateFromPivotPoint)
	} else {
		hook = p.Position
		pivot = r3.Sub(hook, hookOffset)
	}
	tow := r3.Add(pivot, orientation.Rotate(k.OffsetTowPoint))

	return DerivedPoses{
		Hook:  Pose{Position: hook, Orientation: orientation, Options: opts},
		Pivot: Pose{Position: pivot, Orientation: orientation, Options: opts},
		Tow:   Pose{Position: tow, Orientation: orientation, Options: opts},
	}
}
