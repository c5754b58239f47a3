package kinematic

import (
	"math"
	"testing"

	"github.com/fieldguide/guidance/internal/geom"
	"github.com/stretchr/testify/assert"
)

func assertPoint3(t *testing.T, want, got geom.Point3) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-9, "x")
	assert.InDelta(t, want.Y, got.Y, 1e-9, "y")
	assert.InDelta(t, want.Z, got.Z, 1e-9, "z")
}

func TestZeroOffsetsReproduceInput(t *testing.T) {
	t.Parallel()

	k := &FixedKinematic{}
	orientations := []geom.Quaternion{
		geom.Identity(),
		geom.FromHeading(1.2),
		geom.FromAxisAngle(geom.Point3{X: 1, Y: 1, Z: 0.3}, 0.7),
	}
	for _, q := range orientations {
		in := NewPose(geom.Point3{X: 12, Y: -4, Z: 1.5}, q, 0)
		out := k.SetPose(in)
		for _, got := range []Pose{out.Hook, out.Pivot, out.Tow} {
			assertPoint3(t, in.Position, got.Position)
			assert.Equal(t, q, got.Orientation)
			assert.Equal(t, PoseOption(0), got.Options)
		}
	}
}

func TestOffsetsRotateWithHeading(t *testing.T) {
	t.Parallel()

	k := &FixedKinematic{
		OffsetHookPoint: geom.Point3{X: -2},
		OffsetTowPoint:  geom.Point3{X: -3},
	}
	out := k.SetPose(NewPose(geom.Point3{X: 10, Y: 10}, geom.FromHeading(math.Pi/2), 0))

	assertPoint3(t, geom.Point3{X: 10, Y: 10}, out.Hook.Position)
	assertPoint3(t, geom.Point3{X: 10, Y: 12}, out.Pivot.Position)
	assertPoint3(t, geom.Point3{X: 10, Y: 9}, out.Tow.Position)
}

func TestWithoutOrientationIsTranslation(t *testing.T) {
	t.Parallel()

	k := &FixedKinematic{
		OffsetHookPoint: geom.Point3{X: -2, Y: 1},
		OffsetTowPoint:  geom.Point3{X: -3},
	}
	opts := CalculateWithoutOrientation
	out := k.SetPose(NewPose(geom.Point3{X: 1, Y: 1}, geom.FromHeading(2), opts))

	assert.True(t, out.Pivot.Orientation.IsIdentity())
	assertPoint3(t, geom.Point3{X: 3, Y: 0}, out.Pivot.Position)
	assertPoint3(t, geom.Point3{X: 0, Y: 0}, out.Tow.Position)
	assert.Equal(t, opts, out.Tow.Options)
}

func TestPivotRoundTrip(t *testing.T) {
	t.Parallel()

	k := &FixedKinematic{
		OffsetHookPoint: geom.Point3{X: -1.8, Y: 0.2, Z: -0.4},
		OffsetTowPoint:  geom.Point3{X: -4},
	}
	for _, heading := range []float64{0, 0.4, math.Pi / 2, 2.9, -1.7} {
		q := geom.FromHeading(heading).Mul(geom.FromAxisAngle(geom.Point3{X: 1}, 0.05))
		hook := geom.Point3{X: 100, Y: -30, Z: 2}

		forward := k.SetPose(NewPose(hook, q, 0))
		back := k.SetPose(NewPose(forward.Pivot.Position, q, CalculateFromPivotPoint))

		assertPoint3(t, hook, back.Hook.Position)
		assertPoint3(t, forward.Pivot.Position, back.Pivot.Position)
		assertPoint3(t, forward.Tow.Position, back.Tow.Position)
		if back.Hook.Options.Has(CalculateFromPivotPoint) {
			t.Fatalf("from-pivot flag must be cleared on outputs, got %s", back.Hook.Options)
		}
	}
}

func TestDefaultOffsets(t *testing.T) {
	t.Parallel()

	k := NewFixedKinematic()
	out := k.SetPose(NewPose(geom.Point3{}, geom.Identity(), 0))
	assertPoint3(t, geom.Point3{X: -1}, out.Tow.Position)
}

func TestPoseOptionString(t *testing.T) {
	t.Parallel()

	o := CalculateLocalOffsets.With(CalculateWithoutOrientation)
	if got := o.String(); got != "local-offsets|without-orientation" {
		t.Fatalf("unexpected String(): %q", got)
	}
	if o.Without(CalculateLocalOffsets) != CalculateWithoutOrientation {
		t.Fatal("Without did not clear the flag")
	}
	if PoseOption(0).String() != "none" {
		t.Fatal("empty option set should print none")
	}
}
