// Package geom is the geometric kernel used by the guidance engine.
//
// It wraps gonum's spatial and quaternion packages with the handful of value
// types the planners need: 2D/3D points, infinite lines, bounded segments,
// rotations and polygons with holes. All types are plain values; none of them
// hold references, so copies are independent.
//
// Coordinate convention: X=east/forward, Y=north/left, Z=up. Angles are
// counter-clockwise from +X.
package geom
