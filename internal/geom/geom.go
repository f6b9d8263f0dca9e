// Package geom provides the 2D primitives shared by the counting pipeline:
// centroids, point-to-segment distance, and segment intersection tests.
package geom

import "math"

// Point is a 2D point in pixel coordinates.
type Point struct {
	X float64
	Y float64
}

// Sub returns p - q as a vector.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Cross returns the 2D cross product p × q.
func (p Point) Cross(q Point) float64 {
	return p.X*q.Y - p.Y*q.X
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Centroid returns the center of the box (x1, y1, x2, y2).
func Centroid(x1, y1, x2, y2 float64) Point {
	return Point{X: (x1 + x2) / 2, Y: (y1 + y2) / 2}
}

// SegmentIntersection computes the intersection of segments a1-a2 and b1-b2.
// Both parametric coordinates must fall in [0, 1] for the segments to
// intersect; parallel or non-overlapping segments return ok=false.
func SegmentIntersection(a1, a2, b1, b2 Point) (Point, bool) {
	denom := (a1.X-a2.X)*(b1.Y-b2.Y) - (a1.Y-a2.Y)*(b1.X-b2.X)
	if math.Abs(denom) < 1e-10 {
		return Point{}, false
	}

	t := ((a1.X-b1.X)*(b1.Y-b2.Y) - (a1.Y-b1.Y)*(b1.X-b2.X)) / denom
	u := -((a1.X-a2.X)*(a1.Y-b1.Y) - (a1.Y-a2.Y)*(a1.X-b1.X)) / denom

	if t < 0 || t > 1 || u < 0 || u > 1 {
		return Point{}, false
	}
	return Point{X: a1.X + t*(a2.X-a1.X), Y: a1.Y + t*(a2.Y-a1.Y)}, true
}

// SegmentsIntersect reports whether segments a1-a2 and b1-b2 intersect.
func SegmentsIntersect(a1, a2, b1, b2 Point) bool {
	_, ok := SegmentIntersection(a1, a2, b1, b2)
	return ok
}

// PointSegmentDistance returns the perpendicular distance from p to the
// segment s-e, clamped to the segment endpoints.
func PointSegmentDistance(p, s, e Point) float64 {
	dx := e.X - s.X
	dy := e.Y - s.Y
	lenSq := dx*dx + dy*dy
	if lenSq < 1e-10 {
		// Degenerate segment: distance to the single point.
		return p.Dist(s)
	}

	t := ((p.X-s.X)*dx + (p.Y-s.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))

	proj := Point{X: s.X + t*dx, Y: s.Y + t*dy}
	return p.Dist(proj)
}
