// Package geom provides the exact overlap-area primitives behind the
// aperture engine's analytic pixel weighting: circle/polygon intersection
// areas and convex polygon clipping.
package geom

import "math"

// Point is a 2D coordinate in pixel space.
type Point struct {
	X, Y float64
}

func cross(a, b Point) float64 { return a.X*b.Y - a.Y*b.X }
func dot(a, b Point) float64   { return a.X*b.X + a.Y*b.Y }

func lerp(a, b Point, t float64) Point {
	return Point{a.X + t*(b.X-a.X), a.Y + t*(b.Y-a.Y)}
}

// sectorArea returns the signed area of the circular sector swept from
// direction a to direction b around the origin, for a circle of radius r.
func sectorArea(a, b Point, r float64) float64 {
	ang := math.Atan2(cross(a, b), dot(a, b))
	return 0.5 * r * r * ang
}

// segmentCircleRoots returns the parameters t of the intersections of the
// segment p0+t*(p1-p0) with the circle |p| = r, unclamped and ordered
// t0 <= t1. ok is false when the supporting line misses the circle.
func segmentCircleRoots(p0, p1 Point, r float64) (t0, t1 float64, ok bool) {
	dx := p1.X - p0.X
	dy := p1.Y - p0.Y
	a := dx*dx + dy*dy
	if a == 0 {
		return 0, 0, false
	}
	b := 2 * (p0.X*dx + p0.Y*dy)
	c := p0.X*p0.X + p0.Y*p0.Y - r*r
	disc := b*b - 4*a*c
	if disc <= 0 {
		return 0, 0, false
	}
	sq := math.Sqrt(disc)
	return (-b - sq) / (2 * a), (-b + sq) / (2 * a), true
}

// circleTriangleArea returns the signed area of the intersection between the
// circle of radius r centered at the origin and the triangle (origin, p0, p1).
// Summing this over the directed edges of a polygon yields the signed area of
// the circle/polygon intersection.
func circleTriangleArea(p0, p1 Point, r float64) float64 {
	r2 := r * r
	in0 := p0.X*p0.X+p0.Y*p0.Y <= r2
	in1 := p1.X*p1.X+p1.Y*p1.Y <= r2

	if in0 && in1 {
		return cross(p0, p1) / 2
	}

	t0, t1, ok := segmentCircleRoots(p0, p1, r)

	switch {
	case in0:
		// Leaves the circle at the larger root.
		if !ok || t1 <= 0 || t1 >= 1 {
			return cross(p0, p1) / 2
		}
		q := lerp(p0, p1, t1)
		return cross(p0, q)/2 + sectorArea(q, p1, r)

	case in1:
		// Enters the circle at the smaller root.
		if !ok || t0 <= 0 || t0 >= 1 {
			return cross(p0, p1) / 2
		}
		q := lerp(p0, p1, t0)
		return sectorArea(p0, q, r) + cross(q, p1)/2

	default:
		// Both endpoints outside: either the chord crosses the triangle edge
		// twice, or the whole edge subtends a pure sector.
		if !ok || t0 >= 1 || t1 <= 0 || t0 >= t1 {
			return sectorArea(p0, p1, r)
		}
		q0 := lerp(p0, p1, math.Max(t0, 0))
		q1 := lerp(p0, p1, math.Min(t1, 1))
		return sectorArea(p0, q0, r) + cross(q0, q1)/2 + sectorArea(q1, p1, r)
	}
}

// CirclePolygonOverlap returns the area of intersection between the circle of
// radius r centered at the origin and a simple polygon. Vertex order may be
// either orientation.
func CirclePolygonOverlap(r float64, poly []Point) float64 {
	if r <= 0 || len(poly) < 3 {
		return 0
	}
	total := 0.0
	for i := range poly {
		total += circleTriangleArea(poly[i], poly[(i+1)%len(poly)], r)
	}
	return math.Abs(total)
}

// CircleRectOverlap returns the area of intersection between the circle of
// radius r centered at (cx, cy) and the axis-aligned rectangle
// [x0,x1] x [y0,y1].
func CircleRectOverlap(cx, cy, r, x0, y0, x1, y1 float64) float64 {
	poly := []Point{
		{x0 - cx, y0 - cy},
		{x1 - cx, y0 - cy},
		{x1 - cx, y1 - cy},
		{x0 - cx, y1 - cy},
	}
	return CirclePolygonOverlap(r, poly)
}

// PolygonArea returns the unsigned area of a simple polygon (shoelace).
func PolygonArea(poly []Point) float64 {
	if len(poly) < 3 {
		return 0
	}
	sum := 0.0
	for i := range poly {
		sum += cross(poly[i], poly[(i+1)%len(poly)])
	}
	return math.Abs(sum) / 2
}

// ClipPolygon clips a subject polygon against a convex clip polygon using
// Sutherland-Hodgman. The clip polygon must be in counter-clockwise order.
func ClipPolygon(subject, clip []Point) []Point {
	out := subject
	for i := range clip {
		if len(out) == 0 {
			return nil
		}
		a := clip[i]
		b := clip[(i+1)%len(clip)]
		edge := Point{b.X - a.X, b.Y - a.Y}

		in := out
		out = make([]Point, 0, len(in)+4)
		for j := range in {
			cur := in[j]
			next := in[(j+1)%len(in)]
			curIn := cross(edge, Point{cur.X - a.X, cur.Y - a.Y}) >= 0
			nextIn := cross(edge, Point{next.X - a.X, next.Y - a.Y}) >= 0

			if curIn {
				out = append(out, cur)
			}
			if curIn != nextIn {
				if p, ok := lineIntersection(cur, next, a, b); ok {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

// lineIntersection returns the intersection of the (infinite) lines through
// p0-p1 and a-b.
func lineIntersection(p0, p1, a, b Point) (Point, bool) {
	d1 := Point{p1.X - p0.X, p1.Y - p0.Y}
	d2 := Point{b.X - a.X, b.Y - a.Y}
	den := cross(d1, d2)
	if den == 0 {
		return Point{}, false
	}
	t := cross(Point{a.X - p0.X, a.Y - p0.Y}, d2) / den
	return lerp(p0, p1, t), true
}
