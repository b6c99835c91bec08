package geom

import (
	"math"
	"testing"
)

func TestCircleRectOverlapFullContainment(t *testing.T) {
	// A unit pixel deep inside a large circle overlaps completely.
	got := CircleRectOverlap(0, 0, 10, -0.5, -0.5, 0.5, 0.5)
	if math.Abs(got-1) > 1e-12 {
		t.Errorf("expected full overlap 1, got %v", got)
	}
}

func TestCircleRectOverlapDisjoint(t *testing.T) {
	got := CircleRectOverlap(0, 0, 1, 5, 5, 6, 6)
	if got != 0 {
		t.Errorf("expected zero overlap for disjoint shapes, got %v", got)
	}
}

func TestCircleRectOverlapCircleInsidePixel(t *testing.T) {
	// A small circle fully inside one pixel overlaps by its own area.
	r := 0.3
	got := CircleRectOverlap(0.1, -0.05, r, -0.5, -0.5, 0.5, 0.5)
	want := math.Pi * r * r
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("expected circle area %v, got %v", want, got)
	}
}

func TestCircleRectOverlapTilesToCircleArea(t *testing.T) {
	// Summing the overlap over a pixel grid covering the whole circle must
	// reproduce the analytic area, for several centers and radii.
	cases := []struct {
		cx, cy, r float64
	}{
		{0, 0, 1},
		{0.5, 0.5, 2},
		{0.37, -0.22, 3.7},
		{-1.1, 2.9, 0.8},
	}
	for _, c := range cases {
		total := 0.0
		lo := int(math.Floor(math.Min(c.cx, c.cy) - c.r - 2))
		hi := int(math.Ceil(math.Max(c.cx, c.cy) + c.r + 2))
		for y := lo; y <= hi; y++ {
			for x := lo; x <= hi; x++ {
				fx, fy := float64(x), float64(y)
				total += CircleRectOverlap(c.cx, c.cy, c.r, fx-0.5, fy-0.5, fx+0.5, fy+0.5)
			}
		}
		want := math.Pi * c.r * c.r
		if math.Abs(total-want) > 1e-9 {
			t.Errorf("circle (%v,%v,r=%v): tiled area %v, want %v", c.cx, c.cy, c.r, total, want)
		}
	}
}

func TestCirclePolygonOverlapContainsCircle(t *testing.T) {
	// A big square around the unit circle overlaps by the circle's area.
	poly := []Point{{-5, -5}, {5, -5}, {5, 5}, {-5, 5}}
	got := CirclePolygonOverlap(1, poly)
	if math.Abs(got-math.Pi) > 1e-12 {
		t.Errorf("expected pi, got %v", got)
	}
}

func TestCirclePolygonOverlapHalfPlane(t *testing.T) {
	// A square covering exactly the x >= 0 half of the unit circle.
	poly := []Point{{0, -5}, {5, -5}, {5, 5}, {0, 5}}
	got := CirclePolygonOverlap(1, poly)
	if math.Abs(got-math.Pi/2) > 1e-12 {
		t.Errorf("expected pi/2, got %v", got)
	}
}

func TestPolygonArea(t *testing.T) {
	square := []Point{{0, 0}, {2, 0}, {2, 2}, {0, 2}}
	if got := PolygonArea(square); math.Abs(got-4) > 1e-12 {
		t.Errorf("square area = %v, want 4", got)
	}
	triangle := []Point{{0, 0}, {3, 0}, {0, 4}}
	if got := PolygonArea(triangle); math.Abs(got-6) > 1e-12 {
		t.Errorf("triangle area = %v, want 6", got)
	}
}

func TestClipPolygonOverlap(t *testing.T) {
	// Two unit squares offset by half a unit in each direction overlap in a
	// quarter-unit square.
	subject := []Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	clip := []Point{{0.5, 0.5}, {1.5, 0.5}, {1.5, 1.5}, {0.5, 1.5}}
	got := PolygonArea(ClipPolygon(subject, clip))
	if math.Abs(got-0.25) > 1e-12 {
		t.Errorf("clipped area = %v, want 0.25", got)
	}
}

func TestClipPolygonDisjoint(t *testing.T) {
	subject := []Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	clip := []Point{{3, 3}, {4, 3}, {4, 4}, {3, 4}}
	if got := PolygonArea(ClipPolygon(subject, clip)); got != 0 {
		t.Errorf("expected zero area for disjoint polygons, got %v", got)
	}
}
