package geom

import (
	"math"
	"testing"
)

func TestRectContainsIsInclusive(t *testing.T) {
	r := NewRect(10, 10, 0, 0)
	if r.Min != Pt(0, 0) || r.Max != Pt(10, 10) {
		t.Fatalf("corners not normalized: %+v", r)
	}
	for _, p := range []Point{Pt(0, 0), Pt(10, 10), Pt(0, 10), Pt(5, 5)} {
		if !r.Contains(p) {
			t.Errorf("expected %v inside %+v", p, r)
		}
	}
	if r.Contains(Pt(10.0001, 5)) {
		t.Errorf("point right of the rectangle reported inside")
	}
}

func TestRectQuadrants(t *testing.T) {
	r := NewRect(0, 0, 4, 4)
	want := []Rect{
		NewRect(0, 0, 2, 2),
		NewRect(2, 0, 4, 2),
		NewRect(0, 2, 2, 4),
		NewRect(2, 2, 4, 4),
	}
	for i, w := range want {
		if got := r.Quadrant(i); got != w {
			t.Errorf("quadrant %d: got %+v, want %+v", i, got, w)
		}
	}
}

func TestPolygonContains(t *testing.T) {
	// L-shaped polygon
	pg := Polygon{Pt(0, 0), Pt(4, 0), Pt(4, 1), Pt(1, 1), Pt(1, 4), Pt(0, 4)}

	tests := []struct {
		p    Point
		want bool
	}{
		{Pt(0.5, 0.5), true},
		{Pt(3, 0.5), true},
		{Pt(0.5, 3), true},
		{Pt(3, 3), false},
		{Pt(4, 0.5), true}, // on edge
		{Pt(-1, 0), false},
	}
	for _, tc := range tests {
		if got := pg.Contains(tc.p); got != tc.want {
			t.Errorf("Contains(%v) = %v, want %v", tc.p, got, tc.want)
		}
	}

	if b := pg.Bounds(); b != NewRect(0, 0, 4, 4) {
		t.Errorf("unexpected bounds: %+v", b)
	}
}

func TestLassoNeedsThreePoints(t *testing.T) {
	l := Lasso{Path: []Point{Pt(0, 0), Pt(1, 1)}}
	if l.Contains(Pt(0.5, 0.5)) {
		t.Fatalf("degenerate lasso must not contain points")
	}
	l.Path = append(l.Path, Pt(0, 1))
	if !l.Contains(Pt(0.2, 0.5)) {
		t.Fatalf("closed lasso should contain interior point")
	}
}

func TestTransformInvertRoundTrip(t *testing.T) {
	tr := Scaling(2, 3).Then(Translation(5, -1))
	p := tr.Apply(Pt(1, 1))
	if p != Pt(7, 2) {
		t.Fatalf("unexpected mapped point %v", p)
	}

	inv, err := tr.Invert()
	if err != nil {
		t.Fatalf("Invert: %v", err)
	}
	back := inv.Apply(p)
	if math.Abs(back.X-1) > 1e-9 || math.Abs(back.Y-1) > 1e-9 {
		t.Fatalf("round trip failed: %v", back)
	}
}

func TestTransformZeroValueIsIdentity(t *testing.T) {
	var tr Transform
	if got := tr.Apply(Pt(3, 4)); got != Pt(3, 4) {
		t.Fatalf("zero transform moved the point to %v", got)
	}
	x, y := tr.ApplyInt(Pt(2.6, 1.4))
	if x != 3 || y != 1 {
		t.Fatalf("ApplyInt rounding: got %d,%d", x, y)
	}
}

func TestTransformSingular(t *testing.T) {
	if _, err := Scaling(0, 1).Invert(); err == nil {
		t.Fatal("expected error for singular transform")
	}
}
