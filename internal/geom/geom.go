// Package geom provides the planar types shared by the index, the cell store and the
// selection engine: points, axis-aligned rectangles and the query shapes used for picking.
package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Point is a position in scene coordinates.
type Point = r2.Vec

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Shape is a closed query region. Bounds must contain every point for which Contains is true.
type Shape interface {
	Bounds() Rect
	Contains(p Point) bool
}

// Rect is an axis-aligned rectangle. Both edges are inclusive.
type Rect struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// NewRect returns the rectangle spanned by two corners in any order.
func NewRect(x0, y0, x1, y1 float64) Rect {
	return Rect{
		Min: Point{X: math.Min(x0, x1), Y: math.Min(y0, y1)},
		Max: Point{X: math.Max(x0, x1), Y: math.Max(y0, y1)},
	}
}

// Bounds returns r.
func (r Rect) Bounds() Rect { return r }

// Contains returns true if p lies inside r or on its border.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X &&
		p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Intersects returns true if the two rectangles share at least one point.
func (r Rect) Intersects(o Rect) bool {
	return !(o.Max.X < r.Min.X || o.Min.X > r.Max.X ||
		o.Min.Y > r.Max.Y || o.Max.Y < r.Min.Y)
}

// Width returns the horizontal extent.
func (r Rect) Width() float64 { return r.Max.X - r.Min.X }

// Height returns the vertical extent.
func (r Rect) Height() float64 { return r.Max.Y - r.Min.Y }

// Center returns the midpoint of r.
func (r Rect) Center() Point {
	return r2.Scale(0.5, r2.Add(r.Min, r.Max))
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool {
	return r.Max.X <= r.Min.X || r.Max.Y <= r.Min.Y
}

// Quadrant returns the i-th quarter of r: 0 south-west, 1 south-east, 2 north-west, 3 north-east.
func (r Rect) Quadrant(i int) Rect {
	c := r.Center()
	switch i {
	case 0:
		return Rect{Min: r.Min, Max: c}
	case 1:
		return Rect{Min: Point{X: c.X, Y: r.Min.Y}, Max: Point{X: r.Max.X, Y: c.Y}}
	case 2:
		return Rect{Min: Point{X: r.Min.X, Y: c.Y}, Max: Point{X: c.X, Y: r.Max.Y}}
	default:
		return Rect{Min: c, Max: r.Max}
	}
}

// BoundingBox computes the axis-aligned bounding box of a set of points.
func BoundingBox(points []Point) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	b := Rect{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b.Min.X = math.Min(b.Min.X, p.X)
		b.Min.Y = math.Min(b.Min.Y, p.Y)
		b.Max.X = math.Max(b.Max.X, p.X)
		b.Max.Y = math.Max(b.Max.Y, p.Y)
	}
	return b
}

// Polygon is a simple closed polygon given by its vertices. The last vertex connects to the first.
type Polygon []Point

// Bounds returns the bounding box of the vertices.
func (pg Polygon) Bounds() Rect {
	return BoundingBox(pg)
}

// Contains uses the even-odd rule. Points lying exactly on an edge count as inside.
func (pg Polygon) Contains(p Point) bool {
	n := len(pg)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := pg[j], pg[i]
		if onSegment(a, b, p) {
			return true
		}
		if (b.Y > p.Y) != (a.Y > p.Y) {
			x := (a.X-b.X)*(p.Y-b.Y)/(a.Y-b.Y) + b.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b, p Point) bool {
	ab := r2.Sub(b, a)
	ap := r2.Sub(p, a)
	if cross := ab.X*ap.Y - ab.Y*ap.X; math.Abs(cross) > 1e-9 {
		return false
	}
	return p.X >= math.Min(a.X, b.X) && p.X <= math.Max(a.X, b.X) &&
		p.Y >= math.Min(a.Y, b.Y) && p.Y <= math.Max(a.Y, b.Y)
}

// Lasso is a freeform selection boundary recorded from a pointer drag.
// It is closed implicitly between the last and first sample.
type Lasso struct {
	Path []Point `json:"path"`
}

// Bounds returns the bounding box of the drag path.
func (l Lasso) Bounds() Rect {
	return BoundingBox(l.Path)
}

// Contains returns true if p is enclosed by the closed path.
func (l Lasso) Contains(p Point) bool {
	return Polygon(l.Path).Contains(p)
}
