package geom

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/mat"
)

// Transform is a 2x3 affine map stored row-major:
//
//	x' = m[0]*x + m[1]*y + m[2]
//	y' = m[3]*x + m[4]*y + m[5]
type Transform struct {
	m f64.Aff3
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{m: f64.Aff3{1, 0, 0, 0, 1, 0}}
}

// NewTransform builds a transform from its six coefficients in Aff3 order.
func NewTransform(m [6]float64) Transform {
	return Transform{m: f64.Aff3(m)}
}

// Translation returns a translation transform.
func Translation(tx, ty float64) Transform {
	return Transform{m: f64.Aff3{1, 0, tx, 0, 1, ty}}
}

// Scaling returns a scaling transform around the origin.
func Scaling(sx, sy float64) Transform {
	return Transform{m: f64.Aff3{sx, 0, 0, 0, sy, 0}}
}

// Aff3 exposes the matrix in the layout used by golang.org/x/image/draw.
func (t Transform) Aff3() f64.Aff3 {
	if t.m == (f64.Aff3{}) {
		return Identity().m
	}
	return t.m
}

// Coefficients returns the six coefficients in Aff3 order.
func (t Transform) Coefficients() [6]float64 {
	return [6]float64(t.Aff3())
}

// Apply maps p through the transform.
func (t Transform) Apply(p Point) Point {
	m := t.Aff3()
	return Point{
		X: m[0]*p.X + m[1]*p.Y + m[2],
		Y: m[3]*p.X + m[4]*p.Y + m[5],
	}
}

// ApplyInt maps p and rounds the result to the nearest integer pixel.
func (t Transform) ApplyInt(p Point) (int, int) {
	q := t.Apply(p)
	return int(math.Round(q.X)), int(math.Round(q.Y))
}

// Then returns the transform that applies t first and next second.
func (t Transform) Then(next Transform) Transform {
	a, b := next.Aff3(), t.Aff3()
	return Transform{m: f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}}
}

// Invert returns the inverse transform or an error when the matrix is singular.
func (t Transform) Invert() (Transform, error) {
	m := t.Aff3()
	h := mat.NewDense(3, 3, []float64{
		m[0], m[1], m[2],
		m[3], m[4], m[5],
		0, 0, 1,
	})
	var inv mat.Dense
	if err := inv.Inverse(h); err != nil {
		return Transform{}, fmt.Errorf("transform is not invertible: %w", err)
	}
	return Transform{m: f64.Aff3{
		inv.At(0, 0), inv.At(0, 1), inv.At(0, 2),
		inv.At(1, 0), inv.At(1, 1), inv.At(1, 2),
	}}, nil
}
