package aggregate

import (
	"fmt"
	"strings"
)

// VisualMode selects which threshold band gates visibility and how cells are colored.
type VisualMode int

const (
	// ModeNormal gates on raw feature hits and draws the blended gene color.
	ModeNormal VisualMode = iota
	// ModeDynamicRange gates on the pooled value and scales the gene color by it.
	ModeDynamicRange
	// ModeHeatMap gates on the pooled value and draws a heat colormap.
	ModeHeatMap
	// ModeColorRange gates on the pooled value and draws a two-color gradient.
	ModeColorRange
)

var modeNames = [...]string{"normal", "dynamic_range", "heat_map", "color_range"}

func (m VisualMode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("VisualMode(%d)", int(m))
	}
	return modeNames[m]
}

// Pooled reports whether the mode gates on the aggregate value.
func (m VisualMode) Pooled() bool {
	return m != ModeNormal
}

// ParseVisualMode accepts the names returned by String, case-insensitively.
func ParseVisualMode(s string) (VisualMode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return VisualMode(i), nil
		}
	}
	return ModeNormal, fmt.Errorf("unknown visual mode %q", s)
}

// Shape is the glyph drawn for a cell.
type Shape int

const (
	ShapeCircle Shape = iota
	ShapeCross
	ShapeSquare
)

var shapeNames = [...]string{"circle", "cross", "square"}

func (s Shape) String() string {
	if s < 0 || int(s) >= len(shapeNames) {
		return fmt.Sprintf("Shape(%d)", int(s))
	}
	return shapeNames[s]
}

// ParseShape accepts the names returned by String, case-insensitively.
func ParseShape(s string) (Shape, error) {
	for i, name := range shapeNames {
		if strings.EqualFold(s, name) {
			return Shape(i), nil
		}
	}
	return ShapeCircle, fmt.Errorf("unknown shape %q", s)
}

// Blend selects how contributing gene colors are combined into a cell color.
type Blend int

const (
	// BlendLerp blends each new contributor with weight 1/refCount into the stored 8-bit color.
	// The result depends on feature order.
	BlendLerp Blend = iota
	// BlendMean computes the exact per-channel mean of the contributing colors.
	BlendMean
)

// Thresholds holds the raw hit band and the pooled value band. Both are inclusive and are not
// validated: callers clamp them.
type Thresholds struct {
	Lower       float64 `json:"lower"`
	Upper       float64 `json:"upper"`
	PooledLower float64 `json:"pooled_lower"`
	PooledUpper float64 `json:"pooled_upper"`
}

// Outside reports whether a feature is filtered out. ModeNormal tests hits against the raw
// band; every pooled mode tests the aggregate value against the pooled band.
func (t Thresholds) Outside(mode VisualMode, hits int, value float64) bool {
	if !mode.Pooled() {
		h := float64(hits)
		return h < t.Lower || h > t.Upper
	}
	return value < t.PooledLower || value > t.PooledUpper
}

// linearConversion maps x from [oldMin, oldMax] onto [newMin, newMax] with integer truncation.
func linearConversion(x, oldMin, oldMax, newMin, newMax int) int {
	if oldMax == oldMin {
		return newMin
	}
	return (x-oldMin)*(newMax-newMin)/(oldMax-oldMin) + newMin
}
