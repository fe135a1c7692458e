package cells

import (
	"image/color"

	"github.com/atlasmap-sc/spotview/internal/geom"
)

// Buffer is a snapshot of the geometry and attribute arrays handed to a draw step.
// Per-vertex arrays have QuadSize entries per cell; Vertices has two floats per vertex.
type Buffer struct {
	Vertices  []float32
	Colors    []color.RGBA
	Values    []float32
	Selection []float32
	RefCounts []int32
	Indices   []uint32
	// Count is the number of triangle indices to draw.
	Count int
}

// Cells returns the number of cells in the buffer.
func (b Buffer) Cells() int {
	return len(b.Colors) / QuadSize
}

// Center returns the center of cell i, recovered from its quad corners.
func (b Buffer) Center(i int) geom.Point {
	v := b.Vertices[i*2*QuadSize:]
	return geom.Pt(float64(v[0]+v[4])/2, float64(v[1]+v[5])/2)
}

// Size returns the edge length of cell i.
func (b Buffer) Size(i int) float64 {
	v := b.Vertices[i*2*QuadSize:]
	return float64(v[2] - v[0])
}

// Visible mirrors Store.Visible for a snapshot.
func (b Buffer) Visible(i int) bool {
	slot := i * QuadSize
	if b.Colors[slot].A == 0 {
		return false
	}
	return !(b.RefCounts[slot] == 0 && b.Values[slot] == 0)
}

// Sync copies the current arrays into a Buffer and clears the dirty flag. The second result
// reports whether the store was dirty, i.e. whether the draw target must re-upload.
func (s *Store) Sync() (Buffer, bool) {
	wasDirty := s.dirty
	s.dirty = false
	return Buffer{
		Vertices:  append([]float32(nil), s.vertices...),
		Colors:    append([]color.RGBA(nil), s.colors...),
		Values:    append([]float32(nil), s.values...),
		Selection: append([]float32(nil), s.selection...),
		RefCounts: append([]int32(nil), s.refCounts...),
		Indices:   append([]uint32(nil), s.indices...),
		Count:     len(s.indices),
	}, wasDirty
}
