// Package cells holds the drawable representation of the point cloud: one quad per distinct
// coordinate, with per-vertex color, aggregate value, contributor count and selection slots.
package cells

import (
	"fmt"
	"image/color"

	"github.com/atlasmap-sc/spotview/internal/geom"
)

// QuadSize is the number of vertex slots per cell. Every slot of a cell carries the same
// attribute values.
const QuadSize = 4

// ResetOptions selects which attributes ResetAll clears.
type ResetOptions struct {
	Selection bool
	Values    bool
	RefCounts bool
}

// Store is the per-cell geometry and attribute buffer.
type Store struct {
	centers   []geom.Point
	sizes     []float64
	vertices  []float32 // x,y per vertex
	colors    []color.RGBA
	values    []float32 // per vertex, for the draw step
	exact     []float64 // per cell
	selection []float32
	refCounts []int32
	indices   []uint32

	dirty bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Len returns the number of cells.
func (s *Store) Len() int {
	return len(s.centers)
}

// Dirty reports whether the buffer changed since the last Sync.
func (s *Store) Dirty() bool {
	return s.dirty
}

// MarkDirty forces the next draw to resynchronize geometry.
func (s *Store) MarkDirty() {
	s.dirty = true
}

// AddCell appends a quad centered on (x, y) and returns its id. The id is stable until Clear.
func (s *Store) AddCell(x, y, size float64, c color.RGBA) int {
	id := len(s.centers)
	s.centers = append(s.centers, geom.Pt(x, y))
	s.sizes = append(s.sizes, size)
	s.vertices = append(s.vertices, make([]float32, 2*QuadSize)...)
	s.exact = append(s.exact, 0)
	s.writeQuad(id)

	first := uint32(id * QuadSize)
	for i := 0; i < QuadSize; i++ {
		s.colors = append(s.colors, c)
		s.values = append(s.values, 0)
		s.selection = append(s.selection, 0)
		s.refCounts = append(s.refCounts, 0)
	}
	// two triangles per quad
	s.indices = append(s.indices,
		first, first+1, first+2,
		first, first+2, first+3,
	)

	s.dirty = true
	return id
}

func (s *Store) writeQuad(id int) {
	c, h := s.centers[id], s.sizes[id]/2
	v := s.vertices[id*2*QuadSize : (id+1)*2*QuadSize]
	v[0], v[1] = float32(c.X-h), float32(c.Y-h)
	v[2], v[3] = float32(c.X+h), float32(c.Y-h)
	v[4], v[5] = float32(c.X+h), float32(c.Y+h)
	v[6], v[7] = float32(c.X-h), float32(c.Y+h)
}

func (s *Store) slot(id int) int {
	if id < 0 || id >= len(s.centers) {
		panic(fmt.Sprintf("cells: cell id %d out of range [0,%d)", id, len(s.centers)))
	}
	return id * QuadSize
}

// UpdateSize resizes the quad of a cell around its center.
func (s *Store) UpdateSize(id int, size float64) {
	s.slot(id)
	s.sizes[id] = size
	s.writeQuad(id)
	s.dirty = true
}

// UpdateColor sets the color of every vertex of the cell.
func (s *Store) UpdateColor(id int, c color.RGBA) {
	base := s.slot(id)
	for i := 0; i < QuadSize; i++ {
		s.colors[base+i] = c
	}
	s.dirty = true
}

// UpdateVisible toggles the cell through its alpha channel.
func (s *Store) UpdateVisible(id int, visible bool) {
	base := s.slot(id)
	var a uint8
	if visible {
		a = 255
	}
	for i := 0; i < QuadSize; i++ {
		s.colors[base+i].A = a
	}
	s.dirty = true
}

// UpdateSelected sets the selection flag of the cell.
func (s *Store) UpdateSelected(id int, selected bool) {
	base := s.slot(id)
	v := float32(0)
	if selected {
		v = 1
	}
	for i := 0; i < QuadSize; i++ {
		s.selection[base+i] = v
	}
	s.dirty = true
}

// UpdateValue sets the aggregate value of the cell. Value reads back the exact value; the
// vertex slots hold it narrowed to float32.
func (s *Store) UpdateValue(id int, value float64) {
	base := s.slot(id)
	s.exact[id] = value
	for i := 0; i < QuadSize; i++ {
		s.values[base+i] = float32(value)
	}
	s.dirty = true
}

// UpdateRefCount sets the contributor count of the cell.
func (s *Store) UpdateRefCount(id int, refCount int) {
	base := s.slot(id)
	for i := 0; i < QuadSize; i++ {
		s.refCounts[base+i] = int32(refCount)
	}
	s.dirty = true
}

// ResetAll clears the selected attributes of every cell in one pass.
func (s *Store) ResetAll(opts ResetOptions) {
	if opts.Selection {
		clear(s.selection)
	}
	if opts.Values {
		clear(s.values)
		clear(s.exact)
	}
	if opts.RefCounts {
		clear(s.refCounts)
	}
	s.dirty = true
}

// Position returns the center of the cell.
func (s *Store) Position(id int) geom.Point {
	s.slot(id)
	return s.centers[id]
}

// Size returns the edge length of the cell quad.
func (s *Store) Size(id int) float64 {
	s.slot(id)
	return s.sizes[id]
}

// Color returns the cell color.
func (s *Store) Color(id int) color.RGBA {
	return s.colors[s.slot(id)]
}

// Value returns the aggregate value.
func (s *Store) Value(id int) float64 {
	s.slot(id)
	return s.exact[id]
}

// RefCount returns the number of contributing selected genes.
func (s *Store) RefCount(id int) int {
	return int(s.refCounts[s.slot(id)])
}

// Selected returns the selection flag.
func (s *Store) Selected(id int) bool {
	return s.selection[s.slot(id)] == 1
}

// Visible is false for transparent cells and for empty cells (no contributors, zero value).
func (s *Store) Visible(id int) bool {
	base := s.slot(id)
	if s.colors[base].A == 0 {
		return false
	}
	return !(s.refCounts[base] == 0 && s.exact[id] == 0)
}

// Clear drops every cell.
func (s *Store) Clear() {
	s.centers = s.centers[:0]
	s.sizes = s.sizes[:0]
	s.vertices = s.vertices[:0]
	s.colors = s.colors[:0]
	s.values = s.values[:0]
	s.exact = s.exact[:0]
	s.selection = s.selection[:0]
	s.refCounts = s.refCounts[:0]
	s.indices = s.indices[:0]
	s.dirty = true
}
