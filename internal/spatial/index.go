// Package spatial provides the point index used to deduplicate feature coordinates and to
// resolve region picks. It is a bucketed quadtree over a fixed domain rectangle.
package spatial

import (
	"fmt"

	"github.com/atlasmap-sc/spotview/internal/geom"
)

const (
	// NodeCapacity is the number of items a leaf holds before it splits.
	NodeCapacity = 8
	// MaxDepth bounds subdivision; leaves at this depth grow without splitting.
	MaxDepth = 16
	// InvalidID is never a valid cell id.
	InvalidID = -1
)

// Item is one indexed (point, cell id) association.
type Item struct {
	Point geom.Point
	ID    int
}

type node struct {
	bounds   geom.Rect
	depth    int
	items    []Item
	children *[4]node
}

// Index is a quadtree keyed by exact coordinates. Points outside the domain bounds are kept in
// an overflow list and scanned linearly, so an insert never loses data.
type Index struct {
	root        *node
	overflow    []Item
	count       int
	initialized bool
}

// New creates an index scoped to bounds.
func New(bounds geom.Rect) *Index {
	idx := &Index{}
	idx.Rebuild(bounds)
	return idx
}

// Rebuild drops all items and re-scopes the index to new domain bounds.
func (idx *Index) Rebuild(bounds geom.Rect) {
	idx.root = &node{bounds: bounds}
	idx.overflow = nil
	idx.count = 0
	idx.initialized = true
}

// Clear drops all items and keeps the current bounds.
func (idx *Index) Clear() {
	idx.mustBeInitialized()
	idx.Rebuild(idx.root.bounds)
}

// Bounds returns the domain rectangle.
func (idx *Index) Bounds() geom.Rect {
	idx.mustBeInitialized()
	return idx.root.bounds
}

// Len returns the number of distinct coordinates indexed.
func (idx *Index) Len() int {
	return idx.count
}

// Insert associates p with id. Inserting at an existing coordinate is a no-op; callers resolve
// the existing id with QueryPoint first.
func (idx *Index) Insert(p geom.Point, id int) {
	if id < 0 {
		panic(fmt.Sprintf("spatial: insert of invalid id %d at %v", id, p))
	}
	idx.mustBeInitialized()

	if _, ok := idx.QueryPoint(p); ok {
		return
	}
	if !idx.root.bounds.Contains(p) {
		idx.overflow = append(idx.overflow, Item{Point: p, ID: id})
		idx.count++
		return
	}
	idx.root.insert(Item{Point: p, ID: id})
	idx.count++
}

// QueryPoint returns the id stored at exactly p.
func (idx *Index) QueryPoint(p geom.Point) (int, bool) {
	idx.mustBeInitialized()

	if idx.root.bounds.Contains(p) {
		n := idx.root
		for n.children != nil {
			n = &n.children[n.quadrantOf(p)]
		}
		for _, it := range n.items {
			if it.Point == p {
				return it.ID, true
			}
		}
		return InvalidID, false
	}
	for _, it := range idx.overflow {
		if it.Point == p {
			return it.ID, true
		}
	}
	return InvalidID, false
}

// QueryRegion returns every indexed item whose point lies inside shape.
func (idx *Index) QueryRegion(shape geom.Shape) []Item {
	idx.mustBeInitialized()

	bounds := shape.Bounds()
	var out []Item
	idx.root.query(shape, bounds, &out)
	for _, it := range idx.overflow {
		if bounds.Contains(it.Point) && shape.Contains(it.Point) {
			out = append(out, it)
		}
	}
	return out
}

func (idx *Index) mustBeInitialized() {
	if !idx.initialized {
		panic("spatial: index used before bounds were set")
	}
}

// quadrantOf picks the child for p. Points on a split line go to the higher quadrant so that
// every point has exactly one home.
func (n *node) quadrantOf(p geom.Point) int {
	c := n.bounds.Center()
	q := 0
	if p.X >= c.X {
		q++
	}
	if p.Y >= c.Y {
		q += 2
	}
	return q
}

func (n *node) insert(it Item) {
	for n.children != nil {
		n = &n.children[n.quadrantOf(it.Point)]
	}
	n.items = append(n.items, it)
	if len(n.items) > NodeCapacity && n.depth < MaxDepth {
		n.split()
	}
}

func (n *node) split() {
	n.children = &[4]node{}
	for i := range n.children {
		n.children[i] = node{bounds: n.bounds.Quadrant(i), depth: n.depth + 1}
	}
	items := n.items
	n.items = nil
	for _, it := range items {
		n.children[n.quadrantOf(it.Point)].insert(it)
	}
}

func (n *node) query(shape geom.Shape, bounds geom.Rect, out *[]Item) {
	if !n.bounds.Intersects(bounds) {
		return
	}
	if n.children != nil {
		for i := range n.children {
			n.children[i].query(shape, bounds, out)
		}
		return
	}
	for _, it := range n.items {
		if bounds.Contains(it.Point) && shape.Contains(it.Point) {
			*out = append(*out, it)
		}
	}
}
