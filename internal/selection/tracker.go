package selection

import "github.com/atlasmap-sc/spotview/internal/geom"

// State of a pointer-driven selection.
type State int

const (
	Idle State = iota
	Selecting
)

func (s State) String() string {
	if s == Selecting {
		return "selecting"
	}
	return "idle"
}

// Buttons is the set of pointer buttons held during a move.
type Buttons uint8

const (
	ButtonPrimary Buttons = 1 << iota
	ButtonSecondary
	ButtonMiddle
)

// DragKind selects the region shape built from the drag path.
type DragKind int

const (
	// RectDrag spans a rectangle from the drag start to the current point.
	RectDrag DragKind = iota
	// LassoDrag closes the whole drag path.
	LassoDrag
)

// Region is emitted while dragging and once more, with Final set, when the drag ends.
type Region struct {
	Shape geom.Shape
	Mode  Mode
	Final bool
}

// Tracker turns pointer events on a render surface into selection regions. Only one drag can
// be active at a time.
type Tracker struct {
	surface  geom.Rect
	kind     DragKind
	onRegion func(Region)

	state State
	mode  Mode
	path  []geom.Point
}

// NewTracker creates an idle tracker. onRegion receives every region update.
func NewTracker(surface geom.Rect, kind DragKind, onRegion func(Region)) *Tracker {
	return &Tracker{surface: surface, kind: kind, onRegion: onRegion}
}

// State returns the current state.
func (t *Tracker) State() State { return t.state }

// PointerDown starts a drag when p is on the surface and no drag is active. It reports
// whether a drag started.
func (t *Tracker) PointerDown(p geom.Point, mode Mode) bool {
	if t.state == Selecting || !t.surface.Contains(p) {
		return false
	}
	t.state = Selecting
	t.mode = mode
	t.path = append(t.path[:0], p)
	return true
}

// PointerMove extends the drag path and emits a region update. A move with no button held
// while selecting is treated as a release at the last known position.
func (t *Tracker) PointerMove(p geom.Point, buttons Buttons) {
	if t.state != Selecting {
		return
	}
	if buttons == 0 {
		t.end()
		return
	}
	t.path = append(t.path, p)
	t.emit(false)
}

// PointerUp ends the drag at p and emits the final region.
func (t *Tracker) PointerUp(p geom.Point) {
	if t.state != Selecting {
		return
	}
	if last := t.path[len(t.path)-1]; last != p {
		t.path = append(t.path, p)
	}
	t.end()
}

func (t *Tracker) end() {
	t.emit(true)
	t.state = Idle
	t.path = t.path[:0]
}

func (t *Tracker) emit(final bool) {
	if t.onRegion == nil {
		return
	}
	t.onRegion(Region{Shape: t.shape(), Mode: t.mode, Final: final})
}

func (t *Tracker) shape() geom.Shape {
	start, cur := t.path[0], t.path[len(t.path)-1]
	if t.kind == LassoDrag && len(t.path) > 2 {
		return geom.Lasso{Path: append([]geom.Point(nil), t.path...)}
	}
	return geom.NewRect(start.X, start.Y, cur.X, cur.Y)
}
