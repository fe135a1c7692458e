// Package selection resolves picks against the aggregation engine's index and cells, and
// summarizes the selected features per gene.
package selection

import (
	"image"
	"sort"

	"golang.org/x/image/draw"

	"github.com/atlasmap-sc/spotview/internal/aggregate"
	"github.com/atlasmap-sc/spotview/internal/cells"
	"github.com/atlasmap-sc/spotview/internal/dataset"
	"github.com/atlasmap-sc/spotview/internal/geom"
)

// Mode controls how a region pick combines with the current selection.
type Mode int

const (
	ModeNew Mode = iota
	ModeAdd
	ModeExclude
)

func (m Mode) String() string {
	switch m {
	case ModeNew:
		return "new"
	case ModeAdd:
		return "add"
	case ModeExclude:
		return "exclude"
	}
	return "unknown"
}

// ParseMode maps "new", "add" and "exclude" to a Mode. Empty means ModeNew.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "new":
		return ModeNew, true
	case "add":
		return ModeAdd, true
	case "exclude":
		return ModeExclude, true
	}
	return ModeNew, false
}

// Summary aggregates the selected features of one gene. NormalizedReads is the gene's share of
// all selected hits, in hits per million.
type Summary struct {
	Name            string  `json:"name"`
	Count           int     `json:"count"`
	Hits            int     `json:"hits"`
	NormalizedReads float64 `json:"normalized_reads"`
	PixelIntensity  int     `json:"pixel_intensity"`
}

// TotalHits sums the hits over summaries.
func TotalHits(summaries []Summary) int {
	total := 0
	for _, s := range summaries {
		total += s.Hits
	}
	return total
}

// Engine writes the selection flag of the cell store and keeps the list of selected features.
// It is the only writer of that flag.
type Engine struct {
	agg       *aggregate.Engine
	selected  []*dataset.Feature
	member    map[*dataset.Feature]struct{}
	image     *image.RGBA
	transform geom.Transform
	cancel    func()
}

// New creates a selection engine bound to agg. A rebuild of agg drops the selected list, since
// the rebuild already cleared every cell flag.
func New(agg *aggregate.Engine) *Engine {
	e := &Engine{
		agg:       agg,
		member:    make(map[*dataset.Feature]struct{}),
		transform: geom.Identity(),
	}
	e.cancel = agg.Subscribe(func(ev aggregate.Event) {
		if ev == aggregate.EventAggregationUpdated {
			e.dropList()
		}
	})
	return e
}

// Close detaches the engine from the aggregation engine.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) dropList() {
	e.selected = e.selected[:0]
	clear(e.member)
}

func (e *Engine) add(f *dataset.Feature) {
	if _, ok := e.member[f]; ok {
		return
	}
	e.member[f] = struct{}{}
	e.selected = append(e.selected, f)
}

func (e *Engine) remove(f *dataset.Feature) {
	if _, ok := e.member[f]; !ok {
		return
	}
	delete(e.member, f)
	for i, s := range e.selected {
		if s == f {
			e.selected = append(e.selected[:i], e.selected[i+1:]...)
			return
		}
	}
}

func (e *Engine) resetSelection() {
	e.agg.Store().ResetAll(cells.ResetOptions{Selection: true})
	e.dropList()
}

func (e *Engine) finish() {
	e.agg.Notify(aggregate.EventSelectionUpdated, aggregate.EventDirty)
}

// SelectByGeneSet selects the features of every selected gene in genes.
func (e *Engine) SelectByGeneSet(genes []*dataset.Gene, featuresOf func(*dataset.Gene) []*dataset.Feature) {
	var features []*dataset.Feature
	for _, g := range genes {
		if g == nil {
			panic("selection: nil gene")
		}
		if g.Selected {
			features = append(features, featuresOf(g)...)
		}
	}
	e.SelectByFeatures(features)
}

// SelectByFeatures replaces the selection with the given features. Features on empty cells or
// outside the threshold band are skipped.
func (e *Engine) SelectByFeatures(features []*dataset.Feature) {
	e.resetSelection()
	store := e.agg.Store()
	for _, f := range features {
		if f == nil {
			panic("selection: nil feature")
		}
		id := e.agg.CellOf(f.ID)
		if store.RefCount(id) <= 0 || e.agg.IsOutsideRange(f.Hits, store.Value(id)) {
			continue
		}
		e.add(f)
		store.UpdateSelected(id, true)
	}
	aggregate.Logger().Debug("selected features", "requested", len(features), "selected", len(e.selected))
	e.finish()
}

// SelectByRegion picks every non-empty cell inside shape. ModeNew replaces the selection,
// ModeAdd extends it and ModeExclude removes the picked features from it.
func (e *Engine) SelectByRegion(shape geom.Shape, mode Mode) {
	if mode == ModeNew {
		e.resetSelection()
	}
	store := e.agg.Store()
	selected := mode != ModeExclude

	items := e.agg.Index().QueryRegion(shape)
	for _, it := range items {
		id := it.ID
		if store.RefCount(id) <= 0 {
			continue
		}
		value := store.Value(id)
		for _, f := range e.agg.FeaturesAt(id) {
			if e.agg.IsOutsideRange(f.Hits, value) {
				continue
			}
			store.UpdateSelected(id, selected)
			if selected {
				e.add(f)
			} else {
				e.remove(f)
			}
		}
	}
	aggregate.Logger().Debug("region selection", "mode", mode.String(), "cells", len(items), "selected", len(e.selected))
	e.finish()
}

// ClearSelection unsets every cell flag and empties the selected list.
func (e *Engine) ClearSelection() {
	e.resetSelection()
	e.finish()
}

// SelectedFeatures returns a copy of the selected features in selection order.
func (e *Engine) SelectedFeatures() []*dataset.Feature {
	return append([]*dataset.Feature(nil), e.selected...)
}

// SetImage sets the bitmap sampled by SelectedGenes. A nil image disables sampling.
func (e *Engine) SetImage(img image.Image) {
	if img == nil {
		e.image = nil
		return
	}
	if rgba, ok := img.(*image.RGBA); ok {
		e.image = rgba
		return
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	e.image = dst
}

// SetTransform sets the map from scene coordinates to image pixels.
func (e *Engine) SetTransform(t geom.Transform) {
	e.transform = t
}

// SelectedGenes groups the selected features by gene name, sorted by name.
func (e *Engine) SelectedGenes() []Summary {
	byName := make(map[string]*Summary)
	for _, f := range e.selected {
		if f.Gene == nil {
			panic("selection: feature without gene")
		}
		s, ok := byName[f.Gene.Name]
		if !ok {
			s = &Summary{Name: f.Gene.Name}
			byName[s.Name] = s
		}
		s.Count++
		s.Hits += f.Hits
		s.PixelIntensity += e.intensityAt(f.Point())
	}

	out := make([]Summary, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	if total := TotalHits(out); total > 0 {
		for i := range out {
			out[i].NormalizedReads = float64(out[i].Hits) * 1e6 / float64(total)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// intensityAt returns the luma of the pixel under p, or 0 when p maps outside the image.
func (e *Engine) intensityAt(p geom.Point) int {
	if e.image == nil {
		return 0
	}
	x, y := e.transform.ApplyInt(p)
	if !(image.Point{X: x, Y: y}).In(e.image.Rect) {
		return 0
	}
	c := e.image.RGBAAt(x, y)
	return (int(c.R)*11 + int(c.G)*16 + int(c.B)*5) / 32
}
