// Package aggregate turns a feature set into drawable cells: one cell per distinct coordinate,
// carrying the summed hits, the number of contributing selected genes and a blended color.
// Every change of gene selection, gene color, threshold band or visual mode triggers a full
// synchronous rebuild.
package aggregate

import (
	"fmt"
	"image/color"
	"math"
	"time"

	"github.com/atlasmap-sc/spotview/internal/cells"
	"github.com/atlasmap-sc/spotview/internal/dataset"
	"github.com/atlasmap-sc/spotview/internal/geom"
	"github.com/atlasmap-sc/spotview/internal/spatial"
	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

// Defaults used when the corresponding Config field is zero.
const (
	DefaultPointSize = 4.0
	DefaultIntensity = 1.0
	DefaultSliderMin = 0
	DefaultSliderMax = 100
)

// Config holds the engine settings.
type Config struct {
	PointSize float64
	Intensity float64
	Shine     float64
	Shape     Shape
	// CellColor is the color a new cell starts with.
	CellColor color.RGBA
	// SliderMin and SliderMax bound the values accepted by SetLowerLimit and SetUpperLimit.
	SliderMin int
	SliderMax int
	Blend     Blend
}

func (c *Config) applyDefaults() {
	if c.PointSize <= 0 {
		c.PointSize = DefaultPointSize
	}
	if c.Intensity == 0 {
		c.Intensity = DefaultIntensity
	}
	if c.CellColor == (color.RGBA{}) {
		c.CellColor = dataset.DefaultGeneColor
	}
	if c.SliderMin == 0 && c.SliderMax == 0 {
		c.SliderMin, c.SliderMax = DefaultSliderMin, DefaultSliderMax
	}
}

// DrawParams is everything the draw step needs besides the cell buffer.
type DrawParams struct {
	Mode       VisualMode
	Shape      Shape
	Size       float64
	Intensity  float64
	Shine      float64
	PooledMin  float64
	PooledMax  float64
	Thresholds Thresholds
}

// Engine owns the spatial index and the cell store. Features and genes are borrowed from the
// caller's dataset and referenced by id.
type Engine struct {
	cfg   Config
	index *spatial.Index
	store *cells.Store
	bus   bus

	features []*dataset.Feature
	byID     []*dataset.Feature
	cellOf   []int
	members  [][]int

	mode       VisualMode
	size       float64
	intensity  float64
	shine      float64
	shape      Shape
	thresholds Thresholds

	// data ranges the slider is mapped onto
	hitMin, hitMax       int
	pooledMin, pooledMax int

	// range of value over visible cells after the last rebuild
	localMin, localMax float64

	// scratch per-channel sums for BlendMean
	sums [][4]float64
	// genes counted at each cell during the current rebuild
	contributors [][]*dataset.Gene
}

// New creates an engine. The index has no bounds until SetDimensions is called.
func New(cfg Config) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:   cfg,
		index: &spatial.Index{},
		store: cells.NewStore(),
	}
	e.reset()
	return e
}

func (e *Engine) reset() {
	e.features = nil
	e.byID = nil
	e.cellOf = nil
	e.members = nil
	e.contributors = nil
	e.mode = ModeNormal
	e.size = e.cfg.PointSize
	e.intensity = e.cfg.Intensity
	e.shine = e.cfg.Shine
	e.shape = e.cfg.Shape
	lo, hi := e.cfg.SliderMin, e.cfg.SliderMax
	e.hitMin, e.hitMax, e.pooledMin, e.pooledMax = lo, hi, lo, hi
	e.thresholds = Thresholds{Lower: float64(lo), Upper: float64(hi), PooledLower: float64(lo), PooledUpper: float64(hi)}
	e.localMin, e.localMax = 0, 0
}

// Subscribe registers an observer and returns a function that removes it.
func (e *Engine) Subscribe(fn func(Event)) (cancel func()) {
	return e.bus.subscribe(fn)
}

// Notify emits events to every observer, in order.
func (e *Engine) Notify(events ...Event) {
	e.bus.emit(events...)
}

// Store returns the cell store owned by the engine.
func (e *Engine) Store() *cells.Store { return e.store }

// Index returns the spatial index owned by the engine.
func (e *Engine) Index() *spatial.Index { return e.index }

// Features returns the features passed to GenerateData, in order.
func (e *Engine) Features() []*dataset.Feature { return e.features }

// SetDimensions re-scopes the index to new domain bounds. Existing cells are re-indexed.
func (e *Engine) SetDimensions(bounds geom.Rect) {
	e.index.Rebuild(bounds)
	for id := 0; id < e.store.Len(); id++ {
		e.index.Insert(e.store.Position(id), id)
	}
}

// GenerateData creates one cell per distinct feature coordinate and records the feature to
// cell associations. It panics on a nil feature, a negative or repeated feature id, or when
// SetDimensions was never called.
func (e *Engine) GenerateData(features []*dataset.Feature) {
	start := time.Now()
	created := 0
	for _, f := range features {
		if f == nil {
			panic("aggregate: nil feature")
		}
		if f.ID < 0 {
			panic(fmt.Sprintf("aggregate: feature with negative id %d", f.ID))
		}
		for len(e.byID) <= f.ID {
			e.byID = append(e.byID, nil)
			e.cellOf = append(e.cellOf, spatial.InvalidID)
		}
		if e.byID[f.ID] != nil {
			panic(fmt.Sprintf("aggregate: duplicate feature id %d", f.ID))
		}

		p := f.Point()
		id, ok := e.index.QueryPoint(p)
		if !ok {
			id = e.store.AddCell(p.X, p.Y, e.size, e.cfg.CellColor)
			e.index.Insert(p, id)
			e.members = append(e.members, nil)
			created++
		}
		e.byID[f.ID] = f
		e.cellOf[f.ID] = id
		e.members[id] = append(e.members[id], f.ID)
		e.features = append(e.features, f)
	}
	e.store.MarkDirty()

	Logger().Info("generated cells",
		"features", len(features), "cells", created, "duration", time.Since(start))
}

// CellOf returns the cell of a feature id. It panics when the feature is unknown.
func (e *Engine) CellOf(featureID int) int {
	if featureID < 0 || featureID >= len(e.cellOf) || e.cellOf[featureID] == spatial.InvalidID {
		panic(fmt.Sprintf("aggregate: feature %d has no cell", featureID))
	}
	return e.cellOf[featureID]
}

// FeaturesAt returns the features mapped to a cell.
func (e *Engine) FeaturesAt(cellID int) []*dataset.Feature {
	ids := e.members[cellID]
	out := make([]*dataset.Feature, len(ids))
	for i, fid := range ids {
		out[i] = e.byID[fid]
	}
	return out
}

// IsOutsideRange applies the threshold policy of the current visual mode.
func (e *Engine) IsOutsideRange(hits int, value float64) bool {
	return e.thresholds.Outside(e.mode, hits, value)
}

// UpdateVisual recomputes value, refCount and color of every cell from the current gene
// selection, threshold bands and mode, then emits EventAggregationUpdated,
// EventSelectionUpdated and EventDirty.
func (e *Engine) UpdateVisual() {
	start := time.Now()
	e.store.ResetAll(cells.ResetOptions{Selection: true, Values: true, RefCounts: true})
	if e.cfg.Blend == BlendMean {
		e.sums = append(e.sums[:0], make([][4]float64, e.store.Len())...)
	}
	for len(e.contributors) < e.store.Len() {
		e.contributors = append(e.contributors, nil)
	}
	for i := range e.contributors {
		e.contributors[i] = e.contributors[i][:0]
	}

	skipped := 0
	for _, f := range e.features {
		g := f.Gene
		if g == nil {
			panic(fmt.Sprintf("aggregate: feature %d has no gene", f.ID))
		}
		id := e.CellOf(f.ID)

		oldValue := e.store.Value(id)
		oldRefCount := e.store.RefCount(id)
		newValue, newRefCount := oldValue, oldRefCount
		// refCount counts distinct genes, so a second feature of a gene at this cell only adds hits
		first := g.Selected && !e.contributes(id, g)
		if g.Selected {
			newValue += float64(f.Hits)
		}
		if first {
			newRefCount++
		}

		// an update that leaves the cell empty is always written so stale state is cleared
		empty := newRefCount == 0 && newValue == 0
		if !empty && e.IsOutsideRange(f.Hits, newValue) {
			skipped++
			continue
		}

		f.Color = g.Color
		e.store.UpdateRefCount(id, newRefCount)
		e.store.UpdateValue(id, newValue)

		if first {
			e.contributors[id] = append(e.contributors[id], g)
			e.blend(id, newRefCount, f.Color)
		}
	}

	e.localMin, e.localMax = math.Inf(1), math.Inf(-1)
	for id := 0; id < e.store.Len(); id++ {
		if !e.store.Visible(id) {
			continue
		}
		v := e.store.Value(id)
		e.localMin = math.Min(e.localMin, v)
		e.localMax = math.Max(e.localMax, v)
	}
	if math.IsInf(e.localMin, 1) {
		e.localMin, e.localMax = 0, 0
	}

	e.store.MarkDirty()
	Logger().Debug("aggregation rebuilt",
		"cells", e.store.Len(), "features", len(e.features), "skipped", skipped,
		"mode", e.mode.String(), "duration", time.Since(start))
	e.bus.emit(EventAggregationUpdated, EventSelectionUpdated, EventDirty)
}

func (e *Engine) contributes(id int, g *dataset.Gene) bool {
	for _, c := range e.contributors[id] {
		if c == g {
			return true
		}
	}
	return false
}

func (e *Engine) blend(id, refCount int, c color.RGBA) {
	if e.cfg.Blend == BlendMean {
		s := &e.sums[id]
		s[0] += float64(c.R)
		s[1] += float64(c.G)
		s[2] += float64(c.B)
		s[3] += float64(c.A)
		n := float64(refCount)
		mean := func(v float64) uint8 { return uint8(math.Round(v / n)) }
		e.store.UpdateColor(id, color.RGBA{R: mean(s[0]), G: mean(s[1]), B: mean(s[2]), A: mean(s[3])})
		return
	}
	old := e.store.Color(id)
	if old == c {
		return
	}
	e.store.UpdateColor(id, colormap.Lerp(1/float64(refCount), old, c))
}

// PooledRange returns the (min, max) value over visible cells after the last rebuild.
func (e *Engine) PooledRange() (lo, hi float64) {
	return e.localMin, e.localMax
}

// Thresholds returns the current bands.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// SetThresholds replaces both bands and rebuilds when they changed.
func (e *Engine) SetThresholds(t Thresholds) {
	if t == e.thresholds {
		return
	}
	e.thresholds = t
	e.UpdateVisual()
}

// SetHitCount sets the data ranges the slider maps onto and resets both bands to them.
// It does not rebuild.
func (e *Engine) SetHitCount(hitMin, hitMax, pooledMin, pooledMax int) {
	e.hitMin, e.hitMax = hitMin, hitMax
	e.pooledMin, e.pooledMax = pooledMin, pooledMax
	e.thresholds = Thresholds{
		Lower:       float64(hitMin),
		Upper:       float64(hitMax),
		PooledLower: float64(pooledMin),
		PooledUpper: float64(pooledMax),
	}
}

// SetLowerLimit maps a slider value onto both data ranges and rebuilds when either lower
// bound changes.
func (e *Engine) SetLowerLimit(limit int) {
	lo := float64(linearConversion(limit, e.cfg.SliderMin, e.cfg.SliderMax, e.hitMin, e.hitMax))
	plo := float64(linearConversion(limit, e.cfg.SliderMin, e.cfg.SliderMax, e.pooledMin, e.pooledMax))
	if lo == e.thresholds.Lower && plo == e.thresholds.PooledLower {
		return
	}
	e.thresholds.Lower, e.thresholds.PooledLower = lo, plo
	Logger().Debug("lower limit changed", "lower", lo, "pooled_lower", plo)
	e.UpdateVisual()
}

// SetUpperLimit maps a slider value onto both data ranges and rebuilds when either upper
// bound changes.
func (e *Engine) SetUpperLimit(limit int) {
	hi := float64(linearConversion(limit, e.cfg.SliderMin, e.cfg.SliderMax, e.hitMin, e.hitMax))
	phi := float64(linearConversion(limit, e.cfg.SliderMin, e.cfg.SliderMax, e.pooledMin, e.pooledMax))
	if hi == e.thresholds.Upper && phi == e.thresholds.PooledUpper {
		return
	}
	e.thresholds.Upper, e.thresholds.PooledUpper = hi, phi
	Logger().Debug("upper limit changed", "upper", hi, "pooled_upper", phi)
	e.UpdateVisual()
}

// VisualMode returns the active mode.
func (e *Engine) VisualMode() VisualMode { return e.mode }

// SetVisualMode switches the mode and rebuilds when it changed.
func (e *Engine) SetVisualMode(m VisualMode) {
	if m == e.mode {
		return
	}
	e.mode = m
	e.UpdateVisual()
}

// SetSize resizes every cell.
func (e *Engine) SetSize(size float64) {
	if size == e.size {
		return
	}
	e.size = size
	for id := 0; id < e.store.Len(); id++ {
		e.store.UpdateSize(id, size)
	}
	e.bus.emit(EventDirty)
}

// SetIntensity changes the draw intensity.
func (e *Engine) SetIntensity(v float64) {
	if v != e.intensity {
		e.intensity = v
		e.bus.emit(EventDirty)
	}
}

// SetShine changes the draw shine.
func (e *Engine) SetShine(v float64) {
	if v != e.shine {
		e.shine = v
		e.bus.emit(EventDirty)
	}
}

// SetShape changes the glyph.
func (e *Engine) SetShape(s Shape) {
	if s != e.shape {
		e.shape = s
		e.bus.emit(EventDirty)
	}
}

// UpdateColor is called after the colors of genes changed. An empty list is a no-op.
func (e *Engine) UpdateColor(genes []*dataset.Gene) {
	if len(genes) == 0 {
		return
	}
	e.UpdateVisual()
}

// UpdateVisible is called after genes were toggled. An empty list is a no-op.
func (e *Engine) UpdateVisible(genes []*dataset.Gene) {
	if len(genes) == 0 {
		return
	}
	e.UpdateVisual()
}

// Params returns the current draw parameters.
func (e *Engine) Params() DrawParams {
	return DrawParams{
		Mode:       e.mode,
		Shape:      e.shape,
		Size:       e.size,
		Intensity:  e.intensity,
		Shine:      e.shine,
		PooledMin:  e.localMin,
		PooledMax:  e.localMax,
		Thresholds: e.thresholds,
	}
}

// Clear drops all cells and lookups and restores default settings. Index bounds are kept.
func (e *Engine) Clear() {
	e.store.Clear()
	if e.index.Len() > 0 {
		e.index.Clear()
	}
	e.reset()
	e.bus.emit(EventDirty)
}
