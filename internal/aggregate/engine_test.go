package aggregate

import (
	"image/color"
	"math/rand"
	"testing"

	"github.com/atlasmap-sc/spotview/internal/dataset"
	"github.com/atlasmap-sc/spotview/internal/geom"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
)

func feature(g *dataset.Gene, x, y float64, hits int) *dataset.Feature {
	return &dataset.Feature{X: x, Y: y, Hits: hits, Gene: g}
}

// newEngine wraps features in a dataset (assigning ids) and generates cells for them.
func newEngine(t *testing.T, cfg Config, genes []*dataset.Gene, features ...*dataset.Feature) (*Engine, *dataset.Dataset) {
	t.Helper()
	ds := dataset.New("test", genes, features, geom.Rect{})
	e := New(cfg)
	e.SetDimensions(geom.NewRect(0, 0, 100, 100))
	e.GenerateData(ds.Features)
	return e, ds
}

func TestGenerateDataDeduplicates(t *testing.T) {
	g1 := &dataset.Gene{Name: "G1", Color: red}
	g2 := &dataset.Gene{Name: "G2", Color: blue}
	e, ds := newEngine(t, Config{}, []*dataset.Gene{g1, g2},
		feature(g1, 10, 10, 1),
		feature(g2, 10, 10, 2),
		feature(g1, 20, 20, 3),
		feature(g2, 10, 10.5, 4),
	)

	if n := e.Store().Len(); n != 3 {
		t.Fatalf("expected 3 cells, got %d", n)
	}
	if e.CellOf(ds.Features[0].ID) != e.CellOf(ds.Features[1].ID) {
		t.Fatal("features at the same coordinate map to different cells")
	}
	if e.CellOf(ds.Features[0].ID) == e.CellOf(ds.Features[3].ID) {
		t.Fatal("distinct coordinates share a cell")
	}
	if got := e.FeaturesAt(e.CellOf(0)); len(got) != 2 {
		t.Fatalf("expected 2 features in shared cell, got %d", len(got))
	}
}

func TestAddCellRoundTrip(t *testing.T) {
	g := &dataset.Gene{Name: "G", Color: red}
	e, ds := newEngine(t, Config{}, []*dataset.Gene{g},
		feature(g, 1, 2, 1),
		feature(g, 99, 3, 1),
	)
	for _, f := range ds.Features {
		id, ok := e.Index().QueryPoint(f.Point())
		if !ok || id != e.CellOf(f.ID) {
			t.Fatalf("QueryPoint(%v) = %d,%v want %d", f.Point(), id, ok, e.CellOf(f.ID))
		}
		if e.Store().Position(id) != f.Point() {
			t.Fatalf("cell %d at %v, feature at %v", id, e.Store().Position(id), f.Point())
		}
	}
}

func TestConcreteScenario(t *testing.T) {
	g1 := &dataset.Gene{Name: "G1", Selected: true, Color: red}
	g2 := &dataset.Gene{Name: "G2", Selected: true, Color: blue}
	g3 := &dataset.Gene{Name: "G3", Selected: false, Color: green}
	e, _ := newEngine(t, Config{}, []*dataset.Gene{g1, g2, g3},
		feature(g1, 5, 5, 5),
		feature(g2, 5, 5, 3),
		feature(g3, 5, 5, 10),
	)
	e.SetVisualMode(ModeDynamicRange) // rebuilds with pooled band [0,100]

	s := e.Store()
	if s.Len() != 1 {
		t.Fatalf("expected one cell, got %d", s.Len())
	}
	if s.RefCount(0) != 2 || s.Value(0) != 8 || !s.Visible(0) {
		t.Fatalf("got refCount=%d value=%v visible=%v", s.RefCount(0), s.Value(0), s.Visible(0))
	}

	e.SetThresholds(Thresholds{Lower: 0, Upper: 100, PooledLower: 9, PooledUpper: 100})
	if s.RefCount(0) != 0 || s.Value(0) != 0 || s.Visible(0) {
		t.Fatalf("excluded cell not cleared: refCount=%d value=%v", s.RefCount(0), s.Value(0))
	}
}

func TestThresholdInclusive(t *testing.T) {
	g := &dataset.Gene{Name: "G", Selected: true, Color: red}
	e, _ := newEngine(t, Config{}, []*dataset.Gene{g},
		feature(g, 1, 1, 3),
		feature(g, 2, 2, 7),
		feature(g, 3, 3, 2),
		feature(g, 4, 4, 8),
	)
	e.SetThresholds(Thresholds{Lower: 3, Upper: 7, PooledLower: 0, PooledUpper: 100})

	want := []float64{3, 7, 0, 0}
	for id, v := range want {
		if got := e.Store().Value(id); got != v {
			t.Errorf("cell %d value = %v, want %v", id, got, v)
		}
	}
	if !e.IsOutsideRange(8, 0) || e.IsOutsideRange(7, 0) || e.IsOutsideRange(3, 0) {
		t.Error("normal mode bounds must be inclusive")
	}

	e.SetVisualMode(ModeHeatMap)
	e.SetThresholds(Thresholds{Lower: 0, Upper: 0, PooledLower: 3, PooledUpper: 7})
	if e.IsOutsideRange(100, 3) || e.IsOutsideRange(100, 7) || !e.IsOutsideRange(0, 7.5) {
		t.Error("pooled mode must gate on value, inclusively")
	}
}

func randomEngine(t *testing.T, cfg Config, seed int64) (*Engine, *dataset.Dataset) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	genes := []*dataset.Gene{
		{Name: "A", Color: red},
		{Name: "B", Color: blue},
		{Name: "C", Color: green},
		{Name: "D", Color: color.RGBA{R: 200, G: 100, B: 50, A: 255}},
	}
	var features []*dataset.Feature
	// one feature per gene per coordinate, on a coarse grid so cells are shared
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			for _, g := range genes {
				if rng.Intn(2) == 0 {
					features = append(features, feature(g, float64(x*10), float64(y*10), rng.Intn(20)))
				}
			}
		}
	}
	rng.Shuffle(len(features), func(i, j int) { features[i], features[j] = features[j], features[i] })
	genes[0].Selected = true
	genes[2].Selected = true
	genes[3].Selected = true
	return newEngine(t, cfg, genes, features...)
}

func TestMassConservationNormalMode(t *testing.T) {
	e, ds := randomEngine(t, Config{}, 7)
	e.SetThresholds(Thresholds{Lower: 2, Upper: 15, PooledLower: 0, PooledUpper: 1000})

	wantValue := make(map[int]float64)
	wantGenes := make(map[int]map[*dataset.Gene]bool)
	for _, f := range ds.Features {
		if !f.Gene.Selected || f.Hits < 2 || f.Hits > 15 {
			continue
		}
		id := e.CellOf(f.ID)
		wantValue[id] += float64(f.Hits)
		if wantGenes[id] == nil {
			wantGenes[id] = make(map[*dataset.Gene]bool)
		}
		wantGenes[id][f.Gene] = true
	}

	s := e.Store()
	for id := 0; id < s.Len(); id++ {
		if got := s.Value(id); got != wantValue[id] {
			t.Errorf("cell %d value = %v, want %v", id, got, wantValue[id])
		}
		if got := s.RefCount(id); got != len(wantGenes[id]) {
			t.Errorf("cell %d refCount = %d, want %d", id, got, len(wantGenes[id]))
		}
	}
}

func TestRefCountCountsDistinctGenes(t *testing.T) {
	g := &dataset.Gene{Name: "G", Selected: true, Color: red}
	h := &dataset.Gene{Name: "H", Selected: true, Color: blue}
	for _, blend := range []Blend{BlendLerp, BlendMean} {
		e, _ := newEngine(t, Config{Blend: blend}, []*dataset.Gene{g, h},
			feature(g, 5, 5, 2),
			feature(g, 5, 5, 3),
			feature(h, 5, 5, 4),
		)
		e.UpdateVisual()

		s := e.Store()
		if s.RefCount(0) != 2 || s.Value(0) != 9 {
			t.Fatalf("blend %d: got refCount=%d value=%v, want 2 and 9", blend, s.RefCount(0), s.Value(0))
		}
		// two genes weigh equally however many features each has
		if got, want := s.Color(0), (color.RGBA{R: 128, B: 128, A: 255}); blend == BlendMean && got != want {
			t.Errorf("mean color = %v, want %v", got, want)
		}

		h.Selected = false
		e.UpdateVisible([]*dataset.Gene{h})
		if s.RefCount(0) != 1 || s.Value(0) != 5 || s.Color(0) != red {
			t.Fatalf("blend %d: got refCount=%d value=%v color=%v", blend, s.RefCount(0), s.Value(0), s.Color(0))
		}
		h.Selected = true
	}
}

func TestMassConservationPooledMode(t *testing.T) {
	g1 := &dataset.Gene{Name: "G1", Selected: true, Color: red}
	g2 := &dataset.Gene{Name: "G2", Selected: true, Color: blue}
	g3 := &dataset.Gene{Name: "G3", Selected: true, Color: green}

	t.Run("running value capped by upper", func(t *testing.T) {
		e, _ := newEngine(t, Config{}, []*dataset.Gene{g1, g2, g3},
			feature(g1, 5, 5, 5),
			feature(g2, 5, 5, 5),
			feature(g3, 5, 5, 5),
		)
		e.SetVisualMode(ModeHeatMap)
		e.SetThresholds(Thresholds{Lower: 0, Upper: 100, PooledLower: 0, PooledUpper: 10})

		s := e.Store()
		if s.Value(0) != 10 || s.RefCount(0) != 2 || !s.Visible(0) {
			t.Fatalf("got value=%v refCount=%d visible=%v, want 10, 2, true", s.Value(0), s.RefCount(0), s.Visible(0))
		}
	})

	t.Run("cell enters once above lower", func(t *testing.T) {
		e, _ := newEngine(t, Config{}, []*dataset.Gene{g1, g2},
			feature(g1, 5, 5, 4),
			feature(g2, 5, 5, 7),
			feature(g1, 50, 50, 4),
		)
		e.SetVisualMode(ModeDynamicRange)
		e.SetThresholds(Thresholds{Lower: 0, Upper: 100, PooledLower: 6, PooledUpper: 100})

		s := e.Store()
		// 4 alone stays below the band and is skipped; 7 alone passes
		if s.Value(0) != 7 || s.RefCount(0) != 1 || s.Color(0) != blue {
			t.Fatalf("shared cell: value=%v refCount=%d color=%v", s.Value(0), s.RefCount(0), s.Color(0))
		}
		if s.Value(1) != 0 || s.RefCount(1) != 0 || s.Visible(1) {
			t.Fatalf("lone cell below band: value=%v refCount=%d", s.Value(1), s.RefCount(1))
		}
		lo, hi := e.PooledRange()
		if lo != 7 || hi != 7 {
			t.Errorf("PooledRange = %v,%v want 7,7", lo, hi)
		}
	})
}

func TestUpdateVisualIdempotent(t *testing.T) {
	for _, blend := range []Blend{BlendLerp, BlendMean} {
		e, _ := randomEngine(t, Config{Blend: blend}, 3)
		e.SetThresholds(Thresholds{Lower: 1, Upper: 18, PooledLower: 0, PooledUpper: 1000})

		first, _ := e.Store().Sync()
		e.UpdateVisual()
		second, dirty := e.Store().Sync()
		if !dirty {
			t.Fatal("rebuild must mark the store dirty")
		}
		for i := range first.Colors {
			if first.Colors[i] != second.Colors[i] || first.Values[i] != second.Values[i] ||
				first.RefCounts[i] != second.RefCounts[i] || first.Selection[i] != second.Selection[i] {
				t.Fatalf("blend %d: slot %d differs between rebuilds", blend, i)
			}
		}
	}
}

func TestColorBlend(t *testing.T) {
	g1 := &dataset.Gene{Name: "G1", Selected: true, Color: red}
	g2 := &dataset.Gene{Name: "G2", Selected: true, Color: blue}
	g3 := &dataset.Gene{Name: "G3", Selected: true, Color: green}
	features := func() []*dataset.Feature {
		return []*dataset.Feature{feature(g1, 1, 1, 1), feature(g2, 1, 1, 1), feature(g3, 1, 1, 1)}
	}

	lerp, _ := newEngine(t, Config{}, []*dataset.Gene{g1, g2, g3}, features()...)
	lerp.UpdateVisual()
	// red, then half blue, then a third green
	if got, want := lerp.Store().Color(0), (color.RGBA{R: 85, G: 85, B: 85, A: 255}); got != want {
		t.Errorf("lerp blend = %v, want %v", got, want)
	}

	mean, _ := newEngine(t, Config{Blend: BlendMean}, []*dataset.Gene{g1, g2, g3}, features()...)
	mean.UpdateVisual()
	if got, want := mean.Store().Color(0), (color.RGBA{R: 85, G: 85, B: 85, A: 255}); got != want {
		t.Errorf("mean blend = %v, want %v", got, want)
	}

	// single contributor takes the gene color exactly
	g2.Selected, g3.Selected = false, false
	lerp.UpdateVisible([]*dataset.Gene{g2, g3})
	if got := lerp.Store().Color(0); got != red {
		t.Errorf("single contributor color = %v, want red", got)
	}

	g1.Color = blue
	lerp.UpdateColor([]*dataset.Gene{g1})
	if got := lerp.Store().Color(0); got != blue {
		t.Errorf("color not refreshed from gene: %v", got)
	}
}

func TestPooledRangeOverVisibleCells(t *testing.T) {
	g := &dataset.Gene{Name: "G", Selected: true, Color: red}
	off := &dataset.Gene{Name: "Off", Color: blue}
	e, _ := newEngine(t, Config{}, []*dataset.Gene{g, off},
		feature(g, 1, 1, 4),
		feature(g, 2, 2, 9),
		feature(off, 3, 3, 50),
	)
	e.UpdateVisual()
	if lo, hi := e.PooledRange(); lo != 4 || hi != 9 {
		t.Errorf("PooledRange = %v,%v want 4,9", lo, hi)
	}

	g.Selected = false
	e.UpdateVisual()
	if lo, hi := e.PooledRange(); lo != 0 || hi != 0 {
		t.Errorf("PooledRange with nothing visible = %v,%v", lo, hi)
	}
}

func TestUpdateVisualEventOrder(t *testing.T) {
	g := &dataset.Gene{Name: "G", Selected: true, Color: red}
	e, _ := newEngine(t, Config{}, []*dataset.Gene{g}, feature(g, 1, 1, 1))

	var got []Event
	cancel := e.Subscribe(func(ev Event) { got = append(got, ev) })
	e.UpdateVisual()

	want := []Event{EventAggregationUpdated, EventSelectionUpdated, EventDirty}
	if len(got) != len(want) {
		t.Fatalf("got events %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %v, want %v", i, got[i], want[i])
		}
	}

	cancel()
	e.SetIntensity(0.5)
	if len(got) != 3 {
		t.Fatalf("cancelled observer still called: %v", got)
	}
}

func TestDrawParameterSettersOnlyNotify(t *testing.T) {
	g := &dataset.Gene{Name: "G", Selected: true, Color: red}
	e, _ := newEngine(t, Config{}, []*dataset.Gene{g}, feature(g, 1, 1, 1))
	e.UpdateVisual()

	var got []Event
	e.Subscribe(func(ev Event) { got = append(got, ev) })
	e.SetIntensity(0.3)
	e.SetShine(0.2)
	e.SetShape(ShapeCross)
	e.SetShape(ShapeCross) // unchanged
	for _, ev := range got {
		if ev != EventDirty {
			t.Fatalf("unexpected event %v", ev)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(got))
	}

	e.SetSize(10)
	if e.Store().Size(0) != 10 || e.Params().Size != 10 {
		t.Fatalf("size not applied")
	}
	p := e.Params()
	if p.Shape != ShapeCross || p.Intensity != 0.3 || p.Shine != 0.2 {
		t.Fatalf("unexpected params %+v", p)
	}
}

func TestSliderLimits(t *testing.T) {
	g := &dataset.Gene{Name: "G", Selected: true, Color: red}
	e, _ := newEngine(t, Config{}, []*dataset.Gene{g}, feature(g, 1, 1, 1))
	e.SetHitCount(10, 210, 20, 420)

	if th := e.Thresholds(); th != (Thresholds{Lower: 10, Upper: 210, PooledLower: 20, PooledUpper: 420}) {
		t.Fatalf("SetHitCount did not reset bands: %+v", th)
	}

	rebuilds := 0
	e.Subscribe(func(ev Event) {
		if ev == EventAggregationUpdated {
			rebuilds++
		}
	})

	e.SetLowerLimit(50)
	e.SetUpperLimit(75)
	want := Thresholds{Lower: 110, Upper: 160, PooledLower: 220, PooledUpper: 320}
	if th := e.Thresholds(); th != want {
		t.Fatalf("thresholds = %+v, want %+v", th, want)
	}
	e.SetUpperLimit(75)
	if rebuilds != 2 {
		t.Fatalf("expected 2 rebuilds, got %d", rebuilds)
	}
}

func TestVisualModeRoundTrip(t *testing.T) {
	for _, m := range []VisualMode{ModeNormal, ModeDynamicRange, ModeHeatMap, ModeColorRange} {
		got, err := ParseVisualMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseVisualMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseVisualMode("sparkle"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if s, err := ParseShape("SQUARE"); err != nil || s != ShapeSquare {
		t.Errorf("ParseShape = %v, %v", s, err)
	}
}

func TestClearRestoresDefaults(t *testing.T) {
	g := &dataset.Gene{Name: "G", Selected: true, Color: red}
	e, _ := newEngine(t, Config{}, []*dataset.Gene{g}, feature(g, 1, 1, 1))
	e.SetVisualMode(ModeColorRange)
	e.SetHitCount(5, 6, 7, 8)

	e.Clear()
	if e.Store().Len() != 0 || e.Index().Len() != 0 || len(e.Features()) != 0 {
		t.Fatal("clear kept data")
	}
	if e.VisualMode() != ModeNormal {
		t.Fatal("mode not reset")
	}
	if th := e.Thresholds(); th != (Thresholds{Lower: 0, Upper: 100, PooledLower: 0, PooledUpper: 100}) {
		t.Fatalf("thresholds not reset: %+v", th)
	}
}

func TestPreconditionPanics(t *testing.T) {
	mustPanic := func(t *testing.T, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		fn()
	}

	t.Run("nil feature", func(t *testing.T) {
		e := New(Config{})
		e.SetDimensions(geom.NewRect(0, 0, 1, 1))
		mustPanic(t, func() { e.GenerateData([]*dataset.Feature{nil}) })
	})
	t.Run("no dimensions", func(t *testing.T) {
		e := New(Config{})
		mustPanic(t, func() { e.GenerateData([]*dataset.Feature{{ID: 0}}) })
	})
	t.Run("nil gene", func(t *testing.T) {
		e := New(Config{})
		e.SetDimensions(geom.NewRect(0, 0, 1, 1))
		e.GenerateData([]*dataset.Feature{{ID: 0}})
		mustPanic(t, e.UpdateVisual)
	})
	t.Run("unknown feature", func(t *testing.T) {
		e := New(Config{})
		mustPanic(t, func() { e.CellOf(3) })
	})
}
