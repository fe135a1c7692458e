// Package service provides the view sessions behind the spotview server.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync"

	"github.com/atlasmap-sc/spotview/internal/aggregate"
	"github.com/atlasmap-sc/spotview/internal/cache"
	"github.com/atlasmap-sc/spotview/internal/dataset"
	"github.com/atlasmap-sc/spotview/internal/geom"
	"github.com/atlasmap-sc/spotview/internal/render"
	"github.com/atlasmap-sc/spotview/internal/report"
	"github.com/atlasmap-sc/spotview/internal/selection"
	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

var (
	// ErrGeneNotFound is returned when a request names a gene the dataset does not have.
	ErrGeneNotFound = errors.New("gene not found")
	// ErrUnknownColormap is returned for a frame request naming a colormap the renderer lacks.
	ErrUnknownColormap = errors.New("unknown colormap")
)

// ViewServiceConfig contains view service configuration.
type ViewServiceConfig struct {
	DatasetID string
	Dataset   *dataset.Dataset
	// Image overrides the tissue image named by the dataset.
	Image    image.Image
	Cache    *cache.Manager
	Renderer *render.FrameRenderer
	Engine   aggregate.Config
	Mode     aggregate.VisualMode
	// SelectAll marks every gene selected before the first rebuild.
	SelectAll bool
}

// ViewService owns one aggregation and selection engine pair over a dataset. The engines are
// single threaded; every exported method holds mu for its whole duration.
type ViewService struct {
	datasetID string
	ds        *dataset.Dataset
	cache     *cache.Manager
	renderer  *render.FrameRenderer

	mu         sync.Mutex
	agg        *aggregate.Engine
	sel        *selection.Engine
	image      image.Image
	stats      dataset.HitStats
	lower      int
	upper      int
	generation uint64
	cancel     func()
}

// NewViewService builds the cells of a dataset and runs the first rebuild.
func NewViewService(cfg ViewServiceConfig) (*ViewService, error) {
	if cfg.Dataset == nil {
		return nil, errors.New("view service needs a dataset")
	}
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}

	img := cfg.Image
	if img == nil && cfg.Dataset.Image != "" {
		var err error
		img, err = LoadImage(cfg.Dataset.Image)
		if err != nil {
			return nil, err
		}
	}

	s := &ViewService{
		datasetID: datasetID,
		ds:        cfg.Dataset,
		cache:     cfg.Cache,
		renderer:  cfg.Renderer,
		agg:       aggregate.New(cfg.Engine),
		image:     img,
		stats:     cfg.Dataset.HitStats(),
	}
	s.cancel = s.agg.Subscribe(func(ev aggregate.Event) {
		if ev == aggregate.EventDirty {
			s.generation++
		}
	})

	s.agg.SetDimensions(s.ds.Bounds)
	s.agg.GenerateData(s.ds.Features)
	s.agg.SetHitCount(s.stats.Min, s.stats.Max, s.stats.PooledMin, s.stats.PooledMax)
	s.lower, s.upper = sliderRange(cfg.Engine)

	s.sel = selection.New(s.agg)
	s.sel.SetImage(img)
	s.sel.SetTransform(s.ds.Transform)

	if cfg.SelectAll {
		for _, g := range s.ds.Genes {
			g.Selected = true
		}
	}
	if cfg.Mode != s.agg.VisualMode() {
		s.agg.SetVisualMode(cfg.Mode)
	} else {
		s.agg.UpdateVisual()
	}
	return s, nil
}

func sliderRange(cfg aggregate.Config) (int, int) {
	if cfg.SliderMin == 0 && cfg.SliderMax == 0 {
		return aggregate.DefaultSliderMin, aggregate.DefaultSliderMax
	}
	return cfg.SliderMin, cfg.SliderMax
}

// LoadImage decodes a PNG or JPEG file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// Close detaches the service from its engines.
func (s *ViewService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.Close()
	s.cancel()
}

// DatasetID returns the id the service is registered under.
func (s *ViewService) DatasetID() string {
	return s.datasetID
}

// Dataset returns the served dataset.
func (s *ViewService) Dataset() *dataset.Dataset {
	return s.ds
}

// Generation changes every time the cells or the selection change.
func (s *ViewService) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// GeneInfo is the public state of one gene.
type GeneInfo struct {
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
	Color    string `json:"color"`
	Features int    `json:"features"`
}

// Genes lists all genes sorted by name.
func (s *ViewService) Genes() []GeneInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]GeneInfo, 0, len(s.ds.Genes))
	for _, name := range s.ds.GeneNames() {
		g, _ := s.ds.Gene(name)
		out = append(out, s.geneInfo(g))
	}
	return out
}

func (s *ViewService) geneInfo(g *dataset.Gene) GeneInfo {
	return GeneInfo{
		Name:     g.Name,
		Selected: g.Selected,
		Color:    colormap.Hex(g.Color),
		Features: len(s.ds.FeaturesOf(g)),
	}
}

// GeneUpdate changes a gene. Nil fields are left as they are.
type GeneUpdate struct {
	Selected *bool   `json:"selected,omitempty"`
	Color    *string `json:"color,omitempty"`
}

// UpdateGene applies an update to one gene and rebuilds the cells when something changed.
func (s *ViewService) UpdateGene(name string, u GeneUpdate) (GeneInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.ds.Gene(name)
	if !ok {
		return GeneInfo{}, fmt.Errorf("%w: %s", ErrGeneNotFound, name)
	}

	var c color.RGBA
	if u.Color != nil {
		parsed, err := colormap.ParseHex(*u.Color)
		if err != nil {
			return GeneInfo{}, err
		}
		c = parsed
	}

	changed := []*dataset.Gene{g}
	if u.Color != nil && c != g.Color {
		g.Color = c
		s.ds.SyncColors()
		s.agg.UpdateColor(changed)
	}
	if u.Selected != nil && *u.Selected != g.Selected {
		g.Selected = *u.Selected
		s.agg.UpdateVisible(changed)
	}
	return s.geneInfo(g), nil
}

// SelectAllGenes sets the selected flag of every gene and rebuilds once.
func (s *ViewService) SelectAllGenes(selected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []*dataset.Gene
	for _, g := range s.ds.Genes {
		if g.Selected != selected {
			g.Selected = selected
			changed = append(changed, g)
		}
	}
	s.agg.UpdateVisible(changed)
}

// ViewState is the current view of a session.
type ViewState struct {
	VisualMode string               `json:"visual_mode"`
	Shape      string               `json:"shape"`
	PointSize  float64              `json:"point_size"`
	Intensity  float64              `json:"intensity"`
	Shine      float64              `json:"shine"`
	Lower      int                  `json:"lower"`
	Upper      int                  `json:"upper"`
	Thresholds aggregate.Thresholds `json:"thresholds"`
	PooledMin  float64              `json:"pooled_min"`
	PooledMax  float64              `json:"pooled_max"`
	HitStats   dataset.HitStats     `json:"hit_stats"`
	Generation uint64               `json:"generation"`
}

// ViewUpdate changes view settings. Nil fields are left as they are. Lower and Upper are
// slider positions mapped onto the hit ranges of the dataset.
type ViewUpdate struct {
	VisualMode *string  `json:"visual_mode,omitempty"`
	Lower      *int     `json:"lower,omitempty"`
	Upper      *int     `json:"upper,omitempty"`
	PointSize  *float64 `json:"point_size,omitempty"`
	Intensity  *float64 `json:"intensity,omitempty"`
	Shine      *float64 `json:"shine,omitempty"`
	Shape      *string  `json:"shape,omitempty"`
}

// View returns the current view state.
func (s *ViewService) View() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewState()
}

func (s *ViewService) viewState() ViewState {
	p := s.agg.Params()
	return ViewState{
		VisualMode: p.Mode.String(),
		Shape:      p.Shape.String(),
		PointSize:  p.Size,
		Intensity:  p.Intensity,
		Shine:      p.Shine,
		Lower:      s.lower,
		Upper:      s.upper,
		Thresholds: p.Thresholds,
		PooledMin:  p.PooledMin,
		PooledMax:  p.PooledMax,
		HitStats:   s.stats,
		Generation: s.generation,
	}
}

// UpdateView validates the whole update before applying any of it.
func (s *ViewService) UpdateView(u ViewUpdate) (ViewState, error) {
	var (
		mode  aggregate.VisualMode
		shape aggregate.Shape
		err   error
	)
	if u.VisualMode != nil {
		if mode, err = aggregate.ParseVisualMode(*u.VisualMode); err != nil {
			return ViewState{}, err
		}
	}
	if u.Shape != nil {
		if shape, err = aggregate.ParseShape(*u.Shape); err != nil {
			return ViewState{}, err
		}
	}
	if u.PointSize != nil && *u.PointSize <= 0 {
		return ViewState{}, fmt.Errorf("invalid point size %v", *u.PointSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u.VisualMode != nil {
		s.agg.SetVisualMode(mode)
	}
	if u.Shape != nil {
		s.agg.SetShape(shape)
	}
	if u.PointSize != nil {
		s.agg.SetSize(*u.PointSize)
	}
	if u.Intensity != nil {
		s.agg.SetIntensity(*u.Intensity)
	}
	if u.Shine != nil {
		s.agg.SetShine(*u.Shine)
	}
	if u.Lower != nil {
		s.lower = *u.Lower
		s.agg.SetLowerLimit(*u.Lower)
	}
	if u.Upper != nil {
		s.upper = *u.Upper
		s.agg.SetUpperLimit(*u.Upper)
	}
	return s.viewState(), nil
}

// RegionRequest describes a region pick. Exactly one of Rect, Polygon and Lasso must be set.
type RegionRequest struct {
	Mode    string       `json:"mode"`
	Rect    *[4]float64  `json:"rect,omitempty"`
	Polygon [][2]float64 `json:"polygon,omitempty"`
	Lasso   [][2]float64 `json:"lasso,omitempty"`
}

// Shape converts the request into a query shape.
func (r RegionRequest) Shape() (geom.Shape, error) {
	set := 0
	if r.Rect != nil {
		set++
	}
	if r.Polygon != nil {
		set++
	}
	if r.Lasso != nil {
		set++
	}
	if set != 1 {
		return nil, errors.New("exactly one of rect, polygon and lasso is required")
	}

	switch {
	case r.Rect != nil:
		return geom.NewRect(r.Rect[0], r.Rect[1], r.Rect[2], r.Rect[3]), nil
	case r.Polygon != nil:
		pts, err := toPoints(r.Polygon)
		if err != nil {
			return nil, fmt.Errorf("polygon: %w", err)
		}
		return geom.Polygon(pts), nil
	default:
		pts, err := toPoints(r.Lasso)
		if err != nil {
			return nil, fmt.Errorf("lasso: %w", err)
		}
		return geom.Lasso{Path: pts}, nil
	}
}

func toPoints(in [][2]float64) ([]geom.Point, error) {
	if len(in) < 3 {
		return nil, fmt.Errorf("need at least 3 points, got %d", len(in))
	}
	pts := make([]geom.Point, len(in))
	for i, p := range in {
		pts[i] = geom.Pt(p[0], p[1])
	}
	return pts, nil
}

// SelectRegion picks the features under a region and returns the new summaries.
func (s *ViewService) SelectRegion(r RegionRequest) ([]selection.Summary, error) {
	mode, ok := selection.ParseMode(r.Mode)
	if !ok {
		return nil, fmt.Errorf("unknown selection mode %q", r.Mode)
	}
	shape, err := r.Shape()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.SelectByRegion(shape, mode)
	return s.summaries()
}

// SelectGenes selects the features of the named genes. No names means every selected gene.
func (s *ViewService) SelectGenes(names []string) ([]selection.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var genes []*dataset.Gene
	if len(names) == 0 {
		genes = s.ds.SelectedGenes()
	} else {
		for _, name := range names {
			g, ok := s.ds.Gene(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrGeneNotFound, name)
			}
			genes = append(genes, g)
		}
	}
	s.sel.SelectByGeneSet(genes, s.ds.FeaturesOf)
	return s.summaries()
}

// ClearSelection drops the current selection.
func (s *ViewService) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.ClearSelection()
}

// Summaries returns the per-gene summaries of the current selection.
func (s *ViewService) Summaries() ([]selection.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries()
}

func (s *ViewService) summaries() ([]selection.Summary, error) {
	key := cache.SummaryKey(s.datasetID, s.generation)
	if s.cache != nil {
		if data, ok := s.cache.GetSummary(key); ok {
			var out []selection.Summary
			if err := json.Unmarshal(data, &out); err == nil {
				return out, nil
			}
		}
	}

	out := s.sel.SelectedGenes()
	if s.cache != nil {
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to encode summaries: %w", err)
		}
		s.cache.SetSummary(key, data)
	}
	return out, nil
}

// FrameRequest describes a rendered frame. Zero sizes use the renderer defaults.
type FrameRequest struct {
	Width      int
	Height     int
	Colormap   string
	Background bool
}

// Frame renders the current cells as PNG.
func (s *ViewService) Frame(req FrameRequest) ([]byte, error) {
	if s.renderer == nil {
		return nil, errors.New("view service has no renderer")
	}
	if req.Colormap != "" && !s.renderer.HasColormap(req.Colormap) {
		return nil, fmt.Errorf("%w %q", ErrUnknownColormap, req.Colormap)
	}
	cfg := s.renderer.Config()
	if req.Width <= 0 {
		req.Width = cfg.Width
	}
	if req.Height <= 0 {
		req.Height = cfg.Height
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bg := "0"
	if req.Background && s.image != nil {
		bg = "1"
	}
	key := cache.FrameKey(s.datasetID, s.generation, req.Width, req.Height,
		map[string]string{"colormap": req.Colormap, "background": bg})
	if s.cache != nil {
		if data, ok := s.cache.GetFrame(key); ok {
			return data, nil
		}
	}

	buf, _ := s.agg.Store().Sync()
	view := render.View{
		Width:    req.Width,
		Height:   req.Height,
		Bounds:   s.ds.Bounds,
		Params:   s.agg.Params(),
		Colormap: req.Colormap,
	}
	if bg == "1" {
		view.Image = s.image
		view.ImageTransform = s.ds.Transform
	}

	data, err := s.renderer.Render(buf, view)
	if err != nil {
		return nil, fmt.Errorf("failed to render frame: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetFrame(key, data); err != nil {
			aggregate.Logger().Warn("frame not cached", "dataset", s.datasetID, "error", err)
		}
	}
	return data, nil
}

// ReportInput collects the visible cells and the current summaries for a report.
func (s *ViewService) ReportInput() (report.Input, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries, err := s.summaries()
	if err != nil {
		return report.Input{}, err
	}
	store := s.agg.Store()
	var cellsOut []report.Cell
	for id := 0; id < store.Len(); id++ {
		if !store.Visible(id) {
			continue
		}
		p := store.Position(id)
		cellsOut = append(cellsOut, report.Cell{X: p.X, Y: p.Y, Value: store.Value(id)})
	}
	return report.Input{Title: s.ds.Name, Cells: cellsOut, Summaries: summaries}, nil
}

// SelectedFeatures returns the selected features in selection order.
func (s *ViewService) SelectedFeatures() []*dataset.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.SelectedFeatures()
}

// ExportFeatures writes the selected features as delimited text, see report.WriteFeatures.
func (s *ViewService) ExportFeatures(w io.Writer, comma rune) error {
	features := s.SelectedFeatures()
	total := 0
	for _, f := range features {
		total += f.Hits
	}
	return report.WriteFeatures(w, features, comma,
		"dataset: "+s.ds.Name,
		fmt.Sprintf("features: %d", len(features)),
		fmt.Sprintf("total_hits: %d", total),
	)
}
