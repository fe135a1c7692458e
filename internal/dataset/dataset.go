// Package dataset holds the feature and gene records the viewer core aggregates, plus the loader
// that reads them from disk.
package dataset

import (
	"image/color"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/atlasmap-sc/spotview/internal/geom"
)

// DefaultGeneColor is the color of a cell before any gene contributes to it.
var DefaultGeneColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// Gene is one gene of the dataset. Selected and Color are edited by the user; the core reads them.
type Gene struct {
	Name     string
	Selected bool
	Color    color.RGBA
}

// Feature is one measurement: a gene observed Hits times at (X, Y).
type Feature struct {
	ID    int
	X     float64
	Y     float64
	Hits  int
	Gene  *Gene
	Color color.RGBA
}

// Point returns the feature coordinate.
func (f *Feature) Point() geom.Point {
	return geom.Pt(f.X, f.Y)
}

// HitStats describes the range of hit counts in a dataset. The pooled range is taken over
// the sum of hits of all features sharing one coordinate.
type HitStats struct {
	Min       int     `json:"min"`
	Max       int     `json:"max"`
	Mean      float64 `json:"mean"`
	PooledMin int     `json:"pooled_min"`
	PooledMax int     `json:"pooled_max"`
}

// Dataset is a loaded set of features with their genes.
type Dataset struct {
	Name      string
	Genes     []*Gene
	Features  []*Feature
	Bounds    geom.Rect
	Transform geom.Transform
	// Image is the path of the tissue image, resolved against the dataset file. Empty when absent.
	Image string

	byName map[string]*Gene
	byGene map[*Gene][]*Feature
}

// New builds a dataset from genes and features. Feature ids are reassigned to their slice index
// and feature colors follow their gene. Bounds are computed from the features when empty.
func New(name string, genes []*Gene, features []*Feature, bounds geom.Rect) *Dataset {
	d := &Dataset{
		Name:     name,
		Genes:    genes,
		Features: features,
		Bounds:   bounds,
		byName:   make(map[string]*Gene, len(genes)),
		byGene:   make(map[*Gene][]*Feature, len(genes)),
	}
	for _, g := range genes {
		d.byName[g.Name] = g
	}
	pts := make([]geom.Point, 0, len(features))
	for i, f := range features {
		f.ID = i
		if f.Gene != nil {
			f.Color = f.Gene.Color
			d.byGene[f.Gene] = append(d.byGene[f.Gene], f)
		}
		pts = append(pts, f.Point())
	}
	if d.Bounds == (geom.Rect{}) {
		d.Bounds = geom.BoundingBox(pts)
	}
	return d
}

// Gene looks up a gene by name.
func (d *Dataset) Gene(name string) (*Gene, bool) {
	g, ok := d.byName[name]
	return g, ok
}

// FeaturesOf returns the features of one gene.
func (d *Dataset) FeaturesOf(g *Gene) []*Feature {
	return d.byGene[g]
}

// SelectedGenes returns the genes currently marked selected, in dataset order.
func (d *Dataset) SelectedGenes() []*Gene {
	var out []*Gene
	for _, g := range d.Genes {
		if g.Selected {
			out = append(out, g)
		}
	}
	return out
}

// GeneNames returns all gene names sorted alphabetically.
func (d *Dataset) GeneNames() []string {
	names := make([]string, 0, len(d.Genes))
	for _, g := range d.Genes {
		names = append(names, g.Name)
	}
	sort.Strings(names)
	return names
}

// SyncColors copies every gene color onto its features.
func (d *Dataset) SyncColors() {
	for g, fs := range d.byGene {
		for _, f := range fs {
			f.Color = g.Color
		}
	}
}

// HitStats computes hit ranges over all features. An empty dataset yields zero stats.
func (d *Dataset) HitStats() HitStats {
	if len(d.Features) == 0 {
		return HitStats{}
	}
	hits := make([]float64, len(d.Features))
	pooled := make(map[geom.Point]float64)
	for i, f := range d.Features {
		hits[i] = float64(f.Hits)
		pooled[f.Point()] += float64(f.Hits)
	}
	sums := make([]float64, 0, len(pooled))
	for _, v := range pooled {
		sums = append(sums, v)
	}
	return HitStats{
		Min:       int(floats.Min(hits)),
		Max:       int(floats.Max(hits)),
		Mean:      math.Round(floats.Sum(hits)/float64(len(hits))*100) / 100,
		PooledMin: int(floats.Min(sums)),
		PooledMax: int(floats.Max(sums)),
	}
}
