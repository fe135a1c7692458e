// Package report renders an HTML page with the visible cells of a view and the per-gene
// summaries of the current selection.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/atlasmap-sc/spotview/internal/selection"
)

// Cell is one visible cell of the view.
type Cell struct {
	X     float64
	Y     float64
	Value float64
}

// Input is everything a report shows.
type Input struct {
	Title     string
	Cells     []Cell
	Summaries []selection.Summary
}

// Render writes the report page to w.
func Render(w io.Writer, in Input) error {
	title := in.Title
	if title == "" {
		title = "spotview"
	}

	page := components.NewPage()
	page.PageTitle = title
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(cellChart(title, in.Cells), summaryChart(in.Summaries))

	if err := page.Render(w); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}

// WriteFile renders the report into a new file at path.
func WriteFile(path string, in Input) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create report file %s: %w", path, err)
	}
	defer f.Close()
	return Render(f, in)
}

func cellChart(title string, cells []Cell) *charts.Scatter {
	var maxValue float64
	data := make([]opts.ScatterData, 0, len(cells))
	for _, c := range cells {
		if c.Value > maxValue {
			maxValue = c.Value
		}
		data = append(data, opts.ScatterData{
			Value:      []interface{}{c.X, c.Y, c.Value},
			SymbolSize: 4,
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: title,
			Width:     "900px",
			Height:    "700px",
			Theme:     types.ThemeVintage,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("%d visible cells", len(cells)),
			Left:     "center",
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{
			Trigger: "item",
			Formatter: opts.FuncOpts(`function (params) {
		return '(' + params.value[0] + ', ' + params.value[1] + ')<br />Hits: ' + params.value[2];
	}`),
		}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show: opts.Bool(true),
			Min:  0,
			Max:  float32(maxValue),
			InRange: &opts.VisualMapInRange{
				Color: []string{"#d3d3d3", "#ff0000"},
			},
			Orient: "vertical",
			Right:  "2%",
			Top:    "middle",
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "y", Type: "value"}),
	)
	scatter.AddSeries("Cells", data)
	return scatter
}

func summaryChart(summaries []selection.Summary) *charts.Bar {
	names := make([]string, len(summaries))
	hits := make([]opts.BarData, len(summaries))
	counts := make([]opts.BarData, len(summaries))
	for i, s := range summaries {
		names[i] = s.Name
		hits[i] = opts.BarData{Name: s.Name, Value: s.Hits}
		counts[i] = opts.BarData{Name: s.Name, Value: s.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  "900px",
			Height: "400px",
			Theme:  types.ThemeVintage,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Selected genes",
			Subtitle: fmt.Sprintf("%d genes", len(summaries)),
			Left:     "center",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
	)
	bar.SetXAxis(names).
		AddSeries("Hits", hits).
		AddSeries("Features", counts)
	return bar
}
