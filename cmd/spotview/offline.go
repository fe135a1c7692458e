package main

import (
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v2"

	"github.com/atlasmap-sc/spotview/internal/aggregate"
	"github.com/atlasmap-sc/spotview/internal/dataset"
	"github.com/atlasmap-sc/spotview/internal/render"
	"github.com/atlasmap-sc/spotview/internal/report"
	"github.com/atlasmap-sc/spotview/internal/service"
	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

// openSession loads the dataset named by the flags, selects the requested genes and applies
// mode and thresholds.
func openSession(c *cli.Context, renderer *render.FrameRenderer) (*service.ViewService, error) {
	reader, err := dataset.NewReader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	ds, err := reader.Load(c.String("features"))
	if err != nil {
		return nil, err
	}
	if img := c.String("image"); img != "" {
		ds.Image = img
	}

	mode, err := aggregate.ParseVisualMode(c.String("mode"))
	if err != nil {
		return nil, err
	}

	genes := c.StringSlice("genes")
	for _, g := range ds.Genes {
		g.Selected = len(genes) == 0
	}
	for _, name := range genes {
		g, ok := ds.Gene(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", service.ErrGeneNotFound, name)
		}
		g.Selected = true
	}

	svc, err := service.NewViewService(service.ViewServiceConfig{
		DatasetID: ds.Name,
		Dataset:   ds,
		Renderer:  renderer,
		Mode:      mode,
	})
	if err != nil {
		return nil, err
	}

	lower, upper := c.Int("lower"), c.Int("upper")
	if _, err := svc.UpdateView(service.ViewUpdate{Lower: &lower, Upper: &upper}); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

func handleRenderCommand(c *cli.Context) error {
	background, err := colormap.ParseHex(c.String("background"))
	if err != nil {
		return err
	}
	renderer := render.NewFrameRenderer(render.Config{
		Width:      c.Int("width"),
		Height:     c.Int("height"),
		Background: background,
	})

	svc, err := openSession(c, renderer)
	if err != nil {
		return err
	}
	defer svc.Close()

	data, err := svc.Frame(service.FrameRequest{
		Colormap:   c.String("colormap"),
		Background: true,
	})
	if err != nil {
		return err
	}

	out := c.String("out")
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Frame saved to %s\n", out)
	return nil
}

func handleSummaryCommand(c *cli.Context) error {
	svc, err := openSession(c, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	if s := c.String("rect"); s != "" {
		r, err := parseRect(s)
		if err != nil {
			return err
		}
		_, err = svc.SelectRegion(service.RegionRequest{
			Rect: &[4]float64{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y},
		})
		if err != nil {
			return err
		}
	} else if _, err := svc.SelectGenes(nil); err != nil {
		return err
	}

	summaries, err := svc.Summaries()
	if err != nil {
		return err
	}

	if path := c.String("report"); path != "" {
		in, err := svc.ReportInput()
		if err != nil {
			return err
		}
		if err := report.WriteFile(path, in); err != nil {
			return err
		}
	}

	if path := c.String("export"); path != "" {
		if err := exportFeatures(svc, path); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}

// exportFeatures writes the selected features to path, comma separated for .csv files and tab
// separated otherwise.
func exportFeatures(svc *service.ViewService, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := svc.ExportFeatures(f, report.DelimiterForPath(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
