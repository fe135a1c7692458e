package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	cli "github.com/urfave/cli/v2"

	"github.com/atlasmap-sc/spotview/internal/aggregate"
	"github.com/atlasmap-sc/spotview/internal/config"
	"github.com/atlasmap-sc/spotview/internal/geom"
)

// Shared flag definitions
var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to configuration file (.yaml or .toml)",
		Value: "config/spotview.yaml",
	}
	featuresFlag = &cli.StringFlag{
		Name:     "features",
		Usage:    "Dataset file or directory (features.json, optionally .zst compressed)",
		Required: true,
	}
	imageFlag = &cli.StringFlag{
		Name:  "image",
		Usage: "Tissue image (PNG or JPEG); overrides the image named by the dataset",
	}
	genesFlag = &cli.StringSliceFlag{
		Name:  "genes",
		Usage: "Genes to select; all genes when omitted",
	}
	modeFlag = &cli.StringFlag{
		Name:  "mode",
		Usage: "Visual mode: normal, dynamic_range, heat_map or color_range",
		Value: "normal",
	}
	lowerFlag = &cli.IntFlag{
		Name:  "lower",
		Usage: "Lower threshold slider position",
		Value: aggregate.DefaultSliderMin,
	}
	upperFlag = &cli.IntFlag{
		Name:  "upper",
		Usage: "Upper threshold slider position",
		Value: aggregate.DefaultSliderMax,
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Log engine activity",
	}
)

// App is the spotview command line application.
var App = &cli.App{
	Name:  "spotview",
	Usage: "Spatial gene expression point cloud viewer",
	Flags: []cli.Flag{verboseFlag},
	Before: func(c *cli.Context) error {
		if c.Bool("verbose") {
			aggregate.SetLogger(slog.Default())
		}
		return nil
	},
	Commands: []*cli.Command{
		{
			Name:   "serve",
			Usage:  "Serve the configured datasets over HTTP",
			Flags:  []cli.Flag{configFlag},
			Action: handleServeCommand,
		},
		{
			Name:  "render",
			Usage: "Render one frame of a dataset to a PNG file",
			Flags: []cli.Flag{
				featuresFlag, imageFlag, genesFlag, modeFlag, lowerFlag, upperFlag,
				&cli.StringFlag{Name: "out", Usage: "Output PNG path", Value: "frame.png"},
				&cli.IntFlag{Name: "width", Usage: "Frame width in pixels", Value: 1024},
				&cli.IntFlag{Name: "height", Usage: "Frame height in pixels", Value: 1024},
				&cli.StringFlag{Name: "colormap", Usage: "Colormap for the color range mode"},
				&cli.StringFlag{Name: "background", Usage: "Background color", Value: "#000000"},
			},
			Action: handleRenderCommand,
		},
		{
			Name:  "summary",
			Usage: "Print the per-gene summary of a selection as JSON",
			Flags: []cli.Flag{
				featuresFlag, imageFlag, genesFlag, modeFlag, lowerFlag, upperFlag,
				&cli.StringFlag{Name: "rect", Usage: "Select the region x0,y0,x1,y1 instead of whole genes"},
				&cli.StringFlag{Name: "report", Usage: "Also write an HTML report to this path"},
				&cli.StringFlag{Name: "export", Usage: "Also write the selected features to this path (.csv or tab separated)"},
			},
			Action: handleSummaryCommand,
		},
	},
}

// engineOptions maps the view section of the configuration onto the engine settings.
func engineOptions(v config.ViewConfig) (aggregate.Config, aggregate.VisualMode, error) {
	mode, err := aggregate.ParseVisualMode(v.VisualMode)
	if err != nil {
		return aggregate.Config{}, mode, err
	}
	shape, err := aggregate.ParseShape(v.Shape)
	if err != nil {
		return aggregate.Config{}, mode, err
	}

	var blend aggregate.Blend
	switch strings.ToLower(v.Blend) {
	case "", "lerp":
		blend = aggregate.BlendLerp
	case "mean":
		blend = aggregate.BlendMean
	default:
		return aggregate.Config{}, mode, fmt.Errorf("unknown blend %q", v.Blend)
	}

	return aggregate.Config{
		PointSize: v.PointSize,
		Intensity: v.Intensity,
		Shine:     v.Shine,
		Shape:     shape,
		Blend:     blend,
	}, mode, nil
}

// parseRect parses "x0,y0,x1,y1".
func parseRect(s string) (geom.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geom.Rect{}, fmt.Errorf("invalid rect %q: want x0,y0,x1,y1", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geom.Rect{}, fmt.Errorf("invalid rect %q: %w", s, err)
		}
		v[i] = f
	}
	return geom.NewRect(v[0], v[1], v[2], v[3]), nil
}
