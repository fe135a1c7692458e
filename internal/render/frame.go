// Package render draws the cell buffer into PNG frames using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"

	"github.com/atlasmap-sc/spotview/internal/aggregate"
	"github.com/atlasmap-sc/spotview/internal/cells"
	"github.com/atlasmap-sc/spotview/internal/geom"
	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	Width           int
	Height          int
	DefaultColormap string
	Background      color.RGBA
}

// View describes one frame: its size, the scene rectangle shown and the draw parameters of
// the aggregation engine.
type View struct {
	// Width and Height default to the renderer configuration when zero.
	Width  int
	Height int
	// Bounds is the scene rectangle fitted into the frame. Empty means the extent of the cells.
	Bounds geom.Rect
	Params aggregate.DrawParams
	// Colormap is used by the color range mode. Empty means the configured default.
	Colormap string
	// Image is drawn under the cells when set. ImageTransform maps scene coordinates to image pixels.
	Image          image.Image
	ImageTransform geom.Transform
}

// FrameRenderer renders cell buffers.
type FrameRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
	colormaps   map[string]colormap.Colormap
}

// NewFrameRenderer creates a new frame renderer.
func NewFrameRenderer(cfg Config) *FrameRenderer {
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = "viridis"
	}
	r := &FrameRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 256*1024))
			},
		},
		colormaps: make(map[string]colormap.Colormap),
	}

	// Initialize colormaps
	r.colormaps["viridis"] = colormap.Viridis
	r.colormaps["plasma"] = colormap.Plasma
	r.colormaps["inferno"] = colormap.Inferno
	r.colormaps["magma"] = colormap.Magma
	r.colormaps["seurat"] = colormap.Seurat
	r.colormaps["heat"] = colormap.Heat

	return r
}

// Config returns the renderer configuration.
func (r *FrameRenderer) Config() Config {
	return r.config
}

// HasColormap reports whether name is a known colormap.
func (r *FrameRenderer) HasColormap(name string) bool {
	_, ok := r.colormaps[name]
	return ok
}

func (r *FrameRenderer) context(w, h int) (*gg.Context, func()) {
	if w == r.config.Width && h == r.config.Height {
		dc := r.contextPool.Get().(*gg.Context)
		return dc, func() { r.contextPool.Put(dc) }
	}
	return gg.NewContext(w, h), func() {}
}

// sceneTransform fits bounds into a w x h frame, preserving aspect ratio and centering.
func sceneTransform(bounds geom.Rect, w, h int) geom.Transform {
	bw, bh := bounds.Width(), bounds.Height()
	if bw <= 0 {
		bw = 1
	}
	if bh <= 0 {
		bh = 1
	}
	s := math.Min(float64(w)/bw, float64(h)/bh)
	ox := (float64(w) - bw*s) / 2
	oy := (float64(h) - bh*s) / 2
	return geom.Translation(-bounds.Min.X, -bounds.Min.Y).
		Then(geom.Scaling(s, s)).
		Then(geom.Translation(ox, oy))
}

func bufferBounds(buf cells.Buffer) geom.Rect {
	pts := make([]geom.Point, 0, buf.Cells())
	for i := 0; i < buf.Cells(); i++ {
		pts = append(pts, buf.Center(i))
	}
	b := geom.BoundingBox(pts)
	// pad by the largest glyph so border cells are drawn whole
	if buf.Cells() > 0 {
		pad := buf.Size(0) / 2
		b = geom.NewRect(b.Min.X-pad, b.Min.Y-pad, b.Max.X+pad, b.Max.Y+pad)
	}
	return b
}

// Render draws every visible cell of buf and returns the frame as PNG.
func (r *FrameRenderer) Render(buf cells.Buffer, view View) ([]byte, error) {
	w, h := view.Width, view.Height
	if w <= 0 {
		w = r.config.Width
	}
	if h <= 0 {
		h = r.config.Height
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", w, h)
	}

	dc, release := r.context(w, h)
	defer release()

	dc.SetColor(r.config.Background)
	dc.Clear()

	bounds := view.Bounds
	if bounds.Empty() {
		bounds = bufferBounds(buf)
	}
	toFrame := sceneTransform(bounds, w, h)

	if view.Image != nil {
		if err := drawBackground(dc, view.Image, view.ImageTransform, toFrame); err != nil {
			return nil, err
		}
	}

	cmap := r.colormapFor(view)
	p := view.Params
	scale := toFrame.Aff3()[0]
	frame := geom.NewRect(0, 0, float64(w), float64(h))

	for i := 0; i < buf.Cells(); i++ {
		if !buf.Visible(i) {
			continue
		}
		c := toFrame.Apply(buf.Center(i))
		half := buf.Size(i) * scale / 2
		if half < 0.5 {
			half = 0.5
		}
		if !frame.Intersects(geom.NewRect(c.X-half, c.Y-half, c.X+half, c.Y+half)) {
			continue
		}

		slot := i * cells.QuadSize
		col := cellColor(buf.Colors[slot], float64(buf.Values[slot]), p, cmap)
		dc.SetColor(col)
		drawGlyph(dc, p.Shape, c.X, c.Y, half)

		if buf.Selection[slot] == 1 {
			dc.SetColor(color.White)
			dc.SetLineWidth(1)
			dc.DrawRectangle(c.X-half-1, c.Y-half-1, 2*half+2, 2*half+2)
			dc.Stroke()
		}
	}

	return r.encodeContext(dc)
}

func (r *FrameRenderer) colormapFor(view View) colormap.Colormap {
	if view.Params.Mode == aggregate.ModeHeatMap {
		return r.colormaps["heat"]
	}
	if cmap, ok := r.colormaps[view.Colormap]; ok {
		return cmap
	}
	return r.colormaps[r.config.DefaultColormap]
}

// drawBackground maps the tissue image into the frame: image pixels go back to scene
// coordinates through the inverse image transform, then into the frame.
func drawBackground(dc *gg.Context, img image.Image, imageTransform, toFrame geom.Transform) error {
	inv, err := imageTransform.Invert()
	if err != nil {
		return fmt.Errorf("failed to map image into frame: %w", err)
	}
	dst, ok := dc.Image().(*image.RGBA)
	if !ok {
		return fmt.Errorf("unexpected frame image type %T", dc.Image())
	}
	draw.BiLinear.Transform(dst, inv.Then(toFrame).Aff3(), img, img.Bounds(), draw.Over, nil)
	return nil
}

// cellColor applies the visual mode and the intensity and shine parameters.
func cellColor(base color.RGBA, value float64, p aggregate.DrawParams, cmap colormap.Colormap) color.RGBA {
	t := 1.0
	if span := p.PooledMax - p.PooledMin; span > 0 {
		t = (value - p.PooledMin) / span
	}
	t = math.Max(0, math.Min(1, t))

	c := base
	switch p.Mode {
	case aggregate.ModeDynamicRange:
		c = colormap.Lerp(0.25+0.75*t, color.RGBA{A: base.A}, base)
	case aggregate.ModeHeatMap, aggregate.ModeColorRange:
		c = color.RGBAModel.Convert(cmap.At(t)).(color.RGBA)
	}
	if p.Shine > 0 {
		c = colormap.Lerp(math.Min(p.Shine, 1), c, color.RGBA{R: 255, G: 255, B: 255, A: c.A})
	}
	intensity := math.Max(0, math.Min(1, p.Intensity))
	return premultiply(c, uint8(math.Round(float64(c.A)*intensity)))
}

// premultiply returns c with alpha a, in the premultiplied form color.RGBA expects.
func premultiply(c color.RGBA, a uint8) color.RGBA {
	f := float64(a) / 255
	return color.RGBA{
		R: uint8(math.Round(float64(c.R) * f)),
		G: uint8(math.Round(float64(c.G) * f)),
		B: uint8(math.Round(float64(c.B) * f)),
		A: a,
	}
}

func drawGlyph(dc *gg.Context, shape aggregate.Shape, x, y, half float64) {
	switch shape {
	case aggregate.ShapeSquare:
		dc.DrawRectangle(x-half, y-half, 2*half, 2*half)
		dc.Fill()
	case aggregate.ShapeCross:
		dc.SetLineWidth(math.Max(1, half/2))
		dc.DrawLine(x-half, y, x+half, y)
		dc.DrawLine(x, y-half, x, y+half)
		dc.Stroke()
	default:
		dc.DrawCircle(x, y, half)
		dc.Fill()
	}
}

func (r *FrameRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyFrame creates a transparent frame, served when a dataset has no cells yet.
func (r *FrameRenderer) CreateEmptyFrame(w, h int) ([]byte, error) {
	if w <= 0 {
		w = r.config.Width
	}
	if h <= 0 {
		h = r.config.Height
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
