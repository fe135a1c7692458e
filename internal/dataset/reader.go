package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/atlasmap-sc/spotview/internal/geom"
	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

// DefaultFileName is looked up when a dataset path names a directory.
const DefaultFileName = "features.json"

// Document is the on-disk layout of a dataset.
type Document struct {
	Name      string       `json:"dataset_name"`
	Bounds    *Bounds      `json:"bounds,omitempty"`
	Transform *[6]float64  `json:"transform,omitempty"`
	Image     string       `json:"image,omitempty"`
	Genes     []GeneDoc    `json:"genes"`
	Features  []FeatureDoc `json:"features"`
}

// Bounds represents coordinate bounds.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
}

// GeneDoc is one gene entry. Color is "#rrggbb"; genes without one get the categorical
// palette color of their position in the gene list.
type GeneDoc struct {
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Selected bool   `json:"selected,omitempty"`
}

// FeatureDoc is one feature entry referencing its gene by name.
type FeatureDoc struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Hits int     `json:"hits"`
	Gene string  `json:"gene"`
}

// Reader decodes dataset documents, transparently decompressing zstd input.
type Reader struct {
	decoder *zstd.Decoder
}

// NewReader creates a new dataset reader.
func NewReader() (*Reader, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Reader{decoder: decoder}, nil
}

// Close releases the decoder.
func (r *Reader) Close() {
	r.decoder.Close()
}

// ResolvePath accepts either a dataset file or the directory holding it and returns the file path.
// A directory resolves to features.json, or features.json.zst when only that exists.
func ResolvePath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", errors.New("empty dataset path")
	}
	p = filepath.Clean(os.ExpandEnv(p))

	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("failed to stat dataset path: %w", err)
	}
	if !info.IsDir() {
		return p, nil
	}
	plain := filepath.Join(p, DefaultFileName)
	if _, err := os.Stat(plain); err == nil {
		return plain, nil
	}
	compressed := plain + ".zst"
	if _, err := os.Stat(compressed); err == nil {
		return compressed, nil
	}
	return "", fmt.Errorf("no %s found in %s", DefaultFileName, p)
}

// Load reads a dataset from a file or directory. The image path is resolved against the
// directory of the dataset file.
func (r *Reader) Load(path string) (*Dataset, error) {
	file, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(file, ".zst") {
		if err := r.decoder.Reset(f); err != nil {
			return nil, fmt.Errorf("failed to reset zstd decoder: %w", err)
		}
		src = r.decoder
	}

	d, err := Decode(src)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", file, err)
	}
	if d.Name == "" {
		d.Name = strings.TrimSuffix(strings.TrimSuffix(filepath.Base(file), ".zst"), ".json")
	}
	if d.Image != "" && !filepath.IsAbs(d.Image) {
		d.Image = filepath.Join(filepath.Dir(file), d.Image)
	}
	return d, nil
}

// Decode parses a dataset document from r.
func Decode(r io.Reader) (*Dataset, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	return doc.Build()
}

// Build validates the document and converts it into a Dataset.
func (doc *Document) Build() (*Dataset, error) {
	genes := make([]*Gene, 0, len(doc.Genes))
	byName := make(map[string]*Gene, len(doc.Genes))
	for _, gd := range doc.Genes {
		if gd.Name == "" {
			return nil, errors.New("gene with empty name")
		}
		if _, dup := byName[gd.Name]; dup {
			return nil, fmt.Errorf("duplicate gene %q", gd.Name)
		}
		c := colormap.Categorical.RGBA(len(genes))
		if gd.Color != "" {
			var err error
			if c, err = colormap.ParseHex(gd.Color); err != nil {
				return nil, fmt.Errorf("gene %q: %w", gd.Name, err)
			}
		}
		g := &Gene{Name: gd.Name, Selected: gd.Selected, Color: c}
		genes = append(genes, g)
		byName[g.Name] = g
	}

	features := make([]*Feature, 0, len(doc.Features))
	for i, fd := range doc.Features {
		if fd.Hits < 0 {
			return nil, fmt.Errorf("feature %d: negative hit count %d", i, fd.Hits)
		}
		g, ok := byName[fd.Gene]
		if !ok {
			// genes listed only on features are added with defaults
			if fd.Gene == "" {
				return nil, fmt.Errorf("feature %d: missing gene", i)
			}
			g = &Gene{Name: fd.Gene, Color: colormap.Categorical.RGBA(len(genes))}
			genes = append(genes, g)
			byName[g.Name] = g
		}
		features = append(features, &Feature{X: fd.X, Y: fd.Y, Hits: fd.Hits, Gene: g})
	}

	var bounds geom.Rect
	if doc.Bounds != nil {
		bounds = geom.NewRect(doc.Bounds.MinX, doc.Bounds.MinY, doc.Bounds.MaxX, doc.Bounds.MaxY)
	}
	d := New(doc.Name, genes, features, bounds)
	if doc.Transform != nil {
		d.Transform = geom.NewTransform(*doc.Transform)
	}
	d.Image = doc.Image
	return d, nil
}
