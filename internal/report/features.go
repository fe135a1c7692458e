package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/atlasmap-sc/spotview/internal/dataset"
)

// Field delimiters understood by WriteFeatures.
const (
	Tab   = '\t'
	Comma = ','
)

// DelimiterFor maps "csv" or "tsv" to its delimiter.
func DelimiterFor(format string) (rune, error) {
	switch strings.ToLower(format) {
	case "", "tsv", "txt":
		return Tab, nil
	case "csv":
		return Comma, nil
	}
	return 0, fmt.Errorf("unknown export format %q", format)
}

// DelimiterForPath picks the delimiter from the file extension: comma for .csv, tab otherwise.
func DelimiterForPath(path string) rune {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return Comma
	}
	return Tab
}

// WriteFeatures writes one row per feature (gene, x, y, hits) below a header row. Each
// property is written first as a "# " comment line.
func WriteFeatures(w io.Writer, features []*dataset.Feature, comma rune, properties ...string) error {
	for _, p := range properties {
		if _, err := fmt.Fprintf(w, "# %s\n", p); err != nil {
			return fmt.Errorf("failed to write export header: %w", err)
		}
	}

	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write([]string{"gene", "x", "y", "hits"}); err != nil {
		return fmt.Errorf("failed to write export header: %w", err)
	}
	for _, f := range features {
		row := []string{
			f.Gene.Name,
			strconv.FormatFloat(f.X, 'f', -1, 64),
			strconv.FormatFloat(f.Y, 'f', -1, 64),
			strconv.Itoa(f.Hits),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write feature %d: %w", f.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
