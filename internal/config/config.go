// Package config handles configuration loading for the spotview server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Data       DataConfig       `yaml:"data" toml:"-"`
	Cache      CacheConfig      `yaml:"cache" toml:"cache"`
	Render     RenderConfig     `yaml:"render" toml:"render"`
	View       ViewConfig       `yaml:"view" toml:"view"`
	Selections SelectionsConfig `yaml:"selections" toml:"selections"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port" toml:"port"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

// DatasetConfig describes one dataset file and its optional tissue image.
type DatasetConfig struct {
	Path  string `yaml:"path" toml:"path"`
	Image string `yaml:"image" toml:"image"`
	Name  string `yaml:"name" toml:"name"`
}

// DataConfig lists the served datasets. Two layouts are accepted: the legacy single dataset
// (path/image directly under data) which is registered as "default", or a map of dataset id to
// DatasetConfig. The first dataset listed is the default one.
type DataConfig struct {
	DefaultDataset string
	Datasets       map[string]DatasetConfig
	order          []string
}

// DatasetIDs returns the dataset ids in file order.
func (d DataConfig) DatasetIDs() []string {
	return append([]string(nil), d.order...)
}

func (d *DataConfig) add(id string, ds DatasetConfig) {
	if d.Datasets == nil {
		d.Datasets = make(map[string]DatasetConfig)
	}
	if _, ok := d.Datasets[id]; !ok {
		d.order = append(d.order, id)
	}
	d.Datasets[id] = ds
	if d.DefaultDataset == "" {
		d.DefaultDataset = id
	}
}

func isLegacyKey(k string) bool {
	return k == "path" || k == "image" || k == "name"
}

// UnmarshalYAML keeps the order of the dataset map, which a plain map decode would lose.
func (d *DataConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected a mapping, got %v", value.Tag)
	}
	var legacy DatasetConfig
	hasLegacy := false
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i].Value, value.Content[i+1]
		if isLegacyKey(key) {
			hasLegacy = true
			continue
		}
		var ds DatasetConfig
		if err := val.Decode(&ds); err != nil {
			return fmt.Errorf("data.%s: %w", key, err)
		}
		d.add(key, ds)
	}
	if hasLegacy {
		if err := value.Decode(&legacy); err != nil {
			return fmt.Errorf("data: %w", err)
		}
		d.add("default", legacy)
	}
	return nil
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	FrameSizeMB     int `yaml:"frame_size_mb" toml:"frame_size_mb"`
	FrameTTLMinutes int `yaml:"frame_ttl_minutes" toml:"frame_ttl_minutes"`
	SummaryEntries  int `yaml:"summary_entries" toml:"summary_entries"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	Width           int    `yaml:"width" toml:"width"`
	Height          int    `yaml:"height" toml:"height"`
	DefaultColormap string `yaml:"default_colormap" toml:"default_colormap"`
	Background      string `yaml:"background" toml:"background"`
}

// ViewConfig holds the initial view settings of every dataset session.
type ViewConfig struct {
	PointSize  float64 `yaml:"point_size" toml:"point_size"`
	Intensity  float64 `yaml:"intensity" toml:"intensity"`
	Shine      float64 `yaml:"shine" toml:"shine"`
	Shape      string  `yaml:"shape" toml:"shape"`
	VisualMode string  `yaml:"visual_mode" toml:"visual_mode"`
	// Blend is "lerp" (default) or "mean".
	Blend string `yaml:"blend" toml:"blend"`
	// SelectAll marks every gene selected when a dataset is loaded.
	SelectAll bool `yaml:"select_all" toml:"select_all"`
}

// SelectionsConfig configures the saved-selection store.
type SelectionsConfig struct {
	DBPath string `yaml:"db_path" toml:"db_path"`
}

// Load reads configuration from a YAML or TOML file, chosen by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = decodeTOML(string(data), &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// decodeTOML decodes everything but the data table through struct tags, then walks the data
// table in file order using the decoder metadata.
func decodeTOML(s string, cfg *Config) error {
	if _, err := toml.Decode(s, cfg); err != nil {
		return err
	}
	var raw struct {
		Data map[string]toml.Primitive `toml:"data"`
	}
	md, err := toml.Decode(s, &raw)
	if err != nil {
		return err
	}

	var legacy DatasetConfig
	hasLegacy := false
	for _, key := range md.Keys() {
		if len(key) != 2 || key[0] != "data" {
			continue
		}
		id := key[1]
		prim := raw.Data[id]
		var err error
		switch id {
		case "path":
			hasLegacy = true
			err = md.PrimitiveDecode(prim, &legacy.Path)
		case "image":
			hasLegacy = true
			err = md.PrimitiveDecode(prim, &legacy.Image)
		case "name":
			hasLegacy = true
			err = md.PrimitiveDecode(prim, &legacy.Name)
		default:
			var ds DatasetConfig
			err = md.PrimitiveDecode(prim, &ds)
			if err == nil {
				cfg.Data.add(id, ds)
			}
		}
		if err != nil {
			return fmt.Errorf("data.%s: %w", id, err)
		}
	}
	if hasLegacy {
		cfg.Data.add("default", legacy)
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Cache: CacheConfig{
			FrameSizeMB:     256,
			FrameTTLMinutes: 10,
			SummaryEntries:  256,
		},
		Render: RenderConfig{
			Width:           1024,
			Height:          1024,
			DefaultColormap: "viridis",
			Background:      "#000000",
		},
		View: ViewConfig{
			PointSize:  4,
			Intensity:  1,
			Shape:      "circle",
			VisualMode: "normal",
			Blend:      "lerp",
		},
		Selections: SelectionsConfig{
			DBPath: "./data/selections.db",
		},
	}
	cfg.Data.add("default", DatasetConfig{Path: "./data/features.json"})
	return cfg
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}
	if cfg.Cache.FrameSizeMB == 0 {
		cfg.Cache.FrameSizeMB = defaults.Cache.FrameSizeMB
	}
	if cfg.Cache.FrameTTLMinutes == 0 {
		cfg.Cache.FrameTTLMinutes = defaults.Cache.FrameTTLMinutes
	}
	if cfg.Cache.SummaryEntries == 0 {
		cfg.Cache.SummaryEntries = defaults.Cache.SummaryEntries
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Render.Background == "" {
		cfg.Render.Background = defaults.Render.Background
	}
	if cfg.View.PointSize == 0 {
		cfg.View.PointSize = defaults.View.PointSize
	}
	if cfg.View.Intensity == 0 {
		cfg.View.Intensity = defaults.View.Intensity
	}
	if cfg.View.Shape == "" {
		cfg.View.Shape = defaults.View.Shape
	}
	if cfg.View.VisualMode == "" {
		cfg.View.VisualMode = defaults.View.VisualMode
	}
	if cfg.View.Blend == "" {
		cfg.View.Blend = defaults.View.Blend
	}
	if cfg.Selections.DBPath == "" {
		cfg.Selections.DBPath = defaults.Selections.DBPath
	}
}
