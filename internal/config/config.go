// Public domain.

// Package config loads cs82phot run settings from an optional YAML file.
//
// Every key has a default, so a run needs no file at all.  Command line
// flags are applied on top by the command.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soniakeys/cs82phot/internal/catalog"
	"github.com/soniakeys/cs82phot/internal/frame"
)

// Config is the root configuration.
type Config struct {
	// Field is the CS82 deep field name.
	Field string `yaml:"field"`

	// DataDir holds the deep catalogs, named by Catalog with the field
	// substituted for %s.
	DataDir    string `yaml:"data_dir"`
	Catalog    string `yaml:"catalog"`
	CatalogHDU int    `yaml:"catalog_hdu"`

	WindowFlist  string   `yaml:"window_flist"`
	EnclosedOnly bool     `yaml:"enclosed_only"`
	RefDB        string   `yaml:"ref_db"`
	PhotoObj     []string `yaml:"photoobj"` // glob patterns imported into an empty RefDB

	ImageDir   string `yaml:"image_dir"`
	DASURL     string `yaml:"das_url"`
	Local      bool   `yaml:"local"`
	Download   string `yaml:"download"` // http, curl, or wget
	FrameCache int    `yaml:"frame_cache"`

	OutDir  string `yaml:"out_dir"`
	DiagDir string `yaml:"diag_dir"` // empty for no diagnostic images

	Bands        string  `yaml:"bands"`
	MagLim       float64 `yaml:"maglim"`
	MarginArcsec float64 `yaml:"margin_arcsec"`
	MatchArcsec  float64 `yaml:"match_arcsec"`
	GridEdges    int     `yaml:"grid_edges"`
	MinScore     float64 `yaml:"min_score"`
	MinDlnP      float64 `yaml:"min_dlnp"`
	MaxSteps     int     `yaml:"max_steps"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Field:        "S82p18p",
		DataDir:      "cs82data",
		Catalog:      "masked.%s_y.V2.7A.swarp.cut.deVexp.fit",
		CatalogHDU:   2,
		WindowFlist:  "window_flist.fits",
		RefDB:        "cs82phot.db",
		ImageDir:     filepath.Join("data", "unzip"),
		DASURL:       frame.DefaultURL,
		Download:     "http",
		FrameCache:   8,
		OutDir:       ".",
		Bands:        catalog.AllBands,
		MagLim:       24,
		MarginArcsec: 15,
		MatchArcsec:  1,
		GridEdges:    51,
		MinScore:     .5,
		MinDlnP:      1,
		MaxSteps:     10,
	}
}

// Option configures Load.
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath reads settings from a YAML file.  Keys absent from the
// file keep their defaults.
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}
		cfg.path = filepath.Clean(path)
		return nil
	}
}

// Load returns the defaults overlaid with any configured file, validated.
func Load(opts ...Option) (*Config, error) {
	lc := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(lc); err != nil {
			return nil, err
		}
	}
	c := Default()
	if lc.path != "" {
		data, err := os.ReadFile(lc.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Validate checks settings after flags have been applied.
func (c *Config) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("field is required")
	}
	if err := ValidBands(c.Bands); err != nil {
		return err
	}
	switch c.Download {
	case "http", "curl", "wget":
	default:
		return fmt.Errorf("download: unknown tool %q", c.Download)
	}
	if c.CatalogHDU < 1 {
		return fmt.Errorf("catalog_hdu: need a table extension, got %d", c.CatalogHDU)
	}
	if c.GridEdges < 2 {
		return fmt.Errorf("grid_edges: need at least 2, got %d", c.GridEdges)
	}
	if c.MarginArcsec < 0 || c.MatchArcsec <= 0 {
		return fmt.Errorf("margin_arcsec and match_arcsec must be positive")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	if c.FrameCache < 0 {
		return fmt.Errorf("frame_cache must not be negative")
	}
	return nil
}

// ValidBands checks that bands is a nonempty list of distinct SDSS
// filters.
func ValidBands(bands string) error {
	if bands == "" {
		return fmt.Errorf("bands: none given")
	}
	for i := 0; i < len(bands); i++ {
		if strings.IndexByte(catalog.AllBands, bands[i]) < 0 {
			return fmt.Errorf("bands: %q is not one of %s", bands[i], catalog.AllBands)
		}
		if strings.IndexByte(bands[:i], bands[i]) >= 0 {
			return fmt.Errorf("bands: %q repeated", bands[i])
		}
	}
	return nil
}

// CatalogPath is the deep catalog file for Field.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, fmt.Sprintf(c.Catalog, c.Field))
}

// Tool is the frame download tool.
func (c *Config) Tool() frame.Tool {
	switch c.Download {
	case "curl":
		return frame.Curl
	case "wget":
		return frame.Wget
	}
	return frame.HTTP
}
