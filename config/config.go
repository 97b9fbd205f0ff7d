// Package config loads the run configuration from a YAML or TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pdok/terrapack/lookup"
	"github.com/pdok/terrapack/processing"
	"github.com/pdok/terrapack/resample"
	"github.com/pdok/terrapack/tilekey"
	"github.com/pdok/terrapack/tilestore"
)

type Config struct {
	Paths  Paths                   `yaml:"paths" toml:"paths"`
	Source tilestore.Config        `yaml:"source" toml:"source"`
	State  State                   `yaml:"state" toml:"state"`
	Encode processing.EncodeConfig `yaml:"encode" toml:"encode"`
	Tiers  []resample.Config       `default:"[{\"factor\":3,\"algorithm\":\"max\"}]" validate:"dive" yaml:"tiers" toml:"tiers"`
	Batch  Batch                   `yaml:"batch" toml:"batch"`
	Lookup Lookup                  `yaml:"lookup" toml:"lookup"`
}

type Paths struct {
	Archives string `default:"./dataset" validate:"required" yaml:"archives" toml:"archives"`
	Full     string `default:"./png_fullsize" validate:"required" yaml:"full" toml:"full"`
	Low      string `default:"./png_low" validate:"required" yaml:"low" toml:"low"`
	Meta     string `default:"./meta.json" validate:"required" yaml:"meta" toml:"meta"`
	// file name of the no-data placeholder, inside Full
	Empty string `default:"empty.png" validate:"required" yaml:"empty" toml:"empty"`
}

type State struct {
	Backend tilestore.Backend `default:"json" validate:"oneof=json bbolt sqlite" yaml:"backend" toml:"backend"`
	// defaults to paths.meta, with the extension of the backend for bbolt and sqlite
	Path string `yaml:"path" toml:"path"`
}

// Batch is the lat/lon box, in whole degrees, the batch commands iterate over.
// A published region name such as N080W030_N090E000 replaces the box.
type Batch struct {
	Region   string `validate:"omitempty,len=17" yaml:"region" toml:"region"`
	MinLat   int    `default:"-85" validate:"min=-90,max=89" yaml:"minLat" toml:"minLat"`
	MaxLat   int    `default:"85" validate:"min=-90,max=89,gtefield=MinLat" yaml:"maxLat" toml:"maxLat"`
	MinLon   int    `default:"-180" validate:"min=-180,max=179" yaml:"minLon" toml:"minLon"`
	MaxLon   int    `default:"180" validate:"min=-180,max=180,gtefield=MinLon" yaml:"maxLon" toml:"maxLon"`
	Parallel int    `default:"4" validate:"min=1" yaml:"parallel" toml:"parallel"`
}

type Lookup struct {
	CacheSize int `default:"16" validate:"min=1" yaml:"cacheSize" toml:"cacheSize"`
}

// Keys lists the tiles of the batch box. A maximum longitude of 180 wraps to no extra column.
func (b Batch) Keys() ([]tilekey.Key, error) {
	if b.Region != "" {
		span, err := tilekey.ParseRegionSpan(b.Region)
		if err != nil {
			return nil, err
		}
		// the upper corner of a region is exclusive
		return tilekey.Grid(int(span[1]), int(span[3])-1, int(span[0]), int(span[2])-1), nil
	}
	return tilekey.Grid(b.MinLat, b.MaxLat, b.MinLon, min(b.MaxLon, 179)), nil
}

// StatePath is where the state store lives.
func (c *Config) StatePath() string {
	if c.State.Path != "" {
		return c.State.Path
	}
	if c.State.Backend == tilestore.BackendJSON || c.State.Backend == "" {
		return c.Paths.Meta
	}
	return strings.TrimSuffix(c.Paths.Meta, filepath.Ext(c.Paths.Meta)) + "." + string(c.State.Backend)
}

// NewLookup returns a point lookup over the full resolution tiles.
func (c *Config) NewLookup() (*lookup.Lookup, error) {
	return lookup.New(c.Paths.Full, c.Encode.Options, c.Encode.DefaultMask, c.Encode.DefaultHeight, c.Lookup.CacheSize)
}

// Default returns the configuration used without a file.
func Default() (*Config, error) {
	return Load("")
}

// Load reads the file at path, .yaml/.yml or .toml, on top of the defaults and validates the result.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err = unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config %s: %w", path, err)
		}
		// tiers from the file replace the default list, fill their missing fields
		for i := range cfg.Tiers {
			if err = defaults.Set(&cfg.Tiers[i]); err != nil {
				return nil, err
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown keys %v", undecoded)
		}
		return nil
	}
	return errors.New("unsupported config format, use .yaml, .yml or .toml")
}

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return err
	}
	if len(c.Tiers) == 0 {
		return errors.New("at least one tier is needed")
	}
	for _, tier := range c.Tiers {
		if err := tier.Validate(); err != nil {
			return err
		}
	}
	return nil
}
