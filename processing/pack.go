package processing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/pdok/terrapack/dem"
	"github.com/pdok/terrapack/packed"
	"github.com/pdok/terrapack/tilekey"
	"github.com/pdok/terrapack/tilestore"
)

// EncodeConfig is how source tiles become full resolution packed rasters.
type EncodeConfig struct {
	packed.Options `yaml:",inline"`

	Width  int `default:"3600" validate:"min=1" yaml:"width" toml:"width"`
	Height int `default:"3600" validate:"min=1" yaml:"height" toml:"height"`
	// value of every pixel of the placeholder written for tiles without data
	DefaultMask   uint8 `default:"3" yaml:"defaultMask" toml:"defaultMask"`
	DefaultHeight int16 `default:"0" yaml:"defaultHeight" toml:"defaultHeight"`
}

// Packer encodes downloaded archives into {Full}/{key}.png.
type Packer struct {
	Archives string
	Full     string
	// file name of the placeholder in Full
	Empty  string
	Encode EncodeConfig
	// re-encode tiles that already have a packed file
	Overwrite bool

	placeholder    sync.Once
	placeholderErr error
}

func (p *Packer) TilePath(key tilekey.Key) string {
	return filepath.Join(p.Full, key.String()+".png")
}

func (p *Packer) PlaceholderPath() string {
	return filepath.Join(p.Full, p.Empty)
}

// PackTile encodes the archive of key. It returns the path written, or the placeholder path
// when the tile has no archive. The placeholder is written at most once per Packer.
func (p *Packer) PackTile(key tilekey.Key) (string, error) {
	if !p.Overwrite {
		if _, err := os.Stat(p.TilePath(key)); err == nil {
			return p.TilePath(key), nil
		}
	}
	log.Printf("  reading %s..", key)
	tile, err := dem.ReadArchive(tilestore.ArchivePath(p.Archives, key), key)
	if errors.Is(err, dem.ErrNoArchive) {
		log.Printf("  no data for %s, using mask=%d height=%d", key, p.Encode.DefaultMask, p.Encode.DefaultHeight)
		return p.PlaceholderPath(), p.writePlaceholder()
	}
	if err != nil {
		return "", err
	}
	if lo, hi, ok := tile.Elevation.Stats(); ok {
		log.Printf("  %s elevation %.0f..%.0f on %dx%d", key, lo, hi, tile.Elevation.Width, tile.Elevation.Height)
	}

	w, h := p.Encode.Width, p.Encode.Height
	elevation, err := packed.Stretch(tile.Elevation.Int16(), tile.Elevation.Width, tile.Elevation.Height, w, h)
	if err != nil {
		return "", err
	}
	masks, err := packed.Stretch(tile.Mask.Uint8(), tile.Mask.Width, tile.Mask.Height, w, h)
	if err != nil {
		return "", err
	}
	opts := p.Encode.Options
	if opts.HeightMultiplier == 0 {
		opts = packed.DefaultOptions()
	}
	raster, err := packed.Encode(elevation, masks, w, h, opts)
	if err != nil {
		return "", fmt.Errorf("could not encode %s: %w", key, err)
	}
	path := p.TilePath(key)
	if err = packed.WriteFile(path, raster); err != nil {
		return "", err
	}
	return path, nil
}

func (p *Packer) writePlaceholder() error {
	p.placeholder.Do(func() {
		path := p.PlaceholderPath()
		log.Printf("  writing placeholder %s", path)
		raster := packed.NewUniform(p.Encode.Width, p.Encode.Height, p.Encode.DefaultMask, p.Encode.DefaultHeight)
		p.placeholderErr = packed.WriteFile(path, raster)
	})
	return p.placeholderErr
}

// Pack encodes every key with at most parallel tiles in flight.
func (p *Packer) Pack(ctx context.Context, keys []tilekey.Key, parallel int, report *Report) error {
	log.Printf("=== start packing %d tiles (run %s) ===", len(keys), report.RunID)
	err := forEachTile(ctx, keys, parallel, func(_ context.Context, key tilekey.Key) {
		path, err := p.PackTile(key)
		switch {
		case err != nil:
			report.Fail(key, err)
		case path == p.PlaceholderPath():
			report.Skip(key)
		default:
			report.Done(key)
		}
	})
	report.Log("packing")
	return err
}
