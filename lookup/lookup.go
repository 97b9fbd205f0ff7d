// Package lookup answers point queries from the full resolution packed tiles.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"

	"github.com/go-spatial/geom"
	"github.com/maypok86/otter/v2"

	"github.com/pdok/terrapack/mask"
	"github.com/pdok/terrapack/mathhelp"
	"github.com/pdok/terrapack/packed"
	"github.com/pdok/terrapack/tilekey"
)

const DefaultCacheSize = 16

// Sample is the packed value at a coordinate.
type Sample struct {
	Key tilekey.Key
	// stored height, after offset and multiplier
	Height int16
	// mask byte as decoded from the source, bit reversal undone
	Mask byte
	Info   mask.Info
	// the pixel's box as minLon, minLat, maxLon, maxLat; nil when the tile has no data
	Bounds *geom.Extent
}

// Elevation undoes the encode offset and multiplier.
func (s Sample) Elevation(opts packed.Options) float64 {
	mult := opts.HeightMultiplier
	if mult == 0 {
		mult = 1
	}
	return float64(s.Height)/mult - opts.HeightOffset
}

// Lookup reads {Dir}/{key}.png, keeping recently used tiles decoded.
type Lookup struct {
	dir           string
	defaultMask   byte
	defaultHeight int16
	reverseMask   bool
	cache         *otter.Cache[tilekey.Key, *packed.Raster]
}

// New returns a Lookup over dir, holding tiles packed with opts. Coordinates in tiles without
// a file get the default mask and height.
func New(dir string, opts packed.Options, defaultMask byte, defaultHeight int16, cacheSize int) (*Lookup, error) {
	if cacheSize < 1 {
		cacheSize = DefaultCacheSize
	}
	cache, err := otter.New(&otter.Options[tilekey.Key, *packed.Raster]{
		MaximumSize: cacheSize,
	})
	if err != nil {
		return nil, err
	}
	return &Lookup{
		dir:           dir,
		defaultMask:   defaultMask,
		defaultHeight: defaultHeight,
		reverseMask:   opts.ReverseMask,
		cache:         cache,
	}, nil
}

func (l *Lookup) loadTile(_ context.Context, key tilekey.Key) (*packed.Raster, error) {
	raster, err := packed.ReadFile(filepath.Join(l.dir, key.String()+".png"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, otter.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not read tile %s: %w", key, err)
	}
	return raster, nil
}

// Height returns the packed sample at lat, lon.
func (l *Lookup) Height(ctx context.Context, lat, lon float64) (Sample, error) {
	if !mathhelp.BetweenInc(lat, -90, 90) || !mathhelp.BetweenInc(lon, -180, 180) {
		return Sample{}, fmt.Errorf("coordinate %f,%f out of range", lat, lon)
	}
	key := tilekey.FromLatLon(lat, lon)
	raster, err := l.cache.Get(ctx, key, otter.LoaderFunc[tilekey.Key, *packed.Raster](l.loadTile))
	switch {
	case errors.Is(err, otter.ErrNotFound):
		log.Printf("  no height data for %s", key)
		return Sample{Key: key, Height: l.defaultHeight, Mask: l.defaultMask, Info: mask.Decode(l.defaultMask)}, nil
	case err != nil:
		return Sample{}, err
	}

	tile, err := key.Extent()
	if err != nil {
		return Sample{}, err
	}
	west, north := tile[0], tile[3]
	pixelWidth := (tile[2] - tile[0]) / float64(raster.Width)
	pixelHeight := (tile[3] - tile[1]) / float64(raster.Height)
	x := mathhelp.Clamp(mathhelp.FloorInt((lon-west)/pixelWidth), 0, raster.Width-1)
	y := mathhelp.Clamp(mathhelp.FloorInt((north-lat)/pixelHeight), 0, raster.Height-1)
	m, height, err := raster.At(x, y)
	if err != nil {
		return Sample{}, err
	}
	if l.reverseMask {
		m = mask.ReverseBits(m)
	}
	bounds := geom.Extent{
		west + float64(x)*pixelWidth,
		north - float64(y+1)*pixelHeight,
		west + float64(x+1)*pixelWidth,
		north - float64(y)*pixelHeight,
	}
	return Sample{Key: key, Height: height, Mask: m, Info: mask.Decode(m), Bounds: &bounds}, nil
}
