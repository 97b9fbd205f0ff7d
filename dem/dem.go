// Package dem reads the per-tile source archives: a zip holding one elevation (DSM)
// and one quality mask (MSK) GeoTIFF on the same grid.
package dem

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"math"
	"os"
	"strings"

	"github.com/go-spatial/geom"
	"github.com/klauspost/compress/zip"
	"golang.org/x/image/tiff"

	"github.com/pdok/terrapack/tilekey"
)

const (
	ElevationSuffix = "DSM.tif"
	MaskSuffix      = "MSK.tif"

	// DefaultNoData is the sentinel the source uses for voids.
	DefaultNoData = -9999
)

// ErrNoArchive means the tile has no source archive, i.e. it is open water or not covered.
var ErrNoArchive = errors.New("no source archive for tile")

// ArchiveLayoutError reports an archive without exactly one member for a band.
type ArchiveLayoutError struct {
	Suffix  string
	Matches []string
}

func (e *ArchiveLayoutError) Error() string {
	return fmt.Sprintf("archive should have exactly one member ending in %s, found %d: %v", e.Suffix, len(e.Matches), e.Matches)
}

// Grid is one decoded raster band.
type Grid struct {
	Width  int
	Height int
	// row-major, Width*Height samples
	Values []float64
	// degrees per pixel
	PixelWidth  float64
	PixelHeight float64
	// north-west corner as lon, lat
	Origin [2]float64
	NoData *float64
}

// Bounds is the extent covered by the grid as west, south, east, north.
func (g *Grid) Bounds() geom.Extent {
	west, north := g.Origin[0], g.Origin[1]
	return geom.Extent{
		west,
		north - float64(g.Height)*g.PixelHeight,
		west + float64(g.Width)*g.PixelWidth,
		north,
	}
}

// Georeference places the grid on the one degree box of key.
func (g *Grid) Georeference(key tilekey.Key) error {
	lat, lon, err := key.LatLon()
	if err != nil {
		return err
	}
	if g.Width == 0 || g.Height == 0 {
		return fmt.Errorf("cannot georeference empty %dx%d grid", g.Width, g.Height)
	}
	g.Origin = [2]float64{float64(lon), float64(lat + 1)}
	g.PixelWidth = 1 / float64(g.Width)
	g.PixelHeight = 1 / float64(g.Height)
	return nil
}

// Int16 returns the samples as elevations. Samples outside the int16 range saturate.
func (g *Grid) Int16() []int16 {
	out := make([]int16, len(g.Values))
	for i, v := range g.Values {
		out[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
	}
	return out
}

// Uint8 returns the samples as mask bytes.
func (g *Grid) Uint8() []uint8 {
	out := make([]uint8, len(g.Values))
	for i, v := range g.Values {
		out[i] = uint8(math.Max(0, math.Min(math.MaxUint8, v)))
	}
	return out
}

// Stats returns the smallest and largest sample, skipping no-data and NaN.
// ok is false when the grid holds no data at all.
func (g *Grid) Stats() (lo, hi float64, ok bool) {
	for _, v := range g.Values {
		if math.IsNaN(v) || (g.NoData != nil && v == *g.NoData) {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	return lo, hi, ok
}

// Tile holds both bands of one source archive.
type Tile struct {
	Key       tilekey.Key
	Elevation *Grid
	Mask      *Grid
}

// ReadArchive opens the zip at path and decodes both bands. A missing file yields ErrNoArchive.
func ReadArchive(path string, key tilekey.Key) (*Tile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNoArchive)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read archive of %s: %w", key, err)
	}
	return DecodeArchive(data, key)
}

// DecodeArchive is ReadArchive for an archive already in memory.
func DecodeArchive(data []byte, key tilekey.Key) (*Tile, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("could not open archive of %s: %w", key, err)
	}
	return readTile(zr, key)
}

func readTile(zr *zip.Reader, key tilekey.Key) (*Tile, error) {
	elevation, err := readBand(zr, ElevationSuffix)
	if err != nil {
		return nil, err
	}
	msk, err := readBand(zr, MaskSuffix)
	if err != nil {
		return nil, err
	}
	if elevation.Width != msk.Width || elevation.Height != msk.Height {
		return nil, fmt.Errorf("%s: elevation %dx%d and mask %dx%d grids differ", key,
			elevation.Width, elevation.Height, msk.Width, msk.Height)
	}
	noData := float64(DefaultNoData)
	elevation.NoData = &noData
	for _, g := range []*Grid{elevation, msk} {
		if err = g.Georeference(key); err != nil {
			return nil, err
		}
	}
	return &Tile{Key: key, Elevation: elevation, Mask: msk}, nil
}

func readBand(zr *zip.Reader, suffix string) (*Grid, error) {
	var matches []*zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, suffix) && !f.FileInfo().IsDir() {
			matches = append(matches, f)
		}
	}
	if len(matches) != 1 {
		names := make([]string, 0, len(matches))
		for _, f := range matches {
			names = append(names, f.Name)
		}
		return nil, &ArchiveLayoutError{Suffix: suffix, Matches: names}
	}
	rc, err := matches[0].Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	g, err := DecodeTIFF(rc)
	if err != nil {
		return nil, fmt.Errorf("could not decode %s: %w", matches[0].Name, err)
	}
	return g, nil
}

// DecodeTIFF decodes a single band TIFF. 16-bit samples are read as signed elevations
// whether or not the file declares them signed, 8-bit samples as unsigned.
func DecodeTIFF(r io.Reader) (*Grid, error) {
	// the TIFF decoder needs random access
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err = unsignSampleFormat(data); err != nil {
		return nil, err
	}
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	g := &Grid{Width: b.Dx(), Height: b.Dy(), Values: make([]float64, b.Dx()*b.Dy())}
	switch m := img.(type) {
	case *image.Gray16:
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				g.Values[y*g.Width+x] = float64(int16(m.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	case *image.Gray:
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				g.Values[y*g.Width+x] = float64(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported TIFF sample layout %T, want single band gray", img)
	}
	return g, nil
}
