// Package packed implements the 3-bytes-per-pixel height+mask raster layout.
//
// Pixel (x, y) of a Width by Height raster starts at i = (y*Width + x) * Channels:
//
//	Pix[i]     mask byte
//	Pix[i+1]   elevation, low byte   (signed 16-bit little-endian)
//	Pix[i+2]   elevation, high byte
//	Pix[i+3]   alpha, only present in 4-channel rasters and ignored
//
// The bytes are not independent colour channels; an image viewer shows mask as red and
// the elevation as green/blue.
package packed

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/exp/constraints"

	"github.com/pdok/terrapack/mask"
	"github.com/pdok/terrapack/mathhelp"
)

const (
	// Channels is the number of bytes per pixel of an encoded raster.
	Channels = 3
	// ChannelsWithAlpha is the pixel size of rasters read back from RGBA containers.
	ChannelsWithAlpha = 4

	maskByte   = 0
	heightByte = 1
)

// Overflow decides what happens to elevations outside the int16 range after offset and multiplier.
type Overflow string

const (
	OverflowSaturate Overflow = "saturate"
	OverflowWrap     Overflow = "wrap"
)

// Options control how elevation samples are mapped to the stored 16-bit value:
// stored = round((elevation + HeightOffset) * HeightMultiplier).
type Options struct {
	HeightOffset     float64  `default:"0" yaml:"heightOffset" toml:"heightOffset"`
	HeightMultiplier float64  `default:"1" validate:"ne=0" yaml:"heightMultiplier" toml:"heightMultiplier"`
	ReverseMask      bool     `yaml:"reverseMask" toml:"reverseMask"`
	Overflow         Overflow `default:"saturate" validate:"oneof=saturate wrap" yaml:"overflow" toml:"overflow"`
}

// DefaultOptions stores elevations verbatim and saturates on overflow.
func DefaultOptions() Options {
	return Options{HeightMultiplier: 1, Overflow: OverflowSaturate}
}

// Raster is a packed height+mask buffer. It owns Pix.
type Raster struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// DimensionError reports grids or buffers whose size does not match the declared raster size.
type DimensionError struct {
	What     string
	Width    int
	Height   int
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s has %d elements, a %dx%d raster needs %d", e.What, e.Actual, e.Width, e.Height, e.Expected)
}

// TruncatedBufferError reports a packed buffer whose length is not width*height*3.
type TruncatedBufferError struct {
	Width    int
	Height   int
	Expected int
	Actual   int
}

func (e *TruncatedBufferError) Error() string {
	return fmt.Sprintf("packed buffer of %d bytes, a %dx%d raster needs %d", e.Actual, e.Width, e.Height, e.Expected)
}

// New allocates a zeroed 3-channel raster.
func New(width, height int) *Raster {
	return &Raster{
		Width:    width,
		Height:   height,
		Channels: Channels,
		Pix:      make([]byte, width*height*Channels),
	}
}

// NewUniform allocates a raster with every pixel set to m and elevation.
func NewUniform(width, height int, m byte, elevation int16) *Raster {
	r := New(width, height)
	// cannot fail, the buffer was sized above
	_ = FillUniform(r.Pix, width, height, m, elevation)
	return r
}

// Validate checks that len(Pix) == Width*Height*Channels.
func (r *Raster) Validate() error {
	if r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("negative raster size %dx%d", r.Width, r.Height)
	}
	if r.Channels != Channels && r.Channels != ChannelsWithAlpha {
		return fmt.Errorf("raster with %d channels, want %d or %d", r.Channels, Channels, ChannelsWithAlpha)
	}
	if want := r.Width * r.Height * r.Channels; len(r.Pix) != want {
		return &TruncatedBufferError{Width: r.Width, Height: r.Height, Expected: want, Actual: len(r.Pix)}
	}
	return nil
}

// Offset returns the index of the mask byte of pixel (x, y).
func (r *Raster) Offset(x, y int) (int, error) {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return 0, fmt.Errorf("pixel (%d,%d) outside %dx%d raster", x, y, r.Width, r.Height)
	}
	i := (y*r.Width + x) * r.Channels
	if i+heightByte+1 >= len(r.Pix) {
		return 0, &TruncatedBufferError{Width: r.Width, Height: r.Height, Expected: r.Width * r.Height * r.Channels, Actual: len(r.Pix)}
	}
	return i, nil
}

// At returns the mask and elevation of pixel (x, y).
func (r *Raster) At(x, y int) (byte, int16, error) {
	i, err := r.Offset(x, y)
	if err != nil {
		return 0, 0, err
	}
	m, elevation := readPixel(r.Pix, i)
	return m, elevation, nil
}

// Set writes the mask and elevation of pixel (x, y).
func (r *Raster) Set(x, y int, m byte, elevation int16) error {
	i, err := r.Offset(x, y)
	if err != nil {
		return err
	}
	writePixel(r.Pix, i, m, elevation)
	return nil
}

func readPixel(pix []byte, i int) (byte, int16) {
	return pix[i+maskByte], int16(binary.LittleEndian.Uint16(pix[i+heightByte:]))
}

func writePixel(pix []byte, i int, m byte, elevation int16) {
	pix[i+maskByte] = m
	binary.LittleEndian.PutUint16(pix[i+heightByte:], uint16(elevation))
}

// Encode packs an elevation grid and a mask grid of width*height samples each.
func Encode[E constraints.Integer | constraints.Float](elevation []E, masks []uint8, width, height int, opts Options) (*Raster, error) {
	n := width * height
	if len(elevation) != n {
		return nil, &DimensionError{What: "elevation grid", Width: width, Height: height, Expected: n, Actual: len(elevation)}
	}
	if len(masks) != n {
		return nil, &DimensionError{What: "mask grid", Width: width, Height: height, Expected: n, Actual: len(masks)}
	}
	if opts.HeightMultiplier == 0 {
		opts.HeightMultiplier = 1
	}
	r := New(width, height)
	for p := 0; p < n; p++ {
		m := masks[p]
		if opts.ReverseMask {
			m = mask.ReverseBits(m)
		}
		writePixel(r.Pix, p*Channels, m, opts.StoredHeight(float64(elevation[p])))
	}
	return r, nil
}

// StoredHeight applies offset, multiplier, rounding and the overflow policy to one sample.
func (o Options) StoredHeight(elevation float64) int16 {
	multiplier := o.HeightMultiplier
	if multiplier == 0 {
		multiplier = 1
	}
	v := math.Round((elevation + o.HeightOffset) * multiplier)
	if math.IsNaN(v) {
		return 0
	}
	if o.Overflow == OverflowWrap {
		if math.IsInf(v, 0) {
			return 0
		}
		return int16(int64(math.Mod(v, 1<<16)))
	}
	return int16(mathhelp.Clamp(v, math.MinInt16, math.MaxInt16))
}

// Decode unpacks a 3-channel buffer into elevation and mask grids.
func Decode(buf []byte, width, height int) ([]int16, []uint8, error) {
	n := width * height
	if len(buf) != n*Channels {
		return nil, nil, &TruncatedBufferError{Width: width, Height: height, Expected: n * Channels, Actual: len(buf)}
	}
	elevation := make([]int16, n)
	masks := make([]uint8, n)
	for p := 0; p < n; p++ {
		masks[p], elevation[p] = readPixel(buf, p*Channels)
	}
	return elevation, masks, nil
}

// FillUniform sets every pixel of a 3-channel buffer to the same mask and elevation.
func FillUniform(buf []byte, width, height int, m byte, elevation int16) error {
	n := width * height
	if len(buf) != n*Channels {
		return &TruncatedBufferError{Width: width, Height: height, Expected: n * Channels, Actual: len(buf)}
	}
	for p := 0; p < n; p++ {
		writePixel(buf, p*Channels, m, elevation)
	}
	return nil
}

// Stretch maps a srcWidth*srcHeight grid onto dstWidth*dstHeight by nearest neighbour,
// taking source sample (floor(x*srcWidth/dstWidth), floor(y*srcHeight/dstHeight)).
func Stretch[T any](values []T, srcWidth, srcHeight, dstWidth, dstHeight int) ([]T, error) {
	if len(values) != srcWidth*srcHeight {
		return nil, &DimensionError{What: "source grid", Width: srcWidth, Height: srcHeight, Expected: srcWidth * srcHeight, Actual: len(values)}
	}
	if srcWidth == dstWidth && srcHeight == dstHeight {
		return values, nil
	}
	if srcWidth == 0 || srcHeight == 0 {
		return nil, fmt.Errorf("cannot stretch an empty %dx%d grid", srcWidth, srcHeight)
	}
	out := make([]T, dstWidth*dstHeight)
	for y := 0; y < dstHeight; y++ {
		dy := y * srcHeight / dstHeight
		for x := 0; x < dstWidth; x++ {
			dx := x * srcWidth / dstWidth
			out[y*dstWidth+x] = values[dy*srcWidth+dx]
		}
	}
	return out, nil
}
