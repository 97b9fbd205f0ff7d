// Package resample derives lower resolution packed rasters from a full resolution one by
// reducing every factor x factor block of input pixels to a single output pixel.
package resample

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/pdok/terrapack/mathhelp"
	"github.com/pdok/terrapack/packed"
)

type Algorithm string

const (
	// Center copies the block's center pixel (the top-left of the four for factor 2).
	Center Algorithm = "center"
	// Average takes the rounded mean elevation and the largest mask byte of the block.
	Average Algorithm = "average"
	// Max takes the largest elevation and the largest mask byte of the block.
	Max Algorithm = "max"
)

// Config selects a reduction. Factor 1 means "as is" and produces no output.
type Config struct {
	Factor    int       `default:"3" validate:"oneof=1 2 3" yaml:"factor" toml:"factor"`
	Algorithm Algorithm `default:"center" validate:"oneof=center average max" yaml:"algorithm" toml:"algorithm"`
}

func (c Config) String() string {
	return fmt.Sprintf("%dx_%s", c.Factor, c.Algorithm)
}

// Validate checks the config once, when it is loaded.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return &UnsupportedConfigError{Config: c, Reason: err.Error()}
	}
	return nil
}

// UnsupportedConfigError is fatal for the tile being reduced; retrying cannot help.
type UnsupportedConfigError struct {
	Config Config
	Reason string
}

func (e *UnsupportedConfigError) Error() string {
	return fmt.Sprintf("unsupported reduction factor=%d algorithm=%q: %s", e.Config.Factor, e.Config.Algorithm, e.Reason)
}

// UnexpectedChannelCountError reports a buffer that is neither 3 nor 4 bytes per pixel.
type UnexpectedChannelCountError struct {
	Width  int
	Height int
	Length int
}

func (e *UnexpectedChannelCountError) Error() string {
	return fmt.Sprintf("buffer of %d bytes is not 3 or 4 channels of a %dx%d raster", e.Length, e.Width, e.Height)
}

type reducer func(block []int) (byte, int16)

// Reduce returns a new raster of (Width/factor)x(Height/factor) pixels. src is not modified.
// For factor 1 it returns nil: there is nothing to produce.
func Reduce(src *packed.Raster, cfg Config) (*packed.Raster, error) {
	if cfg.Factor == 1 {
		return nil, nil
	}
	if cfg.Factor != 2 && cfg.Factor != 3 {
		return nil, &UnsupportedConfigError{Config: cfg, Reason: "factor must be 2 or 3"}
	}
	channels, err := channelCount(src)
	if err != nil {
		return nil, err
	}
	var reduce reducer
	switch cfg.Algorithm {
	case Center:
		reduce = centerReducer(src.Pix, cfg.Factor)
	case Average:
		reduce = averageReducer(src.Pix)
	case Max:
		reduce = maxReducer(src.Pix)
	default:
		return nil, &UnsupportedConfigError{Config: cfg, Reason: "algorithm must be center, average or max"}
	}

	ow, oh := src.Width/cfg.Factor, src.Height/cfg.Factor
	dst := &packed.Raster{Width: ow, Height: oh, Channels: channels, Pix: make([]byte, ow*oh*channels)}
	block := make([]int, cfg.Factor*cfg.Factor)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			blockOffsets(block, src.Width, channels, cfg.Factor, x, y)
			m, elevation := reduce(block)
			if err = dst.Set(x, y, m, elevation); err != nil {
				return nil, err
			}
			if channels == packed.ChannelsWithAlpha {
				dst.Pix[(y*ow+x)*channels+3] = 0xFF
			}
		}
	}
	return dst, nil
}

func channelCount(src *packed.Raster) (int, error) {
	pixels := src.Width * src.Height
	if pixels == 0 || len(src.Pix)%pixels != 0 {
		return 0, &UnexpectedChannelCountError{Width: src.Width, Height: src.Height, Length: len(src.Pix)}
	}
	channels := len(src.Pix) / pixels
	if channels != packed.Channels && channels != packed.ChannelsWithAlpha {
		return 0, &UnexpectedChannelCountError{Width: src.Width, Height: src.Height, Length: len(src.Pix)}
	}
	return channels, nil
}

// blockOffsets fills offsets with the buffer index of every pixel of the block that
// output pixel (x, y) reduces, row by row. Row r of the block starts one full input
// row (width*channels bytes) below row r-1.
func blockOffsets(offsets []int, width, channels, factor, x, y int) {
	rowStride := width * channels
	origin := (y*factor)*rowStride + (x*factor)*channels
	for r := 0; r < factor; r++ {
		for c := 0; c < factor; c++ {
			offsets[r*factor+c] = origin + r*rowStride + c*channels
		}
	}
}

func pixelAt(pix []byte, i int) (byte, int16) {
	return pix[i], int16(uint16(pix[i+1]) | uint16(pix[i+2])<<8)
}

func centerReducer(pix []byte, factor int) reducer {
	center := (factor-1)/2*factor + (factor-1)/2
	return func(block []int) (byte, int16) {
		return pixelAt(pix, block[center])
	}
}

// TODO merge masks by category priority instead of taking the largest byte.
func averageReducer(pix []byte) reducer {
	return func(block []int) (byte, int16) {
		var maxMask byte
		var sum int64
		for _, i := range block {
			m, elevation := pixelAt(pix, i)
			maxMask = mathhelp.MaxOf(maxMask, m)
			sum += int64(elevation)
		}
		return maxMask, int16(mathhelp.RoundDiv(sum, int64(len(block))))
	}
}

func maxReducer(pix []byte) reducer {
	return func(block []int) (byte, int16) {
		maxMask, maxElevation := pixelAt(pix, block[0])
		for _, i := range block[1:] {
			m, elevation := pixelAt(pix, i)
			maxMask = mathhelp.MaxOf(maxMask, m)
			maxElevation = mathhelp.MaxOf(maxElevation, elevation)
		}
		return maxMask, maxElevation
	}
}
