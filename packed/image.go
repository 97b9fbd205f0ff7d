package packed

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"
)

// Image wraps the raster in an opaque RGBA image: R is the mask, G and B the elevation bytes.
// PNG encoders write such images as 8-bit RGB without alpha.
func (r *Raster) Image() (*image.RGBA, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for p, i := 0, 0; p < r.Width*r.Height; p, i = p+1, i+r.Channels {
		o := p * 4
		img.Pix[o] = r.Pix[i]
		img.Pix[o+1] = r.Pix[i+1]
		img.Pix[o+2] = r.Pix[i+2]
		img.Pix[o+3] = 0xFF
	}
	return img, nil
}

// FromImage reads a 3-channel raster back from an RGB(A) image.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	r := New(b.Dx(), b.Dy())
	for p := 0; p < r.Width*r.Height; p++ {
		copy(r.Pix[p*Channels:p*Channels+Channels], rgba.Pix[p*4:p*4+Channels])
	}
	return r
}

// WritePNG encodes the raster with maximum deflate compression.
func WritePNG(w io.Writer, r *Raster) error {
	img, err := r.Image()
	if err != nil {
		return err
	}
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	return enc.Encode(w, img)
}

func ReadPNG(rd io.Reader) (*Raster, error) {
	img, err := png.Decode(rd)
	if err != nil {
		return nil, fmt.Errorf("could not decode packed raster: %w", err)
	}
	return FromImage(img), nil
}

// WriteFile writes the raster as PNG to path, creating parent directories.
// The file appears atomically: it is written next to path and renamed.
func WriteFile(path string, r *Raster) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err = WritePNG(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func ReadFile(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPNG(f)
}
