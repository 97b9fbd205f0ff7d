package lookup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/terrapack/mask"
	"github.com/pdok/terrapack/packed"
	"github.com/pdok/terrapack/tilekey"
)

func writeTile(t *testing.T, dir string, key tilekey.Key, size int) {
	t.Helper()
	r := packed.New(size, size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			require.NoError(t, r.Set(x, y, byte(x), int16(100*y+x)))
		}
	}
	require.NoError(t, packed.WriteFile(filepath.Join(dir, key.String()+".png"), r))
}

func TestHeight(t *testing.T) {
	dir := t.TempDir()
	writeTile(t, dir, "N039W002", 4)
	l, err := New(dir, packed.Options{}, 3, 0, 2)
	require.NoError(t, err)

	tests := []struct {
		name     string
		lat, lon float64
		height   int16
		mask     byte
		bounds   geom.Extent
	}{
		{name: "north west corner", lat: 39.99, lon: -1.99, height: 0, mask: 0, bounds: geom.Extent{-2, 39.75, -1.75, 40}},
		{name: "south east corner", lat: 39.01, lon: -1.01, height: 303, mask: 3, bounds: geom.Extent{-1.25, 39, -1, 39.25}},
		{name: "inner", lat: 39.474332, lon: -1.034603, height: 203, mask: 3, bounds: geom.Extent{-1.25, 39.25, -1, 39.5}},
		{name: "west edge", lat: 39.6, lon: -2, height: 100, mask: 0, bounds: geom.Extent{-2, 39.5, -1.75, 39.75}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := l.Height(context.Background(), tt.lat, tt.lon)
			require.NoError(t, err)
			assert.Equal(t, tilekey.Key("N039W002"), s.Key)
			assert.Equal(t, tt.height, s.Height)
			assert.Equal(t, tt.mask, s.Mask)
			assert.Equal(t, mask.Decode(tt.mask), s.Info)
			require.NotNil(t, s.Bounds)
			for i := range tt.bounds {
				assert.InDelta(t, tt.bounds[i], s.Bounds[i], 1e-9)
			}
		})
	}
}

func TestHeightWithoutTile(t *testing.T) {
	l, err := New(t.TempDir(), packed.Options{}, 3, 7, 0)
	require.NoError(t, err)
	s, err := l.Height(context.Background(), -45.5, 170.2)
	require.NoError(t, err)
	assert.Equal(t, tilekey.Key("S046E170"), s.Key)
	assert.Equal(t, int16(7), s.Height)
	assert.Equal(t, byte(3), s.Mask)
	assert.True(t, s.Info.Sea)
	assert.Nil(t, s.Bounds)
}

func TestHeightCachesTiles(t *testing.T) {
	dir := t.TempDir()
	writeTile(t, dir, "N010E010", 2)
	l, err := New(dir, packed.Options{}, 3, 0, 4)
	require.NoError(t, err)
	first, err := l.Height(context.Background(), 10.9, 10.9)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "N010E010.png")))
	second, err := l.Height(context.Background(), 10.9, 10.9)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHeightErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "N000E000.png"), []byte("not a png"), 0o644))
	l, err := New(dir, packed.Options{}, 3, 0, 1)
	require.NoError(t, err)
	_, err = l.Height(context.Background(), 0.5, 0.5)
	assert.Error(t, err)
	_, err = l.Height(context.Background(), 91, 0)
	assert.ErrorContains(t, err, "out of range")
}

func TestHeightReverseMask(t *testing.T) {
	opts := packed.Options{HeightMultiplier: 1, ReverseMask: true}
	sea := byte(mask.CategorySea)
	raster, err := packed.Encode([]int16{-3, 12, 7, 40}, []uint8{sea, 0x08, 0xFC, 0x00}, 2, 2, opts)
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, packed.WriteFile(filepath.Join(dir, "N010E020.png"), raster))

	tests := []struct {
		name     string
		lat, lon float64
		mask     byte
		dataset  string
	}{
		{name: "sea", lat: 10.9, lon: 20.1, mask: sea, dataset: "AW3D"},
		{name: "srtm", lat: 10.9, lon: 20.9, mask: 0x08, dataset: "SRTM-1 v3"},
		{name: "filled", lat: 10.1, lon: 20.1, mask: 0xFC, dataset: "IDW (gdal_fillnodata)"},
	}
	l, err := New(dir, opts, 3, 0, 1)
	require.NoError(t, err)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := l.Height(context.Background(), tt.lat, tt.lon)
			require.NoError(t, err)
			assert.Equal(t, tt.mask, s.Mask)
			assert.Equal(t, tt.dataset, s.Info.Dataset)
		})
	}

	s, err := l.Height(context.Background(), 10.9, 20.1)
	require.NoError(t, err)
	assert.True(t, s.Info.Sea)
	assert.Equal(t, int16(-3), s.Height)

	plain, err := New(dir, packed.Options{}, 3, 0, 1)
	require.NoError(t, err)
	s, err = plain.Height(context.Background(), 10.9, 20.1)
	require.NoError(t, err)
	assert.Equal(t, mask.ReverseBits(sea), s.Mask)
	assert.False(t, s.Info.Sea)
}

func TestSampleElevation(t *testing.T) {
	s := Sample{Height: 300}
	assert.Equal(t, 300.0, s.Elevation(packed.Options{}))
	assert.Equal(t, 50.0, s.Elevation(packed.Options{HeightOffset: 100, HeightMultiplier: 2}))
}
