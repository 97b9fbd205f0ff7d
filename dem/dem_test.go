package dem

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/pdok/terrapack/tilekey"
)

func encodeElevation(t *testing.T, w, h int, f func(x, y int) int16) []byte {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(f(x, y))})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))
	return buf.Bytes()
}

func encodeMask(t *testing.T, w, h int, f func(x, y int) uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: f(x, y)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))
	return buf.Bytes()
}

func buildZip(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range members {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecodeTIFF(t *testing.T) {
	elev := encodeElevation(t, 4, 3, func(x, y int) int16 {
		if x == 0 && y == 0 {
			return DefaultNoData
		}
		return int16(100*y + x)
	})
	g, err := DecodeTIFF(bytes.NewReader(elev))
	require.NoError(t, err)
	assert.Equal(t, 4, g.Width)
	assert.Equal(t, 3, g.Height)
	assert.Equal(t, float64(DefaultNoData), g.Values[0])
	assert.Equal(t, float64(203), g.Values[2*4+3])

	msk := encodeMask(t, 2, 2, func(x, y int) uint8 { return uint8(0xFC >> (x + y)) })
	g, err = DecodeTIFF(bytes.NewReader(msk))
	require.NoError(t, err)
	assert.Equal(t, []uint8{0xFC, 0x7E, 0x7E, 0x3F}, g.Uint8())
}

// signedTIFF writes an uncompressed single strip TIFF declaring its 16-bit samples
// signed (SampleFormat=2), the way the DSM rasters are published.
func signedTIFF(t *testing.T, bo binary.ByteOrder, width, height int, values []int16) []byte {
	t.Helper()
	type entry struct {
		tag, typ uint16
		value    uint32
	}
	const long = 4
	var pixels bytes.Buffer
	require.NoError(t, binary.Write(&pixels, bo, values))
	entries := []entry{
		{256, typeShort, uint32(width)},
		{257, typeShort, uint32(height)},
		{258, typeShort, 16},
		{259, typeShort, 1},
		{262, typeShort, 1},
		{273, long, 8},
		{277, typeShort, 1},
		{278, typeShort, uint32(height)},
		{279, long, uint32(pixels.Len())},
		{tagSampleFormat, typeShort, sampleFormatInt},
	}
	var buf bytes.Buffer
	if bo == binary.ByteOrder(binary.BigEndian) {
		buf.WriteString("MM")
	} else {
		buf.WriteString("II")
	}
	write := func(v any) { require.NoError(t, binary.Write(&buf, bo, v)) }
	write(uint16(42))
	write(uint32(8 + pixels.Len()))
	buf.Write(pixels.Bytes())
	write(uint16(len(entries)))
	for _, e := range entries {
		write(e.tag)
		write(e.typ)
		write(uint32(1))
		if e.typ == typeShort {
			write(uint16(e.value))
			write(uint16(0))
		} else {
			write(e.value)
		}
	}
	write(uint32(0))
	return buf.Bytes()
}

func TestDecodeTIFFSignedSamples(t *testing.T) {
	tests := []struct {
		name string
		bo   binary.ByteOrder
	}{
		{name: "little endian", bo: binary.LittleEndian},
		{name: "big endian", bo: binary.BigEndian},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := signedTIFF(t, tt.bo, 3, 1, []int16{-5, 1234, DefaultNoData})
			g, err := DecodeTIFF(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, []float64{-5, 1234, DefaultNoData}, g.Values)
			assert.Equal(t, []int16{-5, 1234, DefaultNoData}, g.Int16())
		})
	}
}

func TestDecodeArchiveSignedElevation(t *testing.T) {
	key := tilekey.FromDegrees(-1, -80)
	data := buildZip(t, map[string][]byte{
		"ALPSMLC30_S001W080_DSM.tif": signedTIFF(t, binary.LittleEndian, 2, 1, []int16{-12, 30}),
		"ALPSMLC30_S001W080_MSK.tif": encodeMask(t, 2, 1, func(x, y int) uint8 { return 3 }),
	})
	tile, err := DecodeArchive(data, key)
	require.NoError(t, err)
	assert.Equal(t, []int16{-12, 30}, tile.Elevation.Int16())
	lo, hi, ok := tile.Elevation.Stats()
	require.True(t, ok)
	assert.Equal(t, -12.0, lo)
	assert.Equal(t, 30.0, hi)
}

func TestUnsignSampleFormatHeader(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "short", data: []byte("II*")},
		{name: "bad byte order", data: []byte("XX*\x00\x08\x00\x00\x00")},
		{name: "bad magic", data: []byte{'I', 'I', 43, 0, 8, 0, 0, 0}},
		{name: "ifd out of range", data: []byte{'I', 'I', 42, 0, 200, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, unsignSampleFormat(tt.data), errTIFFHeader)
		})
	}
}

func TestDecodeTIFFGarbage(t *testing.T) {
	_, err := DecodeTIFF(bytes.NewReader([]byte("not a tiff")))
	assert.Error(t, err)
}

func TestDecodeArchive(t *testing.T) {
	key := tilekey.Key("N052E005")
	data := buildZip(t, map[string][]byte{
		"N052E005/ALPSMLC30_N052E005_DSM.tif": encodeElevation(t, 3, 3, func(x, y int) int16 { return int16(-x - y) }),
		"N052E005/ALPSMLC30_N052E005_MSK.tif": encodeMask(t, 3, 3, func(x, y int) uint8 { return 3 }),
		"N052E005/ALPSMLC30_N052E005_STK.tif": []byte("ignored"),
		"N052E005/README.txt":                 []byte("ignored"),
	})
	tile, err := DecodeArchive(data, key)
	require.NoError(t, err)
	assert.Equal(t, key, tile.Key)
	assert.Equal(t, []int16{0, -1, -2, -1, -2, -3, -2, -3, -4}, tile.Elevation.Int16())
	assert.Equal(t, []uint8{3, 3, 3, 3, 3, 3, 3, 3, 3}, tile.Mask.Uint8())
	require.NotNil(t, tile.Elevation.NoData)
	assert.Equal(t, float64(DefaultNoData), *tile.Elevation.NoData)
	assert.Equal(t, geom.Extent{5, 52, 6, 53}, tile.Elevation.Bounds())
	assert.InDelta(t, 1.0/3, tile.Mask.PixelWidth, 1e-12)
}

func TestGridStats(t *testing.T) {
	noData := float64(DefaultNoData)
	g := &Grid{Values: []float64{DefaultNoData, 12, -3, math.NaN(), 40}, NoData: &noData}
	lo, hi, ok := g.Stats()
	assert.True(t, ok)
	assert.Equal(t, -3.0, lo)
	assert.Equal(t, 40.0, hi)

	g = &Grid{Values: []float64{DefaultNoData, DefaultNoData}, NoData: &noData}
	_, _, ok = g.Stats()
	assert.False(t, ok)
}

func TestDecodeArchiveLayout(t *testing.T) {
	elev := encodeElevation(t, 2, 2, func(x, y int) int16 { return 1 })
	msk := encodeMask(t, 2, 2, func(x, y int) uint8 { return 0 })
	tests := []struct {
		name    string
		members map[string][]byte
		suffix  string
		matches int
	}{
		{name: "no elevation", members: map[string][]byte{"a_MSK.tif": msk}, suffix: ElevationSuffix, matches: 0},
		{name: "no mask", members: map[string][]byte{"a_DSM.tif": elev}, suffix: MaskSuffix, matches: 0},
		{name: "two elevations", members: map[string][]byte{"a_DSM.tif": elev, "b_DSM.tif": elev, "a_MSK.tif": msk}, suffix: ElevationSuffix, matches: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeArchive(buildZip(t, tt.members), "N000E000")
			var layoutErr *ArchiveLayoutError
			require.ErrorAs(t, err, &layoutErr)
			assert.Equal(t, tt.suffix, layoutErr.Suffix)
			assert.Len(t, layoutErr.Matches, tt.matches)
		})
	}
}

func TestDecodeArchiveSizeMismatch(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"a_DSM.tif": encodeElevation(t, 2, 2, func(x, y int) int16 { return 1 }),
		"a_MSK.tif": encodeMask(t, 3, 3, func(x, y int) uint8 { return 0 }),
	})
	_, err := DecodeArchive(data, "N000E000")
	assert.ErrorContains(t, err, "differ")
}

func TestReadArchive(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadArchive(filepath.Join(dir, "S010W020.zip"), "S010W020")
	assert.True(t, errors.Is(err, ErrNoArchive))

	path := filepath.Join(dir, "S010W020.zip")
	require.NoError(t, os.WriteFile(path, buildZip(t, map[string][]byte{
		"x_DSM.tif": encodeElevation(t, 2, 2, func(x, y int) int16 { return 7 }),
		"x_MSK.tif": encodeMask(t, 2, 2, func(x, y int) uint8 { return 0 }),
	}), 0o644))
	tile, err := ReadArchive(path, "S010W020")
	require.NoError(t, err)
	assert.Equal(t, geom.Extent{-20, -10, -19, -9}, tile.Elevation.Bounds())
	assert.Equal(t, []int16{7, 7, 7, 7}, tile.Elevation.Int16())
}
