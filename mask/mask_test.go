package mask

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		in   byte
		want Info
	}{
		{in: 0x00, want: Info{Category: CategoryValid, Valid: true, Dataset: "AW3D"}},
		{in: 0x01, want: Info{Category: CategoryCloudSnow, Valid: false, Dataset: "AW3D"}},
		{in: 0x02, want: Info{Category: CategoryLandWater, Valid: true, LandWater: true, LowCorrelation: true, Dataset: "AW3D"}},
		{in: 0x03, want: Info{Category: CategorySea, Valid: true, Sea: true, Dataset: "AW3D"}},
		{in: 0x08, want: Info{Category: CategoryValid, Valid: true, Dataset: "SRTM-1 v3"}},
		{in: 0x2D, want: Info{Category: CategoryCloudSnow, Valid: false, Dataset: "REMA v1.1"}},
		{in: 0xFC, want: Info{Category: CategoryValid, Valid: true, Dataset: "IDW (gdal_fillnodata)"}},
		{in: 0x07, want: Info{Category: CategorySea, Valid: true, Sea: true, Dataset: "GSI DTM"}},
		{in: 0x14, want: Info{Category: CategoryValid, Valid: true, Dataset: UnknownDataset}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("0x%02X", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.in))
		})
	}
}

func TestDecodeIsTotal(t *testing.T) {
	for v := 0; v <= 0xFF; v++ {
		info := Decode(byte(v))
		assert.NotEmpty(t, info.Dataset)
		assert.Equal(t, v&0b11 != 0b01, info.Valid)
	}
}

func TestDatasets(t *testing.T) {
	list := Datasets()
	assert.Len(t, list, 12)
	assert.Equal(t, Dataset{Bits: 0x00, Name: "AW3D"}, list[0])
	assert.Equal(t, Dataset{Bits: 0xFC, Name: "IDW (gdal_fillnodata)"}, list[len(list)-1])
}

func TestReverseBits(t *testing.T) {
	assert.Equal(t, byte(0b11000000), ReverseBits(byte(CategorySea)))
	assert.Equal(t, byte(0b00111111), ReverseBits(0xFC))
}
