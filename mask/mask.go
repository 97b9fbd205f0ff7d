// Package mask decodes the 8-bit quality/provenance byte that accompanies every elevation sample.
//
// The lower two bits are a validity category, the upper six bits (kept in place, i.e. the
// byte masked with 0b11111100) identify the dataset used to fill voids:
//
//	000000 00  valid
//	000000 01  cloud and snow (invalid)
//	000000 10  land water and low correlation (valid)
//	000000 11  sea (valid)
//	000001 00  GSI DTM
//	...
//	111111 00  filled by inverse distance weighting (gdal_fillnodata)
package mask

import (
	"fmt"
	"math/bits"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pdok/terrapack/mapslicehelp"
)

type Category uint8

const (
	CategoryValid     Category = 0b00
	CategoryCloudSnow Category = 0b01
	CategoryLandWater Category = 0b10
	CategorySea       Category = 0b11

	categoryBits = 0b11
	datasetBits  = 0b11111100
)

// UnknownDataset is reported for provenance bits not in the dataset table.
const UnknownDataset = "unknown"

func (c Category) String() string {
	switch c {
	case CategoryValid:
		return "valid"
	case CategoryCloudSnow:
		return "cloud/snow"
	case CategoryLandWater:
		return "land water/low correlation"
	case CategorySea:
		return "sea"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

var datasets = mapslicehelp.OrderedMapFromPairs(
	orderedmap.Pair[byte, string]{Key: 0b00000000, Value: "AW3D"},
	orderedmap.Pair[byte, string]{Key: 0b00000100, Value: "GSI DTM"},
	orderedmap.Pair[byte, string]{Key: 0b00001000, Value: "SRTM-1 v3"},
	orderedmap.Pair[byte, string]{Key: 0b00001100, Value: "PRISM DSM"},
	orderedmap.Pair[byte, string]{Key: 0b00010000, Value: "GSI ViewFinder Panoramas DEM"},
	orderedmap.Pair[byte, string]{Key: 0b00011000, Value: "ASTER GDEM v2"},
	orderedmap.Pair[byte, string]{Key: 0b00011100, Value: "ArcticDEM v2"},
	orderedmap.Pair[byte, string]{Key: 0b00100000, Value: "TanDEM-X 90m DEM"},
	orderedmap.Pair[byte, string]{Key: 0b00100100, Value: "ArcticDEM v3"},
	orderedmap.Pair[byte, string]{Key: 0b00101000, Value: "ASTER GDEM v3"},
	orderedmap.Pair[byte, string]{Key: 0b00101100, Value: "REMA v1.1"},
	orderedmap.Pair[byte, string]{Key: 0b11111100, Value: "IDW (gdal_fillnodata)"},
)

// Info holds the named flags of one mask byte.
type Info struct {
	Category       Category
	Valid          bool
	LandWater      bool
	LowCorrelation bool
	Sea            bool
	Dataset        string
}

// Decode never fails: every byte maps to an Info.
func Decode(v byte) Info {
	category := Category(v & categoryBits)
	dataset, ok := datasets.Get(v & datasetBits)
	if !ok {
		dataset = UnknownDataset
	}
	return Info{
		Category:       category,
		Valid:          category != CategoryCloudSnow,
		LandWater:      category == CategoryLandWater,
		LowCorrelation: category == CategoryLandWater,
		Sea:            category == CategorySea,
		Dataset:        dataset,
	}
}

// Dataset is one entry of the provenance table.
type Dataset struct {
	Bits byte
	Name string
}

// Datasets lists the known provenance datasets in table order.
func Datasets() []Dataset {
	keys := mapslicehelp.OrderedMapKeys(datasets)
	list := make([]Dataset, 0, len(keys))
	for _, k := range keys {
		name, _ := datasets.Get(k)
		list = append(list, Dataset{Bits: k, Name: name})
	}
	return list
}

// ReverseBits mirrors the bit order of v, so that sea (0b11) ends up in the high bits.
func ReverseBits(v byte) byte {
	return bits.Reverse8(v)
}
