package dem

import (
	"encoding/binary"
	"errors"
)

const (
	tagSampleFormat = 339

	typeShort = 3

	sampleFormatUint = 1
	sampleFormatInt  = 2
)

var errTIFFHeader = errors.New("dem: malformed TIFF header")

// unsignSampleFormat rewrites SampleFormat=2 (signed integer) to 1 in every IFD of data,
// in place. The TIFF decoder only accepts unsigned samples; the 16-bit ones are
// reinterpreted as int16 after decoding.
func unsignSampleFormat(data []byte) error {
	if len(data) < 8 {
		return errTIFFHeader
	}
	var bo binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return errTIFFHeader
	}
	if bo.Uint16(data[2:4]) != 42 {
		return errTIFFHeader
	}

	seen := map[uint32]bool{}
	for offset := bo.Uint32(data[4:8]); offset != 0 && !seen[offset]; {
		seen[offset] = true
		if int(offset)+2 > len(data) {
			return errTIFFHeader
		}
		n := int(bo.Uint16(data[offset:]))
		entries := int(offset) + 2
		if entries+n*12+4 > len(data) {
			return errTIFFHeader
		}
		for i := 0; i < n; i++ {
			e := data[entries+i*12 : entries+(i+1)*12]
			if bo.Uint16(e[0:2]) != tagSampleFormat || bo.Uint16(e[2:4]) != typeShort {
				continue
			}
			count := int(bo.Uint32(e[4:8]))
			values := e[8:12]
			if count > 2 {
				at := int(bo.Uint32(e[8:12]))
				if at+count*2 > len(data) {
					return errTIFFHeader
				}
				values = data[at : at+count*2]
			}
			for j := 0; j < count; j++ {
				if bo.Uint16(values[j*2:]) == sampleFormatInt {
					bo.PutUint16(values[j*2:], sampleFormatUint)
				}
			}
		}
		offset = bo.Uint32(data[entries+n*12:])
	}
	return nil
}
