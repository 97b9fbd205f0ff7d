// Package morton interleaves two 32-bit grid coordinates into one 64-bit Z-order code.
// Codes of neighbouring grid cells are close together, which keeps byte-ordered key/value
// stores (bbolt) spatially clustered.
package morton

type Z = uint64

var (
	spreadMasks = [...]uint64{
		0x5555555555555555,
		0x3333333333333333,
		0x0F0F0F0F0F0F0F0F,
		0x00FF00FF00FF00FF,
		0x0000FFFF0000FFFF,
		0x00000000FFFFFFFF,
	}
	spreadShifts = [...]uint{1, 2, 4, 8, 16}
)

func spread(v uint32) uint64 {
	w := uint64(v)
	for i := len(spreadShifts) - 1; i >= 0; i-- {
		w = (w | (w << spreadShifts[i])) & spreadMasks[i]
	}
	return w
}

func compact(w uint64) uint32 {
	w &= spreadMasks[0]
	for i, shift := range spreadShifts {
		w = (w | (w >> shift)) & spreadMasks[i+1]
	}
	return uint32(w)
}

// ToZ interleaves x into the even bits and y into the odd bits.
func ToZ(x, y uint32) Z {
	return spread(x) | spread(y)<<1
}

func FromZ(z Z) (x, y uint32) {
	return compact(z), compact(z >> 1)
}
