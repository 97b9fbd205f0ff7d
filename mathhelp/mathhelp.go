package mathhelp

import (
	"math"

	"golang.org/x/exp/constraints"
)

func BetweenInc[T constraints.Ordered](f, p, q T) bool {
	if p <= q {
		return p <= f && f <= q
	}
	return q <= f && f <= p
}

func EuclidianMod(d, m int) int {
	r := d % m
	if (r < 0 && m > 0) || (r > 0 && m < 0) {
		return r + m
	}
	return r
}

// FloorToMultiple rounds d down (towards negative infinity) to a multiple of m.
func FloorToMultiple(d, m int) int {
	return d - EuclidianMod(d, m)
}

// FloorInt floors f towards negative infinity.
func FloorInt(f float64) int {
	return int(math.Floor(f))
}

func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RoundDiv divides n by d (d > 0) rounding half away from zero.
func RoundDiv[T constraints.Signed](n, d T) T {
	if n < 0 {
		return -((-n + d/2) / d)
	}
	return (n + d/2) / d
}

func MaxOf[T constraints.Ordered](first T, rest ...T) T {
	m := first
	for _, v := range rest {
		if v > m {
			m = v
		}
	}
	return m
}
