package domain

import (
	"math"
	"math/bits"
)

// MulAmount multiplies two non-negative values, reporting false when the
// product does not fit in an int64.
func MulAmount(a int64, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

// AddAmount adds two non-negative values, reporting false on overflow.
func AddAmount(a int64, b int64) (int64, bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
