package currency

import "math/bits"

// Saturating arithmetic on uint64 balances. Fee and priority math must never
// panic or wrap, whatever the inputs — degenerate weights and maximal tips are
// legal on the wire.

// SatAdd returns a+b, clamping at MaxUint64.
func SatAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}

// SatSub returns a-b, clamping at 0.
func SatSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// SatMul returns a*b, clamping at MaxUint64.
func SatMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}

// MulDiv returns a*b/c with a 128-bit intermediate, clamping at MaxUint64.
// Returns MaxUint64 when c is 0.
func MulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return ^uint64(0)
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, c)
	return q
}
