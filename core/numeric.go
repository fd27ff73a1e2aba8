package core

import (
	"errors"
	"math/bits"
)

// Numeric domain. Prices and quantities are bounded to 32 bits so that a single
// price×quantity product always fits in 64 bits. Running sums (Σqty, Σprice·qty,
// payment totals) are 64-bit and every addition is overflow-checked.
const (
	// MaxPrice is the largest per-unit price (clearing price, price cap, encrypted bid price).
	MaxPrice uint64 = 1<<32 - 1

	// MaxQuantity is the largest supply or per-bid quantity.
	MaxQuantity uint64 = 1<<32 - 1
)

var (
	// ErrOverflow is returned when a value leaves the supported 64-bit domain.
	ErrOverflow = errors.New("numeric domain overflow")

	// ErrDivideByZero is returned for a zero divisor.
	ErrDivideByZero = errors.New("division by zero")
)

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedMul returns a*b or ErrOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// MulDivFloor computes floor(a*b/c) with a 128-bit intermediate, so no rounding
// happens before the final floor.
func MulDivFloor(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivideByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		// quotient would not fit in 64 bits (bits.Div64 panics here)
		return 0, ErrOverflow
	}
	quo, _ := bits.Div64(hi, lo, c)
	return quo, nil
}
