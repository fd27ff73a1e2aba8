package core

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const ratioPrecision int32 = 4 // 4 decimal places for fill ratios (0.0001 precision)

// FormatUnits renders an integer amount of base units as a decimal string with the given
// number of decimals, e.g. FormatUnits(123450, 4) == "12.345".
func FormatUnits(amount uint64, decimals int32) string {
	return toDecimal(amount).Shift(-decimals).String()
}

// FillRatio returns allocated/requested rounded to 4 decimal places. A zero request yields zero.
// Used for audit reporting only; settlement itself never leaves integer arithmetic.
func FillRatio(allocated, requested uint64) decimal.Decimal {
	if requested == 0 {
		return decimal.Zero
	}
	return toDecimal(allocated).DivRound(toDecimal(requested), ratioPrecision)
}

func toDecimal(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
