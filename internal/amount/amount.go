// Package amount converts between base units and human-readable token amounts.
package amount

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a human amount cannot be represented in base units.
var ErrInvalidAmount = errors.New("invalid amount")

// Format renders base units with the mint's decimals, e.g. 1500000 @6 -> "1.5".
func Format(units uint64, decimals uint8) string {
	return ToDecimal(units, decimals).String()
}

// ToDecimal returns base units scaled by 10^-decimals.
func ToDecimal(units uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals))
}

// Parse converts a human amount to base units. It rejects negative values,
// more fractional digits than decimals, and results above MaxUint64.
func Parse(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}

	units := d.Shift(int32(decimals))
	if !units.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, decimals)
	}

	b := units.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("%w: %q overflows u64", ErrInvalidAmount, s)
	}
	return b.Uint64(), nil
}
