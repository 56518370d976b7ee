package math

import (
	"errors"
	"fmt"
	stdmath "math"

	"github.com/shopspring/decimal"
)

var (
	ErrExcessPrecision = errors.New("amount has more decimals than the currency allows")
	ErrOutOfRange      = errors.New("amount out of range")
)

var maxInt64 = decimal.NewFromInt(stdmath.MaxInt64)

// ToUnits converts a decimal amount to an integer count of smallest units.
// It never rounds: an amount finer than the currency precision is rejected.
func ToUnits(d decimal.Decimal, decimals int32) (int64, error) {
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%s with %d decimals: %w", d, decimals, ErrExcessPrecision)
	}
	if shifted.Abs().GreaterThan(maxInt64) {
		return 0, fmt.Errorf("%s: %w", d, ErrOutOfRange)
	}
	return shifted.IntPart(), nil
}

// ToUnitsFloor converts with truncation toward negative infinity. Used for
// external prices, which routinely carry more precision than we keep.
func ToUnitsFloor(d decimal.Decimal, decimals int32) (int64, error) {
	shifted := d.Shift(decimals).Floor()
	if shifted.Abs().GreaterThan(maxInt64) {
		return 0, fmt.Errorf("%s: %w", d, ErrOutOfRange)
	}
	return shifted.IntPart(), nil
}

// ParseUnits parses a decimal string into smallest units.
func ParseUnits(s string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return ToUnits(d, decimals)
}

// FromUnits converts smallest units back to a decimal.
func FromUnits(units int64, decimals int32) decimal.Decimal {
	return decimal.New(units, -decimals)
}

// FormatUnits renders smallest units with exactly the currency's decimals.
func FormatUnits(units int64, decimals int32) string {
	return FromUnits(units, decimals).StringFixed(decimals)
}

// PriceFromDecimal converts an external price to PriceConfig scale.
func PriceFromDecimal(d decimal.Decimal) (int64, error) {
	return ToUnitsFloor(d, int32(PriceConfig.DecimalPrecision))
}

// FormatPrice renders a PriceConfig-scaled price.
func FormatPrice(p int64) string {
	return FormatUnits(p, int32(PriceConfig.DecimalPrecision))
}
