package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Prices and quantities share the same precision so that sub-cent
	// altcoins and fractional contract sizes both fit.
	PriceConfig      = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000}
	QuantityConfig   = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000}
	RateConfig       = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000} // funding and borrow rates
	MultiplierConfig = DecimalConfig{DecimalPrecision: 4, Scale: 10_000}      // casino payout multipliers
)

// PPM is the scale of fee and margin fractions (parts per million).
const PPM int64 = 1_000_000

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow.
// The caller owns the result and should hand it back with Release.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// Release returns an intermediate to the pool.
func Release(v *big.Int) {
	putInt128(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // toward negative infinity
	RoundUp                           // toward positive infinity
)

// DivideInt128 performs numerator / denominator with rounding.
// denominator must be positive. big.Int.DivMod is Euclidean, so the
// remainder is never negative and the raw quotient is already the floor.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// MulDiv computes a * b / denominator with the given rounding.
func MulDiv(a, b, denominator int64, mode RoundingMode) int64 {
	n := MultiplyInt128(a, b)
	result := DivideInt128(n, denominator, mode)
	putInt128(n)
	return result
}

// Pow10 returns 10^n for 0 <= n <= 18.
func Pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

// ComputeRealizedPnL calculates PnL for a (partial) position close.
// The result is floored: profits round down and losses round up in
// magnitude, so rounding never favours the trader.
func ComputeRealizedPnL(
	sideSign int64, // +1 for long, -1 for short
	exitPrice int64, // Price scale
	entryPrice int64, // Price scale
	closeQty int64, // Quantity scale
	priceScale int64,
	qtyScale int64,
	quoteScale int64, // 10^decimals of the quote currency
) int64 {
	priceDiff := exitPrice - entryPrice

	temp := MultiplyInt128(sideSign*priceDiff, closeQty)
	temp.Mul(temp, big.NewInt(quoteScale))

	result := divideBig(temp, priceScale, qtyScale, RoundDown)

	putInt128(temp)
	return result
}

// ComputeNotional calculates the quote value of qty at price.
func ComputeNotional(
	qty int64,
	price int64,
	priceScale int64,
	qtyScale int64,
	quoteScale int64,
	mode RoundingMode,
) int64 {
	raw := MultiplyInt128(qty, price)
	raw.Mul(raw, big.NewInt(quoteScale))

	result := divideBig(raw, priceScale, qtyScale, mode)

	putInt128(raw)
	return result
}

// divideBig divides by the product d1*d2 without forming it as an int64,
// so callers may pass arbitrary configured scales.
func divideBig(numerator *big.Int, d1, d2 int64, mode RoundingMode) int64 {
	denom := new(big.Int).Mul(big.NewInt(d1), big.NewInt(d2))
	quotient := getInt128()
	remainder := getInt128()
	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()
	switch mode {
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundHalfEven:
		twice := new(big.Int).Lsh(remainder, 1)
		cmp := twice.Cmp(denom)
		if cmp > 0 || (cmp == 0 && result%2 != 0) {
			result++
		}
	}

	putInt128(quotient)
	putInt128(remainder)
	return result
}
