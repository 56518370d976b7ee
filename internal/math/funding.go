package math

import "math/big"

// ComputeFundingPayment calculates the funding payment for a position.
// Returns: payment amount (positive = user pays, negative = user receives).
// Longs pay shorts when the rate is positive and vice versa. Amounts the
// user pays round up, amounts the user receives round down.
func ComputeFundingPayment(
	fundingRate int64, // Rate scale
	qty int64, // Quantity scale
	markPrice int64, // Price scale
	sideSign int64, // +1 for long, -1 for short
	priceScale int64,
	qtyScale int64,
	quoteScale int64,
) int64 {
	signedRate := fundingRate * sideSign
	if signedRate == 0 || qty == 0 {
		return 0
	}

	magnitude := signedRate
	if magnitude < 0 {
		magnitude = -magnitude
	}

	mode := RoundUp
	if signedRate < 0 {
		mode = RoundDown
	}

	payment := applyRate(magnitude, qty, markPrice, priceScale, qtyScale, quoteScale, mode)
	if signedRate < 0 {
		return -payment
	}
	return payment
}

// ComputeBorrowFee returns notional * borrowRate, rounded up.
func ComputeBorrowFee(borrowRate, qty, markPrice, priceScale, qtyScale, quoteScale int64) int64 {
	if borrowRate <= 0 || qty <= 0 {
		return 0
	}
	return applyRate(borrowRate, qty, markPrice, priceScale, qtyScale, quoteScale, RoundUp)
}

// applyRate computes rate * qty * price in quote units:
// raw scale = R_s * Q_s * P_s, target scale = quoteScale.
func applyRate(rate, qty, price, priceScale, qtyScale, quoteScale int64, mode RoundingMode) int64 {
	temp := MultiplyInt128(rate, qty)
	temp.Mul(temp, big.NewInt(price))
	temp.Mul(temp, big.NewInt(quoteScale))

	denom := new(big.Int).Mul(big.NewInt(priceScale), big.NewInt(qtyScale))
	denom.Mul(denom, big.NewInt(RateConfig.Scale))

	quotient := getInt128()
	remainder := getInt128()
	quotient.DivMod(temp, denom, remainder)

	result := quotient.Int64()
	if mode == RoundUp && remainder.Sign() != 0 {
		result++
	}

	putInt128(temp)
	putInt128(quotient)
	putInt128(remainder)
	return result
}

// ClampRate bounds a rate to [-limit, limit].
func ClampRate(rate, limit int64) int64 {
	if rate > limit {
		return limit
	}
	if rate < -limit {
		return -limit
	}
	return rate
}
