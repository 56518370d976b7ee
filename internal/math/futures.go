package math

import (
	stdmath "math"
	"math/big"
)

// Fee and margin fractions, PPM scale.
const (
	OpenFeePPM            int64 = 800     // 0.08%
	CloseFeePPM           int64 = 800     // 0.08%
	ImpactFeeCapPPM       int64 = 2_000   // 0.2%
	LiquidationPenaltyPPM int64 = 100_000 // 10% of collateral

	baseMaintenancePPM int64 = 5_000
	maxMaintenancePPM  int64 = 25_000
)

// impact rate grows 0.0002 per 1000 units of quote notional,
// i.e. rate = notional * 2 / 10^7 in whole quote units.
const (
	impactRateNumerator   int64 = 2
	impactRateDenominator int64 = 10_000_000
)

// OpenFee is notional * 0.0008, rounded up.
func OpenFee(notional int64) int64 {
	return MulDiv(notional, OpenFeePPM, PPM, RoundUp)
}

// CloseFee is notional * 0.0008, rounded up.
func CloseFee(notional int64) int64 {
	return MulDiv(notional, CloseFeePPM, PPM, RoundUp)
}

// ImpactFee is notional * min(0.002, notional/1000 * 0.0002), rounded up.
// notional is in quote smallest units and quoteScale converts it back to
// whole quote units for the size-dependent rate.
func ImpactFee(notional, quoteScale int64) int64 {
	capped := MulDiv(notional, ImpactFeeCapPPM, PPM, RoundUp)

	sq := MultiplyInt128(notional, notional)
	sq.Mul(sq, big.NewInt(impactRateNumerator))
	dynamic := divideBig(sq, impactRateDenominator, quoteScale, RoundUp)
	putInt128(sq)

	if dynamic < capped {
		return dynamic
	}
	return capped
}

// QuantityForCollateral returns floor(collateral * leverage / price) in
// quantity scale.
func QuantityForCollateral(collateral, leverage, price, priceScale, qtyScale, quoteScale int64) int64 {
	if price <= 0 {
		return 0
	}
	n := MultiplyInt128(collateral, leverage)
	n.Mul(n, big.NewInt(priceScale))
	n.Mul(n, big.NewInt(qtyScale))
	result := divideBig(n, quoteScale, price, RoundDown)
	putInt128(n)
	return result
}

// ProportionalShare returns floor(total * part / whole).
func ProportionalShare(total, part, whole int64) int64 {
	if whole <= 0 {
		return 0
	}
	return MulDiv(total, part, whole, RoundDown)
}

// MaintenanceMarginPPM returns min(0.025, 0.005 + 0.005*log10(leverage))
// in PPM. The log term is rounded to a whole PPM, which keeps the result
// identical across platforms.
func MaintenanceMarginPPM(leverage int64) int64 {
	if leverage <= 1 {
		return baseMaintenancePPM
	}
	logTerm := int64(stdmath.Round(float64(baseMaintenancePPM) * stdmath.Log10(float64(leverage))))
	mmr := baseMaintenancePPM + logTerm
	if mmr > maxMaintenancePPM {
		return maxMaintenancePPM
	}
	return mmr
}

// LiquidationPrice returns entry*(1 - marginRatio - mmr) for longs and
// entry*(1 + marginRatio + mmr) for shorts, where
// marginRatio = (collateral - feesPaid) / (qty * entry).
//
// Both offsets are floored before being applied, so a long's threshold
// rounds up and a short's rounds down.
func LiquidationPrice(
	sideSign int64,
	entryPrice int64,
	qty int64,
	collateral int64,
	feesPaid int64,
	leverage int64,
	priceScale int64,
	qtyScale int64,
	quoteScale int64,
) int64 {
	if qty <= 0 {
		return 0
	}

	// (collateral - fees) / (qty * entry) * entry == (collateral - fees) / qty
	n := MultiplyInt128(collateral-feesPaid, priceScale)
	n.Mul(n, big.NewInt(qtyScale))
	marginOffset := divideBig(n, quoteScale, qty, RoundDown)
	putInt128(n)

	mmrOffset := MulDiv(entryPrice, MaintenanceMarginPPM(leverage), PPM, RoundDown)

	if sideSign > 0 {
		liq := entryPrice - marginOffset - mmrOffset
		if liq < 0 {
			return 0
		}
		return liq
	}
	return entryPrice + marginOffset + mmrOffset
}

// LiquidationPenalty is 10% of collateral, rounded up.
func LiquidationPenalty(collateral int64) int64 {
	return MulDiv(collateral, LiquidationPenaltyPPM, PPM, RoundUp)
}
