package trading

import (
	fpmath "CasinoLedger/internal/math"
	"CasinoLedger/internal/model"
	"context"
	"fmt"
	"time"
)

// Hourly rates in RateConfig scale (1e8).
const (
	FundingInterestRate int64 = 1_250  // 0.00125%
	FundingRateCap      int64 = 50_000 // 0.05%
	MajorBorrowRate     int64 = 1_000  // 0.001%
	AltBorrowRate       int64 = 2_000  // 0.002%

	// fundingPremiumDivisor spreads the premium over an 8h funding window.
	fundingPremiumDivisor int64 = 8
)

// FundingRateFor returns clamp(premium/8 + interest, ±cap), where premium
// is the committed mark's offset from spot.
func FundingRateFor(m Mark) int64 {
	premium := int64(0)
	if m.Spot > 0 {
		premium = fpmath.MulDiv(m.Price-m.Spot, fpmath.RateConfig.Scale, m.Spot, fpmath.RoundDown)
	}
	return fpmath.ClampRate(premium/fundingPremiumDivisor+FundingInterestRate, FundingRateCap)
}

func BorrowRateFor(s model.Symbol) int64 {
	if s.IsMajor {
		return MajorBorrowRate
	}
	return AltBorrowRate
}

// Rates exposes the funding and borrow rates per symbol.
type Rates struct {
	marker  Marker
	symbols *Registry
}

func NewRates(marker Marker, symbols *Registry) *Rates {
	return &Rates{marker: marker, symbols: symbols}
}

func (r *Rates) FundingRate(ctx context.Context, symbolID string, t time.Time) (int64, error) {
	if _, ok := r.symbols.Get(symbolID); !ok {
		return 0, fmt.Errorf("symbol %q: %w", symbolID, model.ErrInvalidSymbolOrLeverage)
	}
	m, err := r.marker.Mark(ctx, symbolID, t)
	if err != nil {
		return 0, err
	}
	return FundingRateFor(m), nil
}

func (r *Rates) BorrowRate(symbolID string) (int64, error) {
	s, ok := r.symbols.Get(symbolID)
	if !ok {
		return 0, fmt.Errorf("symbol %q: %w", symbolID, model.ErrInvalidSymbolOrLeverage)
	}
	return BorrowRateFor(s), nil
}
