package math_test

import (
	fpmath "CasinoLedger/internal/math"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

const (
	ps  = int64(100_000_000) // price scale
	qs  = int64(100_000_000) // quantity scale
	usd = int64(1_000_000)   // USDT quote scale
)

// ============================================================================
// Test: rounding
// ============================================================================

func TestDivideInt128_RoundingModes(t *testing.T) {
	tests := []struct {
		name string
		num  int64
		den  int64
		mode fpmath.RoundingMode
		want int64
	}{
		{"down positive", 7, 2, fpmath.RoundDown, 3},
		{"down negative floors", -7, 2, fpmath.RoundDown, -4},
		{"up positive", 7, 2, fpmath.RoundUp, 4},
		{"up negative", -7, 2, fpmath.RoundUp, -3},
		{"up exact", 8, 2, fpmath.RoundUp, 4},
		{"half even down", 5, 2, fpmath.RoundHalfEven, 2},
		{"half even up", 7, 2, fpmath.RoundHalfEven, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := fpmath.MultiplyInt128(tt.num, 1)
			defer fpmath.Release(n)
			got := fpmath.DivideInt128(n, tt.den, tt.mode)
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

// ============================================================================
// Test: position fees (open LONG qty=1 at 100, collateral 10, leverage 10)
// ============================================================================

func TestOpenFees_Scenario(t *testing.T) {
	notional := fpmath.ComputeNotional(1*qs, 100*ps, ps, qs, usd, fpmath.RoundUp)
	if notional != 100*usd {
		t.Fatalf("notional: got %d, want %d", notional, 100*usd)
	}

	openFee := fpmath.OpenFee(notional)
	if openFee != 80_000 {
		t.Errorf("open fee: got %d, want 80000", openFee)
	}

	impactFee := fpmath.ImpactFee(notional, usd)
	if impactFee != 2_000 {
		t.Errorf("impact fee: got %d, want 2000", impactFee)
	}

	required := 10*usd + openFee + impactFee
	if required != 10_082_000 {
		t.Errorf("required balance: got %d, want 10082000", required)
	}
}

func TestImpactFee_CappedForLargeNotional(t *testing.T) {
	// 1,000,000 USDT notional: dynamic rate would be 0.2, cap is 0.002.
	notional := 1_000_000 * usd
	got := fpmath.ImpactFee(notional, usd)
	want := int64(2_000) * usd
	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

func TestFees_RoundUp(t *testing.T) {
	// 1 unit * 0.0008 must still cost 1 unit.
	if got := fpmath.OpenFee(1); got != 1 {
		t.Errorf("open fee on dust: got %d, want 1", got)
	}
	if got := fpmath.CloseFee(0); got != 0 {
		t.Errorf("close fee on zero: got %d, want 0", got)
	}
}

// ============================================================================
// Test: PnL
// ============================================================================

func TestComputeRealizedPnL_Scenario(t *testing.T) {
	pnl := fpmath.ComputeRealizedPnL(1, 110*ps, 100*ps, 1*qs, ps, qs, usd)
	if pnl != 10*usd {
		t.Errorf("pnl: got %d, want %d", pnl, 10*usd)
	}

	closeNotional := fpmath.ComputeNotional(1*qs, 110*ps, ps, qs, usd, fpmath.RoundUp)
	closeFee := fpmath.CloseFee(closeNotional)
	if closeFee != 88_000 {
		t.Errorf("close fee: got %d, want 88000", closeFee)
	}

	net := 10*usd + pnl - closeFee
	if net != 19_912_000 {
		t.Errorf("net settlement: got %d, want 19912000", net)
	}
}

func TestComputeRealizedPnL_Short(t *testing.T) {
	pnl := fpmath.ComputeRealizedPnL(-1, 90*ps, 100*ps, 2*qs, ps, qs, usd)
	if pnl != 20*usd {
		t.Errorf("got %d, want %d", pnl, 20*usd)
	}
}

func TestComputeRealizedPnL_RoundsTowardHouse(t *testing.T) {
	// One price unit over one contract is 1e-8 USDT: below one smallest unit.
	gain := fpmath.ComputeRealizedPnL(1, 100*ps+1, 100*ps, qs, ps, qs, usd)
	if gain != 0 {
		t.Errorf("tiny gain: got %d, want 0", gain)
	}
	loss := fpmath.ComputeRealizedPnL(1, 100*ps-1, 100*ps, qs, ps, qs, usd)
	if loss != -1 {
		t.Errorf("tiny loss: got %d, want -1", loss)
	}
}

// ============================================================================
// Test: margin
// ============================================================================

func TestMaintenanceMarginPPM(t *testing.T) {
	tests := []struct {
		leverage int64
		want     int64
	}{
		{1, 5_000},
		{10, 10_000},
		{100, 15_000},
		{1_000, 20_000},
		{100_000, 25_000},
	}
	for _, tt := range tests {
		if got := fpmath.MaintenanceMarginPPM(tt.leverage); got != tt.want {
			t.Errorf("leverage %d: got %d, want %d", tt.leverage, got, tt.want)
		}
	}
}

func TestLiquidationPrice_Long(t *testing.T) {
	got := fpmath.LiquidationPrice(1, 100*ps, 1*qs, 10*usd, 0, 10, ps, qs, usd)
	if got != 89*ps {
		t.Errorf("got %d, want %d", got, 89*ps)
	}
}

func TestLiquidationPrice_Short(t *testing.T) {
	got := fpmath.LiquidationPrice(-1, 100*ps, 1*qs, 10*usd, 0, 10, ps, qs, usd)
	if got != 111*ps {
		t.Errorf("got %d, want %d", got, 111*ps)
	}
}

func TestLiquidationPrice_FeesRaiseLongThreshold(t *testing.T) {
	withoutFees := fpmath.LiquidationPrice(1, 100*ps, 1*qs, 10*usd, 0, 10, ps, qs, usd)
	withFees := fpmath.LiquidationPrice(1, 100*ps, 1*qs, 10*usd, 82_000, 10, ps, qs, usd)
	if withFees <= withoutFees {
		t.Errorf("fees should move a long's liquidation price up: %d <= %d", withFees, withoutFees)
	}
}

func TestQuantityForCollateral(t *testing.T) {
	got := fpmath.QuantityForCollateral(10*usd, 10, 100*ps, ps, qs, usd)
	if got != 1*qs {
		t.Errorf("got %d, want %d", got, qs)
	}
}

func TestProportionalShare(t *testing.T) {
	if got := fpmath.ProportionalShare(10, 1, 3); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
	if got := fpmath.ProportionalShare(10, 1, 0); got != 0 {
		t.Errorf("zero whole: got %d, want 0", got)
	}
}

// ============================================================================
// Test: funding and borrow
// ============================================================================

func TestComputeFundingPayment_Sides(t *testing.T) {
	rate := int64(100_000) // 0.001

	long := fpmath.ComputeFundingPayment(rate, qs, 100*ps, 1, ps, qs, usd)
	if long != 100_000 {
		t.Errorf("long pays: got %d, want 100000", long)
	}

	short := fpmath.ComputeFundingPayment(rate, qs, 100*ps, -1, ps, qs, usd)
	if short != -100_000 {
		t.Errorf("short receives: got %d, want -100000", short)
	}

	negLong := fpmath.ComputeFundingPayment(-rate, qs, 100*ps, 1, ps, qs, usd)
	if negLong != -100_000 {
		t.Errorf("long receives on negative rate: got %d, want -100000", negLong)
	}
}

func TestComputeBorrowFee(t *testing.T) {
	got := fpmath.ComputeBorrowFee(1_000, qs, 100*ps, ps, qs, usd) // 0.00001
	if got != 1_000 {
		t.Errorf("got %d, want 1000", got)
	}
	if fpmath.ComputeBorrowFee(0, qs, 100*ps, ps, qs, usd) != 0 {
		t.Error("zero rate should charge nothing")
	}
}

// ============================================================================
// Test: decimal boundary
// ============================================================================

func TestToUnits(t *testing.T) {
	got, err := fpmath.ToUnits(decimal.RequireFromString("10.082"), 6)
	if err != nil {
		t.Fatalf("ToUnits: %v", err)
	}
	if got != 10_082_000 {
		t.Errorf("got %d, want 10082000", got)
	}
}

func TestToUnits_RejectsExcessPrecision(t *testing.T) {
	_, err := fpmath.ToUnits(decimal.RequireFromString("0.1234567"), 6)
	if !errors.Is(err, fpmath.ErrExcessPrecision) {
		t.Errorf("got %v, want ErrExcessPrecision", err)
	}
}

func TestToUnits_RejectsOverflow(t *testing.T) {
	_, err := fpmath.ToUnits(decimal.RequireFromString("100000000000000"), 8)
	if !errors.Is(err, fpmath.ErrOutOfRange) {
		t.Errorf("got %v, want ErrOutOfRange", err)
	}
}

func TestPriceFromDecimal_Floors(t *testing.T) {
	got, err := fpmath.PriceFromDecimal(decimal.RequireFromString("65000.123456789"))
	if err != nil {
		t.Fatalf("PriceFromDecimal: %v", err)
	}
	if got != 6_500_012_345_678 {
		t.Errorf("got %d, want 6500012345678", got)
	}
}

func TestFormatUnits(t *testing.T) {
	if got := fpmath.FormatUnits(19_912_000, 6); got != "19.912000" {
		t.Errorf("got %q, want %q", got, "19.912000")
	}
	if got := fpmath.FormatUnits(-5, 8); got != "-0.00000005" {
		t.Errorf("got %q, want %q", got, "-0.00000005")
	}
}
