package trading_test

import (
	"CasinoLedger/internal/clock"
	"CasinoLedger/internal/fairness"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/pricefeed"
	"CasinoLedger/internal/store"
	"CasinoLedger/internal/trading"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRounds(t *testing.T) (*trading.RoundService, *store.MemoryStore, *clock.Manual) {
	t.Helper()
	s := store.NewMemoryStore()
	clk := clock.NewManual(time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC))
	return trading.NewRoundService(s, clk, nil, zerolog.Nop()), s, clk
}

func activeRounds(t *testing.T, s *store.MemoryStore) []model.Round {
	t.Helper()
	all, err := s.ListRounds(context.Background())
	require.NoError(t, err)
	var active []model.Round
	for _, r := range all {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return active
}

func TestRotate_IdempotentWithinDay(t *testing.T) {
	rs, s, clk := newRounds(t)
	ctx := context.Background()

	first, err := rs.Rotate(ctx)
	require.NoError(t, err)
	clk.Advance(6 * time.Hour)
	second, err := rs.Rotate(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, activeRounds(t, s), 1)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), first.StartsAt)
	assert.Equal(t, first.StartsAt.Add(24*time.Hour), first.EndsAt)
	assert.Equal(t, fairness.HashSeed(first.ServerSeed), first.ServerSeedHash)
	assert.Len(t, first.ServerSeed, 64)
}

func TestRotate_NextDayReplacesActiveRound(t *testing.T) {
	rs, s, clk := newRounds(t)
	ctx := context.Background()

	first, err := rs.Rotate(ctx)
	require.NoError(t, err)
	clk.Advance(24 * time.Hour)
	second, err := rs.Rotate(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.ServerSeedHash, second.ServerSeedHash)
	assert.False(t, second.StartsAt.Before(first.EndsAt), "rounds must not overlap")

	active := activeRounds(t, s)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestCurrent_RotatesLazily(t *testing.T) {
	rs, _, clk := newRounds(t)
	ctx := context.Background()

	r, err := rs.Current(ctx)
	require.NoError(t, err)
	assert.True(t, r.Contains(clk.Now()))

	clk.Advance(20 * time.Hour)
	next, err := rs.Current(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, next.ID)
	assert.True(t, next.Contains(clk.Now()))
}

func TestReveal_Lifecycle(t *testing.T) {
	rs, _, clk := newRounds(t)
	ctx := context.Background()

	r, err := rs.Rotate(ctx)
	require.NoError(t, err)

	hidden, err := rs.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, hidden.ServerSeed)
	assert.Equal(t, r.ServerSeedHash, hidden.ServerSeedHash)

	_, err = rs.Reveal(ctx, r.ID)
	assert.ErrorIs(t, err, model.ErrRoundNotEnded)

	clk.Set(r.EndsAt)
	revealed, err := rs.Reveal(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, revealed.IsActive)
	require.NotNil(t, revealed.RevealedAt)

	shown, err := rs.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ServerSeed, shown.ServerSeed)

	_, err = rs.Reveal(ctx, r.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyRevealed)

	_, err = rs.Reveal(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testRound() *model.Round {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &model.Round{
		ID:             uuid.New(),
		ServerSeed:     "7f3c0a5e19b24d6e8a1f0c3b5d7e9a2c4e6f8a0b1c3d5e7f9a1b3c5d7e9f0a2b",
		ServerSeedHash: fairness.HashSeed("7f3c0a5e19b24d6e8a1f0c3b5d7e9a2c4e6f8a0b1c3d5e7f9a1b3c5d7e9f0a2b"),
		StartsAt:       start,
		EndsAt:         start.Add(24 * time.Hour),
		IntervalMs:     1000,
		IsActive:       true,
	}
}

func TestTickIndex(t *testing.T) {
	r := testRound()
	assert.Equal(t, int64(0), trading.TickIndex(r, r.StartsAt))
	assert.Equal(t, int64(0), trading.TickIndex(r, r.StartsAt.Add(999*time.Millisecond)))
	assert.Equal(t, int64(61), trading.TickIndex(r, r.StartsAt.Add(61500*time.Millisecond)))
	assert.Equal(t, int64(0), trading.TickIndex(r, r.StartsAt.Add(-time.Hour)))
}

func TestCommittedMark_DeterministicAndBounded(t *testing.T) {
	r := testRound()
	registry := trading.NewRegistry(trading.DefaultSymbols())
	spot := int64(6_500_000_000_000) // 65000

	for _, id := range []string{"BTC-USDT", "SOL-USDT"} {
		sym, ok := registry.Get(id)
		require.True(t, ok)
		bound := spot * trading.SigmaPPM(sym) / 1_000_000

		moved := false
		for i := 0; i < 500; i++ {
			at := r.StartsAt.Add(time.Duration(i) * time.Second)
			mark := trading.CommittedMark(r, sym, at, spot)
			assert.Equal(t, mark, trading.CommittedMark(r, sym, at, spot))

			diff := mark - spot
			if diff < 0 {
				diff = -diff
			}
			assert.LessOrEqual(t, diff, bound, "%s tick %d", id, i)
			if diff != 0 {
				moved = true
			}
		}
		assert.True(t, moved, "%s mark never left spot", id)
	}
}

func TestCommittedMark_SameTickSamePrice(t *testing.T) {
	r := testRound()
	sym, _ := trading.NewRegistry(trading.DefaultSymbols()).Get("ETH-USDT")
	at := r.StartsAt.Add(10 * time.Second)

	a := trading.CommittedMark(r, sym, at, 300_000_000_000)
	b := trading.CommittedMark(r, sym, at.Add(999*time.Millisecond), 300_000_000_000)
	assert.Equal(t, a, b)

	other := *r
	other.ServerSeed = "00" + r.ServerSeed[2:]
	assert.NotEqual(t, a, trading.CommittedMark(&other, sym, at, 300_000_000_000))
}

func TestCommittedMarker_UsesActiveRoundAndSpot(t *testing.T) {
	rs, _, clk := newRounds(t)
	registry := trading.NewRegistry(trading.DefaultSymbols())
	prices := pricefeed.Static{"BTC-USDT": decimal.RequireFromString("65000")}
	marker := trading.NewCommittedMarker(rs, prices, registry)
	ctx := context.Background()

	m, err := marker.Mark(ctx, "BTC-USDT", clk.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(6_500_000_000_000), m.Spot)
	assert.NotEqual(t, uuid.Nil, m.RoundID)

	round, err := rs.Current(ctx)
	require.NoError(t, err)
	sym, _ := registry.Get("BTC-USDT")
	assert.Equal(t, trading.CommittedMark(round, sym, clk.Now(), m.Spot), m.Price)

	_, err = marker.Mark(ctx, "XRP-USDT", clk.Now())
	assert.ErrorIs(t, err, model.ErrInvalidSymbolOrLeverage)
	_, err = marker.Mark(ctx, "ETH-USDT", clk.Now())
	assert.Error(t, err)
}

func TestFundingRateFor(t *testing.T) {
	spot := 100 * price
	cases := []struct {
		name string
		mark int64
		want int64
	}{
		{"flat", spot, trading.FundingInterestRate},
		// premium 0.08% = 80_000, /8 = 10_000
		{"small premium", spot + spot*8/10_000, 11_250},
		{"capped high", spot * 2, trading.FundingRateCap},
		{"capped low", spot / 2, -trading.FundingRateCap},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := trading.FundingRateFor(trading.Mark{Price: tc.mark, Spot: spot})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRates(t *testing.T) {
	registry := trading.NewRegistry(trading.DefaultSymbols())
	rates := trading.NewRates(trading.FixedMarker{"BTC-USDT": 100 * price}, registry)

	r, err := rates.BorrowRate("BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, trading.MajorBorrowRate, r)
	r, err = rates.BorrowRate("DOGE-USDT")
	require.NoError(t, err)
	assert.Equal(t, trading.AltBorrowRate, r)

	f, err := rates.FundingRate(context.Background(), "BTC-USDT", time.Now())
	require.NoError(t, err)
	assert.Equal(t, trading.FundingInterestRate, f)

	_, err = rates.BorrowRate("XRP-USDT")
	assert.ErrorIs(t, err, model.ErrInvalidSymbolOrLeverage)
}

func TestRegistry_Validate(t *testing.T) {
	registry := trading.NewRegistry(trading.DefaultSymbols())

	_, err := registry.Validate("BTC-USDT", 100)
	assert.NoError(t, err)
	_, err = registry.Validate("BTC-USDT", 101)
	assert.ErrorIs(t, err, model.ErrInvalidSymbolOrLeverage)
	_, err = registry.Validate("TRX-USDT", 50)
	assert.NoError(t, err)
	_, err = registry.Validate("TRX-USDT", 51)
	assert.ErrorIs(t, err, model.ErrInvalidSymbolOrLeverage)

	ids := make([]string, 0)
	for _, s := range registry.List() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"BTC-USDT", "DOGE-USDT", "ETH-USDT", "LTC-USDT", "SOL-USDT", "TRX-USDT"}, ids)
}
