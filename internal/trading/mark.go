package trading

import (
	"CasinoLedger/internal/fairness"
	fpmath "CasinoLedger/internal/math"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/pricefeed"
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Perturbation bound in PPM of spot: 2.5 bps for majors, 6 bps otherwise.
const (
	MajorSigmaPPM int64 = 250
	AltSigmaPPM   int64 = 600
)

func SigmaPPM(s model.Symbol) int64 {
	if s.IsMajor {
		return MajorSigmaPPM
	}
	return AltSigmaPPM
}

// TickIndex is the number of whole intervals between the round start and t.
func TickIndex(r *model.Round, t time.Time) int64 {
	if r.IntervalMs <= 0 || t.Before(r.StartsAt) {
		return 0
	}
	return t.Sub(r.StartsAt).Milliseconds() / r.IntervalMs
}

// CommittedMark perturbs spot by
// deltaBps = (u - 0.5) * 2 * sigma, u = HMAC(roundSeed, "{symbol}:{tick}")[0..4] / 2^32.
// The offset is truncated toward zero, so |mark - spot| never exceeds
// sigma. spot and the result are in price scale.
func CommittedMark(r *model.Round, s model.Symbol, t time.Time, spot int64) int64 {
	tick := TickIndex(r, t)
	digest := fairness.Digest(r.ServerSeed, s.ID+":"+strconv.FormatInt(tick, 10))
	u := int64(fairness.Uint32At(digest, 0))

	// (u/2^32 - 0.5) * 2 = (2u - 2^32) / 2^32
	centered := 2*u - (1 << 32)
	magnitude := centered
	if magnitude < 0 {
		magnitude = -magnitude
	}

	n := fpmath.MultiplyInt128(spot, magnitude)
	n.Mul(n, big.NewInt(SigmaPPM(s)))
	den := new(big.Int).Lsh(big.NewInt(fpmath.PPM), 32)
	offset := new(big.Int).Quo(n, den).Int64()
	fpmath.Release(n)

	if centered < 0 {
		offset = -offset
	}
	mark := spot + offset
	if mark < 0 {
		return 0
	}
	return mark
}

// Mark is a committed price observation.
type Mark struct {
	Price   int64 // price scale
	Spot    int64 // price scale
	RoundID uuid.UUID
	Tick    int64
	At      time.Time
}

// Marker prices positions. The committed marker is the production
// implementation; tests substitute fixed prices.
type Marker interface {
	Mark(ctx context.Context, symbolID string, t time.Time) (Mark, error)
}

// CommittedMarker combines the active round with the spot price source.
type CommittedMarker struct {
	rounds  *RoundService
	prices  pricefeed.Source
	symbols *Registry
}

func NewCommittedMarker(rounds *RoundService, prices pricefeed.Source, symbols *Registry) *CommittedMarker {
	return &CommittedMarker{rounds: rounds, prices: prices, symbols: symbols}
}

func (m *CommittedMarker) Mark(ctx context.Context, symbolID string, t time.Time) (Mark, error) {
	sym, ok := m.symbols.Get(symbolID)
	if !ok {
		return Mark{}, fmt.Errorf("symbol %q: %w", symbolID, model.ErrInvalidSymbolOrLeverage)
	}
	round, err := m.rounds.Current(ctx)
	if err != nil {
		return Mark{}, err
	}
	if !round.Contains(t) {
		return Mark{}, fmt.Errorf("round %s does not cover %s: %w", round.ID, t.Format(time.RFC3339), model.ErrNoActiveRound)
	}

	dec, err := m.prices.SpotPrice(ctx, symbolID)
	if err != nil {
		return Mark{}, err
	}
	spot, err := fpmath.PriceFromDecimal(dec)
	if err != nil {
		return Mark{}, fmt.Errorf("spot %s: %w", symbolID, err)
	}
	if spot <= 0 {
		return Mark{}, fmt.Errorf("spot %s is %s: %w", symbolID, dec, model.ErrStalePrice)
	}

	return Mark{
		Price:   CommittedMark(round, sym, t, spot),
		Spot:    spot,
		RoundID: round.ID,
		Tick:    TickIndex(round, t),
		At:      t,
	}, nil
}

// FixedMarker returns the configured price as both mark and spot. Used
// by tests and by deployments without a round-based mark.
type FixedMarker map[string]int64

func (f FixedMarker) Mark(_ context.Context, symbolID string, t time.Time) (Mark, error) {
	p, ok := f[symbolID]
	if !ok {
		return Mark{}, fmt.Errorf("%s: %w", symbolID, model.ErrStalePrice)
	}
	return Mark{Price: p, Spot: p, At: t}, nil
}
