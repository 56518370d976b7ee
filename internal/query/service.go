package query

import (
	"CasinoLedger/internal/casino"
	"CasinoLedger/internal/clock"
	"CasinoLedger/internal/fairness"
	fpmath "CasinoLedger/internal/math"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/trading"
	"CasinoLedger/internal/wallet"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueryService provides read-only views for the gateway. Derived values
// (mark, unrealized PnL, liquidation price) are computed at query time and
// never stored.
type QueryService struct {
	wallet *wallet.Manager
	engine *trading.Engine
	marker trading.Marker
	rates  *trading.Rates
	rounds *trading.RoundService
	casino *casino.Service
	seeds  *fairness.Service
	clock  clock.Clock
	log    zerolog.Logger
}

type Deps struct {
	Wallet *wallet.Manager
	Engine *trading.Engine
	Marker trading.Marker
	Rates  *trading.Rates
	Rounds *trading.RoundService
	Casino *casino.Service
	Seeds  *fairness.Service
	Clock  clock.Clock
}

func NewQueryService(d Deps, log zerolog.Logger) *QueryService {
	return &QueryService{
		wallet: d.Wallet,
		engine: d.Engine,
		marker: d.Marker,
		rates:  d.Rates,
		rounds: d.Rounds,
		casino: d.Casino,
		seeds:  d.Seeds,
		clock:  d.Clock,
		log:    log,
	}
}

func (qs *QueryService) GetBalance(ctx context.Context, key model.AccountKey) (*BalanceResponse, error) {
	decimals, err := key.Currency.Decimals()
	if err != nil {
		return nil, err
	}
	if _, err := model.ParseNetwork(string(key.Network)); err != nil {
		return nil, fmt.Errorf("%v: %w", err, model.ErrInvalidAmount)
	}
	b, err := qs.wallet.GetBalance(ctx, key)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{
		UserID:    key.UserID,
		Currency:  string(key.Currency),
		Network:   string(key.Network),
		Available: fpmath.FormatUnits(b.Available, decimals),
		Locked:    fpmath.FormatUnits(b.Locked, decimals),
		Total:     fpmath.FormatUnits(b.Total, decimals),
	}, nil
}

// GetPositions lists a user's positions; open ones carry derived values.
func (qs *QueryService) GetPositions(ctx context.Context, userID uuid.UUID, status model.PositionStatus) ([]PositionResponse, error) {
	positions, err := qs.engine.Positions(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	out := make([]PositionResponse, 0, len(positions))
	for i := range positions {
		out = append(out, qs.withDerived(ctx, &positions[i]))
	}
	return out, nil
}

func (qs *QueryService) GetPosition(ctx context.Context, userID, id uuid.UUID) (*PositionResponse, error) {
	pos, err := qs.engine.Position(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	resp := qs.withDerived(ctx, pos)
	return &resp, nil
}

func (qs *QueryService) GetTransactions(ctx context.Context, userID, id uuid.UUID) ([]TransactionResponse, error) {
	txs, err := qs.engine.Transactions(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	out := make([]TransactionResponse, 0, len(txs))
	for _, t := range txs {
		decimals, _ := t.Currency.Decimals()
		out = append(out, TransactionResponse{
			ID:        t.ID,
			Type:      string(t.Type),
			Amount:    fpmath.FormatUnits(t.Amount, decimals),
			Currency:  string(t.Currency),
			RefID:     t.RefID,
			CreatedAt: t.CreatedAt,
		})
	}
	return out, nil
}

func (qs *QueryService) GetLiquidationPrice(ctx context.Context, userID, id uuid.UUID) (string, error) {
	if _, err := qs.engine.Position(ctx, userID, id); err != nil {
		return "", err
	}
	liq, err := qs.engine.LiquidationPrice(ctx, id)
	if err != nil {
		return "", err
	}
	return fpmath.FormatPrice(liq), nil
}

func (qs *QueryService) GetBet(ctx context.Context, userID, id uuid.UUID) (*BetResponse, error) {
	bet, err := qs.casino.GetBet(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	resp := NewBetResponse(bet)
	return &resp, nil
}

func (qs *QueryService) GetSeed(ctx context.Context, userID uuid.UUID) (*SeedResponse, error) {
	info, err := qs.seeds.GetCurrentSeed(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := NewSeedResponse(info)
	return &resp, nil
}

func (qs *QueryService) GetCurrentRound(ctx context.Context) (*RoundResponse, error) {
	r, err := qs.rounds.Current(ctx)
	if err != nil {
		return nil, err
	}
	public, err := qs.rounds.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	resp := qs.NewRoundResponse(public)
	return &resp, nil
}

func (qs *QueryService) GetSymbols() []SymbolResponse {
	symbols := qs.engine.Symbols().List()
	out := make([]SymbolResponse, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, SymbolResponse{
			ID:          s.ID,
			Base:        s.Base,
			Quote:       string(s.Quote),
			MaxLeverage: s.MaxLeverage,
			IsMajor:     s.IsMajor,
			IsEnabled:   s.IsEnabled,
		})
	}
	return out
}

func (qs *QueryService) GetRates(ctx context.Context, symbolID string) (*RatesResponse, error) {
	borrow, err := qs.rates.BorrowRate(symbolID)
	if err != nil {
		return nil, err
	}
	m, err := qs.marker.Mark(ctx, symbolID, qs.clock.Now())
	if err != nil {
		return nil, err
	}
	rateDecimals := int32(fpmath.RateConfig.DecimalPrecision)
	return &RatesResponse{
		Symbol:      symbolID,
		FundingRate: fpmath.FormatUnits(trading.FundingRateFor(m), rateDecimals),
		BorrowRate:  fpmath.FormatUnits(borrow, rateDecimals),
		MarkPrice:   fpmath.FormatPrice(m.Price),
		SpotPrice:   fpmath.FormatPrice(m.Spot),
	}, nil
}

func (qs *QueryService) withDerived(ctx context.Context, pos *model.Position) PositionResponse {
	resp := NewPositionResponse(pos)
	if pos.Status != model.PositionOpen {
		return resp
	}
	sym, ok := qs.engine.Symbols().Get(pos.SymbolID)
	if !ok {
		return resp
	}
	quoteScale, err := sym.Quote.Scale()
	if err != nil {
		return resp
	}
	decimals, _ := sym.Quote.Decimals()

	if liq, err := qs.engine.LiquidationPrice(ctx, pos.ID); err == nil {
		resp.LiquidationPrice = fpmath.FormatPrice(liq)
	}
	m, err := qs.marker.Mark(ctx, pos.SymbolID, qs.clock.Now())
	if err != nil {
		qs.log.Debug().Err(err).Str("symbol", pos.SymbolID).Msg("mark unavailable for position view")
		return resp
	}
	upnl := fpmath.ComputeRealizedPnL(pos.Side.Sign(), m.Price, pos.EntryPrice, pos.Qty,
		fpmath.PriceConfig.Scale, fpmath.QuantityConfig.Scale, quoteScale)
	resp.MarkPrice = fpmath.FormatPrice(m.Price)
	resp.UnrealizedPnL = fpmath.FormatUnits(upnl, decimals)
	return resp
}

// ============================================================================
// Converters
// ============================================================================

func quoteDecimals(c model.Currency) int32 {
	d, err := c.Decimals()
	if err != nil {
		return 0
	}
	return d
}

func NewPositionResponse(p *model.Position) PositionResponse {
	decimals := quoteDecimals(model.Currency(quoteOf(p.SymbolID)))
	qtyDecimals := int32(fpmath.QuantityConfig.DecimalPrecision)
	return PositionResponse{
		ID:            p.ID,
		UserID:        p.UserID,
		Symbol:        p.SymbolID,
		Network:       string(p.Network),
		Side:          string(p.Side),
		Qty:           fpmath.FormatUnits(p.Qty, qtyDecimals),
		EntryPrice:    fpmath.FormatPrice(p.EntryPrice),
		Collateral:    fpmath.FormatUnits(p.Collateral, decimals),
		Leverage:      p.Leverage,
		Status:        string(p.Status),
		RealizedPnL:   fpmath.FormatUnits(p.RealizedPnl, decimals),
		FeesPaid:      fpmath.FormatUnits(p.FeesPaid, decimals),
		OpenedAt:      p.OpenedAt,
		ClosedAt:      p.ClosedAt,
		BorrowStartAt: p.BorrowStartAt,
		Version:       p.Version,
	}
}

// quoteOf returns the QUOTE part of a BASE-QUOTE symbol id.
func quoteOf(symbolID string) string {
	return symbolID[strings.LastIndex(symbolID, "-")+1:]
}

func NewCloseResponse(res *trading.CloseResult) CloseResponse {
	decimals := quoteDecimals(model.Currency(quoteOf(res.Position.SymbolID)))
	resp := CloseResponse{
		Position:  NewPositionResponse(res.Position),
		ExitPrice: fpmath.FormatPrice(res.ExitPrice),
		ClosedQty: fpmath.FormatUnits(res.ClosedQty, int32(fpmath.QuantityConfig.DecimalPrecision)),
		PnL:       fpmath.FormatUnits(res.PnL, decimals),
		CloseFee:  fpmath.FormatUnits(res.CloseFee, decimals),
		Released:  fpmath.FormatUnits(res.Released, decimals),
		Net:       fpmath.FormatUnits(res.Net, decimals),
	}
	if res.BadDebt > 0 {
		resp.BadDebt = fpmath.FormatUnits(res.BadDebt, decimals)
	}
	return resp
}

func NewBetResponse(b *model.Bet) BetResponse {
	decimals := quoteDecimals(b.Currency)
	resp := BetResponse{
		ID:              b.ID,
		UserID:          b.UserID,
		Game:            b.Game,
		Params:          b.Params,
		Currency:        string(b.Currency),
		Network:         string(b.Network),
		Stake:           fpmath.FormatUnits(b.Stake, decimals),
		PotentialPayout: fpmath.FormatUnits(b.PotentialPayout, decimals),
		Payout:          fpmath.FormatUnits(b.Payout, decimals),
		ServerSeedHash:  b.ServerSeedHash,
		ClientSeed:      b.ClientSeed,
		Nonce:           b.Nonce,
		Outcome:         b.Outcome,
		RNGTrace:        b.RNGTrace,
		Status:          string(b.Status),
		CreatedAt:       b.CreatedAt,
		ResolvedAt:      b.ResolvedAt,
	}
	if b.ResultMultiplier != nil {
		resp.Multiplier = formatMultiplier(*b.ResultMultiplier)
	}
	return resp
}

func NewSeedResponse(info fairness.SeedInfo) SeedResponse {
	return SeedResponse{ID: info.ID, ServerSeedHash: info.ServerSeedHash, NextNonce: info.NextNonce}
}

func NewRevealedSeedResponse(seed *model.FairnessSeed) SeedResponse {
	return SeedResponse{
		ID:             seed.ID,
		ServerSeedHash: seed.ServerSeedHash,
		ServerSeed:     seed.ServerSeed,
		NextNonce:      seed.NextNonce,
		RevealedAt:     seed.RevealedAt,
	}
}

func (qs *QueryService) NewRoundResponse(r *model.Round) RoundResponse {
	return RoundResponse{
		ID:             r.ID,
		ServerSeedHash: r.ServerSeedHash,
		ServerSeed:     r.ServerSeed,
		StartsAt:       r.StartsAt,
		EndsAt:         r.EndsAt,
		IntervalMs:     r.IntervalMs,
		Status:         string(r.StatusAt(qs.clock.Now())),
		RevealedAt:     r.RevealedAt,
	}
}

func NewOutcomeResponse(o fairness.Outcome) OutcomeResponse {
	return OutcomeResponse{
		Game:       o.Game,
		Win:        o.Win,
		Multiplier: formatMultiplier(o.Multiplier),
		Result:     o.Result,
		Trace:      o.Trace,
	}
}

func formatMultiplier(m int64) string {
	return fpmath.FormatUnits(m, int32(fpmath.MultiplierConfig.DecimalPrecision))
}
