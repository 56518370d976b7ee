package trading

import (
	"CasinoLedger/internal/clock"
	fpmath "CasinoLedger/internal/math"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/observability"
	"CasinoLedger/internal/store"
	"CasinoLedger/internal/wallet"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	priceScale = fpmath.PriceConfig.Scale
	qtyScale   = fpmath.QuantityConfig.Scale
)

// Emitter receives committed domain events for outbound publishing.
type Emitter interface {
	Emit(eventType, key string, payload any)
}

type Config struct {
	// MinFundingPayment skips funding payments smaller than this, in quote
	// smallest units.
	MinFundingPayment int64
	// AccrualAge is how long a position must be open before funding and
	// borrow apply.
	AccrualAge time.Duration
}

// Engine opens, closes and force-settles leveraged positions. Every money
// movement goes through the wallet inside the same transaction that
// updates the position row, and is mirrored as a futures transaction.
type Engine struct {
	store   store.Store
	wallet  *wallet.Manager
	symbols *Registry
	marker  Marker
	clock   clock.Clock
	emitter Emitter
	cfg     Config
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewEngine(
	s store.Store,
	w *wallet.Manager,
	symbols *Registry,
	marker Marker,
	clk clock.Clock,
	emitter Emitter,
	cfg Config,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Engine {
	if cfg.AccrualAge <= 0 {
		cfg.AccrualAge = 8 * time.Hour
	}
	return &Engine{
		store:   s,
		wallet:  w,
		symbols: symbols,
		marker:  marker,
		clock:   clk,
		emitter: emitter,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
	}
}

// OpenRequest opens a position. Collateral is in quote smallest units;
// Qty in quantity scale, zero to derive it from collateral and leverage.
type OpenRequest struct {
	UserID     uuid.UUID
	SymbolID   string
	Network    model.Network
	Side       model.Side
	Leverage   int64
	Collateral int64
	Qty        int64
}

// Open prices the position at the committed mark, charges the open and
// impact fees from available and locks the collateral.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*model.Position, error) {
	sym, err := e.symbols.Validate(req.SymbolID, req.Leverage)
	if err != nil {
		return nil, err
	}
	if !req.Side.Valid() {
		return nil, fmt.Errorf("side %q: %w", req.Side, model.ErrInvalidSymbolOrLeverage)
	}
	if _, err := model.ParseNetwork(string(req.Network)); err != nil {
		return nil, fmt.Errorf("%v: %w", err, model.ErrInvalidAmount)
	}
	if req.Collateral <= 0 || req.Qty < 0 {
		return nil, fmt.Errorf("collateral %d qty %d: %w", req.Collateral, req.Qty, model.ErrInvalidAmount)
	}
	quoteScale, err := sym.Quote.Scale()
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	mark, err := e.marker.Mark(ctx, sym.ID, now)
	if err != nil {
		return nil, err
	}
	entry := mark.Price
	if entry <= 0 {
		return nil, fmt.Errorf("mark %s is zero: %w", sym.ID, model.ErrStalePrice)
	}

	qty := req.Qty
	if qty == 0 {
		qty = fpmath.QuantityForCollateral(req.Collateral, req.Leverage, entry, priceScale, qtyScale, quoteScale)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("collateral %d buys no %s: %w", req.Collateral, sym.Base, model.ErrInvalidAmount)
	}
	if req.Qty > 0 {
		floor := fpmath.ComputeNotional(qty, entry, priceScale, qtyScale, quoteScale, fpmath.RoundDown)
		buyingPower := fpmath.MultiplyInt128(req.Collateral, req.Leverage)
		exceeds := buyingPower.Cmp(big.NewInt(floor)) < 0
		fpmath.Release(buyingPower)
		if exceeds {
			return nil, fmt.Errorf("qty needs more than %dx leverage: %w", req.Leverage, model.ErrInvalidSymbolOrLeverage)
		}
	}

	notional := fpmath.ComputeNotional(qty, entry, priceScale, qtyScale, quoteScale, fpmath.RoundUp)
	openFee := fpmath.OpenFee(notional)
	impactFee := fpmath.ImpactFee(notional, quoteScale)
	totalFee := openFee + impactFee

	pos := &model.Position{
		ID:         uuid.New(),
		UserID:     req.UserID,
		SymbolID:   sym.ID,
		Network:    req.Network,
		Side:       req.Side,
		Qty:        qty,
		EntryPrice: entry,
		Collateral: req.Collateral,
		Leverage:   req.Leverage,
		Status:     model.PositionOpen,
		FeesPaid:   totalFee,
		OpenedAt:   now,
		Version:    1,
	}
	key := model.AccountKey{UserID: req.UserID, Currency: sym.Quote, Network: req.Network}

	err = e.store.Atomically(ctx, func(tx store.Tx) error {
		acct, err := e.wallet.AccountTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if acct.Available < req.Collateral+totalFee {
			return fmt.Errorf("open %s needs %d, available %d: %w",
				sym.ID, req.Collateral+totalFee, acct.Available, model.ErrInsufficientFunds)
		}
		if err := tx.InsertPosition(ctx, pos); err != nil {
			return err
		}

		pt := &posTx{e: e, tx: tx, pos: pos, key: key}
		feeRef := "fee-" + pos.ID.String()
		if err := pt.move(ctx, e.wallet.LockTx, model.EntryFuturesMargin, pos.ID.String(), req.Collateral, -req.Collateral); err != nil {
			return err
		}
		if err := pt.move(ctx, e.wallet.DebitTx, model.EntryFuturesOpenFee, feeRef, openFee, -openFee); err != nil {
			return err
		}
		return pt.move(ctx, e.wallet.DebitTx, model.EntryFuturesImpactFee, feeRef, impactFee, -impactFee)
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.PositionsOpened.WithLabelValues(sym.ID, string(pos.Side)).Inc()
		e.metrics.FeesCollected.WithLabelValues("open").Add(float64(openFee))
		e.metrics.FeesCollected.WithLabelValues("impact").Add(float64(impactFee))
	}
	e.log.Info().
		Str("position_id", pos.ID.String()).
		Str("user_id", pos.UserID.String()).
		Str("symbol", sym.ID).
		Str("side", string(pos.Side)).
		Int64("qty", pos.Qty).
		Int64("entry_price", entry).
		Int64("collateral", pos.Collateral).
		Int64("fees", totalFee).
		Msg("position opened")
	e.emit("position.opened", pos)
	return pos, nil
}

// CloseResult describes one close. Amounts are quote smallest units.
type CloseResult struct {
	Position  *model.Position
	ExitPrice int64
	ClosedQty int64
	PnL       int64
	CloseFee  int64 // charged
	Released  int64 // collateral returned to available
	Net       int64 // change of available balance
	BadDebt   int64 // loss and fees that could not be collected
}

// Close settles closeQty of an open position at the committed mark; zero
// closes the remainder. A position that lost a race to another close or a
// liquidation returns ErrPositionNotOpen.
func (e *Engine) Close(ctx context.Context, userID, positionID uuid.UUID, closeQty int64) (*CloseResult, error) {
	current, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID {
		return nil, fmt.Errorf("position %s: %w", positionID, model.ErrForbidden)
	}
	if current.Status != model.PositionOpen {
		return nil, fmt.Errorf("position %s is %s: %w", positionID, current.Status, model.ErrPositionNotOpen)
	}
	if closeQty < 0 {
		return nil, fmt.Errorf("close qty %d: %w", closeQty, model.ErrInvalidAmount)
	}
	sym, quoteScale, err := e.symbolOf(current)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	mark, err := e.marker.Mark(ctx, sym.ID, now)
	if err != nil {
		return nil, err
	}
	exit := mark.Price

	res := &CloseResult{ExitPrice: exit}
	err = e.store.Atomically(ctx, func(tx store.Tx) error {
		pos, err := tx.LockPosition(ctx, positionID)
		if err != nil {
			return err
		}
		if pos.Status != model.PositionOpen {
			return fmt.Errorf("position %s is %s: %w", positionID, pos.Status, model.ErrPositionNotOpen)
		}

		qty := closeQty
		if qty == 0 {
			qty = pos.Qty
		}
		if qty > pos.Qty {
			return fmt.Errorf("close qty %d above remaining %d: %w", qty, pos.Qty, model.ErrInvalidAmount)
		}
		full := qty == pos.Qty

		pnl := fpmath.ComputeRealizedPnL(pos.Side.Sign(), exit, pos.EntryPrice, qty, priceScale, qtyScale, quoteScale)
		notional := fpmath.ComputeNotional(qty, exit, priceScale, qtyScale, quoteScale, fpmath.RoundUp)
		closeFee := fpmath.CloseFee(notional)
		share := pos.Collateral
		if !full {
			share = fpmath.ProportionalShare(pos.Collateral, qty, pos.Qty)
		}

		pt := &posTx{e: e, tx: tx, pos: pos, key: e.accountKey(pos, sym)}
		ref := fmt.Sprintf("close-%s-v%d", pos.ID, pos.Version)

		loss := int64(0)
		if pnl < 0 {
			loss = -pnl
		}
		fromCollateral := min(loss, share)
		if err := pt.move(ctx, e.wallet.ConsumeTx, model.EntryFuturesPnLLoss, ref, fromCollateral, -fromCollateral); err != nil {
			return err
		}
		released := share - fromCollateral
		if err := pt.move(ctx, e.wallet.ReleaseTx, model.EntryFuturesMarginRelease, ref, released, released); err != nil {
			return err
		}
		if pnl > 0 {
			if err := pt.move(ctx, e.wallet.CreditTx, model.EntryFuturesPnLWin, ref, pnl, pnl); err != nil {
				return err
			}
		}

		excess := loss - fromCollateral
		excessCharged, err := pt.charge(ctx, model.EntryFuturesPnLLoss, ref+"-excess", excess)
		if err != nil {
			return err
		}
		feeCharged, err := pt.charge(ctx, model.EntryFuturesCloseFee, ref, closeFee)
		if err != nil {
			return err
		}

		if full {
			pos.FeesPaid += feeCharged
		} else {
			// Fees on an open position stay proportional to its quantity so
			// the liquidation margin does not shrink on a partial close.
			pos.FeesPaid -= fpmath.ProportionalShare(pos.FeesPaid, qty, pos.Qty)
		}
		pos.Qty -= qty
		pos.Collateral -= share
		pos.RealizedPnl += pnl
		pos.Version++
		if full {
			pos.Status = model.PositionClosed
			pos.ClosedAt = &now
		}
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return err
		}

		res.Position = pos
		res.ClosedQty = qty
		res.PnL = pnl
		res.CloseFee = feeCharged
		res.Released = released
		res.Net = released + max(pnl, 0) - excessCharged - feeCharged
		res.BadDebt = (excess - excessCharged) + (closeFee - feeCharged)
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind := "partial"
	if res.Position.Status == model.PositionClosed {
		kind = "full"
	}
	if e.metrics != nil {
		e.metrics.PositionsClosed.WithLabelValues(sym.ID, kind).Inc()
		e.metrics.FeesCollected.WithLabelValues("close").Add(float64(res.CloseFee))
	}
	logEvt := e.log.Info()
	if res.BadDebt > 0 {
		logEvt = e.log.Warn().Int64("bad_debt", res.BadDebt)
	}
	logEvt.
		Str("position_id", positionID.String()).
		Str("kind", kind).
		Int64("exit_price", exit).
		Int64("qty", res.ClosedQty).
		Int64("pnl", res.PnL).
		Int64("close_fee", res.CloseFee).
		Int64("net", res.Net).
		Msg("position closed")
	e.emit("position.closed", res.Position)
	return res, nil
}

// Position returns a position owned by userID.
func (e *Engine) Position(ctx context.Context, userID, id uuid.UUID) (*model.Position, error) {
	pos, err := e.store.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if pos.UserID != userID {
		return nil, fmt.Errorf("position %s: %w", id, model.ErrForbidden)
	}
	return pos, nil
}

// Positions lists a user's positions; an empty status matches all.
func (e *Engine) Positions(ctx context.Context, userID uuid.UUID, status model.PositionStatus) ([]model.Position, error) {
	return e.store.ListPositions(ctx, store.PositionFilter{UserID: userID, Status: status})
}

// Transactions returns the fee and PnL audit rows of a user's position.
func (e *Engine) Transactions(ctx context.Context, userID, id uuid.UUID) ([]model.FuturesTransaction, error) {
	if _, err := e.Position(ctx, userID, id); err != nil {
		return nil, err
	}
	return e.store.ListFuturesTransactions(ctx, id)
}

// LiquidationPrice returns the mark at which an open position is
// force-closed, in price scale.
func (e *Engine) LiquidationPrice(ctx context.Context, id uuid.UUID) (int64, error) {
	pos, err := e.store.GetPosition(ctx, id)
	if err != nil {
		return 0, err
	}
	if pos.Status != model.PositionOpen {
		return 0, fmt.Errorf("position %s is %s: %w", id, pos.Status, model.ErrPositionNotOpen)
	}
	_, quoteScale, err := e.symbolOf(pos)
	if err != nil {
		return 0, err
	}
	return liquidationPrice(pos, quoteScale), nil
}

func (e *Engine) Symbols() *Registry { return e.symbols }

func liquidationPrice(pos *model.Position, quoteScale int64) int64 {
	return fpmath.LiquidationPrice(pos.Side.Sign(), pos.EntryPrice, pos.Qty, pos.Collateral, pos.FeesPaid,
		pos.Leverage, priceScale, qtyScale, quoteScale)
}

func (e *Engine) symbolOf(pos *model.Position) (model.Symbol, int64, error) {
	sym, ok := e.symbols.Get(pos.SymbolID)
	if !ok {
		return model.Symbol{}, 0, fmt.Errorf("position %s symbol %q: %w", pos.ID, pos.SymbolID, model.ErrInvalidSymbolOrLeverage)
	}
	quoteScale, err := sym.Quote.Scale()
	if err != nil {
		return model.Symbol{}, 0, err
	}
	return sym, quoteScale, nil
}

func (e *Engine) accountKey(pos *model.Position, sym model.Symbol) model.AccountKey {
	return model.AccountKey{UserID: pos.UserID, Currency: sym.Quote, Network: pos.Network}
}

func (e *Engine) emit(eventType string, pos *model.Position) {
	if e.emitter == nil {
		return
	}
	cp := *pos
	e.emitter.Emit(eventType, pos.ID.String(), &cp)
}

type movementFunc func(ctx context.Context, tx store.Tx, mv wallet.Movement) (bool, error)

// posTx applies the wallet movements of one position inside tx.
type posTx struct {
	e   *Engine
	tx  store.Tx
	pos *model.Position
	key model.AccountKey
}

// move applies amount through fn and mirrors it as a futures transaction.
// signed is the effect on the user's available balance. Zero is a no-op.
func (p *posTx) move(ctx context.Context, fn movementFunc, typ model.EntryType, refID string, amount, signed int64) error {
	if amount <= 0 {
		return nil
	}
	applied, err := fn(ctx, p.tx, wallet.Movement{
		Key:    p.key,
		Amount: amount,
		Type:   typ,
		RefID:  refID,
		Meta:   map[string]string{"position_id": p.pos.ID.String(), "symbol": p.pos.SymbolID},
	})
	if err != nil || !applied {
		return err
	}
	return p.tx.InsertFuturesTransaction(ctx, &model.FuturesTransaction{
		PositionID: p.pos.ID,
		UserID:     p.pos.UserID,
		Type:       typ,
		Amount:     signed,
		Currency:   p.key.Currency,
		RefID:      refID,
	})
}

// charge debits up to amount from available and returns what it took.
func (p *posTx) charge(ctx context.Context, typ model.EntryType, refID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	avail, err := p.available(ctx)
	if err != nil {
		return 0, err
	}
	charged := min(amount, avail)
	if err := p.move(ctx, p.e.wallet.DebitTx, typ, refID, charged, -charged); err != nil {
		return 0, err
	}
	return charged, nil
}

func (p *posTx) available(ctx context.Context) (int64, error) {
	acct, err := p.e.wallet.AccountTx(ctx, p.tx, p.key)
	if err != nil {
		return 0, err
	}
	return acct.Available, nil
}

// recorded reports whether any of refs already has an entry of typ.
func (p *posTx) recorded(ctx context.Context, typ model.EntryType, refs ...string) (bool, error) {
	acct, err := p.e.wallet.AccountTx(ctx, p.tx, p.key)
	if err != nil {
		return false, err
	}
	for _, ref := range refs {
		entry, err := p.tx.FindEntry(ctx, acct.ID, typ, ref)
		if err != nil {
			return false, err
		}
		if entry != nil {
			return true, nil
		}
	}
	return false, nil
}
