package trading

import (
	fpmath "CasinoLedger/internal/math"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/store"
	"context"
	"errors"
	"fmt"
	"time"
)

// Report summarizes one risk job run. Failed positions were logged and
// left for the next run.
type Report struct {
	Scanned int
	Applied int
	Skipped int
	Failed  int
}

// markCache fetches each symbol's mark once per run.
type markCache struct {
	marker Marker
	at     time.Time
	marks  map[string]Mark
	errs   map[string]error
}

func newMarkCache(marker Marker, at time.Time) *markCache {
	return &markCache{marker: marker, at: at, marks: map[string]Mark{}, errs: map[string]error{}}
}

func (c *markCache) get(ctx context.Context, symbolID string) (Mark, error) {
	if m, ok := c.marks[symbolID]; ok {
		return m, nil
	}
	if err, ok := c.errs[symbolID]; ok {
		return Mark{}, err
	}
	m, err := c.marker.Mark(ctx, symbolID, c.at)
	if err != nil {
		c.errs[symbolID] = err
		return Mark{}, err
	}
	c.marks[symbolID] = m
	return m, nil
}

type positionFunc func(ctx context.Context, pos *model.Position, marks *markCache) (bool, error)

// scan runs fn for every open position. Positions that are no longer open
// count as skipped; any other error is logged and counted.
func (e *Engine) scan(ctx context.Context, job string, fn positionFunc) (Report, error) {
	var rep Report
	open, err := e.store.ListPositions(ctx, store.PositionFilter{Status: model.PositionOpen})
	if err != nil {
		return rep, fmt.Errorf("%s: list open positions: %w", job, err)
	}

	marks := newMarkCache(e.marker, e.clock.Now())
	for i := range open {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		pos := &open[i]
		rep.Scanned++

		applied, err := fn(ctx, pos, marks)
		switch {
		case errors.Is(err, model.ErrPositionNotOpen):
			rep.Skipped++
		case err != nil:
			rep.Failed++
			e.log.Warn().Err(err).
				Str("job", job).
				Str("position_id", pos.ID.String()).
				Str("symbol", pos.SymbolID).
				Msg("position skipped")
		case applied:
			rep.Applied++
		default:
			rep.Skipped++
		}
	}
	return rep, nil
}

// LiquidateDue force-closes every open position whose committed mark has
// crossed its liquidation price.
func (e *Engine) LiquidateDue(ctx context.Context) (Report, error) {
	return e.scan(ctx, "liquidation", e.liquidate)
}

func triggered(side model.Side, mark, liq int64) bool {
	if side == model.SideLong {
		return mark <= liq
	}
	return mark >= liq
}

func (e *Engine) liquidate(ctx context.Context, snapshot *model.Position, marks *markCache) (bool, error) {
	sym, quoteScale, err := e.symbolOf(snapshot)
	if err != nil {
		return false, err
	}
	m, err := marks.get(ctx, sym.ID)
	if err != nil {
		return false, err
	}
	if !triggered(snapshot.Side, m.Price, liquidationPrice(snapshot, quoteScale)) {
		return false, nil
	}

	now := e.clock.Now()
	var pos *model.Position
	var pnl, penalty, loss int64
	err = e.store.Atomically(ctx, func(tx store.Tx) error {
		pos, err = tx.LockPosition(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		if pos.Status != model.PositionOpen {
			return fmt.Errorf("position %s is %s: %w", pos.ID, pos.Status, model.ErrPositionNotOpen)
		}
		liq := liquidationPrice(pos, quoteScale)
		if !triggered(pos.Side, m.Price, liq) {
			return errNotDue
		}

		pt := &posTx{e: e, tx: tx, pos: pos, key: e.accountKey(pos, sym)}
		ref := "liq-" + pos.ID.String()

		pnl = fpmath.ComputeRealizedPnL(pos.Side.Sign(), m.Price, pos.EntryPrice, pos.Qty, priceScale, qtyScale, quoteScale)
		penalty = min(fpmath.LiquidationPenalty(pos.Collateral), pos.Collateral)
		if err := pt.move(ctx, e.wallet.ConsumeTx, model.EntryFuturesLiqFee, ref, penalty, -penalty); err != nil {
			return err
		}
		remaining := pos.Collateral - penalty
		if pnl < 0 {
			loss = min(-pnl, remaining)
		}
		if err := pt.move(ctx, e.wallet.ConsumeTx, model.EntryFuturesLiqLoss, ref, loss, -loss); err != nil {
			return err
		}
		remaining -= loss
		if pnl > 0 {
			if err := pt.move(ctx, e.wallet.CreditTx, model.EntryFuturesPnLWin, ref, pnl, pnl); err != nil {
				return err
			}
		}
		if err := pt.move(ctx, e.wallet.ReleaseTx, model.EntryFuturesMarginRelease, ref, remaining, remaining); err != nil {
			return err
		}

		pos.Status = model.PositionLiquidated
		pos.ClosedAt = &now
		pos.RealizedPnl += pnl
		pos.FeesPaid += penalty
		pos.Qty = 0
		pos.Collateral = 0
		pos.Version++
		return tx.UpdatePosition(ctx, pos)
	})
	if errors.Is(err, errNotDue) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if e.metrics != nil {
		e.metrics.PositionsLiquidated.WithLabelValues(sym.ID).Inc()
		e.metrics.FeesCollected.WithLabelValues("liquidation").Add(float64(penalty))
	}
	e.log.Warn().
		Str("position_id", pos.ID.String()).
		Str("user_id", pos.UserID.String()).
		Str("symbol", sym.ID).
		Int64("mark", m.Price).
		Int64("pnl", pnl).
		Int64("penalty", penalty).
		Int64("loss", loss).
		Msg("position liquidated")
	e.emit("position.liquidated", pos)
	return true, nil
}

var errNotDue = errors.New("not due")

// hourEpoch identifies the accrual hour of t.
func hourEpoch(t time.Time) int64 {
	return t.Unix() / 3600
}

// SettleFunding applies this hour's funding to positions open at least
// AccrualAge. Longs pay shorts when the rate is positive. Payments are
// idempotent per position and hour.
func (e *Engine) SettleFunding(ctx context.Context) (Report, error) {
	return e.scan(ctx, "funding", e.settleFunding)
}

func (e *Engine) settleFunding(ctx context.Context, snapshot *model.Position, marks *markCache) (bool, error) {
	now := e.clock.Now()
	if now.Sub(snapshot.OpenedAt) < e.cfg.AccrualAge {
		return false, nil
	}
	sym, quoteScale, err := e.symbolOf(snapshot)
	if err != nil {
		return false, err
	}
	m, err := marks.get(ctx, sym.ID)
	if err != nil {
		return false, err
	}
	rate := FundingRateFor(m)
	ref := fmt.Sprintf("funding-%s-%d", snapshot.ID, hourEpoch(now))

	var payment, collected int64
	var updated *model.Position
	err = e.store.Atomically(ctx, func(tx store.Tx) error {
		pos, err := tx.LockPosition(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		if pos.Status != model.PositionOpen {
			return fmt.Errorf("position %s is %s: %w", pos.ID, pos.Status, model.ErrPositionNotOpen)
		}

		payment = fpmath.ComputeFundingPayment(rate, pos.Qty, m.Price, pos.Side.Sign(), priceScale, qtyScale, quoteScale)
		magnitude := payment
		if magnitude < 0 {
			magnitude = -magnitude
		}
		if magnitude == 0 || magnitude < e.cfg.MinFundingPayment {
			if e.metrics != nil {
				e.metrics.FundingSkipped.Inc()
			}
			return nil
		}

		pt := &posTx{e: e, tx: tx, pos: pos, key: e.accountKey(pos, sym)}
		done, err := pt.recorded(ctx, model.EntryFuturesFunding, ref, ref+"-collateral")
		if err != nil || done {
			return err
		}

		if payment < 0 {
			if err := pt.move(ctx, e.wallet.CreditTx, model.EntryFuturesFunding, ref, -payment, -payment); err != nil {
				return err
			}
			collected = payment
		} else {
			collected, err = pt.chargeOrConsume(ctx, model.EntryFuturesFunding, ref, payment)
			if err != nil {
				return err
			}
		}
		pos.Version++
		updated = pos
		return tx.UpdatePosition(ctx, pos)
	})
	if err != nil || updated == nil {
		return false, err
	}

	if e.metrics != nil {
		if payment > 0 {
			e.metrics.FundingPaid.WithLabelValues(sym.ID).Add(float64(collected))
		} else {
			e.metrics.FundingReceived.WithLabelValues(sym.ID).Add(float64(-payment))
		}
	}
	if payment > 0 && collected < payment {
		e.log.Warn().
			Str("position_id", snapshot.ID.String()).
			Int64("payment", payment).
			Int64("collected", collected).
			Msg("funding shortfall")
	}
	e.emit("position.funding", updated)
	return true, nil
}

// AccrueBorrow charges notional * borrowRate to positions open at least
// AccrualAge, once per position and hour.
func (e *Engine) AccrueBorrow(ctx context.Context) (Report, error) {
	return e.scan(ctx, "borrow", e.accrueBorrow)
}

func (e *Engine) accrueBorrow(ctx context.Context, snapshot *model.Position, marks *markCache) (bool, error) {
	now := e.clock.Now()
	if now.Sub(snapshot.OpenedAt) < e.cfg.AccrualAge {
		return false, nil
	}
	sym, quoteScale, err := e.symbolOf(snapshot)
	if err != nil {
		return false, err
	}
	m, err := marks.get(ctx, sym.ID)
	if err != nil {
		return false, err
	}
	ref := fmt.Sprintf("borrow-%s-%d", snapshot.ID, hourEpoch(now))

	var charged int64
	var updated *model.Position
	err = e.store.Atomically(ctx, func(tx store.Tx) error {
		pos, err := tx.LockPosition(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		if pos.Status != model.PositionOpen {
			return fmt.Errorf("position %s is %s: %w", pos.ID, pos.Status, model.ErrPositionNotOpen)
		}
		fee := fpmath.ComputeBorrowFee(BorrowRateFor(sym), pos.Qty, m.Price, priceScale, qtyScale, quoteScale)
		if fee <= 0 {
			return nil
		}

		pt := &posTx{e: e, tx: tx, pos: pos, key: e.accountKey(pos, sym)}
		done, err := pt.recorded(ctx, model.EntryFuturesBorrowFee, ref, ref+"-collateral")
		if err != nil || done {
			return err
		}
		charged, err = pt.chargeOrConsume(ctx, model.EntryFuturesBorrowFee, ref, fee)
		if err != nil {
			return err
		}

		pos.FeesPaid += charged
		if pos.BorrowStartAt == nil {
			pos.BorrowStartAt = &now
		}
		pos.Version++
		updated = pos
		return tx.UpdatePosition(ctx, pos)
	})
	if err != nil || updated == nil {
		return false, err
	}

	if e.metrics != nil {
		e.metrics.BorrowCharged.WithLabelValues(sym.ID).Add(float64(charged))
		e.metrics.FeesCollected.WithLabelValues("borrow").Add(float64(charged))
	}
	e.emit("position.borrow", updated)
	return true, nil
}

// chargeOrConsume takes amount from available first and the shortfall
// from the position's collateral. It returns the total collected.
func (p *posTx) chargeOrConsume(ctx context.Context, typ model.EntryType, refID string, amount int64) (int64, error) {
	fromAvailable, err := p.charge(ctx, typ, refID, amount)
	if err != nil {
		return 0, err
	}
	fromCollateral := min(amount-fromAvailable, p.pos.Collateral)
	if err := p.move(ctx, p.e.wallet.ConsumeTx, typ, refID+"-collateral", fromCollateral, -fromCollateral); err != nil {
		return 0, err
	}
	p.pos.Collateral -= fromCollateral
	return fromAvailable + fromCollateral, nil
}
