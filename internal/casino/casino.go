package casino

import (
	"CasinoLedger/internal/clock"
	"CasinoLedger/internal/fairness"
	fpmath "CasinoLedger/internal/math"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/observability"
	"CasinoLedger/internal/store"
	"CasinoLedger/internal/wallet"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Emitter receives committed domain events for outbound publishing.
type Emitter interface {
	Emit(eventType, key string, payload any)
}

// Service places and settles provably-fair bets. The stake is locked at
// placement and settled exactly once; outcomes are always computed from
// the server-held seed.
type Service struct {
	store   store.Store
	wallet  *wallet.Manager
	seeds   *fairness.Service
	clock   clock.Clock
	emitter Emitter
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewService(
	s store.Store,
	w *wallet.Manager,
	seeds *fairness.Service,
	clk clock.Clock,
	emitter Emitter,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Service {
	return &Service{store: s, wallet: w, seeds: seeds, clock: clk, emitter: emitter, metrics: metrics, log: log}
}

// PlaceBetRequest carries a user's wager. Stake is in smallest units.
type PlaceBetRequest struct {
	UserID     uuid.UUID
	Game       string
	Params     json.RawMessage
	Currency   model.Currency
	Network    model.Network
	Stake      int64
	ClientSeed string
}

// PlaceBet reserves a nonce, locks the stake and records a PENDING bet in
// one transaction.
func (s *Service) PlaceBet(ctx context.Context, req PlaceBetRequest) (*model.Bet, error) {
	game, err := fairness.ParseGame(req.Game, req.Params)
	if err != nil {
		return nil, err
	}
	if req.Stake <= 0 {
		return nil, fmt.Errorf("stake %d: %w", req.Stake, model.ErrInvalidAmount)
	}
	if _, err := req.Currency.Decimals(); err != nil {
		return nil, err
	}
	clientSeed := req.ClientSeed
	if clientSeed == "" {
		clientSeed = uuid.NewString()
	}

	bet := &model.Bet{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Game:            game.Name(),
		Params:          req.Params,
		Currency:        req.Currency,
		Network:         req.Network,
		Stake:           req.Stake,
		PotentialPayout: fpmath.MulDiv(req.Stake, game.MaxMultiplier(), fpmath.MultiplierConfig.Scale, fpmath.RoundDown),
		ClientSeed:      clientSeed,
		Status:          model.BetPending,
		CreatedAt:       s.clock.Now(),
	}

	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		seed, nonce, err := s.seeds.NextNonceTx(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		bet.SeedID = seed.ID
		bet.ServerSeedHash = seed.ServerSeedHash
		bet.Nonce = nonce

		if _, err := s.wallet.LockTx(ctx, tx, s.movement(bet, model.EntryBetStake, bet.ID.String(), bet.Stake)); err != nil {
			return err
		}
		return tx.InsertBet(ctx, bet)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.BetsPlaced.WithLabelValues(bet.Game).Inc()
	}
	return bet, nil
}

// Resolve computes the outcome of a PENDING bet and settles it: the stake
// is consumed and any payout credited. A settled bet fails with
// ErrBetSettled.
func (s *Service) Resolve(ctx context.Context, betID uuid.UUID) (*model.Bet, error) {
	var out *model.Bet
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		bet, err := tx.LockBet(ctx, betID)
		if err != nil {
			return err
		}
		if bet.Status.IsTerminal() {
			return fmt.Errorf("bet %s is %s: %w", betID, bet.Status, model.ErrBetSettled)
		}

		seed, err := tx.LockSeedByHash(ctx, bet.UserID, bet.ServerSeedHash)
		if err != nil {
			return err
		}
		game, err := fairness.ParseGame(bet.Game, bet.Params)
		if err != nil {
			return err
		}
		outcome, err := fairness.Evaluate(game, seed.ServerSeed, bet.ClientSeed, bet.Nonce)
		if err != nil {
			return err
		}

		payout := fpmath.MulDiv(bet.Stake, outcome.Multiplier, fpmath.MultiplierConfig.Scale, fpmath.RoundDown)

		if _, err := s.wallet.ConsumeTx(ctx, tx, s.movement(bet, model.EntryBetStake, "settle-"+bet.ID.String(), bet.Stake)); err != nil {
			return err
		}
		if payout > 0 {
			if _, err := s.wallet.CreditTx(ctx, tx, s.movement(bet, model.EntryBetWin, bet.ID.String(), payout)); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		mult := outcome.Multiplier
		bet.Outcome = outcome.Result
		bet.ResultMultiplier = &mult
		bet.RNGTrace = outcome.Trace
		bet.Payout = payout
		bet.ResolvedAt = &now
		switch {
		case !outcome.Win:
			bet.Status = model.BetLost
		case bet.Game == fairness.GameMines:
			bet.Status = model.BetCashedOut
		default:
			bet.Status = model.BetWon
		}
		if err := tx.UpdateBet(ctx, bet); err != nil {
			return err
		}
		out = bet
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.BetsResolved.WithLabelValues(out.Game, string(out.Status)).Inc()
	}
	s.emit("bet.resolved", out)
	s.log.Debug().
		Str("bet_id", out.ID.String()).
		Str("game", out.Game).
		Str("status", string(out.Status)).
		Int64("payout", out.Payout).
		Msg("bet resolved")
	return out, nil
}

// Refund returns the stake of a PENDING bet without playing it.
func (s *Service) Refund(ctx context.Context, betID uuid.UUID) (*model.Bet, error) {
	var out *model.Bet
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		bet, err := tx.LockBet(ctx, betID)
		if err != nil {
			return err
		}
		if bet.Status.IsTerminal() {
			return fmt.Errorf("bet %s is %s: %w", betID, bet.Status, model.ErrBetSettled)
		}
		if _, err := s.wallet.ReleaseTx(ctx, tx, s.movement(bet, model.EntryBetRefund, bet.ID.String(), bet.Stake)); err != nil {
			return err
		}
		now := s.clock.Now()
		bet.Status = model.BetRefunded
		bet.ResolvedAt = &now
		if err := tx.UpdateBet(ctx, bet); err != nil {
			return err
		}
		out = bet
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.BetsResolved.WithLabelValues(out.Game, string(out.Status)).Inc()
	}
	s.emit("bet.refunded", out)
	return out, nil
}

// Play places and immediately resolves a bet. If resolution fails the
// stake is refunded.
func (s *Service) Play(ctx context.Context, req PlaceBetRequest) (*model.Bet, error) {
	bet, err := s.PlaceBet(ctx, req)
	if err != nil {
		return nil, err
	}
	resolved, err := s.Resolve(ctx, bet.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("bet_id", bet.ID.String()).Msg("resolve failed, refunding")
		if _, rerr := s.Refund(ctx, bet.ID); rerr != nil {
			s.log.Error().Err(rerr).Str("bet_id", bet.ID.String()).Msg("refund failed, bet left pending")
		}
		return nil, err
	}
	return resolved, nil
}

// GetBet returns a bet owned by userID.
func (s *Service) GetBet(ctx context.Context, userID, betID uuid.UUID) (*model.Bet, error) {
	bet, err := s.store.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	if bet.UserID != userID {
		return nil, fmt.Errorf("bet %s: %w", betID, model.ErrForbidden)
	}
	return bet, nil
}

func (s *Service) movement(bet *model.Bet, typ model.EntryType, refID string, amount int64) wallet.Movement {
	return wallet.Movement{
		Key:    model.AccountKey{UserID: bet.UserID, Currency: bet.Currency, Network: bet.Network},
		Amount: amount,
		Type:   typ,
		RefID:  refID,
		Meta:   map[string]string{"game": bet.Game, "bet_id": bet.ID.String()},
	}
}

func (s *Service) emit(eventType string, bet *model.Bet) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(eventType, bet.ID.String(), bet)
}
