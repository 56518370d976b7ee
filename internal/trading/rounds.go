package trading

import (
	"CasinoLedger/internal/clock"
	"CasinoLedger/internal/fairness"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/observability"
	"CasinoLedger/internal/store"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	roundLength     = 24 * time.Hour
	roundIntervalMs = 1000
	roundSeedBytes  = 32
)

// RoundService owns the daily commit-reveal rounds behind the committed
// mark. Exactly one round is active at a time.
type RoundService struct {
	store   store.Store
	clock   clock.Clock
	random  io.Reader
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewRoundService(s store.Store, clk clock.Clock, metrics *observability.Metrics, log zerolog.Logger) *RoundService {
	return &RoundService{store: s, clock: clk, random: rand.Reader, metrics: metrics, log: log}
}

// Rotate makes the round for the current UTC day the active one. Running
// it again on the same day returns the existing round.
func (rs *RoundService) Rotate(ctx context.Context) (*model.Round, error) {
	now := rs.clock.Now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var out *model.Round
	created := false
	err := rs.store.Atomically(ctx, func(tx store.Tx) error {
		active, err := tx.LockActiveRound(ctx)
		if err != nil {
			return err
		}
		if active != nil && active.StartsAt.Equal(day) {
			out = active
			return nil
		}
		if active != nil {
			active.IsActive = false
			if err := tx.UpdateRound(ctx, active); err != nil {
				return err
			}
		}

		seed, err := rs.newSeed()
		if err != nil {
			return err
		}
		r := &model.Round{
			ID:             uuid.New(),
			ServerSeed:     seed,
			ServerSeedHash: fairness.HashSeed(seed),
			StartsAt:       day,
			EndsAt:         day.Add(roundLength),
			IntervalMs:     roundIntervalMs,
			IsActive:       true,
		}
		if err := tx.InsertRound(ctx, r); err != nil {
			return err
		}
		out = r
		created = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rotate round: %w", err)
	}

	if created {
		if rs.metrics != nil {
			rs.metrics.RoundRotations.Inc()
		}
		rs.log.Info().
			Str("round_id", out.ID.String()).
			Time("starts_at", out.StartsAt).
			Str("seed_hash", out.ServerSeedHash).
			Msg("trading round started")
	}
	return out, nil
}

// Current returns the active round containing now, rotating when the
// active round has ended.
func (rs *RoundService) Current(ctx context.Context) (*model.Round, error) {
	now := rs.clock.Now()
	r, err := rs.store.GetActiveRound(ctx)
	if err == nil && r.Contains(now) {
		return r, nil
	}
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	r, err = rs.Rotate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrNoActiveRound, err)
	}
	if !r.Contains(now) {
		return nil, fmt.Errorf("round %s does not cover %s: %w", r.ID, now.Format(time.RFC3339), model.ErrNoActiveRound)
	}
	return r, nil
}

// Get returns a round. The seed is cleared until the round is revealed.
func (rs *RoundService) Get(ctx context.Context, id uuid.UUID) (*model.Round, error) {
	r, err := rs.store.GetRound(ctx, id)
	if err != nil {
		return nil, err
	}
	return public(r), nil
}

// Reveal publishes the seed of an ended round, once.
func (rs *RoundService) Reveal(ctx context.Context, id uuid.UUID) (*model.Round, error) {
	var out *model.Round
	err := rs.store.Atomically(ctx, func(tx store.Tx) error {
		r, err := tx.LockRound(ctx, id)
		if err != nil {
			return err
		}
		if r.RevealedAt != nil {
			return fmt.Errorf("round %s: %w", id, model.ErrAlreadyRevealed)
		}
		now := rs.clock.Now()
		if now.Before(r.EndsAt) {
			return fmt.Errorf("round %s ends at %s: %w", id, r.EndsAt.Format(time.RFC3339), model.ErrRoundNotEnded)
		}
		r.IsActive = false
		r.RevealedAt = &now
		if err := tx.UpdateRound(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	rs.log.Info().Str("round_id", id.String()).Msg("trading round revealed")
	return out, nil
}

func (rs *RoundService) newSeed() (string, error) {
	buf := make([]byte, roundSeedBytes)
	if _, err := io.ReadFull(rs.random, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func public(r *model.Round) *model.Round {
	cp := *r
	if cp.RevealedAt == nil {
		cp.ServerSeed = ""
	}
	return &cp
}
