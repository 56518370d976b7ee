package fairness

import (
	"CasinoLedger/internal/clock"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/observability"
	"CasinoLedger/internal/store"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	serverSeedLength = 64
	seedAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// SeedInfo is the public view of a user's active seed.
type SeedInfo struct {
	ID             uuid.UUID
	ServerSeedHash string
	NextNonce      int64
}

// Service manages per-user commit-reveal server seeds.
type Service struct {
	store   store.Store
	clock   clock.Clock
	random  io.Reader
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewService(s store.Store, clk clock.Clock, metrics *observability.Metrics, log zerolog.Logger) *Service {
	return &Service{store: s, clock: clk, random: rand.Reader, metrics: metrics, log: log}
}

// GenerateServerSeed returns 64 random alphanumeric characters drawn from r.
func GenerateServerSeed(r io.Reader) (string, error) {
	const n = byte(len(seedAlphabet))
	const limit = 256 - 256%int(n) // reject bytes that would bias the modulo

	out := make([]byte, 0, serverSeedLength)
	buf := make([]byte, serverSeedLength)
	for len(out) < serverSeedLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, seedAlphabet[b%n])
			if len(out) == serverSeedLength {
				break
			}
		}
	}
	return string(out), nil
}

// GetCurrentSeed returns the active seed, creating one on first use.
func (s *Service) GetCurrentSeed(ctx context.Context, userID uuid.UUID) (SeedInfo, error) {
	seed, err := s.store.GetActiveSeed(ctx, userID)
	switch {
	case err == nil:
		return info(seed), nil
	case !errors.Is(err, model.ErrSeedNotFound):
		return SeedInfo{}, fmt.Errorf("get active seed: %w", err)
	}

	var out SeedInfo
	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		seed, err := s.activeSeedTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		out = info(seed)
		return nil
	})
	return out, err
}

// RotateSeed deactivates the current seed (if any) and activates a fresh
// one. The previous seed becomes revealable.
func (s *Service) RotateSeed(ctx context.Context, userID uuid.UUID) (SeedInfo, error) {
	var out SeedInfo
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		current, err := tx.LockActiveSeed(ctx, userID)
		if err != nil {
			return err
		}
		if current != nil {
			current.Active = false
			if err := tx.UpdateSeed(ctx, current); err != nil {
				return err
			}
		}
		seed, err := s.insertSeed(ctx, tx, userID)
		if err != nil {
			return err
		}
		out = info(seed)
		return nil
	})
	if err != nil {
		return SeedInfo{}, err
	}

	if s.metrics != nil {
		s.metrics.SeedRotations.Inc()
	}
	s.log.Info().Str("user_id", userID.String()).Str("seed_hash", out.ServerSeedHash).Msg("server seed rotated")
	return out, nil
}

// RevealSeed publishes an inactive seed once. The active seed cannot be
// revealed: it still backs unplayed nonces.
func (s *Service) RevealSeed(ctx context.Context, userID uuid.UUID, seedHash string) (*model.FairnessSeed, error) {
	var out *model.FairnessSeed
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		seed, err := tx.LockSeedByHash(ctx, userID, seedHash)
		if err != nil {
			return err
		}
		if seed.Active {
			return fmt.Errorf("seed %s: %w", seedHash, model.ErrSeedActive)
		}
		if seed.RevealedAt != nil {
			return fmt.Errorf("seed %s: %w", seedHash, model.ErrAlreadyRevealed)
		}
		now := s.clock.Now()
		seed.RevealedAt = &now
		if err := tx.UpdateSeed(ctx, seed); err != nil {
			return err
		}
		out = seed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NextNonceTx reserves the next nonce of the user's active seed inside tx.
// The returned seed carries the secret and must not leave the service.
func (s *Service) NextNonceTx(ctx context.Context, tx store.Tx, userID uuid.UUID) (*model.FairnessSeed, int64, error) {
	seed, err := s.activeSeedTx(ctx, tx, userID)
	if err != nil {
		return nil, 0, err
	}
	nonce := seed.NextNonce
	seed.NextNonce++
	if err := tx.UpdateSeed(ctx, seed); err != nil {
		return nil, 0, err
	}
	return seed, nonce, nil
}

func (s *Service) activeSeedTx(ctx context.Context, tx store.Tx, userID uuid.UUID) (*model.FairnessSeed, error) {
	seed, err := tx.LockActiveSeed(ctx, userID)
	if err != nil {
		return nil, err
	}
	if seed != nil {
		return seed, nil
	}
	return s.insertSeed(ctx, tx, userID)
}

func (s *Service) insertSeed(ctx context.Context, tx store.Tx, userID uuid.UUID) (*model.FairnessSeed, error) {
	secret, err := GenerateServerSeed(s.random)
	if err != nil {
		return nil, err
	}
	seed := &model.FairnessSeed{
		ID:             uuid.New(),
		UserID:         userID,
		ServerSeed:     secret,
		ServerSeedHash: HashSeed(secret),
		Active:         true,
		CreatedAt:      s.clock.Now(),
	}
	if err := tx.InsertSeed(ctx, seed); err != nil {
		return nil, fmt.Errorf("insert seed: %w", err)
	}
	return seed, nil
}

func info(seed *model.FairnessSeed) SeedInfo {
	return SeedInfo{ID: seed.ID, ServerSeedHash: seed.ServerSeedHash, NextNonce: seed.NextNonce}
}

// Verify recomputes an outcome from revealed inputs. It checks the seed
// against its commitment when serverSeedHash is non-empty and has no side
// effects.
func Verify(serverSeed, serverSeedHash, clientSeed string, nonce int64, game string, params []byte) (Outcome, error) {
	if serverSeedHash != "" && HashSeed(serverSeed) != serverSeedHash {
		return Outcome{}, fmt.Errorf("server seed does not match hash %s: %w", serverSeedHash, model.ErrSeedNotFound)
	}
	g, err := ParseGame(game, params)
	if err != nil {
		return Outcome{}, err
	}
	return Evaluate(g, serverSeed, clientSeed, nonce)
}
