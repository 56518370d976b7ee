package persistence_test

import (
	"CasinoLedger/internal/ledger"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/persistence"
	"CasinoLedger/internal/store"
	"CasinoLedger/internal/testutil"
	"CasinoLedger/internal/wallet"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresStore(t *testing.T) *persistence.PostgresStore {
	t.Helper()
	testutil.RequireIntegration(t)
	pool, cleanup := testutil.SetupTestPool(t)
	t.Cleanup(cleanup)
	return persistence.NewPostgresStore(pool)
}

func TestPostgresStore_WalletRoundTrip(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	l := ledger.New(s, nil, zerolog.Nop())
	w := wallet.NewManager(s, l, wallet.Config{RefCacheCapacity: 16}, nil, zerolog.Nop())
	key := model.AccountKey{UserID: uuid.New(), Currency: "USDT", Network: model.Testnet}

	require.NoError(t, w.Deposit(ctx, key, 1_000_000, "dep-1"))
	require.NoError(t, w.Lock(ctx, wallet.Movement{Key: key, Amount: 400_000, Type: model.EntryBetStake, RefID: "bet-1"}))
	require.NoError(t, w.Consume(ctx, wallet.Movement{Key: key, Amount: 400_000, Type: model.EntryBetStake, RefID: "settle-bet-1"}))

	bal, err := w.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), bal.Available)
	assert.Equal(t, int64(0), bal.Locked)

	acct, err := s.GetAccount(ctx, key)
	require.NoError(t, err)
	require.NoError(t, l.Verify(ctx, acct.ID))

	exists, err := s.EntryExists(ctx, acct.ID, model.EntryDeposit, "dep-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPostgresStore_DuplicateEntryIsUniqueViolation(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	key := model.AccountKey{UserID: uuid.New(), Currency: "USDT", Network: model.Testnet}

	insert := func() error {
		return s.Atomically(ctx, func(tx store.Tx) error {
			a, err := tx.LockAccount(ctx, key)
			if err != nil {
				return err
			}
			a.Available += 10
			if err := tx.UpdateAccount(ctx, a); err != nil {
				return err
			}
			return tx.InsertEntry(ctx, &model.LedgerEntry{
				AccountID: a.ID, Amount: 10, Currency: "USDT",
				Type: model.EntryDeposit, Bucket: model.BucketAvailable, RefID: "dup",
			})
		})
	}
	require.NoError(t, insert())
	assert.Error(t, insert())

	acct, err := s.GetAccount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.Available)
}

func TestPostgresStore_ConcurrentLocksSerialize(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	l := ledger.New(s, nil, zerolog.Nop())
	w := wallet.NewManager(s, l, wallet.Config{}, nil, zerolog.Nop())
	key := model.AccountKey{UserID: uuid.New(), Currency: "USDT", Network: model.Testnet}
	require.NoError(t, w.Deposit(ctx, key, 150, "dep"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = w.Lock(ctx, wallet.Movement{
				Key: key, Amount: 100, Type: model.EntryBetStake, RefID: uuid.NewString(),
			})
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, model.ErrInsufficientFunds)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	bal, err := w.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Locked)
	assert.Equal(t, int64(50), bal.Available)
}

func TestPostgresStore_SeedAndBetRows(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	user := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	seed := &model.FairnessSeed{
		ID: uuid.New(), UserID: user, ServerSeed: "abc", ServerSeedHash: "hash-abc",
		Active: true, CreatedAt: now,
	}
	require.NoError(t, s.Atomically(ctx, func(tx store.Tx) error {
		active, err := tx.LockActiveSeed(ctx, user)
		require.NoError(t, err)
		assert.Nil(t, active)
		return tx.InsertSeed(ctx, seed)
	}))

	bet := &model.Bet{
		ID: uuid.New(), UserID: user, Game: "dice", Params: json.RawMessage(`{"target":5000,"over":false}`),
		Currency: "USDT", Network: model.Testnet, Stake: 250_000, PotentialPayout: 495_000,
		SeedID: seed.ID, ServerSeedHash: seed.ServerSeedHash, ClientSeed: "client", Nonce: 0,
		Status: model.BetPending, CreatedAt: now,
	}
	require.NoError(t, s.Atomically(ctx, func(tx store.Tx) error {
		return tx.InsertBet(ctx, bet)
	}))

	got, err := s.GetBet(ctx, bet.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Outcome)
	assert.Nil(t, got.ResultMultiplier)
	assert.JSONEq(t, `{"target":5000,"over":false}`, string(got.Params))

	mult := int64(19800)
	require.NoError(t, s.Atomically(ctx, func(tx store.Tx) error {
		b, err := tx.LockBet(ctx, bet.ID)
		if err != nil {
			return err
		}
		resolved := now.Add(time.Second)
		b.Outcome = json.RawMessage(`{"roll":1234}`)
		b.ResultMultiplier = &mult
		b.Status = model.BetWon
		b.Payout = 495_000
		b.ResolvedAt = &resolved
		return tx.UpdateBet(ctx, b)
	}))

	got, err = s.GetBet(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BetWon, got.Status)
	require.NotNil(t, got.ResultMultiplier)
	assert.Equal(t, mult, *got.ResultMultiplier)
	assert.JSONEq(t, `{"roll":1234}`, string(got.Outcome))

	assert.ErrorIs(t, s.Atomically(ctx, func(tx store.Tx) error {
		_, err := tx.LockSeedByHash(ctx, user, "missing")
		return err
	}), model.ErrSeedNotFound)
}

func TestPostgresStore_ActiveRoundIsUnique(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	round := func(day int) *model.Round {
		starts := start.AddDate(0, 0, day)
		return &model.Round{
			ID: uuid.New(), ServerSeed: "s", ServerSeedHash: "h", StartsAt: starts,
			EndsAt: starts.Add(24 * time.Hour), IntervalMs: 1000, IsActive: true,
		}
	}

	require.NoError(t, s.Atomically(ctx, func(tx store.Tx) error {
		return tx.InsertRound(ctx, round(0))
	}))
	err := s.Atomically(ctx, func(tx store.Tx) error {
		return tx.InsertRound(ctx, round(1))
	})
	assert.Error(t, err)

	active, err := s.GetActiveRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, start, active.StartsAt.UTC())
}
