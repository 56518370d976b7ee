package fairness_test

import (
	"CasinoLedger/internal/clock"
	"CasinoLedger/internal/fairness"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/store"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testServerSeed = "d1Qx8uT0cFh3Kp2Ls9Vb4Nn6Mm1Zz7Yy5Ww3Ee0Rr2Tt4Uu6Ii8Oo0Pp2Aa4Ss6"
	testClientSeed = "lucky"
)

func newService() (*fairness.Service, *store.MemoryStore) {
	s := store.NewMemoryStore()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return fairness.NewService(s, clk, nil, zerolog.Nop()), s
}

func TestStream_FirstDrawIsLeadingDigestWord(t *testing.T) {
	mac := hmac.New(sha256.New, []byte(testServerSeed))
	mac.Write([]byte("lucky:7"))
	want := binary.BigEndian.Uint32(mac.Sum(nil)[:4])

	s := fairness.NewStream(testServerSeed, testClientSeed, 7)
	assert.Equal(t, want, s.Next())
}

func TestStream_RollsOverToNextRound(t *testing.T) {
	s := fairness.NewStream(testServerSeed, testClientSeed, 1)
	for range 8 {
		s.Next()
	}
	ninth := s.Next()

	next := fairness.Digest(testServerSeed, "lucky:1:1")
	assert.Equal(t, fairness.Uint32At(next, 0), ninth)
	assert.Len(t, strings.Split(s.Trace(), ","), 2)
}

func TestEvaluate_Deterministic(t *testing.T) {
	games := []struct {
		name   string
		params string
	}{
		{fairness.GameDice, `{"target":4950}`},
		{fairness.GameDice, `{"target":4950,"over":true}`},
		{fairness.GameLimbo, `{"target":20000}`},
		{fairness.GameCoinFlip, `{"side":"heads"}`},
		{fairness.GameRoulette, `{"bet":"straight","number":17}`},
		{fairness.GameRoulette, `{"bet":"red"}`},
		{fairness.GameMines, `{"mines":3,"picks":[0,6,12]}`},
	}
	for _, tt := range games {
		t.Run(tt.name+tt.params, func(t *testing.T) {
			for nonce := int64(0); nonce < 50; nonce++ {
				a, err := fairness.Verify(testServerSeed, "", testClientSeed, nonce, tt.name, []byte(tt.params))
				require.NoError(t, err)
				b, err := fairness.Verify(testServerSeed, "", testClientSeed, nonce, tt.name, []byte(tt.params))
				require.NoError(t, err)

				ja, _ := json.Marshal(a)
				jb, _ := json.Marshal(b)
				require.True(t, bytes.Equal(ja, jb), "nonce %d differs", nonce)
				if !a.Win {
					assert.Zero(t, a.Multiplier)
				}
			}
		})
	}
}

func TestDice_MatchesRollThreshold(t *testing.T) {
	g, err := fairness.ParseGame(fairness.GameDice, []byte(`{"target":5000}`))
	require.NoError(t, err)
	assert.Equal(t, int64(19_800), g.MaxMultiplier())

	for nonce := int64(0); nonce < 100; nonce++ {
		out, err := fairness.Evaluate(g, testServerSeed, testClientSeed, nonce)
		require.NoError(t, err)

		u := fairness.NewStream(testServerSeed, testClientSeed, nonce).Next()
		roll := int64(uint64(u) * 10_000 >> 32)

		var res fairness.DiceResult
		require.NoError(t, json.Unmarshal(out.Result, &res))
		assert.Equal(t, roll, res.Roll)
		assert.Equal(t, roll < 5000, out.Win)
	}
}

func TestMines_LayoutAndMultiplier(t *testing.T) {
	g, err := fairness.ParseGame(fairness.GameMines, []byte(`{"mines":1,"picks":[4]}`))
	require.NoError(t, err)
	// 0.99 * 25 / 24
	assert.Equal(t, int64(10_312), g.MaxMultiplier())

	out, err := fairness.Evaluate(g, testServerSeed, testClientSeed, 3)
	require.NoError(t, err)
	var res fairness.MinesResult
	require.NoError(t, json.Unmarshal(out.Result, &res))
	require.Len(t, res.MinePositions, 1)
	assert.Equal(t, res.MinePositions[0] != 4, out.Win)
}

func TestParseGame_RejectsBadParams(t *testing.T) {
	tests := []struct {
		game, params string
	}{
		{"blackjack", `{}`},
		{fairness.GameDice, `{"target":0}`},
		{fairness.GameDice, `{"target":9900}`},
		{fairness.GameLimbo, `{"target":10000}`},
		{fairness.GameCoinFlip, `{"side":"edge"}`},
		{fairness.GameRoulette, `{"bet":"straight","number":37}`},
		{fairness.GameMines, `{"mines":25,"picks":[1]}`},
		{fairness.GameMines, `{"mines":3,"picks":[1,1]}`},
		{fairness.GameMines, `{"mines":3,"picks":[]}`},
		{fairness.GameDice, `not json`},
	}
	for _, tt := range tests {
		_, err := fairness.ParseGame(tt.game, []byte(tt.params))
		assert.ErrorIs(t, err, model.ErrInvalidGame, "%s %s", tt.game, tt.params)
	}
}

func TestVerify_RejectsWrongCommitment(t *testing.T) {
	_, err := fairness.Verify(testServerSeed, fairness.HashSeed("other"), testClientSeed, 0, fairness.GameCoinFlip, []byte(`{"side":"heads"}`))
	assert.ErrorIs(t, err, model.ErrSeedNotFound)

	_, err = fairness.Verify(testServerSeed, fairness.HashSeed(testServerSeed), testClientSeed, 0, fairness.GameCoinFlip, []byte(`{"side":"heads"}`))
	assert.NoError(t, err)
}

func TestGenerateServerSeed_Alphanumeric(t *testing.T) {
	seed, err := fairness.GenerateServerSeed(strings.NewReader(strings.Repeat("\xff\x00\x3d\x3e", 64)))
	require.NoError(t, err)
	assert.Len(t, seed, 64)
	for _, c := range seed {
		assert.True(t, (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'), "char %q", c)
	}
}

func TestRotateSeed_NewHashVerifiesAndOldIsInactive(t *testing.T) {
	svc, s := newService()
	ctx := context.Background()
	user := uuid.New()

	first, err := svc.GetCurrentSeed(ctx, user)
	require.NoError(t, err)

	rotated, err := svc.RotateSeed(ctx, user)
	require.NoError(t, err)

	current, err := svc.GetCurrentSeed(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, rotated.ServerSeedHash, current.ServerSeedHash)
	assert.NotEqual(t, first.ServerSeedHash, current.ServerSeedHash)

	secret, err := s.GetSeed(ctx, current.ID)
	require.NoError(t, err)
	assert.Equal(t, current.ServerSeedHash, fairness.HashSeed(secret.ServerSeed))
	assert.True(t, secret.Active)

	old, err := s.GetSeed(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)
}

func TestRevealSeed_OnlyInactiveAndOnce(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	user := uuid.New()

	first, err := svc.GetCurrentSeed(ctx, user)
	require.NoError(t, err)

	_, err = svc.RevealSeed(ctx, user, first.ServerSeedHash)
	assert.ErrorIs(t, err, model.ErrSeedActive)

	_, err = svc.RotateSeed(ctx, user)
	require.NoError(t, err)

	revealed, err := svc.RevealSeed(ctx, user, first.ServerSeedHash)
	require.NoError(t, err)
	assert.Equal(t, first.ServerSeedHash, fairness.HashSeed(revealed.ServerSeed))
	assert.NotNil(t, revealed.RevealedAt)

	_, err = svc.RevealSeed(ctx, user, first.ServerSeedHash)
	assert.ErrorIs(t, err, model.ErrAlreadyRevealed)

	_, err = svc.RevealSeed(ctx, uuid.New(), first.ServerSeedHash)
	assert.ErrorIs(t, err, model.ErrSeedNotFound)
}

func TestNextNonceTx_Increments(t *testing.T) {
	svc, s := newService()
	ctx := context.Background()
	user := uuid.New()

	for want := int64(0); want < 3; want++ {
		err := s.Atomically(ctx, func(tx store.Tx) error {
			_, nonce, err := svc.NextNonceTx(ctx, tx, user)
			if err != nil {
				return err
			}
			assert.Equal(t, want, nonce)
			return nil
		})
		require.NoError(t, err)
	}

	info, err := svc.GetCurrentSeed(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.NextNonce)
}

type failingSeedStore struct {
	*store.MemoryStore
}

var errStoreDown = errors.New("connection refused")

func (failingSeedStore) GetActiveSeed(ctx context.Context, userID uuid.UUID) (*model.FairnessSeed, error) {
	return nil, errStoreDown
}

func TestGetCurrentSeed_StoreFailureDoesNotCreateSeed(t *testing.T) {
	mem := store.NewMemoryStore()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := fairness.NewService(failingSeedStore{mem}, clk, nil, zerolog.Nop())
	user := uuid.New()

	_, err := svc.GetCurrentSeed(context.Background(), user)
	require.ErrorIs(t, err, errStoreDown)

	_, err = mem.GetActiveSeed(context.Background(), user)
	assert.ErrorIs(t, err, model.ErrSeedNotFound)
}
