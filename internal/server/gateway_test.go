package server_test

import (
	"CasinoLedger/internal/casino"
	"CasinoLedger/internal/clock"
	"CasinoLedger/internal/fairness"
	"CasinoLedger/internal/ledger"
	"CasinoLedger/internal/observability"
	"CasinoLedger/internal/query"
	"CasinoLedger/internal/server"
	"CasinoLedger/internal/store"
	"CasinoLedger/internal/trading"
	"CasinoLedger/internal/wallet"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	srv     *httptest.Server
	marker  trading.FixedMarker
	clock   *clock.Manual
	metrics *observability.Metrics
	health  *observability.HealthChecker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := store.NewMemoryStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	log := zerolog.Nop()
	clk := clock.NewManual(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	l := ledger.New(s, metrics, log)
	w := wallet.NewManager(s, l, wallet.Config{FaucetMax: 1_000_000_000}, metrics, log)
	seeds := fairness.NewService(s, clk, metrics, log)
	bets := casino.NewService(s, w, seeds, clk, nil, metrics, log)
	registry := trading.NewRegistry(trading.DefaultSymbols())
	marker := trading.FixedMarker{"BTC-USDT": 10_000_000_000}
	rounds := trading.NewRoundService(s, clk, metrics, log)
	engine := trading.NewEngine(s, w, registry, marker, clk, nil, trading.Config{}, metrics, log)
	health := observability.NewHealthChecker()
	health.SetReady(true)

	qs := query.NewQueryService(query.Deps{
		Wallet: w, Engine: engine, Marker: marker, Rates: trading.NewRates(marker, registry),
		Rounds: rounds, Casino: bets, Seeds: seeds, Clock: clk,
	}, log)

	gw, err := server.NewGateway(server.Deps{
		Wallet: w, Seeds: seeds, Casino: bets, Engine: engine, Rounds: rounds, Query: qs, Health: health,
	}, metrics, log)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return &env{srv: srv, marker: marker, clock: clk, metrics: metrics, health: health}
}

func (e *env) do(t *testing.T, method, path string, user uuid.UUID, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if user != uuid.Nil {
		req.Header.Set("X-User-ID", user.String())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	} else {
		out = map[string]any{"items": raw}
	}
	return resp.StatusCode, out
}

func (e *env) fund(t *testing.T, user uuid.UUID, amount string) {
	t.Helper()
	code, body := e.do(t, http.MethodPost, "/v1/wallet/faucet", user, map[string]string{"currency": "USDT", "amount": amount})
	require.Equal(t, http.StatusOK, code, body)
}

func TestGateway_FaucetAndBalance(t *testing.T) {
	e := newEnv(t)
	user := uuid.New()
	e.fund(t, user, "25.5")

	code, body := e.do(t, http.MethodGet, "/v1/wallet/balances/usdt/testnet", user, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "25.500000", body["available"])
	assert.Equal(t, "0.000000", body["locked"])

	code, _ = e.do(t, http.MethodPost, "/v1/wallet/faucet", user, map[string]string{"currency": "USDT", "amount": "0.0000001"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodGet, "/v1/wallet/balances/XYZ/testnet", user, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGateway_RequiresUser(t *testing.T) {
	e := newEnv(t)
	code, body := e.do(t, http.MethodGet, "/v1/wallet/balances/USDT/testnet", uuid.Nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.EqualValues(t, http.StatusUnauthorized, body["code"])
}

func TestGateway_PositionLifecycle(t *testing.T) {
	e := newEnv(t)
	user := uuid.New()
	e.fund(t, user, "10.082")

	code, pos := e.do(t, http.MethodPost, "/v1/trading/positions", user, map[string]any{
		"symbol": "BTC-USDT", "side": "long", "leverage": 10, "collateral": "10",
	})
	require.Equal(t, http.StatusCreated, code, pos)
	assert.Equal(t, "1.00000000", pos["qty"])
	assert.Equal(t, "0.082000", pos["fees_paid"])
	assert.Equal(t, "89.08200000", pos["liquidation_price"])
	assert.Equal(t, "0.000000", pos["unrealized_pnl"])
	id := pos["id"].(string)

	code, _ = e.do(t, http.MethodGet, "/v1/trading/positions/"+id, uuid.New(), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, liq := e.do(t, http.MethodGet, "/v1/trading/positions/"+id+"/liquidation-price", user, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "89.08200000", liq["liquidation_price"])

	e.marker["BTC-USDT"] = 11_000_000_000
	code, closed := e.do(t, http.MethodPost, "/v1/trading/positions/"+id+"/close", user, nil)
	require.Equal(t, http.StatusOK, code, closed)
	assert.Equal(t, "19.912000", closed["net"])
	assert.Equal(t, "10.000000", closed["pnl"])

	code, _ = e.do(t, http.MethodPost, "/v1/trading/positions/"+id+"/close", user, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, txs := e.do(t, http.MethodGet, "/v1/trading/positions/"+id+"/transactions", user, nil)
	require.Equal(t, http.StatusOK, code)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(txs["items"].(json.RawMessage), &rows))
	assert.Len(t, rows, 6)

	code, bal := e.do(t, http.MethodGet, "/v1/wallet/balances/USDT/testnet", user, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "19.912000", bal["available"])

	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.HTTPRequests.WithLabelValues("/v1/trading/positions", "201")))
}

func TestGateway_OpenRejections(t *testing.T) {
	e := newEnv(t)
	user := uuid.New()
	e.fund(t, user, "10.081999")

	code, _ := e.do(t, http.MethodPost, "/v1/trading/positions", user, map[string]any{
		"symbol": "BTC-USDT", "side": "LONG", "leverage": 10, "collateral": "10",
	})
	assert.Equal(t, http.StatusPaymentRequired, code)

	code, _ = e.do(t, http.MethodPost, "/v1/trading/positions", user, map[string]any{
		"symbol": "BTC-USDT", "side": "LONG", "leverage": 101, "collateral": "1",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/v1/trading/positions", user, map[string]any{
		"symbol": "ETH-USDT", "side": "LONG", "leverage": 10, "collateral": "1",
	})
	assert.Equal(t, http.StatusServiceUnavailable, code, "no price for ETH")

	code, _ = e.do(t, http.MethodPost, "/v1/trading/positions", user, map[string]any{"bogus": true})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGateway_BetAndVerify(t *testing.T) {
	e := newEnv(t)
	user := uuid.New()
	e.fund(t, user, "100")

	code, seed := e.do(t, http.MethodGet, "/v1/fairness/seed", user, nil)
	require.Equal(t, http.StatusOK, code)
	hash := seed["server_seed_hash"].(string)

	code, bet := e.do(t, http.MethodPost, "/v1/casino/bets", user, map[string]any{
		"game": "dice", "params": map[string]any{"target": 5000}, "currency": "USDT",
		"stake": "1", "client_seed": "lucky",
	})
	require.Equal(t, http.StatusCreated, code, bet)
	assert.Contains(t, []any{"WON", "LOST"}, bet["status"])
	assert.Equal(t, hash, bet["server_seed_hash"])

	code, got := e.do(t, http.MethodGet, "/v1/casino/bets/"+bet["id"].(string), user, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, bet["status"], got["status"])

	code, _ = e.do(t, http.MethodPost, "/v1/fairness/seed/reveal", user, map[string]string{"server_seed_hash": hash})
	assert.Equal(t, http.StatusConflict, code, "active seed")

	code, _ = e.do(t, http.MethodPost, "/v1/fairness/seed/rotate", user, nil)
	require.Equal(t, http.StatusOK, code)
	code, revealed := e.do(t, http.MethodPost, "/v1/fairness/seed/reveal", user, map[string]string{"server_seed_hash": hash})
	require.Equal(t, http.StatusOK, code)

	code, verified := e.do(t, http.MethodPost, "/v1/fairness/verify", uuid.Nil, map[string]any{
		"server_seed": revealed["server_seed"], "server_seed_hash": hash, "client_seed": "lucky",
		"nonce": bet["nonce"], "game": "dice", "params": map[string]any{"target": 5000},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, bet["status"] == "WON", verified["win"])
	assert.Equal(t, bet["rng_trace"], verified["trace"])
}

func TestGateway_RoundsAndSymbols(t *testing.T) {
	e := newEnv(t)

	code, round := e.do(t, http.MethodGet, "/v1/trading/rounds/current", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, round["server_seed"])
	assert.Equal(t, "ACTIVE", round["status"])

	id := round["id"].(string)
	code, _ = e.do(t, http.MethodPost, "/v1/trading/rounds/"+id+"/reveal", uuid.Nil, nil)
	assert.Equal(t, http.StatusConflict, code)

	e.clock.Advance(24 * time.Hour)
	code, revealed := e.do(t, http.MethodPost, "/v1/trading/rounds/"+id+"/reveal", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, revealed["server_seed"])

	code, symbols := e.do(t, http.MethodGet, "/v1/trading/symbols", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(symbols["items"].(json.RawMessage), &list))
	assert.Len(t, list, 6)

	code, rates := e.do(t, http.MethodGet, "/v1/trading/symbols/BTC-USDT/rates", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0.00001250", rates["funding_rate"])
	assert.Equal(t, "0.00001000", rates["borrow_rate"])
}

func TestGateway_Health(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	e.health.Halt("ledger audit")
	resp, err = http.Get(e.srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGateway_HaltRefusesWrites(t *testing.T) {
	e := newEnv(t)
	user := uuid.New()
	e.fund(t, user, "30")

	open := map[string]any{"symbol": "BTC-USDT", "side": "long", "leverage": 10, "collateral": "10"}
	code, pos := e.do(t, http.MethodPost, "/v1/trading/positions", user, open)
	require.Equal(t, http.StatusCreated, code, pos)

	e.health.Halt("ledger audit")

	code, body := e.do(t, http.MethodPost, "/v1/trading/positions", user, open)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.EqualValues(t, http.StatusServiceUnavailable, body["code"])

	code, _ = e.do(t, http.MethodPost, "/v1/trading/positions/"+pos["id"].(string)+"/close", user, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = e.do(t, http.MethodPost, "/v1/wallet/faucet", user, map[string]string{"currency": "USDT", "amount": "1"})
	assert.Equal(t, http.StatusServiceUnavailable, code)

	// Reads still work, and the position is untouched.
	code, got := e.do(t, http.MethodGet, "/v1/trading/positions/"+pos["id"].(string), user, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OPEN", got["status"])

	code, bal := e.do(t, http.MethodGet, "/v1/wallet/balances/USDT/testnet", user, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "19.918000", bal["available"])
}
