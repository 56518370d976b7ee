package server

import (
	"CasinoLedger/internal/casino"
	"CasinoLedger/internal/fairness"
	fpmath "CasinoLedger/internal/math"
	"CasinoLedger/internal/model"
	"CasinoLedger/internal/query"
	"CasinoLedger/internal/trading"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 16

func userID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(r.Header.Get("X-User-ID")))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errUnauthorized
	}
	return id, nil
}

func pathID(params map[string]string) (uuid.UUID, error) {
	id, err := uuid.Parse(params["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("id %q: %w", params["id"], errBadRequest)
	}
	return id, nil
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, errBadRequest)
	}
	return nil
}

// amount parses a decimal string in units of currency.
func amount(s string, currency model.Currency) (int64, error) {
	decimals, err := currency.Decimals()
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, fmt.Errorf("amount is required: %w", model.ErrInvalidAmount)
	}
	return fpmath.ParseUnits(s, decimals)
}

func network(s string) (model.Network, error) {
	if s == "" {
		return model.Testnet, nil
	}
	n, err := model.ParseNetwork(s)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, errBadRequest)
	}
	return n, nil
}

// ============================================================================
// Wallet
// ============================================================================

func (g *Gateway) getBalance(r *http.Request, params map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	key := model.AccountKey{
		UserID:   user,
		Currency: model.Currency(strings.ToUpper(params["currency"])),
		Network:  model.Network(strings.ToLower(params["network"])),
	}
	bal, err := g.deps.Query.GetBalance(r.Context(), key)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, bal, nil
}

type faucetRequest struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

type faucetResponse struct {
	RefID   string                 `json:"ref_id"`
	Balance *query.BalanceResponse `json:"balance"`
}

func (g *Gateway) faucet(r *http.Request, _ map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	var req faucetRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	key := model.AccountKey{UserID: user, Currency: model.Currency(strings.ToUpper(req.Currency)), Network: model.Testnet}
	units, err := amount(req.Amount, key.Currency)
	if err != nil {
		return 0, nil, err
	}
	ref, err := g.deps.Wallet.Faucet(r.Context(), key, units)
	if err != nil {
		return 0, nil, err
	}
	bal, err := g.deps.Query.GetBalance(r.Context(), key)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, faucetResponse{RefID: ref, Balance: bal}, nil
}

// ============================================================================
// Fairness
// ============================================================================

func (g *Gateway) getSeed(r *http.Request, _ map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	seed, err := g.deps.Query.GetSeed(r.Context(), user)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, seed, nil
}

func (g *Gateway) rotateSeed(r *http.Request, _ map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	info, err := g.deps.Seeds.RotateSeed(r.Context(), user)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, query.NewSeedResponse(info), nil
}

type revealSeedRequest struct {
	ServerSeedHash string `json:"server_seed_hash"`
}

func (g *Gateway) revealSeed(r *http.Request, _ map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	var req revealSeedRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	if req.ServerSeedHash == "" {
		return 0, nil, fmt.Errorf("server_seed_hash is required: %w", errBadRequest)
	}
	seed, err := g.deps.Seeds.RevealSeed(r.Context(), user, req.ServerSeedHash)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, query.NewRevealedSeedResponse(seed), nil
}

type verifyRequest struct {
	ServerSeed     string          `json:"server_seed"`
	ServerSeedHash string          `json:"server_seed_hash"`
	ClientSeed     string          `json:"client_seed"`
	Nonce          int64           `json:"nonce"`
	Game           string          `json:"game"`
	Params         json.RawMessage `json:"params"`
}

// verify is public and stateless: no X-User-ID needed.
func (g *Gateway) verify(r *http.Request, _ map[string]string) (int, any, error) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	if req.ServerSeed == "" {
		return 0, nil, fmt.Errorf("server_seed is required: %w", errBadRequest)
	}
	out, err := fairness.Verify(req.ServerSeed, req.ServerSeedHash, req.ClientSeed, req.Nonce, req.Game, req.Params)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, query.NewOutcomeResponse(out), nil
}

// ============================================================================
// Casino
// ============================================================================

type placeBetRequest struct {
	Game       string          `json:"game"`
	Params     json.RawMessage `json:"params"`
	Currency   string          `json:"currency"`
	Network    string          `json:"network"`
	Stake      string          `json:"stake"`
	ClientSeed string          `json:"client_seed"`
}

func (g *Gateway) placeBet(r *http.Request, _ map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	var req placeBetRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	nw, err := network(req.Network)
	if err != nil {
		return 0, nil, err
	}
	currency := model.Currency(strings.ToUpper(req.Currency))
	stake, err := amount(req.Stake, currency)
	if err != nil {
		return 0, nil, err
	}
	bet, err := g.deps.Casino.Play(r.Context(), casino.PlaceBetRequest{
		UserID:     user,
		Game:       req.Game,
		Params:     req.Params,
		Currency:   currency,
		Network:    nw,
		Stake:      stake,
		ClientSeed: req.ClientSeed,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, query.NewBetResponse(bet), nil
}

func (g *Gateway) getBet(r *http.Request, params map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	id, err := pathID(params)
	if err != nil {
		return 0, nil, err
	}
	bet, err := g.deps.Query.GetBet(r.Context(), user, id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, bet, nil
}

// ============================================================================
// Trading
// ============================================================================

func (g *Gateway) listSymbols(r *http.Request, _ map[string]string) (int, any, error) {
	return http.StatusOK, g.deps.Query.GetSymbols(), nil
}

func (g *Gateway) getRates(r *http.Request, params map[string]string) (int, any, error) {
	rates, err := g.deps.Query.GetRates(r.Context(), strings.ToUpper(params["id"]))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, rates, nil
}

func (g *Gateway) currentRound(r *http.Request, _ map[string]string) (int, any, error) {
	round, err := g.deps.Query.GetCurrentRound(r.Context())
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, round, nil
}

func (g *Gateway) revealRound(r *http.Request, params map[string]string) (int, any, error) {
	id, err := pathID(params)
	if err != nil {
		return 0, nil, err
	}
	round, err := g.deps.Rounds.Reveal(r.Context(), id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, g.deps.Query.NewRoundResponse(round), nil
}

type openPositionRequest struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Leverage   int64  `json:"leverage"`
	Collateral string `json:"collateral"`
	Qty        string `json:"qty"`
	Network    string `json:"network"`
}

func (g *Gateway) openPosition(r *http.Request, _ map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	var req openPositionRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	nw, err := network(req.Network)
	if err != nil {
		return 0, nil, err
	}
	symbolID := strings.ToUpper(req.Symbol)
	sym, ok := g.deps.Engine.Symbols().Get(symbolID)
	if !ok {
		return 0, nil, fmt.Errorf("symbol %q: %w", req.Symbol, model.ErrInvalidSymbolOrLeverage)
	}
	collateral, err := amount(req.Collateral, sym.Quote)
	if err != nil {
		return 0, nil, err
	}
	var qty int64
	if req.Qty != "" {
		if qty, err = fpmath.ParseUnits(req.Qty, int32(fpmath.QuantityConfig.DecimalPrecision)); err != nil {
			return 0, nil, err
		}
	}

	pos, err := g.deps.Engine.Open(r.Context(), trading.OpenRequest{
		UserID:     user,
		SymbolID:   symbolID,
		Network:    nw,
		Side:       model.Side(strings.ToUpper(req.Side)),
		Leverage:   req.Leverage,
		Collateral: collateral,
		Qty:        qty,
	})
	if err != nil {
		return 0, nil, err
	}
	view, err := g.deps.Query.GetPosition(r.Context(), user, pos.ID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, view, nil
}

func (g *Gateway) listPositions(r *http.Request, _ map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	status := model.PositionStatus(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "", model.PositionOpen, model.PositionClosed, model.PositionLiquidated:
	default:
		return 0, nil, fmt.Errorf("status %q: %w", status, errBadRequest)
	}
	positions, err := g.deps.Query.GetPositions(r.Context(), user, status)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, positions, nil
}

func (g *Gateway) getPosition(r *http.Request, params map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	id, err := pathID(params)
	if err != nil {
		return 0, nil, err
	}
	pos, err := g.deps.Query.GetPosition(r.Context(), user, id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, pos, nil
}

func (g *Gateway) listTransactions(r *http.Request, params map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	id, err := pathID(params)
	if err != nil {
		return 0, nil, err
	}
	txs, err := g.deps.Query.GetTransactions(r.Context(), user, id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, txs, nil
}

type liquidationPriceResponse struct {
	PositionID       uuid.UUID `json:"position_id"`
	LiquidationPrice string    `json:"liquidation_price"`
}

func (g *Gateway) liquidationPrice(r *http.Request, params map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	id, err := pathID(params)
	if err != nil {
		return 0, nil, err
	}
	liq, err := g.deps.Query.GetLiquidationPrice(r.Context(), user, id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, liquidationPriceResponse{PositionID: id, LiquidationPrice: liq}, nil
}

type closePositionRequest struct {
	Qty string `json:"qty"`
}

func (g *Gateway) closePosition(r *http.Request, params map[string]string) (int, any, error) {
	user, err := userID(r)
	if err != nil {
		return 0, nil, err
	}
	id, err := pathID(params)
	if err != nil {
		return 0, nil, err
	}
	var req closePositionRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			return 0, nil, err
		}
	}
	var qty int64
	if req.Qty != "" {
		if qty, err = fpmath.ParseUnits(req.Qty, int32(fpmath.QuantityConfig.DecimalPrecision)); err != nil {
			return 0, nil, err
		}
		if qty <= 0 {
			return 0, nil, fmt.Errorf("qty %s: %w", req.Qty, model.ErrInvalidAmount)
		}
	}
	res, err := g.deps.Engine.Close(r.Context(), user, id, qty)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, query.NewCloseResponse(res), nil
}
