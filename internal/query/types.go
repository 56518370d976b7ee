package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Amounts are decimal strings in whole currency units; prices and
// quantities are decimal strings at 8 decimals.

// BalanceResponse represents one account for API queries.
type BalanceResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	Currency  string    `json:"currency"`
	Network   string    `json:"network"`
	Available string    `json:"available"`
	Locked    string    `json:"locked"`
	Total     string    `json:"total"`
}

// PositionResponse represents a position for API queries.
type PositionResponse struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	Symbol           string     `json:"symbol"`
	Network          string     `json:"network"`
	Side             string     `json:"side"`
	Qty              string     `json:"qty"`
	EntryPrice       string     `json:"entry_price"`
	Collateral       string     `json:"collateral"`
	Leverage         int64      `json:"leverage"`
	Status           string     `json:"status"`
	RealizedPnL      string     `json:"realized_pnl"`
	FeesPaid         string     `json:"fees_paid"`
	MarkPrice        string     `json:"mark_price,omitempty"`        // Derived at query time
	UnrealizedPnL    string     `json:"unrealized_pnl,omitempty"`    // Derived at query time
	LiquidationPrice string     `json:"liquidation_price,omitempty"` // open positions only
	OpenedAt         time.Time  `json:"opened_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	BorrowStartAt    *time.Time `json:"borrow_start_at,omitempty"`
	Version          int64      `json:"version"`
}

// CloseResponse is the settlement of one close.
type CloseResponse struct {
	Position  PositionResponse `json:"position"`
	ExitPrice string           `json:"exit_price"`
	ClosedQty string           `json:"closed_qty"`
	PnL       string           `json:"pnl"`
	CloseFee  string           `json:"close_fee"`
	Released  string           `json:"released"`
	Net       string           `json:"net"`
	BadDebt   string           `json:"bad_debt,omitempty"`
}

// TransactionResponse is one futures audit row.
type TransactionResponse struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	RefID     string    `json:"ref_id"`
	CreatedAt time.Time `json:"created_at"`
}

type BetResponse struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Game            string          `json:"game"`
	Params          json.RawMessage `json:"params"`
	Currency        string          `json:"currency"`
	Network         string          `json:"network"`
	Stake           string          `json:"stake"`
	PotentialPayout string          `json:"potential_payout"`
	Payout          string          `json:"payout"`
	ServerSeedHash  string          `json:"server_seed_hash"`
	ClientSeed      string          `json:"client_seed"`
	Nonce           int64           `json:"nonce"`
	Outcome         json.RawMessage `json:"outcome,omitempty"`
	Multiplier      string          `json:"multiplier,omitempty"`
	RNGTrace        string          `json:"rng_trace,omitempty"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}

type SeedResponse struct {
	ID             uuid.UUID  `json:"id"`
	ServerSeedHash string     `json:"server_seed_hash"`
	ServerSeed     string     `json:"server_seed,omitempty"` // revealed seeds only
	NextNonce      int64      `json:"next_nonce"`
	RevealedAt     *time.Time `json:"revealed_at,omitempty"`
}

type RoundResponse struct {
	ID             uuid.UUID  `json:"id"`
	ServerSeedHash string     `json:"server_seed_hash"`
	ServerSeed     string     `json:"server_seed,omitempty"` // after reveal
	StartsAt       time.Time  `json:"starts_at"`
	EndsAt         time.Time  `json:"ends_at"`
	IntervalMs     int64      `json:"interval_ms"`
	Status         string     `json:"status"`
	RevealedAt     *time.Time `json:"revealed_at,omitempty"`
}

type SymbolResponse struct {
	ID          string `json:"id"`
	Base        string `json:"base"`
	Quote       string `json:"quote"`
	MaxLeverage int64  `json:"max_leverage"`
	IsMajor     bool   `json:"is_major"`
	IsEnabled   bool   `json:"is_enabled"`
}

// RatesResponse carries hourly rates as decimal fractions.
type RatesResponse struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"funding_rate"`
	BorrowRate  string `json:"borrow_rate"`
	MarkPrice   string `json:"mark_price"`
	SpotPrice   string `json:"spot_price"`
}

// OutcomeResponse is a verified bet outcome.
type OutcomeResponse struct {
	Game       string          `json:"game"`
	Win        bool            `json:"win"`
	Multiplier string          `json:"multiplier"`
	Result     json.RawMessage `json:"result"`
	Trace      string          `json:"trace"`
}
