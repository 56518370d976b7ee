package model

import "errors"

// Rejections surfaced to callers. None of them leave state behind.
var (
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrInvalidSymbolOrLeverage  = errors.New("invalid symbol or leverage")
	ErrPositionNotOpen          = errors.New("position not open")
	ErrSeedNotFound             = errors.New("seed not found")
	ErrAlreadyRevealed          = errors.New("already revealed")
	ErrNoActiveRound            = errors.New("no active round")
	ErrLedgerInvariantViolation = errors.New("ledger invariant violation")

	ErrNotFound        = errors.New("not found")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrRoundNotEnded   = errors.New("round has not ended")
	ErrSeedActive      = errors.New("seed is still active")
	ErrBetSettled      = errors.New("bet already settled")
	ErrInvalidGame     = errors.New("invalid game parameters")
	ErrForbidden       = errors.New("forbidden")
	ErrFaucetMainnet   = errors.New("faucet is only available on testnet")
	ErrStalePrice      = errors.New("spot price unavailable or stale")
)
