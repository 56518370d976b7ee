package model

import "time"

// EntryType classifies a ledger entry. Together with RefID it forms the
// idempotency key of a money movement.
type EntryType string

const (
	EntryDeposit    EntryType = "DEPOSIT"
	EntryWithdrawal EntryType = "WITHDRAWAL"
	EntryFaucet     EntryType = "FAUCET"

	EntryBetStake  EntryType = "BET_STAKE"
	EntryBetWin    EntryType = "BET_WIN"
	EntryBetRefund EntryType = "BET_REFUND"

	EntryFuturesMargin        EntryType = "FUTURES_MARGIN"
	EntryFuturesMarginRelease EntryType = "FUTURES_MARGIN_RELEASE"
	EntryFuturesOpenFee       EntryType = "FUTURES_OPEN_FEE"
	EntryFuturesImpactFee     EntryType = "FUTURES_IMPACT_FEE"
	EntryFuturesCloseFee      EntryType = "FUTURES_CLOSE_FEE"
	EntryFuturesFunding       EntryType = "FUTURES_FUNDING"
	EntryFuturesBorrowFee     EntryType = "FUTURES_BORROW_FEE"
	EntryFuturesPnLWin        EntryType = "FUTURES_PNL_WIN"
	EntryFuturesPnLLoss       EntryType = "FUTURES_PNL_LOSS"
	EntryFuturesLiqFee        EntryType = "FUTURES_LIQUIDATION_FEE"
	EntryFuturesLiqLoss       EntryType = "FUTURES_LIQUIDATION_LOSS"
)

// Bucket is the balance counter an entry folds into.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketLocked    Bucket = "locked"
)

// LedgerEntry is immutable once written.
type LedgerEntry struct {
	ID        int64
	AccountID int64
	Amount    int64 // signed, smallest units
	Currency  Currency
	Type      EntryType
	Bucket    Bucket
	RefID     string
	Meta      map[string]string
	CreatedAt time.Time
}
