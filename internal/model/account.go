package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Network separates real funds from play money.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

func ParseNetwork(s string) (Network, error) {
	switch Network(s) {
	case Mainnet, Testnet:
		return Network(s), nil
	default:
		return "", fmt.Errorf("unknown network %q", s)
	}
}

// Currency is a ticker code such as "BTC" or "USDT".
type Currency string

// currencyDecimals is the number of decimals of each currency's smallest unit.
var currencyDecimals = map[Currency]int32{
	"BTC":  8,
	"ETH":  8, // gwei-level precision is not needed and would overflow int64
	"LTC":  8,
	"DOGE": 8,
	"SOL":  9,
	"TRX":  6,
	"USDT": 6,
	"USDC": 6,
}

// Decimals returns the precision of the currency's smallest unit.
func (c Currency) Decimals() (int32, error) {
	d, ok := currencyDecimals[c]
	if !ok {
		return 0, fmt.Errorf("%q: %w", string(c), ErrUnknownCurrency)
	}
	return d, nil
}

// Scale returns 10^Decimals.
func (c Currency) Scale() (int64, error) {
	d, err := c.Decimals()
	if err != nil {
		return 0, err
	}
	scale := int64(1)
	for i := int32(0); i < d; i++ {
		scale *= 10
	}
	return scale, nil
}

// AccountKey identifies an account. Each (user, currency, network) has
// exactly one account.
type AccountKey struct {
	UserID   uuid.UUID
	Currency Currency
	Network  Network
}

func (k AccountKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.UserID, k.Currency, k.Network)
}

// Account holds the materialized counters for one AccountKey. They are
// always equal to the fold over the account's ledger entries.
type Account struct {
	ID        int64
	UserID    uuid.UUID
	Currency  Currency
	Network   Network
	Available int64 // smallest units
	Locked    int64 // smallest units
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Account) Key() AccountKey {
	return AccountKey{UserID: a.UserID, Currency: a.Currency, Network: a.Network}
}

func (a *Account) Total() int64 {
	return a.Available + a.Locked
}
