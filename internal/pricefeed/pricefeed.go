package pricefeed

import (
	"CasinoLedger/internal/clock"
	"CasinoLedger/internal/model"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Source is the external spot price collaborator. The committed mark uses
// its price as the baseline and never feeds anything back.
type Source interface {
	SpotPrice(ctx context.Context, symbolID string) (decimal.Decimal, error)
}

// Book keeps the latest spot price per symbol as pushed by the price
// subscriber. Prices older than maxAge are rejected.
type Book struct {
	mu     sync.RWMutex
	prices map[string]quote
	clock  clock.Clock
	maxAge time.Duration
}

type quote struct {
	price decimal.Decimal
	at    time.Time
}

func NewBook(clk clock.Clock, maxAge time.Duration) *Book {
	return &Book{prices: make(map[string]quote), clock: clk, maxAge: maxAge}
}

// Set records a price observed at at. Out-of-order updates are ignored.
func (b *Book) Set(symbolID string, price decimal.Decimal, at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.prices[symbolID]; ok && at.Before(prev.at) {
		return false
	}
	b.prices[symbolID] = quote{price: price, at: at}
	return true
}

func (b *Book) SpotPrice(ctx context.Context, symbolID string) (decimal.Decimal, error) {
	b.mu.RLock()
	q, ok := b.prices[symbolID]
	b.mu.RUnlock()
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%s: no price: %w", symbolID, model.ErrStalePrice)
	}
	if b.maxAge > 0 && b.clock.Now().Sub(q.at) > b.maxAge {
		return decimal.Decimal{}, fmt.Errorf("%s: last price at %s: %w", symbolID, q.at.Format(time.RFC3339), model.ErrStalePrice)
	}
	return q.price, nil
}

// Static serves fixed prices. Used in development and tests.
type Static map[string]decimal.Decimal

func (s Static) SpotPrice(ctx context.Context, symbolID string) (decimal.Decimal, error) {
	p, ok := s[symbolID]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%s: no static price: %w", symbolID, model.ErrStalePrice)
	}
	return p, nil
}

// ParseStatic reads "BTC-USDT=65000,ETH-USDT=3200".
func ParseStatic(s string) (Static, error) {
	out := Static{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		symbol, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("static price %q: want SYMBOL=PRICE", pair)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("static price %q: %w", pair, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("static price %q: must be positive", pair)
		}
		out[strings.TrimSpace(symbol)] = price
	}
	return out, nil
}

// Fallback tries each source in order and returns the first price.
type Fallback []Source

func (f Fallback) SpotPrice(ctx context.Context, symbolID string) (decimal.Decimal, error) {
	var lastErr error
	for _, src := range f {
		p, err := src.SpotPrice(ctx, symbolID)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%s: no sources: %w", symbolID, model.ErrStalePrice)
	}
	return decimal.Decimal{}, lastErr
}
