package ingestion_test

import (
	"CasinoLedger/internal/clock"
	"CasinoLedger/internal/ingestion"
	"CasinoLedger/internal/pricefeed"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestParsePriceMessage(t *testing.T) {
	u, err := ingestion.ParsePriceMessage("casino.prices.BTC-USDT",
		[]byte(`{"symbol":"BTC-USDT","price":"65000.12345678","timestamp_ms":1767225600000}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if u.Symbol != "BTC-USDT" {
		t.Errorf("symbol: got %s, want BTC-USDT", u.Symbol)
	}
	if !u.Price.Equal(decimal.RequireFromString("65000.12345678")) {
		t.Errorf("price: got %s", u.Price)
	}
	if want := time.UnixMilli(1767225600000).UTC(); !u.At.Equal(want) {
		t.Errorf("at: got %s, want %s", u.At, want)
	}
}

func TestParsePriceMessage_SymbolFromSubject(t *testing.T) {
	u, err := ingestion.ParsePriceMessage("casino.prices.ETH-USDT", []byte(`{"price":3200.5,"timestamp_ms":1}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if u.Symbol != "ETH-USDT" {
		t.Errorf("symbol: got %s, want ETH-USDT", u.Symbol)
	}
}

func TestParsePriceMessage_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"zero price":     `{"symbol":"BTC-USDT","price":"0","timestamp_ms":1}`,
		"negative price": `{"symbol":"BTC-USDT","price":"-5","timestamp_ms":1}`,
		"no timestamp":   `{"symbol":"BTC-USDT","price":"1"}`,
		"bad decimal":    `{"symbol":"BTC-USDT","price":"abc","timestamp_ms":1}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ingestion.ParsePriceMessage("casino.prices.BTC-USDT", []byte(data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := ingestion.ParsePriceMessage("casino.prices.", []byte(`{"price":"1","timestamp_ms":1}`)); err == nil {
		t.Fatal("expected missing symbol error")
	}
}

type recordingCache struct {
	stored map[string]decimal.Decimal
	err    error
}

func (c *recordingCache) Store(_ context.Context, symbol string, price decimal.Decimal) error {
	if c.err != nil {
		return c.err
	}
	c.stored[symbol] = price
	return nil
}

func TestPriceSubscriber_HandleFeedsBookAndCache(t *testing.T) {
	clk := clock.NewManual(time.UnixMilli(2_000).UTC())
	book := pricefeed.NewBook(clk, time.Minute)
	cache := &recordingCache{stored: map[string]decimal.Decimal{}}
	sub := ingestion.NewPriceSubscriber(nil, book, cache, zerolog.Nop())
	ctx := context.Background()

	if !sub.Handle(ctx, "casino.prices.BTC-USDT", []byte(`{"price":"100","timestamp_ms":2000}`)) {
		t.Fatal("first update rejected")
	}
	if sub.Handle(ctx, "casino.prices.BTC-USDT", []byte(`{"price":"90","timestamp_ms":1000}`)) {
		t.Fatal("out-of-order update accepted")
	}
	if sub.Handle(ctx, "casino.prices.BTC-USDT", []byte(`garbage`)) {
		t.Fatal("malformed update accepted")
	}

	p, err := book.SpotPrice(ctx, "BTC-USDT")
	if err != nil {
		t.Fatalf("spot: %v", err)
	}
	if p.String() != "100" {
		t.Errorf("book price: got %s, want 100", p)
	}
	if got := cache.stored["BTC-USDT"]; got.String() != "100" {
		t.Errorf("cached price: got %s, want 100", got)
	}

	// A failing cache does not reject the update.
	cache.err = errors.New("redis down")
	if !sub.Handle(ctx, "casino.prices.BTC-USDT", []byte(`{"price":"101","timestamp_ms":3000}`)) {
		t.Fatal("update rejected on cache failure")
	}
}
