package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PriceUpdate is one spot price observation from the upstream feed.
type PriceUpdate struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

// Wire format on casino.prices.{symbol}. Price is a decimal string so
// upstream precision survives JSON.
type priceJSON struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	TimestampMs int64           `json:"timestamp_ms"`
}

var errBadPrice = errors.New("bad price message")

// ParsePriceMessage decodes a price message. When the payload omits the
// symbol it is taken from the last subject token.
func ParsePriceMessage(subject string, data []byte) (PriceUpdate, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return PriceUpdate{}, fmt.Errorf("%w: %v", errBadPrice, err)
	}

	symbol := j.Symbol
	if symbol == "" {
		if i := strings.LastIndexByte(subject, '.'); i >= 0 && i < len(subject)-1 {
			symbol = subject[i+1:]
		}
	}
	if symbol == "" {
		return PriceUpdate{}, fmt.Errorf("%w: missing symbol", errBadPrice)
	}
	if !j.Price.IsPositive() {
		return PriceUpdate{}, fmt.Errorf("%w: %s price must be positive", errBadPrice, symbol)
	}
	if j.TimestampMs <= 0 {
		return PriceUpdate{}, fmt.Errorf("%w: %s missing timestamp_ms", errBadPrice, symbol)
	}

	return PriceUpdate{
		Symbol: symbol,
		Price:  j.Price,
		At:     time.UnixMilli(j.TimestampMs).UTC(),
	}, nil
}

// PriceSink receives accepted updates; pricefeed.Book implements it.
type PriceSink interface {
	Set(symbolID string, price decimal.Decimal, at time.Time) bool
}

// PriceCache is written through on every accepted update.
type PriceCache interface {
	Store(ctx context.Context, symbolID string, price decimal.Decimal) error
}

// PriceSubscriber consumes the spot price stream into the price book.
type PriceSubscriber struct {
	js       jetstream.JetStream
	sink     PriceSink
	cache    PriceCache // optional
	consumer jetstream.ConsumeContext
	log      zerolog.Logger
}

func NewPriceSubscriber(js jetstream.JetStream, sink PriceSink, cache PriceCache, log zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{js: js, sink: sink, cache: cache, log: log}
}

// Subscribe creates the durable consumer and starts delivery.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s. Only the newest
// price per subject matters, so a fresh consumer starts from the last one.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, PriceStream, jetstream.ConsumerConfig{
		Durable:       "casino-prices",
		FilterSubject: PriceSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer casino-prices: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ps.Handle(ctx, msg.Subject(), msg.Data())
		// Malformed messages never improve on redelivery.
		if err := msg.Ack(); err != nil {
			ps.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("ack failed")
		}
	})
	if err != nil {
		return fmt.Errorf("consume casino-prices: %w", err)
	}
	ps.consumer = cc
	ps.log.Info().Str("subject", PriceSubjects).Msg("subscribed to prices")
	return nil
}

// Handle applies one raw message. It returns whether the book accepted it.
func (ps *PriceSubscriber) Handle(ctx context.Context, subject string, data []byte) bool {
	u, err := ParsePriceMessage(subject, data)
	if err != nil {
		ps.log.Warn().Err(err).Str("subject", subject).Msg("dropping price message")
		return false
	}
	if !ps.sink.Set(u.Symbol, u.Price, u.At) {
		ps.log.Debug().Str("symbol", u.Symbol).Time("at", u.At).Msg("out-of-order price ignored")
		return false
	}
	if ps.cache != nil {
		if err := ps.cache.Store(ctx, u.Symbol, u.Price); err != nil {
			ps.log.Warn().Err(err).Str("symbol", u.Symbol).Msg("price cache write failed")
		}
	}
	return true
}

func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
	ps.log.Info().Msg("price subscriber stopped")
}
