package ingestion

import (
	"CasinoLedger/internal/clock"
	"CasinoLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// JetStreamPublisher is the part of jetstream.JetStream the publisher needs.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Envelope is the outbound wire format on casino.events.{event_type}.
type Envelope struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Key       string    `json:"key"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher forwards committed domain events to NATS. Emit never blocks
// the caller: when the buffer is full the event is dropped and counted.
// Downstream consumers can always rebuild from the ledger.
type Publisher struct {
	js          JetStreamPublisher
	ch          chan Envelope
	clock       clock.Clock
	maxAttempts int
	backoff     time.Duration
	metrics     *observability.Metrics
	log         zerolog.Logger
}

func NewPublisher(js JetStreamPublisher, buffer int, clk clock.Clock, metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Publisher{
		js:          js,
		ch:          make(chan Envelope, buffer),
		clock:       clk,
		maxAttempts: 5,
		backoff:     100 * time.Millisecond,
		metrics:     metrics,
		log:         log,
	}
}

// Emit queues an event. Safe for concurrent use.
func (p *Publisher) Emit(eventType, key string, payload any) {
	env := Envelope{
		ID:        uuid.NewString(),
		EventType: eventType,
		Key:       key,
		Payload:   payload,
		Timestamp: p.clock.Now(),
	}
	select {
	case p.ch <- env:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
		p.log.Warn().Str("event_type", eventType).Str("key", key).Msg("publish buffer full, dropping event")
	}
}

// Run drains the buffer until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-p.ch:
			if err := p.publishWithRetry(ctx, env); err != nil {
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
				p.log.Error().Err(err).
					Str("event_type", env.EventType).
					Str("key", env.Key).
					Msg("outbound publish failed")
			}
		}
	}
}

// publishWithRetry retries with exponential backoff. The envelope ID is
// sent as Nats-Msg-Id so retries are deduplicated by the stream.
func (p *Publisher) publishWithRetry(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := "casino.events." + env.EventType

	backoff := p.backoff
	const maxBackoff = 5 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(env.ID))
		if err == nil {
			if attempt > 0 {
				p.log.Info().Int("attempts", attempt+1).Str("subject", subject).Msg("publish succeeded after retry")
			}
			return nil
		}
		if attempt+1 >= p.maxAttempts {
			return fmt.Errorf("publish %s after %d attempts: %w", subject, attempt+1, err)
		}
		p.log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("publish retry")
	}
}
