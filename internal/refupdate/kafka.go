package refupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/tribute_layer/internal/clock"
)

// Event is the message published for each reference update.
type Event struct {
	Type           string                 `json:"type"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Update         ledger.ReferenceUpdate `json:"update"`
	PublishedAt    time.Time              `json:"published_at"`
}

const eventType = "reference.replaced"

// KafkaPublisher publishes updates to a topic keyed by memorial id so that
// updates for one memorial stay ordered.
type KafkaPublisher struct {
	topic string
	sp    sarama.SyncProducer
	clock clock.Clock
}

// NewKafkaPublisher dials brokers with reliability-oriented producer settings.
func NewKafkaPublisher(brokersCSV, topic string, clk clock.Clock) (*KafkaPublisher, error) {
	if topic == "" {
		return nil, errors.New("topic empty")
	}
	brokers := splitCSV(brokersCSV)
	if len(brokers) == 0 {
		return nil, errors.New("no brokers")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(sp, topic, clk), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(sp sarama.SyncProducer, topic string, clk clock.Clock) *KafkaPublisher {
	return &KafkaPublisher{topic: topic, sp: sp, clock: clock.OrReal(clk)}
}

// ReplaceReference publishes upd and waits for the broker ack.
func (p *KafkaPublisher) ReplaceReference(ctx context.Context, upd ledger.ReferenceUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := IdempotencyKey(upd)
	payload, err := json.Marshal(Event{
		Type:           eventType,
		IdempotencyKey: key,
		Update:         upd,
		PublishedAt:    p.clock.Now(),
	})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(upd.MemorialID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("idempotency-key"), Value: []byte(key)},
			{Key: []byte("event-type"), Value: []byte(eventType)},
		},
	}
	if _, _, err := p.sp.SendMessage(msg); err != nil {
		return fmt.Errorf("publish reference update %s: %w", key, err)
	}
	return nil
}

// Close shuts the producer down.
func (p *KafkaPublisher) Close() error {
	if p.sp != nil {
		return p.sp.Close()
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, x := range parts {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}
