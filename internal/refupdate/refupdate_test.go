package refupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/tribute_layer/internal/clock"
)

var sample = ledger.ReferenceUpdate{
	Kind:          ledger.ReferenceGalleryImage,
	TransactionID: "tx-1",
	MemorialID:    "m1",
	EntryID:       "g1",
	OldRef:        "tmp://g1",
	NewRef:        "ar://ref",
}

func TestRecorderAppliesOnce(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()

	require.NoError(t, rec.ReplaceReference(ctx, sample))
	require.NoError(t, rec.ReplaceReference(ctx, sample))
	assert.Len(t, rec.Updates(), 1)

	boom := errors.New("content service down")
	rec.FailWith(boom)
	assert.ErrorIs(t, rec.ReplaceReference(ctx, sample), boom)
}

func TestKafkaPublisher(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Type != "reference.replaced" || ev.Update != sample || !ev.PublishedAt.Equal(at) {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		if ev.IdempotencyKey != "tx-1:gallery_image:g1" {
			return fmt.Errorf("unexpected key %q", ev.IdempotencyKey)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherWithProducer(producer, "tribute.references", clock.NewFake(at))
	require.NoError(t, pub.ReplaceReference(context.Background(), sample))

	err := pub.ReplaceReference(context.Background(), sample)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, pub.Close())
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher("", "topic", nil)
	assert.Error(t, err)
	_, err = NewKafkaPublisher("localhost:9092", "", nil)
	assert.Error(t, err)
}

func TestKafkaPublisherHonoursCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub := NewKafkaPublisherWithProducer(producer, "topic", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.ReplaceReference(ctx, sample), context.Canceled)
	require.NoError(t, pub.Close())
}
