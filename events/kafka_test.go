package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashgame-ledger/events"
	"github.com/warp/cashgame-ledger/ledger"
)

func newMockProducer(t *testing.T) *mocks.SyncProducer {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return mocks.NewSyncProducer(t, cfg)
}

func testSummary() ledger.Summary {
	return ledger.Summary{
		SessionID:   "s-42",
		Currency:    "USD",
		FinalizedAt: time.Date(2026, 7, 4, 23, 30, 0, 0, time.UTC),
		Totals: ledger.Totals{
			TotalBuyins:     decimal.NewFromInt(200),
			TotalCashouts:   decimal.NewFromInt(200),
			TotalProfitLoss: decimal.Zero,
		},
		Balanced: true,
		Transfers: []ledger.Transfer{
			{DebtorID: "p2", DebtorName: "B", CreditorID: "p1", CreditorName: "A", Amount: decimal.NewFromInt(50)},
		},
	}
}

func TestKafkaPublisher_PublishFinalized(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e events.Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Type != events.Finalized || e.SessionID != "s-42" {
			return errors.New("unexpected event header")
		}
		if e.Settlement == nil || len(e.Settlement.Transfers) != 1 {
			return errors.New("settlement missing")
		}
		if !e.Settlement.Transfers[0].Amount.Equal(decimal.NewFromInt(50)) {
			return errors.New("wrong transfer amount")
		}
		return nil
	})

	pub := events.NewKafkaPublisherWithProducer(producer, "cashgame-sessions", nil)
	err := pub.Publish(context.Background(), events.FinalizedEvent(testSummary()))

	assert.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_ProducerError(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := events.NewKafkaPublisherWithProducer(producer, "cashgame-sessions", nil)
	err := pub.Publish(context.Background(), events.Event{Type: events.ChipEntryStarted, SessionID: "s-1"})

	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_CanceledContext(t *testing.T) {
	producer := newMockProducer(t)
	pub := events.NewKafkaPublisherWithProducer(producer, "cashgame-sessions", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, pub.Publish(ctx, events.Event{Type: events.Finalized}), context.Canceled)
	require.NoError(t, pub.Close())
}

func TestFinalizedEvent(t *testing.T) {
	e := events.FinalizedEvent(testSummary())

	assert.Equal(t, events.Finalized, e.Type)
	assert.Equal(t, ledger.SessionID("s-42"), e.SessionID)
	require.NotNil(t, e.Settlement)
	assert.True(t, e.Settlement.Balanced)
	assert.Equal(t, ledger.PlayerID("p2"), e.Settlement.Transfers[0].From)
	assert.Equal(t, ledger.PlayerID("p1"), e.Settlement.Transfers[0].To)
}

func TestNopPublisher(t *testing.T) {
	var p events.Publisher = events.NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), events.Event{}))
	assert.NoError(t, p.Close())
}
