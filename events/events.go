/*
Package events publishes session lifecycle notifications.

EVENTS:
  session.chip_entry_started   buy-in phase closed
  session.chip_entry_reverted  "go back" to the buy-in phase
  session.finalized            ledger locked, settlement attached

Publishing is best-effort from the caller's point of view: the session
service logs a failed publish and keeps the persisted mutation. Consumers
must treat the stream as a notification, not as the source of truth.

IMPLEMENTATIONS:
  NopPublisher:   default, drops everything
  KafkaPublisher: one JSON message per event, keyed by session id
*/
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/cashgame-ledger/ledger"
)

type Type string

const (
	ChipEntryStarted  Type = "session.chip_entry_started"
	ChipEntryReverted Type = "session.chip_entry_reverted"
	Finalized         Type = "session.finalized"
)

// Event is the wire shape of a lifecycle notification.
type Event struct {
	Type       Type             `json:"type"`
	SessionID  ledger.SessionID `json:"session_id"`
	OccurredAt time.Time        `json:"occurred_at"`
	Settlement *Settlement      `json:"settlement,omitempty"`
}

// Settlement is attached to Finalized events.
type Settlement struct {
	Currency        string          `json:"currency"`
	TotalBuyins     decimal.Decimal `json:"total_buyins"`
	TotalProfitLoss decimal.Decimal `json:"total_profit_loss"`
	Balanced        bool            `json:"balanced"`
	Transfers       []Transfer      `json:"transfers"`
}

type Transfer struct {
	From   ledger.PlayerID `json:"from"`
	To     ledger.PlayerID `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// FinalizedEvent builds the event for a freshly finalized summary.
func FinalizedEvent(s ledger.Summary) Event {
	transfers := make([]Transfer, len(s.Transfers))
	for i, tr := range s.Transfers {
		transfers[i] = Transfer{From: tr.DebtorID, To: tr.CreditorID, Amount: tr.Amount}
	}
	return Event{
		Type:       Finalized,
		SessionID:  s.SessionID,
		OccurredAt: s.FinalizedAt,
		Settlement: &Settlement{
			Currency:        s.Currency,
			TotalBuyins:     s.Totals.TotalBuyins,
			TotalProfitLoss: s.Totals.TotalProfitLoss,
			Balanced:        s.Balanced,
			Transfers:       transfers,
		},
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
