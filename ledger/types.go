/*
Package ledger provides the session ledger and settlement engine.

PURPOSE:
  Turns the buy-in/cash-out transactions of a poker cash-game session into
  per-player profit/loss, aggregate session totals, and a short list of
  debtor -> creditor payments. Everything here is a pure function over an
  in-memory snapshot; persistence is behind the Store interface.

KEY CONCEPTS IN THIS FILE (types.go):
  - Player: a participant of one session
  - Transaction: a buy-in or cash-out for one player
  - Session: the aggregation root with the two lifecycle timestamps
  - PlayerResult / Transfer / Totals: derived values, never persisted
  - Snapshot: everything the math and the stage engine need

DESIGN PRINCIPLES:
  1. Precision: amounts are decimal.Decimal, rendered only at the boundary
  2. Tolerance: every money comparison goes through BalanceTolerance
  3. Determinism: no maps are iterated for output, sorts are stable
  4. Totality: the math never fails, it reflects the numbers it is given

SEE ALSO:
  - calculations.go: per-player and session aggregation
  - settlement.go: greedy debtor/creditor matching
  - store.go: persistence contract
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceTolerance is the money tolerance (0.01 currency units) used by every
// winner/loser/balance comparison.
var BalanceTolerance = decimal.New(1, -2)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SessionID string
type PlayerID string
type TransactionID string

// IdentityID is an external account id a player can be linked to.
type IdentityID string

// =============================================================================
// TRANSACTION KIND
// =============================================================================

type TxKind string

const (
	KindBuyin   TxKind = "buyin"
	KindCashout TxKind = "cashout"
)

// Valid reports whether k is one of the known kinds.
func (k TxKind) Valid() bool {
	return k == KindBuyin || k == KindCashout
}

// =============================================================================
// ENTITIES
// =============================================================================

// Player is a participant within one session.
type Player struct {
	ID         PlayerID    `json:"id"`
	SessionID  SessionID   `json:"session_id"`
	Name       string      `json:"name"`
	IdentityID *IdentityID `json:"identity_id,omitempty"` // at most one player per identity per session
	CreatedAt  time.Time   `json:"created_at"`
}

// Transaction is an atomic money movement for one player in one session.
type Transaction struct {
	ID        TransactionID   `json:"id"`
	SessionID SessionID       `json:"session_id"`
	PlayerID  PlayerID        `json:"player_id"`
	Kind      TxKind          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Session is the aggregation root.
//
// FinalizedAt, once set, is never cleared. ChipEntryStartedAt may only be
// cleared while the session has no cash-out transactions.
type Session struct {
	ID                 SessionID  `json:"id"`
	Currency           string     `json:"currency"`
	CreatedAt          time.Time  `json:"created_at"`
	ChipEntryStartedAt *time.Time `json:"chip_entry_started_at,omitempty"`
	FinalizedAt        *time.Time `json:"finalized_at,omitempty"`
}

func (s Session) IsFinalized() bool      { return s.FinalizedAt != nil }
func (s Session) ChipEntryStarted() bool { return s.ChipEntryStartedAt != nil }

// =============================================================================
// DERIVED VALUES
// =============================================================================

// PlayerResult is the per-player aggregation. PL = TotalCashouts - TotalBuyins.
type PlayerResult struct {
	Player        Player          `json:"player"`
	TotalBuyins   decimal.Decimal `json:"total_buyins"`
	TotalCashouts decimal.Decimal `json:"total_cashouts"`
	PL            decimal.Decimal `json:"pl"`
}

// Totals aggregates all player results of a session. A TotalProfitLoss outside
// the tolerance of zero means rake or a data-entry error.
type Totals struct {
	TotalBuyins     decimal.Decimal `json:"total_buyins"`
	TotalCashouts   decimal.Decimal `json:"total_cashouts"`
	TotalProfitLoss decimal.Decimal `json:"total_profit_loss"`
}

// Transfer is one settlement payment. Amount is always strictly positive.
type Transfer struct {
	DebtorID     PlayerID        `json:"debtor_id"`
	DebtorName   string          `json:"debtor_name"`
	CreditorID   PlayerID        `json:"creditor_id"`
	CreditorName string          `json:"creditor_name"`
	Amount       decimal.Decimal `json:"amount"`
}

// Snapshot is a consistent read of one session, its players and transactions.
// Callers re-load a fresh snapshot after every mutation instead of patching one.
type Snapshot struct {
	Session      Session       `json:"session"`
	Players      []Player      `json:"players"`
	Transactions []Transaction `json:"transactions"`
}

// Summary is the read-only settlement record persisted when a session is
// finalized. Its JSON form is what the stores and the cache persist.
type Summary struct {
	SessionID   SessionID      `json:"session_id"`
	Currency    string         `json:"currency"`
	FinalizedAt time.Time      `json:"finalized_at"`
	Results     []PlayerResult `json:"results"`
	Totals      Totals         `json:"totals"`
	Balanced    bool           `json:"balanced"`
	Transfers   []Transfer     `json:"transfers"`
}
