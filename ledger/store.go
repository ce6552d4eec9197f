/*
store.go - Persistence contract for sessions, players and transactions

PURPOSE:
  Defines the interface between the ledger and the remote relational store.
  The ledger itself never writes; the session service does, and re-reads a
  full snapshot after every write.

CONTRACT:
  - Reads return ErrSessionNotFound / ErrPlayerNotFound /
    ErrTransactionNotFound for missing rows.
  - Players and transactions are returned in creation order.
  - DeletePlayer cascades to the player's transactions.
  - SetFinalizedAt is set-once and returns ErrAlreadyFinalized on a second
    call. Nothing clears it.
  - Concurrent writers: last write wins at the row level.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Store handles persistence of sessions, players and transactions.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id SessionID) (*Session, error)

	// SetChipEntryStartedAt sets or, with nil, clears the chip-entry marker.
	SetChipEntryStartedAt(ctx context.Context, id SessionID, at *time.Time) error

	// SetFinalizedAt marks the session finalized. Set-once.
	SetFinalizedAt(ctx context.Context, id SessionID, at time.Time) error

	CreatePlayer(ctx context.Context, p Player) error
	UpdatePlayer(ctx context.Context, p Player) error
	DeletePlayer(ctx context.Context, sessionID SessionID, id PlayerID) error
	ListPlayers(ctx context.Context, sessionID SessionID) ([]Player, error)

	CreateTransaction(ctx context.Context, tx Transaction) error
	UpdateTransactionAmount(ctx context.Context, tx Transaction) error
	DeleteTransaction(ctx context.Context, sessionID SessionID, id TransactionID) error

	// ListTransactions returns the transactions of every given session.
	ListTransactions(ctx context.Context, sessionIDs ...SessionID) ([]Transaction, error)
}

// SummaryStore persists the read-only settlement record of finalized sessions.
type SummaryStore interface {
	SaveSummary(ctx context.Context, s Summary) error
	GetSummary(ctx context.Context, id SessionID) (*Summary, error)
}

// FinalizingStore can persist the summary and set finalizedAt in one atomic
// write. Stores that implement it are preferred by the session service.
type FinalizingStore interface {
	FinalizeWithSummary(ctx context.Context, s Summary) error
}

// LoadSnapshot reads the session, its players and its transactions.
func LoadSnapshot(ctx context.Context, store Store, id SessionID) (Snapshot, error) {
	session, err := store.GetSession(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	players, err := store.ListPlayers(ctx, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading players: %w", err)
	}
	txs, err := store.ListTransactions(ctx, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading transactions: %w", err)
	}
	return Snapshot{Session: *session, Players: players, Transactions: txs}, nil
}
