/*
errors.go - Centralized error types for the ledger

ERROR CATEGORIES:
  1. Not found - session, player or transaction missing from the store
  2. Invalid input - rejected at the write boundary before reaching the math
  3. Conflicts - identity links, set-once timestamps
  4. Stage - a mutation the current session stage does not permit

The math in calculations.go and settlement.go never returns errors. An
unbalanced session is a condition (Summary.Balanced), not an error.
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrSummaryNotFound     = errors.New("settlement summary not found")

	// ErrInvalidAmount is returned for negative amounts and non-positive buy-ins.
	ErrInvalidAmount = errors.New("invalid amount")

	ErrInvalidKind       = errors.New("invalid transaction kind")
	ErrInvalidPlayerName = errors.New("player name must not be empty")
	ErrInvalidCurrency   = errors.New("currency must be a three-letter code")
	ErrInvalidIdentity   = errors.New("identity id must not be empty")

	// ErrCrossSession is returned when a transaction references a player of
	// another session.
	ErrCrossSession = errors.New("player does not belong to session")

	// ErrIdentityAlreadyLinked is returned when the identity is already linked
	// to a different player of the same session. First writer wins.
	ErrIdentityAlreadyLinked = errors.New("identity already linked to another player")

	// ErrPlayerAlreadyLinked is returned when the player already carries a
	// different identity. The link is set at most once.
	ErrPlayerAlreadyLinked = errors.New("player already linked to another identity")

	// ErrAlreadyFinalized is returned by stores when finalizedAt is set twice.
	ErrAlreadyFinalized = errors.New("session already finalized")

	ErrSessionNotFinalized = errors.New("session not finalized")

	// ErrStageBlocked is returned when the current stage does not permit the
	// requested operation.
	ErrStageBlocked = errors.New("operation blocked by session stage")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BlockedError describes a mutation rejected by the stage engine.
type BlockedError struct {
	Operation string
	Stage     string
	Reason    string
	PlayerIDs []PlayerID // players that caused the block, if any
}

func (e *BlockedError) Error() string {
	msg := fmt.Sprintf("%s blocked in stage %s: %s", e.Operation, e.Stage, e.Reason)
	if len(e.PlayerIDs) > 0 {
		ids := make([]string, len(e.PlayerIDs))
		for i, id := range e.PlayerIDs {
			ids[i] = string(id)
		}
		msg += " (players: " + strings.Join(ids, ", ") + ")"
	}
	return msg
}

func (e *BlockedError) Unwrap() error {
	return ErrStageBlocked
}

// AmountPlaces is the number of decimal places an amount may carry.
const AmountPlaces = 2

// AmountError provides details about a rejected amount.
type AmountError struct {
	Kind   TxKind
	Amount decimal.Decimal
	// TooPrecise is set when the sign is fine but the amount has sub-cent digits.
	TooPrecise bool
}

func (e *AmountError) Error() string {
	if e.TooPrecise {
		return fmt.Sprintf("%s amount must have at most %d decimal places, got %s", e.Kind, AmountPlaces, e.Amount)
	}
	if e.Kind == KindBuyin {
		return fmt.Sprintf("buy-in amount must be positive, got %s", e.Amount)
	}
	return fmt.Sprintf("%s amount must not be negative, got %s", e.Kind, e.Amount)
}

func (e *AmountError) Unwrap() error {
	return ErrInvalidAmount
}

// ValidateAmount checks an amount for the given kind: buy-ins must be strictly
// positive, cash-outs non-negative, and neither may carry sub-cent digits.
func ValidateAmount(kind TxKind, amount decimal.Decimal) error {
	switch kind {
	case KindBuyin:
		if !amount.IsPositive() {
			return &AmountError{Kind: kind, Amount: amount}
		}
	case KindCashout:
		if amount.IsNegative() {
			return &AmountError{Kind: kind, Amount: amount}
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if !amount.Equal(amount.Truncate(AmountPlaces)) {
		return &AmountError{Kind: kind, Amount: amount, TooPrecise: true}
	}
	return nil
}

// ValidateSnapshot checks a snapshot assembled outside a Store, such as one
// read from a file: every player and transaction must belong to the session,
// every transaction must reference a known player and carry a valid amount.
func ValidateSnapshot(s Snapshot) error {
	known := make(map[PlayerID]bool, len(s.Players))
	for _, p := range s.Players {
		if p.SessionID != s.Session.ID {
			return fmt.Errorf("player %s: %w", p.ID, ErrCrossSession)
		}
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("player %s: %w", p.ID, ErrInvalidPlayerName)
		}
		known[p.ID] = true
	}
	for _, tx := range s.Transactions {
		if tx.SessionID != s.Session.ID {
			return fmt.Errorf("transaction %s: %w", tx.ID, ErrCrossSession)
		}
		if !known[tx.PlayerID] {
			return fmt.Errorf("transaction %s references %s: %w", tx.ID, tx.PlayerID, ErrPlayerNotFound)
		}
		if err := ValidateAmount(tx.Kind, tx.Amount); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
	}
	return nil
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrSummaryNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidPlayerName) ||
		errors.Is(err, ErrInvalidCurrency) ||
		errors.Is(err, ErrInvalidIdentity) ||
		errors.Is(err, ErrCrossSession)
}

// IsConflict returns true if the error is a conflict with the current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStageBlocked) ||
		errors.Is(err, ErrIdentityAlreadyLinked) ||
		errors.Is(err, ErrPlayerAlreadyLinked) ||
		errors.Is(err, ErrAlreadyFinalized) ||
		errors.Is(err, ErrSessionNotFinalized)
}
