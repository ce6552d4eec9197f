/*
Package stage derives a session's lifecycle stage and gates ledger mutations.

PURPOSE:
  The stage is never stored. It is recomputed on every read from four facts:
  players, transactions, Session.ChipEntryStartedAt and Session.FinalizedAt.
  There is no phase column that can drift from the data.

STAGES:
  active_game        finalizedAt unset, chipEntryStartedAt unset
  chip_entry         finalizedAt unset, chipEntryStartedAt set, no cash-outs
  ready_to_finalize  finalizedAt unset, chipEntryStartedAt set, >= 1 cash-out
  finalized          finalizedAt set (wins over everything else)

TRANSITIONS:
  active_game -> chip_entry         StartChipEntry; blocked if there are no
                                    players or any player lacks a buy-in
  chip_entry  -> active_game        GoBack; only while no cash-out exists
  ready_to_finalize -> finalized    Finalize; irreversible

  chip_entry <-> ready_to_finalize follows from recording or deleting
  cash-outs; it is not an explicit transition.

A rejected operation is a Decision with Allowed=false and a human-readable
reason, not a panic or error. Decision.Err converts it for callers that want
an error value.
*/
package stage

import (
	"github.com/warp/cashgame-ledger/ledger"
)

// =============================================================================
// STAGE
// =============================================================================

type Stage string

const (
	ActiveGame      Stage = "active_game"
	ChipEntry       Stage = "chip_entry"
	ReadyToFinalize Stage = "ready_to_finalize"
	Finalized       Stage = "finalized"
)

// PlayerSetup is the name the setup screens use for ActiveGame.
const PlayerSetup = ActiveGame

// Derive computes the stage of the snapshot's session.
func Derive(s ledger.Snapshot) Stage {
	switch {
	case s.Session.IsFinalized():
		return Finalized
	case !s.Session.ChipEntryStarted():
		return ActiveGame
	case s.CountKind(ledger.KindCashout) > 0:
		return ReadyToFinalize
	default:
		return ChipEntry
	}
}

// MissingBuyinsPlayerIDs returns, in player order, every player without a
// buy-in transaction. It never returns nil.
func MissingBuyinsPlayerIDs(players []ledger.Player, transactions []ledger.Transaction) []ledger.PlayerID {
	type key struct {
		session ledger.SessionID
		player  ledger.PlayerID
	}
	hasBuyin := make(map[key]bool, len(players))
	for _, tx := range transactions {
		if tx.Kind == ledger.KindBuyin {
			hasBuyin[key{tx.SessionID, tx.PlayerID}] = true
		}
	}

	missing := []ledger.PlayerID{}
	for _, p := range players {
		if !hasBuyin[key{p.SessionID, p.ID}] {
			missing = append(missing, p.ID)
		}
	}
	return missing
}

// =============================================================================
// OPERATIONS
// =============================================================================

type Operation string

const (
	OpAddPlayer      Operation = "add_player"
	OpRenamePlayer   Operation = "rename_player"
	OpRemovePlayer   Operation = "remove_player"
	OpLinkIdentity   Operation = "link_identity"
	OpAddBuyin       Operation = "add_buyin"
	OpEditBuyin      Operation = "edit_buyin"
	OpDeleteBuyin    Operation = "delete_buyin"
	OpAddCashout     Operation = "add_cashout"
	OpEditCashout    Operation = "edit_cashout"
	OpDeleteCashout  Operation = "delete_cashout"
	OpStartChipEntry Operation = "start_chip_entry"
	OpGoBack         Operation = "go_back"
	OpFinalize       Operation = "finalize"
	OpShare          Operation = "share"
)

// AllOperations lists every operation in a stable order.
var AllOperations = []Operation{
	OpAddPlayer, OpRenamePlayer, OpRemovePlayer, OpLinkIdentity,
	OpAddBuyin, OpEditBuyin, OpDeleteBuyin,
	OpAddCashout, OpEditCashout, OpDeleteCashout,
	OpStartChipEntry, OpGoBack, OpFinalize, OpShare,
}

// permitted is the static part of the gate. StartChipEntry carries an extra
// data precondition checked in CanStartChipEntry.
var permitted = map[Stage]map[Operation]bool{
	ActiveGame: {
		OpAddPlayer: true, OpRenamePlayer: true, OpRemovePlayer: true, OpLinkIdentity: true,
		OpAddBuyin: true, OpEditBuyin: true, OpDeleteBuyin: true,
		OpStartChipEntry: true,
	},
	ChipEntry: {
		OpLinkIdentity: true,
		OpAddCashout:   true, OpEditCashout: true,
		OpGoBack: true,
	},
	ReadyToFinalize: {
		OpLinkIdentity: true,
		OpAddBuyin:     true, OpEditBuyin: true,
		OpAddCashout: true, OpEditCashout: true,
		OpFinalize: true,
	},
	Finalized: {
		OpShare: true,
	},
}

// TransactionOp maps a transaction kind and verb ("add", "edit", "delete")
// to its operation.
func TransactionOp(kind ledger.TxKind, verb string) Operation {
	return Operation(verb + "_" + string(kind))
}

// =============================================================================
// DECISIONS
// =============================================================================

// Decision is the engine's answer for one operation.
type Decision struct {
	Operation Operation
	Stage     Stage
	Allowed   bool
	Reason    string
	PlayerIDs []ledger.PlayerID
}

// Err returns nil for allowed decisions and a *ledger.BlockedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &ledger.BlockedError{
		Operation: string(d.Operation),
		Stage:     string(d.Stage),
		Reason:    d.Reason,
		PlayerIDs: d.PlayerIDs,
	}
}

// Check decides whether op is legal for the snapshot.
func Check(s ledger.Snapshot, op Operation) Decision {
	switch op {
	case OpStartChipEntry:
		return CanStartChipEntry(s)
	case OpGoBack:
		return CanGoBack(s)
	case OpFinalize:
		return CanFinalize(s)
	}
	st := Derive(s)
	if permitted[st][op] {
		return allow(op, st)
	}
	return block(op, st, reasonFor(st, op))
}

// CanStartChipEntry checks the active_game -> chip_entry transition. When it
// is blocked by missing buy-ins, PlayerIDs lists the players to highlight.
func CanStartChipEntry(s ledger.Snapshot) Decision {
	st := Derive(s)
	if st != ActiveGame {
		return block(OpStartChipEntry, st, "chip entry has already started")
	}
	if len(s.Players) == 0 {
		return block(OpStartChipEntry, st, "add at least one player first")
	}
	if missing := MissingBuyinsPlayerIDs(s.Players, s.Transactions); len(missing) > 0 {
		d := block(OpStartChipEntry, st, "every player needs at least one buy-in before chip entry")
		d.PlayerIDs = missing
		return d
	}
	return allow(OpStartChipEntry, st)
}

// CanGoBack checks the chip_entry -> active_game transition.
func CanGoBack(s ledger.Snapshot) Decision {
	st := Derive(s)
	switch st {
	case ChipEntry:
		return allow(OpGoBack, st)
	case ReadyToFinalize:
		return block(OpGoBack, st, "cash-outs have been recorded; chip entry can no longer be undone")
	case Finalized:
		return block(OpGoBack, st, "session is finalized")
	default:
		return block(OpGoBack, st, "chip entry has not started")
	}
}

// CanFinalize checks the ready_to_finalize -> finalized transition.
func CanFinalize(s ledger.Snapshot) Decision {
	st := Derive(s)
	switch st {
	case ReadyToFinalize:
		return allow(OpFinalize, st)
	case Finalized:
		return block(OpFinalize, st, "session is already finalized")
	case ChipEntry:
		return block(OpFinalize, st, "record at least one cash-out first")
	default:
		return block(OpFinalize, st, "start chip entry and record cash-outs first")
	}
}

// Permitted returns every operation currently allowed, in AllOperations order.
func Permitted(s ledger.Snapshot) []Operation {
	out := []Operation{}
	for _, op := range AllOperations {
		if Check(s, op).Allowed {
			out = append(out, op)
		}
	}
	return out
}

func allow(op Operation, st Stage) Decision {
	return Decision{Operation: op, Stage: st, Allowed: true}
}

func block(op Operation, st Stage, reason string) Decision {
	return Decision{Operation: op, Stage: st, Reason: reason}
}

func reasonFor(st Stage, op Operation) string {
	if st == Finalized {
		return "session is finalized and read-only"
	}
	switch op {
	case OpAddPlayer, OpRenamePlayer, OpRemovePlayer:
		return "players can only be changed before chip entry"
	case OpAddBuyin, OpEditBuyin, OpDeleteBuyin:
		return "buy-ins are locked during chip entry"
	case OpDeleteCashout:
		return "recorded cash-outs cannot be deleted; edit the amount instead"
	case OpAddCashout, OpEditCashout:
		return "cash-outs can only be recorded after chip entry has started"
	case OpShare:
		return "only finalized sessions can be shared"
	}
	return "not permitted in this stage"
}
