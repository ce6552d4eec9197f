package stage_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashgame-ledger/ledger"
	"github.com/warp/cashgame-ledger/stage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2026, 5, 2, 19, 0, 0, 0, time.UTC)

type snapshotBuilder struct {
	snap ledger.Snapshot
	seq  int
}

func newSnapshot(names ...string) *snapshotBuilder {
	b := &snapshotBuilder{snap: ledger.Snapshot{
		Session: ledger.Session{ID: "s1", Currency: "USD", CreatedAt: t0},
	}}
	for _, n := range names {
		b.snap.Players = append(b.snap.Players, ledger.Player{
			ID: ledger.PlayerID(n), SessionID: "s1", Name: n,
		})
	}
	return b
}

func (b *snapshotBuilder) tx(player string, kind ledger.TxKind, amount int64) *snapshotBuilder {
	b.seq++
	b.snap.Transactions = append(b.snap.Transactions, ledger.Transaction{
		ID:        ledger.TransactionID(player + string(kind) + string(rune('a'+b.seq))),
		SessionID: "s1",
		PlayerID:  ledger.PlayerID(player),
		Kind:      kind,
		Amount:    decimal.NewFromInt(amount),
	})
	return b
}

func (b *snapshotBuilder) buyin(player string, amount int64) *snapshotBuilder {
	return b.tx(player, ledger.KindBuyin, amount)
}

func (b *snapshotBuilder) cashout(player string, amount int64) *snapshotBuilder {
	return b.tx(player, ledger.KindCashout, amount)
}

func (b *snapshotBuilder) chipEntry() *snapshotBuilder {
	at := t0.Add(3 * time.Hour)
	b.snap.Session.ChipEntryStartedAt = &at
	return b
}

func (b *snapshotBuilder) finalized() *snapshotBuilder {
	at := t0.Add(4 * time.Hour)
	b.snap.Session.FinalizedAt = &at
	return b
}

func (b *snapshotBuilder) build() ledger.Snapshot { return b.snap }

// =============================================================================
// DERIVATION
// =============================================================================

func TestDerive(t *testing.T) {
	cases := []struct {
		name string
		snap ledger.Snapshot
		want stage.Stage
	}{
		{"empty session", newSnapshot().build(), stage.ActiveGame},
		{"buy-ins only", newSnapshot("A").buyin("A", 100).build(), stage.ActiveGame},
		{"chip entry, no cash-outs", newSnapshot("A").buyin("A", 100).chipEntry().build(), stage.ChipEntry},
		{"chip entry with cash-out", newSnapshot("A").buyin("A", 100).chipEntry().cashout("A", 100).build(), stage.ReadyToFinalize},
		{"finalized", newSnapshot("A").buyin("A", 100).chipEntry().cashout("A", 100).finalized().build(), stage.Finalized},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, stage.Derive(c.snap))
		})
	}
}

func TestDerive_FinalizedWinsOverEverything(t *testing.T) {
	// GIVEN: a finalized session
	b := newSnapshot("A", "B").buyin("A", 50).chipEntry().cashout("A", 50).finalized()

	// WHEN: further hypothetical changes happen
	snap := b.build()
	snap.Session.ChipEntryStartedAt = nil
	snap.Transactions = nil
	snap.Players = append(snap.Players, ledger.Player{ID: "C", SessionID: "s1", Name: "C"})

	// THEN: still finalized, every money movement blocked
	assert.Equal(t, stage.Finalized, stage.Derive(snap))
	assert.Equal(t, []stage.Operation{stage.OpShare}, stage.Permitted(snap))
}

func TestMissingBuyinsPlayerIDs(t *testing.T) {
	snap := newSnapshot("A", "B", "C").buyin("B", 20).cashout("C", 10).build()

	missing := stage.MissingBuyinsPlayerIDs(snap.Players, snap.Transactions)

	assert.Equal(t, []ledger.PlayerID{"A", "C"}, missing)
}

func TestMissingBuyinsPlayerIDs_NoneMissing_EmptyNotNil(t *testing.T) {
	snap := newSnapshot("A").buyin("A", 20).build()

	missing := stage.MissingBuyinsPlayerIDs(snap.Players, snap.Transactions)

	assert.NotNil(t, missing)
	assert.Empty(t, missing)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestStartChipEntry_ScenarioD_BlockedByMissingBuyin(t *testing.T) {
	// GIVEN: B has no buy-in
	snap := newSnapshot("A", "B").buyin("A", 100).build()

	// WHEN
	d := stage.CanStartChipEntry(snap)

	// THEN
	assert.False(t, d.Allowed)
	assert.Equal(t, stage.ActiveGame, d.Stage)
	assert.NotEmpty(t, d.Reason)
	assert.Equal(t, []ledger.PlayerID{"B"}, d.PlayerIDs)

	err := d.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStageBlocked)
	var blocked *ledger.BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, []ledger.PlayerID{"B"}, blocked.PlayerIDs)
}

func TestStartChipEntry_NoPlayers_Blocked(t *testing.T) {
	d := stage.CanStartChipEntry(newSnapshot().build())

	assert.False(t, d.Allowed)
	assert.Empty(t, d.PlayerIDs)
}

func TestStartChipEntry_AllowedWhenEveryoneBoughtIn(t *testing.T) {
	snap := newSnapshot("A", "B").buyin("A", 100).buyin("B", 50).build()

	d := stage.Check(snap, stage.OpStartChipEntry)

	assert.True(t, d.Allowed)
	assert.NoError(t, d.Err())
}

func TestStartChipEntry_AlreadyStarted_Blocked(t *testing.T) {
	snap := newSnapshot("A").buyin("A", 100).chipEntry().build()

	assert.False(t, stage.CanStartChipEntry(snap).Allowed)
}

func TestGoBack(t *testing.T) {
	chip := newSnapshot("A").buyin("A", 100).chipEntry().build()
	ready := newSnapshot("A").buyin("A", 100).chipEntry().cashout("A", 100).build()
	active := newSnapshot("A").buyin("A", 100).build()
	final := newSnapshot("A").buyin("A", 100).chipEntry().cashout("A", 100).finalized().build()

	assert.True(t, stage.CanGoBack(chip).Allowed)
	assert.False(t, stage.CanGoBack(ready).Allowed, "cash-outs exist")
	assert.False(t, stage.CanGoBack(active).Allowed)
	assert.False(t, stage.CanGoBack(final).Allowed)
}

func TestFinalize(t *testing.T) {
	active := newSnapshot("A").buyin("A", 100).build()
	chip := newSnapshot("A").buyin("A", 100).chipEntry().build()
	ready := newSnapshot("A").buyin("A", 100).chipEntry().cashout("A", 100).build()
	final := newSnapshot("A").buyin("A", 100).chipEntry().cashout("A", 100).finalized().build()

	assert.False(t, stage.CanFinalize(active).Allowed)
	assert.False(t, stage.CanFinalize(chip).Allowed, "no cash-out yet")
	assert.True(t, stage.CanFinalize(ready).Allowed)
	assert.False(t, stage.CanFinalize(final).Allowed, "irreversible, not repeatable")
}

// =============================================================================
// PERMISSIONS
// =============================================================================

func TestCheck_ActiveGame(t *testing.T) {
	snap := newSnapshot("A").buyin("A", 100).build()

	for _, op := range []stage.Operation{
		stage.OpAddPlayer, stage.OpRenamePlayer, stage.OpRemovePlayer,
		stage.OpAddBuyin, stage.OpEditBuyin, stage.OpDeleteBuyin,
	} {
		assert.True(t, stage.Check(snap, op).Allowed, "%s should be allowed", op)
	}

	// Cash-out before chip entry is illegal.
	d := stage.Check(snap, stage.OpAddCashout)
	assert.False(t, d.Allowed)
	assert.ErrorIs(t, d.Err(), ledger.ErrStageBlocked)
}

func TestCheck_ChipEntry_BuyinsLocked(t *testing.T) {
	snap := newSnapshot("A").buyin("A", 100).chipEntry().build()

	assert.True(t, stage.Check(snap, stage.OpAddCashout).Allowed)
	assert.True(t, stage.Check(snap, stage.OpEditCashout).Allowed)
	assert.False(t, stage.Check(snap, stage.OpAddBuyin).Allowed)
	assert.False(t, stage.Check(snap, stage.OpEditBuyin).Allowed)
	assert.False(t, stage.Check(snap, stage.OpAddPlayer).Allowed)
	assert.False(t, stage.Check(snap, stage.OpRemovePlayer).Allowed)
	assert.False(t, stage.Check(snap, stage.OpDeleteCashout).Allowed)
}

func TestCheck_ReadyToFinalize_AllowsCorrections(t *testing.T) {
	snap := newSnapshot("A").buyin("A", 100).chipEntry().cashout("A", 90).build()

	assert.True(t, stage.Check(snap, stage.OpAddBuyin).Allowed)
	assert.True(t, stage.Check(snap, stage.OpEditBuyin).Allowed)
	assert.True(t, stage.Check(snap, stage.OpAddCashout).Allowed)
	assert.True(t, stage.Check(snap, stage.OpEditCashout).Allowed)
	assert.True(t, stage.Check(snap, stage.OpFinalize).Allowed)
	assert.False(t, stage.Check(snap, stage.OpShare).Allowed)
}

func TestCheck_CashoutsCannotBeDeleted(t *testing.T) {
	// GIVEN: A session with one recorded cash-out
	snap := newSnapshot("A").buyin("A", 100).chipEntry().cashout("A", 90).build()

	// WHEN: Deleting it is checked
	d := stage.Check(snap, stage.OpDeleteCashout)

	// THEN: It is blocked, and so is going back
	assert.False(t, d.Allowed)
	assert.Equal(t, stage.ReadyToFinalize, d.Stage)
	assert.Contains(t, d.Reason, "edit the amount")
	assert.False(t, stage.CanGoBack(snap).Allowed)
	assert.NotContains(t, stage.Permitted(snap), stage.OpDeleteCashout)
}

func TestPermitted_ActiveGame(t *testing.T) {
	snap := newSnapshot("A", "B").buyin("A", 100).build()

	// B lacks a buy-in, so start_chip_entry is not in the list.
	assert.Equal(t, []stage.Operation{
		stage.OpAddPlayer, stage.OpRenamePlayer, stage.OpRemovePlayer, stage.OpLinkIdentity,
		stage.OpAddBuyin, stage.OpEditBuyin, stage.OpDeleteBuyin,
	}, stage.Permitted(snap))
}

func TestTransactionOp(t *testing.T) {
	assert.Equal(t, stage.OpAddBuyin, stage.TransactionOp(ledger.KindBuyin, "add"))
	assert.Equal(t, stage.OpEditCashout, stage.TransactionOp(ledger.KindCashout, "edit"))
	assert.Equal(t, stage.OpDeleteCashout, stage.TransactionOp(ledger.KindCashout, "delete"))
}
