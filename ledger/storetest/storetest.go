// Package storetest holds the behavioral contract every ledger store must
// satisfy. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashgame-ledger/ledger"
)

// Store is the full surface exercised by the contract.
type Store interface {
	ledger.Store
	ledger.SummaryStore
	ledger.FinalizingStore
}

var base = time.Date(2026, 2, 14, 19, 30, 0, 0, time.UTC)

// Run executes the contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"SessionRoundTrip", testSessionRoundTrip},
		{"ChipEntryMarker", testChipEntryMarker},
		{"FinalizedAtIsSetOnce", testFinalizedAtIsSetOnce},
		{"PlayersInCreationOrder", testPlayersInCreationOrder},
		{"PlayerNeedsSession", testPlayerNeedsSession},
		{"DeletePlayerCascades", testDeletePlayerCascades},
		{"TransactionsAcrossSessions", testTransactionsAcrossSessions},
		{"TransactionNeedsPlayerOfSameSession", testTransactionNeedsPlayerOfSameSession},
		{"UpdateAndDeleteTransaction", testUpdateAndDeleteTransaction},
		{"CentAmountsRoundTrip", testCentAmountsRoundTrip},
		{"FinalizeWithSummary", testFinalizeWithSummary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func seedSession(t *testing.T, s Store, id ledger.SessionID, players ...ledger.PlayerID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, ledger.Session{ID: id, Currency: "USD", CreatedAt: base}))
	for i, p := range players {
		require.NoError(t, s.CreatePlayer(ctx, ledger.Player{
			ID:        p,
			SessionID: id,
			Name:      string(p),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func newTx(id ledger.TransactionID, session ledger.SessionID, player ledger.PlayerID, kind ledger.TxKind, amount string) ledger.Transaction {
	return ledger.Transaction{
		ID:        id,
		SessionID: session,
		PlayerID:  player,
		Kind:      kind,
		Amount:    decimal.RequireFromString(amount),
		CreatedAt: base,
	}
}

func testSessionRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	seedSession(t, s, "s1")

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ledger.SessionID("s1"), got.ID)
	assert.Equal(t, "USD", got.Currency)
	assert.True(t, got.CreatedAt.Equal(base))
	assert.Nil(t, got.ChipEntryStartedAt)
	assert.Nil(t, got.FinalizedAt)

	_, err = s.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
}

func testChipEntryMarker(t *testing.T, s Store) {
	ctx := context.Background()
	seedSession(t, s, "s1")

	at := base.Add(time.Hour)
	require.NoError(t, s.SetChipEntryStartedAt(ctx, "s1", &at))
	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.ChipEntryStartedAt)
	assert.True(t, got.ChipEntryStartedAt.Equal(at))

	require.NoError(t, s.SetChipEntryStartedAt(ctx, "s1", nil))
	got, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got.ChipEntryStartedAt)

	assert.ErrorIs(t, s.SetChipEntryStartedAt(ctx, "nope", &at), ledger.ErrSessionNotFound)
}

func testFinalizedAtIsSetOnce(t *testing.T, s Store) {
	ctx := context.Background()
	seedSession(t, s, "s1")

	first := base.Add(2 * time.Hour)
	require.NoError(t, s.SetFinalizedAt(ctx, "s1", first))
	assert.ErrorIs(t, s.SetFinalizedAt(ctx, "s1", first.Add(time.Minute)), ledger.ErrAlreadyFinalized)

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.FinalizedAt)
	assert.True(t, got.FinalizedAt.Equal(first))

	assert.ErrorIs(t, s.SetFinalizedAt(ctx, "nope", first), ledger.ErrSessionNotFound)
}

func testPlayersInCreationOrder(t *testing.T, s Store) {
	ctx := context.Background()
	seedSession(t, s, "s1", "zed", "amy", "bob")

	identity := ledger.IdentityID("user-1")
	require.NoError(t, s.UpdatePlayer(ctx, ledger.Player{ID: "amy", SessionID: "s1", Name: "Amy", IdentityID: &identity}))

	players, err := s.ListPlayers(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, players, 3)
	assert.Equal(t, []ledger.PlayerID{"zed", "amy", "bob"}, []ledger.PlayerID{players[0].ID, players[1].ID, players[2].ID})
	assert.Equal(t, "Amy", players[1].Name)
	require.NotNil(t, players[1].IdentityID)
	assert.Equal(t, identity, *players[1].IdentityID)

	err = s.UpdatePlayer(ctx, ledger.Player{ID: "ghost", SessionID: "s1", Name: "x"})
	assert.ErrorIs(t, err, ledger.ErrPlayerNotFound)

	empty, err := s.ListPlayers(ctx, "other")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func testPlayerNeedsSession(t *testing.T, s Store) {
	err := s.CreatePlayer(context.Background(), ledger.Player{ID: "p1", SessionID: "nope", Name: "A", CreatedAt: base})
	assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
}

func testDeletePlayerCascades(t *testing.T, s Store) {
	ctx := context.Background()
	seedSession(t, s, "s1", "p1", "p2")
	require.NoError(t, s.CreateTransaction(ctx, newTx("t1", "s1", "p1", ledger.KindBuyin, "50")))
	require.NoError(t, s.CreateTransaction(ctx, newTx("t2", "s1", "p2", ledger.KindBuyin, "50")))

	require.NoError(t, s.DeletePlayer(ctx, "s1", "p1"))

	players, err := s.ListPlayers(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, players, 1)
	txs, err := s.ListTransactions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TransactionID("t2"), txs[0].ID)

	assert.ErrorIs(t, s.DeletePlayer(ctx, "s1", "p1"), ledger.ErrPlayerNotFound)
}

func testTransactionsAcrossSessions(t *testing.T, s Store) {
	ctx := context.Background()
	seedSession(t, s, "s1", "a1")
	seedSession(t, s, "s2", "b1")
	seedSession(t, s, "s3", "c1")
	require.NoError(t, s.CreateTransaction(ctx, newTx("t1", "s1", "a1", ledger.KindBuyin, "20.50")))
	require.NoError(t, s.CreateTransaction(ctx, newTx("t2", "s2", "b1", ledger.KindBuyin, "30")))
	require.NoError(t, s.CreateTransaction(ctx, newTx("t3", "s3", "c1", ledger.KindBuyin, "40")))
	require.NoError(t, s.CreateTransaction(ctx, newTx("t4", "s1", "a1", ledger.KindCashout, "0")))

	txs, err := s.ListTransactions(ctx, "s1", "s2")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, ledger.TransactionID("t1"), txs[0].ID)
	assert.True(t, txs[0].Amount.Equal(decimal.RequireFromString("20.5")))
	assert.Equal(t, ledger.KindBuyin, txs[0].Kind)
	assert.Equal(t, ledger.TransactionID("t2"), txs[1].ID)
	assert.Equal(t, ledger.TransactionID("t4"), txs[2].ID)
	assert.Equal(t, ledger.KindCashout, txs[2].Kind)

	none, err := s.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testTransactionNeedsPlayerOfSameSession(t *testing.T, s Store) {
	ctx := context.Background()
	seedSession(t, s, "s1", "a1")
	seedSession(t, s, "s2", "b1")

	err := s.CreateTransaction(ctx, newTx("t1", "s1", "b1", ledger.KindBuyin, "10"))
	assert.ErrorIs(t, err, ledger.ErrPlayerNotFound)
}

func testUpdateAndDeleteTransaction(t *testing.T, s Store) {
	ctx := context.Background()
	seedSession(t, s, "s1", "p1")
	tx := newTx("t1", "s1", "p1", ledger.KindBuyin, "10")
	require.NoError(t, s.CreateTransaction(ctx, tx))

	tx.Amount = decimal.RequireFromString("12.75")
	require.NoError(t, s.UpdateTransactionAmount(ctx, tx))
	txs, err := s.ListTransactions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Equal(tx.Amount))

	require.NoError(t, s.DeleteTransaction(ctx, "s1", "t1"))
	assert.ErrorIs(t, s.DeleteTransaction(ctx, "s1", "t1"), ledger.ErrTransactionNotFound)
	assert.ErrorIs(t, s.UpdateTransactionAmount(ctx, tx), ledger.ErrTransactionNotFound)
}

// Every amount that passes ValidateAmount must come back unchanged.
func testCentAmountsRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	seedSession(t, s, "s1", "p1")
	amounts := []string{"0.01", "0.10", "12.34", "999999.99"}
	for i, a := range amounts {
		tx := newTx(ledger.TransactionID(fmt.Sprintf("t%d", i)), "s1", "p1", ledger.KindBuyin, a)
		require.NoError(t, ledger.ValidateAmount(tx.Kind, tx.Amount))
		require.NoError(t, s.CreateTransaction(ctx, tx))
	}

	txs, err := s.ListTransactions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, txs, len(amounts))
	for i, a := range amounts {
		assert.True(t, txs[i].Amount.Equal(decimal.RequireFromString(a)), "amount %s came back as %s", a, txs[i].Amount)
	}
}

func testFinalizeWithSummary(t *testing.T, s Store) {
	ctx := context.Background()
	seedSession(t, s, "s1", "p1", "p2")

	_, err := s.GetSummary(ctx, "s1")
	assert.ErrorIs(t, err, ledger.ErrSummaryNotFound)

	summary := ledger.Summary{
		SessionID:   "s1",
		Currency:    "USD",
		FinalizedAt: base.Add(3 * time.Hour),
		Results: []ledger.PlayerResult{
			{Player: ledger.Player{ID: "p1", SessionID: "s1", Name: "p1"}, TotalBuyins: decimal.NewFromInt(50), TotalCashouts: decimal.NewFromInt(80), PL: decimal.NewFromInt(30)},
			{Player: ledger.Player{ID: "p2", SessionID: "s1", Name: "p2"}, TotalBuyins: decimal.NewFromInt(50), TotalCashouts: decimal.NewFromInt(20), PL: decimal.NewFromInt(-30)},
		},
		Totals:   ledger.Totals{TotalBuyins: decimal.NewFromInt(100), TotalCashouts: decimal.NewFromInt(100), TotalProfitLoss: decimal.Zero},
		Balanced: true,
		Transfers: []ledger.Transfer{
			{DebtorID: "p2", DebtorName: "p2", CreditorID: "p1", CreditorName: "p1", Amount: decimal.NewFromInt(30)},
		},
	}
	require.NoError(t, s.FinalizeWithSummary(ctx, summary))

	got, err := s.GetSummary(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Balanced)
	require.Len(t, got.Transfers, 1)
	assert.True(t, got.Transfers[0].Amount.Equal(decimal.NewFromInt(30)))
	assert.True(t, got.FinalizedAt.Equal(summary.FinalizedAt))

	session, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, session.FinalizedAt)

	// a second finalize must not replace the stored summary
	other := summary
	other.Balanced = false
	assert.ErrorIs(t, s.FinalizeWithSummary(ctx, other), ledger.ErrAlreadyFinalized)
	got, err = s.GetSummary(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Balanced)
}
