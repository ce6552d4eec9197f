package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/cashgame-ledger/ledger"
	"github.com/warp/cashgame-ledger/ledger/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return newTestStore(t)
	})
}

func TestSQLiteStore_IdentityUniquePerSession(t *testing.T) {
	// GIVEN two players in one session
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, ledger.Session{ID: "s1", Currency: "USD"}))
	identity := ledger.IdentityID("user-1")
	require.NoError(t, store.CreatePlayer(ctx, ledger.Player{ID: "p1", SessionID: "s1", Name: "A", IdentityID: &identity}))

	// WHEN a second player claims the same identity
	err := store.CreatePlayer(ctx, ledger.Player{ID: "p2", SessionID: "s1", Name: "B", IdentityID: &identity})

	// THEN the schema rejects it
	require.ErrorIs(t, err, ledger.ErrIdentityAlreadyLinked)

	// AND the identity may still be used in another session
	require.NoError(t, store.CreateSession(ctx, ledger.Session{ID: "s2", Currency: "USD"}))
	require.NoError(t, store.CreatePlayer(ctx, ledger.Player{ID: "p3", SessionID: "s2", Name: "A", IdentityID: &identity}))
}

func TestSQLiteStore_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, ledger.Session{ID: "s1", Currency: "USD"}))

	require.NoError(t, store.Reset(ctx))

	_, err := store.GetSession(ctx, "s1")
	require.ErrorIs(t, err, ledger.ErrSessionNotFound)
}
