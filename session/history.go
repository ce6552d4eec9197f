package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cashgame-ledger/ledger"
	"github.com/warp/cashgame-ledger/stage"
)

// SessionRecord is one session's line in a history read.
type SessionRecord struct {
	SessionID   ledger.SessionID
	Currency    string
	Stage       stage.Stage
	CreatedAt   time.Time
	FinalizedAt *time.Time
	Players     int
	Totals      ledger.Totals
	Balanced    bool
}

// IdentityRecord aggregates the results of one linked identity across
// sessions. Amounts in different currencies are never added together, so an
// identity that played in two currencies has two records.
type IdentityRecord struct {
	IdentityID    ledger.IdentityID
	Currency      string
	Sessions      int
	TotalBuyins   decimal.Decimal
	TotalCashouts decimal.Decimal
	PL            decimal.Decimal
}

type History struct {
	Sessions   []SessionRecord
	Identities []IdentityRecord
}

// History reads several sessions at once. Sessions come back in request
// order with duplicates dropped; identities are ordered by P/L descending,
// then identity id. Unlinked players only contribute to session totals.
func (s *Service) History(ctx context.Context, sessionIDs ...ledger.SessionID) (*History, error) {
	ids := dedupe(sessionIDs)
	out := &History{Sessions: []SessionRecord{}, Identities: []IdentityRecord{}}
	if len(ids) == 0 {
		return out, nil
	}

	txs, err := s.store.ListTransactions(ctx, ids...)
	if err != nil {
		return nil, fmt.Errorf("loading transactions: %w", err)
	}

	type identityKey struct {
		identity ledger.IdentityID
		currency string
	}
	byIdentity := make(map[identityKey]*IdentityRecord)

	for _, id := range ids {
		session, err := s.store.GetSession(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
		players, err := s.store.ListPlayers(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading players of %s: %w", id, err)
		}

		snap := ledger.Snapshot{Session: *session, Players: players, Transactions: txs}
		results := ledger.PlayerResults(txs, players, id)
		totals := ledger.TotalsOf(results)
		out.Sessions = append(out.Sessions, SessionRecord{
			SessionID:   id,
			Currency:    session.Currency,
			Stage:       stage.Derive(snap),
			CreatedAt:   session.CreatedAt,
			FinalizedAt: session.FinalizedAt,
			Players:     len(players),
			Totals:      totals,
			Balanced:    totals.IsBalanced(),
		})

		for _, r := range results {
			if r.Player.IdentityID == nil {
				continue
			}
			key := identityKey{*r.Player.IdentityID, session.Currency}
			rec, ok := byIdentity[key]
			if !ok {
				rec = &IdentityRecord{
					IdentityID:    key.identity,
					Currency:      key.currency,
					TotalBuyins:   decimal.Zero,
					TotalCashouts: decimal.Zero,
					PL:            decimal.Zero,
				}
				byIdentity[key] = rec
			}
			rec.Sessions++
			rec.TotalBuyins = rec.TotalBuyins.Add(r.TotalBuyins)
			rec.TotalCashouts = rec.TotalCashouts.Add(r.TotalCashouts)
			rec.PL = rec.PL.Add(r.PL)
		}
	}

	for _, rec := range byIdentity {
		out.Identities = append(out.Identities, *rec)
	}
	sort.Slice(out.Identities, func(i, j int) bool {
		a, b := out.Identities[i], out.Identities[j]
		if c := a.PL.Cmp(b.PL); c != 0 {
			return c > 0
		}
		if a.IdentityID != b.IdentityID {
			return a.IdentityID < b.IdentityID
		}
		return a.Currency < b.Currency
	})
	return out, nil
}

func dedupe(ids []ledger.SessionID) []ledger.SessionID {
	seen := make(map[ledger.SessionID]bool, len(ids))
	out := make([]ledger.SessionID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
