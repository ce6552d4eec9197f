/*
settlement.go - Debtor -> creditor payment instructions

ALGORITHM (greedy, largest against largest):
  1. Compute PlayerResults.
  2. Creditors: PL > tolerance, remaining = PL.
     Debtors:   PL < -tolerance, remaining = -PL.
  3. Sort both lists by remaining, descending. The sort is stable, so equal
     amounts keep input order.
  4. Match the largest outstanding debtor with the largest outstanding
     creditor: amount = min(debtor.remaining, creditor.remaining). Emit it,
     decrement both, and advance past whoever is now within tolerance.
  5. Stop when either list is exhausted.

This is not the optimal minimum-transfer solution (that is a subset-sum
search). Which pairs pay whom is user visible, so the matching order above is
part of the contract and must not be "improved".

GUARANTEES:
  - len(transfers) <= #debtors + #creditors - 1 (or zero)
  - sum(transfers) == SumWinnings == SumLosses for a balanced session
  - every amount > 0, no debtor pays themselves
  - an unbalanced session leaves the larger side partially unmatched
*/
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type settlementParty struct {
	player    Player
	remaining decimal.Decimal
}

// SettlementTransfers computes the payments that zero out the session.
// It returns an empty list when nobody is a strict winner or loser.
func SettlementTransfers(transactions []Transaction, players []Player, sessionID SessionID) []Transfer {
	return TransfersFor(PlayerResults(transactions, players, sessionID))
}

// TransfersFor runs the greedy matching on already computed player results.
func TransfersFor(results []PlayerResult) []Transfer {
	var creditors, debtors []settlementParty
	for _, r := range results {
		switch {
		case r.IsWinner():
			creditors = append(creditors, settlementParty{player: r.Player, remaining: r.PL})
		case r.IsLoser():
			debtors = append(debtors, settlementParty{player: r.Player, remaining: r.PL.Neg()})
		}
	}

	sort.SliceStable(creditors, func(i, j int) bool {
		return creditors[i].remaining.GreaterThan(creditors[j].remaining)
	})
	sort.SliceStable(debtors, func(i, j int) bool {
		return debtors[i].remaining.GreaterThan(debtors[j].remaining)
	})

	transfers := []Transfer{}
	ci, di := 0, 0
	for ci < len(creditors) && di < len(debtors) {
		c := &creditors[ci]
		d := &debtors[di]

		amount := decimal.Min(d.remaining, c.remaining)
		transfers = append(transfers, Transfer{
			DebtorID:     d.player.ID,
			DebtorName:   d.player.Name,
			CreditorID:   c.player.ID,
			CreditorName: c.player.Name,
			Amount:       amount,
		})

		d.remaining = d.remaining.Sub(amount)
		c.remaining = c.remaining.Sub(amount)

		if d.remaining.LessThanOrEqual(BalanceTolerance) {
			di++
		}
		if c.remaining.LessThanOrEqual(BalanceTolerance) {
			ci++
		}
	}
	return transfers
}

// BuildSummary computes the read-only settlement record for a snapshot.
// The whole summary derives from the one snapshot; nothing is incremental.
func BuildSummary(s Snapshot, finalizedAt time.Time) Summary {
	results := s.Results()
	totals := TotalsOf(results)
	return Summary{
		SessionID:   s.Session.ID,
		Currency:    s.Session.Currency,
		FinalizedAt: finalizedAt,
		Results:     results,
		Totals:      totals,
		Balanced:    totals.IsBalanced(),
		Transfers:   TransfersFor(results),
	}
}
