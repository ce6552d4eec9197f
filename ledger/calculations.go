/*
calculations.go - Per-player and session aggregation

PURPOSE:
  Answers "who is up, who is down, and does the table balance?" from a list
  of transactions. All functions are pure: no I/O, inputs are never mutated.

FORMULAS:
  PlayerResult.PL        = sum(cashouts) - sum(buyins)
  Totals.TotalProfitLoss = sum(PlayerResult.PL)

  For a session where no money left the table the total is zero. A total
  outside BalanceTolerance is rake or a typo; it is reported, never fixed.

CLASSIFICATION (tolerance = 0.01):
  winner      PL >  tolerance
  loser       PL < -tolerance
  break-even  otherwise

EDGE CASES:
  - A player without transactions has zero sums and is break-even.
  - Negative amounts are rejected by the writer; if one slips through it is
    summed as given.
  - Transactions of other sessions are ignored.
*/
package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// AGGREGATION
// =============================================================================

// PlayerResults sums buy-ins and cash-outs per player for the given session.
// The output has one entry per input player, in input order.
func PlayerResults(transactions []Transaction, players []Player, sessionID SessionID) []PlayerResult {
	type sums struct {
		buyins   decimal.Decimal
		cashouts decimal.Decimal
	}

	byPlayer := make(map[PlayerID]*sums, len(players))
	for _, p := range players {
		byPlayer[p.ID] = &sums{buyins: decimal.Zero, cashouts: decimal.Zero}
	}

	for _, tx := range transactions {
		if tx.SessionID != sessionID {
			continue
		}
		s, ok := byPlayer[tx.PlayerID]
		if !ok {
			continue
		}
		switch tx.Kind {
		case KindBuyin:
			s.buyins = s.buyins.Add(tx.Amount)
		case KindCashout:
			s.cashouts = s.cashouts.Add(tx.Amount)
		}
	}

	results := make([]PlayerResult, len(players))
	for i, p := range players {
		s := byPlayer[p.ID]
		results[i] = PlayerResult{
			Player:        p,
			TotalBuyins:   s.buyins,
			TotalCashouts: s.cashouts,
			PL:            s.cashouts.Sub(s.buyins),
		}
	}
	return results
}

// SessionTotals sums all per-player figures of the session.
func SessionTotals(transactions []Transaction, players []Player, sessionID SessionID) Totals {
	return TotalsOf(PlayerResults(transactions, players, sessionID))
}

// TotalsOf sums already computed player results.
func TotalsOf(results []PlayerResult) Totals {
	t := Totals{
		TotalBuyins:     decimal.Zero,
		TotalCashouts:   decimal.Zero,
		TotalProfitLoss: decimal.Zero,
	}
	for _, r := range results {
		t.TotalBuyins = t.TotalBuyins.Add(r.TotalBuyins)
		t.TotalCashouts = t.TotalCashouts.Add(r.TotalCashouts)
		t.TotalProfitLoss = t.TotalProfitLoss.Add(r.PL)
	}
	return t
}

// IsBalanced reports whether the total profit/loss is within tolerance of zero.
func (t Totals) IsBalanced() bool {
	return t.TotalProfitLoss.Abs().LessThanOrEqual(BalanceTolerance)
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func (r PlayerResult) IsWinner() bool    { return r.PL.GreaterThan(BalanceTolerance) }
func (r PlayerResult) IsLoser() bool     { return r.PL.LessThan(BalanceTolerance.Neg()) }
func (r PlayerResult) IsBreakEven() bool { return !r.IsWinner() && !r.IsLoser() }

// Winners returns the winning results, preserving order.
func Winners(results []PlayerResult) []PlayerResult {
	var out []PlayerResult
	for _, r := range results {
		if r.IsWinner() {
			out = append(out, r)
		}
	}
	return out
}

// Losers returns the losing results, preserving order.
func Losers(results []PlayerResult) []PlayerResult {
	var out []PlayerResult
	for _, r := range results {
		if r.IsLoser() {
			out = append(out, r)
		}
	}
	return out
}

// SumWinnings sums the P/L of all winners in results.
func SumWinnings(results []PlayerResult) decimal.Decimal {
	total := decimal.Zero
	for _, r := range results {
		if r.IsWinner() {
			total = total.Add(r.PL)
		}
	}
	return total
}

// SumLosses sums the P/L of all losers in results, as a positive magnitude.
func SumLosses(results []PlayerResult) decimal.Decimal {
	total := decimal.Zero
	for _, r := range results {
		if r.IsLoser() {
			total = total.Add(r.PL.Neg())
		}
	}
	return total
}

// =============================================================================
// SNAPSHOT HELPERS
// =============================================================================

// Results computes PlayerResults for the snapshot's session.
func (s Snapshot) Results() []PlayerResult {
	return PlayerResults(s.Transactions, s.Players, s.Session.ID)
}

// Totals computes SessionTotals for the snapshot's session.
func (s Snapshot) Totals() Totals {
	return SessionTotals(s.Transactions, s.Players, s.Session.ID)
}

// CountKind returns the number of transactions of the given kind in the
// snapshot's session.
func (s Snapshot) CountKind(kind TxKind) int {
	n := 0
	for _, tx := range s.Transactions {
		if tx.SessionID == s.Session.ID && tx.Kind == kind {
			n++
		}
	}
	return n
}

// Player returns the player with the given id, if present in the snapshot.
func (s Snapshot) Player(id PlayerID) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// Transaction returns the transaction with the given id, if present.
func (s Snapshot) Transaction(id TransactionID) (Transaction, bool) {
	for _, tx := range s.Transactions {
		if tx.ID == id {
			return tx, true
		}
	}
	return Transaction{}, false
}
