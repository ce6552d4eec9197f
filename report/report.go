// Package report renders a finalized session as plain text that can be
// pasted into a group chat.
package report

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/warp/cashgame-ledger/ledger"
)

// Text renders the summary: title, pot, standings, payments and, when the
// totals do not balance, a warning with the discrepancy.
func Text(s ledger.Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Cash game %s\n", s.FinalizedAt.Format("Mon 2 Jan 2006"))
	fmt.Fprintf(&b, "Pot: %s\n", money(s.Totals.TotalBuyins, s.Currency))

	b.WriteString("\nStandings\n")
	standings := Standings(s.Results)
	width := 0
	for _, r := range standings {
		if n := utf8.RuneCountInString(r.Player.Name); n > width {
			width = n
		}
	}
	for i, r := range standings {
		pad := strings.Repeat(" ", width-utf8.RuneCountInString(r.Player.Name))
		fmt.Fprintf(&b, "%2d. %s%s  %s\n", i+1, r.Player.Name, pad, signed(r.PL))
	}

	b.WriteString("\nPayments\n")
	if len(s.Transfers) == 0 {
		b.WriteString("No payments needed.\n")
	}
	for _, t := range s.Transfers {
		fmt.Fprintf(&b, "%s → %s: %s\n", t.DebtorName, t.CreditorName, money(t.Amount, s.Currency))
	}

	if !s.Balanced {
		fmt.Fprintf(&b, "\nWarning: totals do not balance (off by %s). Check for rake or a typo.\n",
			signed(s.Totals.TotalProfitLoss)+" "+s.Currency)
	}
	return b.String()
}

// Standings orders results by P/L, highest first. Ties keep their order.
func Standings(results []ledger.PlayerResult) []ledger.PlayerResult {
	out := make([]ledger.PlayerResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PL.GreaterThan(out[j].PL)
	})
	return out
}

func money(d decimal.Decimal, currency string) string {
	return d.StringFixed(2) + " " + currency
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}
