package report

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/cashgame-ledger/ledger"
)

func result(id, name, pl string) ledger.PlayerResult {
	return ledger.PlayerResult{
		Player: ledger.Player{ID: ledger.PlayerID(id), Name: name},
		PL:     decimal.RequireFromString(pl),
	}
}

func TestText_Balanced(t *testing.T) {
	s := ledger.Summary{
		SessionID:   "s1",
		Currency:    "USD",
		FinalizedAt: time.Date(2026, 5, 2, 23, 0, 0, 0, time.UTC),
		Results: []ledger.PlayerResult{
			result("p1", "Bob", "-50"),
			result("p2", "Alice", "50"),
			result("p3", "Carol", "0"),
		},
		Totals:   ledger.Totals{TotalBuyins: decimal.NewFromInt(300), TotalProfitLoss: decimal.Zero},
		Balanced: true,
		Transfers: []ledger.Transfer{
			{DebtorID: "p1", DebtorName: "Bob", CreditorID: "p2", CreditorName: "Alice", Amount: decimal.NewFromInt(50)},
		},
	}

	expected := "Cash game Sat 2 May 2026\n" +
		"Pot: 300.00 USD\n" +
		"\n" +
		"Standings\n" +
		" 1. Alice  +50.00\n" +
		" 2. Carol  0.00\n" +
		" 3. Bob    -50.00\n" +
		"\n" +
		"Payments\n" +
		"Bob → Alice: 50.00 USD\n"

	assert.Equal(t, expected, Text(s))
}

func TestText_UnbalancedWarnsAndNoPayments(t *testing.T) {
	s := ledger.Summary{
		Currency:    "EUR",
		FinalizedAt: time.Date(2026, 1, 9, 1, 0, 0, 0, time.UTC),
		Results:     []ledger.PlayerResult{result("p1", "Ann", "-5")},
		Totals:      ledger.Totals{TotalBuyins: decimal.NewFromInt(100), TotalProfitLoss: decimal.NewFromInt(-5)},
		Balanced:    false,
		Transfers:   []ledger.Transfer{},
	}

	out := Text(s)

	assert.Contains(t, out, "No payments needed.")
	assert.Contains(t, out, "Warning: totals do not balance (off by -5.00 EUR)")
}

func TestStandings_StableOnTies(t *testing.T) {
	in := []ledger.PlayerResult{
		result("p1", "A", "10"),
		result("p2", "B", "20"),
		result("p3", "C", "10"),
	}

	got := Standings(in)

	assert.Equal(t, ledger.PlayerID("p2"), got[0].Player.ID)
	assert.Equal(t, ledger.PlayerID("p1"), got[1].Player.ID)
	assert.Equal(t, ledger.PlayerID("p3"), got[2].Player.ID)
	assert.Equal(t, ledger.PlayerID("p1"), in[0].Player.ID)
}
