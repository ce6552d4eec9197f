package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashgame-ledger/ledger"
)

const headsUpSnapshot = `{
  "session": {"id": "fri", "currency": "EUR", "created_at": "2026-05-01T19:00:00Z", "finalized_at": "2026-05-01T23:00:00Z"},
  "players": [
    {"id": "a", "name": "A", "created_at": "2026-05-01T19:00:00Z"},
    {"id": "b", "name": "B", "created_at": "2026-05-01T19:01:00Z"}
  ],
  "transactions": [
    {"id": "t1", "player_id": "a", "kind": "buyin", "amount": "100", "created_at": "2026-05-01T19:05:00Z"},
    {"id": "t2", "player_id": "b", "kind": "buyin", "amount": 100, "created_at": "2026-05-01T19:05:00Z"},
    {"id": "t3", "player_id": "a", "kind": "cashout", "amount": "150", "created_at": "2026-05-01T23:00:00Z"},
    {"id": "t4", "player_id": "b", "kind": "cashout", "amount": "50", "created_at": "2026-05-01T23:00:00Z"}
  ]
}`

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSettle_Text(t *testing.T) {
	path := writeFile(t, "fri.json", headsUpSnapshot)

	out, err := run(t, "", "settle", "-f", path)

	require.NoError(t, err)
	assert.Contains(t, out, "Cash game Fri 1 May 2026")
	assert.Contains(t, out, "Pot: 200.00 EUR")
	assert.Contains(t, out, "B → A: 50.00 EUR")
	assert.NotContains(t, out, "Warning")
}

func TestSettle_JSONFromStdin(t *testing.T) {
	out, err := run(t, headsUpSnapshot, "settle", "-f", "-", "-o", "json")

	require.NoError(t, err)
	var summary ledger.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, ledger.SessionID("fri"), summary.SessionID)
	assert.True(t, summary.Balanced)
	require.Len(t, summary.Transfers, 1)
	assert.Equal(t, ledger.PlayerID("b"), summary.Transfers[0].DebtorID)
	assert.Equal(t, ledger.PlayerID("a"), summary.Transfers[0].CreditorID)
}

func TestSettle_Unbalanced(t *testing.T) {
	snapshot := strings.Replace(headsUpSnapshot, `"amount": "50"`, `"amount": "40"`, 1)

	out, err := run(t, snapshot, "settle", "-f", "-")

	require.NoError(t, err)
	assert.Contains(t, out, "Warning: totals do not balance")
}

func TestSettle_Errors(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{"missing file flag", "", []string{"settle"}, "required flag"},
		{"unknown player", strings.Replace(headsUpSnapshot, `"player_id": "b", "kind": "cashout"`, `"player_id": "z", "kind": "cashout"`, 1), []string{"settle", "-f", "-"}, "invalid snapshot"},
		{"malformed json", "{", []string{"settle", "-f", "-"}, "decoding snapshot"},
		{"bad format", headsUpSnapshot, []string{"settle", "-f", "-", "-o", "yaml"}, "unknown output format"},
		{"no such file", "", []string{"settle", "-f", filepath.Join(t.TempDir(), "nope.json")}, "opening snapshot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.stdin, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMigrate_SQLite(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	cfgPath := writeFile(t, "config.yaml", "store:\n  driver: sqlite\n  sqlite:\n    path: "+dbPath+"\nlog:\n  level: error\n")

	out, err := run(t, "", "migrate", "--config", cfgPath)

	require.NoError(t, err)
	assert.Equal(t, "sqlite schema is up to date\n", out)
	assert.FileExists(t, dbPath)
}

func TestMigrate_BadConfig(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", "store:\n  driver: mongo\n")

	_, err := run(t, "", "migrate", "-c", cfgPath)

	assert.ErrorContains(t, err, "unknown store driver")
}

func TestRootCmd_Subcommands(t *testing.T) {
	names := []string{}
	for _, c := range NewRootCmd().Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "settle"})
}
