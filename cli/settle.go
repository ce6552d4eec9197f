package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/cashgame-ledger/ledger"
	"github.com/warp/cashgame-ledger/report"
)

func newSettleCmd() *cobra.Command {
	var (
		file   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle a session snapshot file without a store",
		Long: `settle reads a JSON snapshot ({"session": ..., "players": [...],
"transactions": [...]}) and prints who pays whom. Use "-f -" for stdin.

session_id may be omitted on players and transactions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			if err := ledger.ValidateSnapshot(snap); err != nil {
				return fmt.Errorf("invalid snapshot: %w", err)
			}

			at := time.Now().UTC()
			if snap.Session.FinalizedAt != nil {
				at = *snap.Session.FinalizedAt
			}
			summary := ledger.BuildSummary(snap, at)

			out := cmd.OutOrStdout()
			switch output {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			case "text":
				_, err := io.WriteString(out, report.Text(summary))
				return err
			default:
				return fmt.Errorf("unknown output format %q (use text or json)", output)
			}
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Snapshot JSON file (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readSnapshot(stdin io.Reader, path string) (ledger.Snapshot, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return ledger.Snapshot{}, fmt.Errorf("opening snapshot: %w", err)
		}
		defer f.Close()
		r = f
	}

	var snap ledger.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	if snap.Session.Currency == "" {
		snap.Session.Currency = "USD"
	}
	for i := range snap.Players {
		if snap.Players[i].SessionID == "" {
			snap.Players[i].SessionID = snap.Session.ID
		}
	}
	for i := range snap.Transactions {
		if snap.Transactions[i].SessionID == "" {
			snap.Transactions[i].SessionID = snap.Session.ID
		}
	}
	return snap, nil
}
