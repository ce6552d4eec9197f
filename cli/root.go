// Package cli implements the pokerledger command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/cashgame-ledger/config"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "pokerledger",
		Short: "Cash-game session ledger",
		Long: `pokerledger tracks buy-ins and cash-outs of home cash games, gates edits
through the session stages and settles who pays whom at the end.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("POKERLEDGER_CONFIG"),
		"Path to YAML config (env: POKERLEDGER_CONFIG); defaults apply when empty")

	load := func() (*config.Config, error) {
		if configPath == "" {
			return config.Default(), nil
		}
		return config.Load(configPath)
	}

	rootCmd.AddCommand(newServeCmd(load))
	rootCmd.AddCommand(newMigrateCmd(load))
	rootCmd.AddCommand(newSettleCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
