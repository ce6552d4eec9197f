package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/cashgame-ledger/config"
	"github.com/warp/cashgame-ledger/factory"
)

func newMigrateCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the schema of the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

			// Opening a store migrates it.
			_, closer, err := factory.OpenStore(cmd.Context(), &cfg.Store, logger)
			if err != nil {
				return err
			}
			if closer != nil {
				if err := closer.Close(); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Store.Driver)
			return nil
		},
	}
}
