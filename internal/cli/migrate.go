package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables or collections of the configured store",
		Long: `Create the tables (SQL drivers) or the capped actions collection (MongoDB) of
the configured store. Statements are idempotent. Other drivers need no setup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			storeCfg := cfg.Store
			storeCfg.Migrate = false

			s, err := openStore(cmd.Context(), storeCfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := migrate(cmd.Context(), s); err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), rootOpts.Format, map[string]string{"migrated": cfg.Store.Driver}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "migrated %s store\n", cfg.Store.Driver)
				return err
			})
		},
	}
}
