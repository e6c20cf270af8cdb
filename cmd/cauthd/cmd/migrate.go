package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/cauth/storage/postgres"
)

var migrateDSN string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := migrateDSN
		if dsn == "" {
			cfg, err := loadServerConfig(configPath, envFiles)
			if err != nil {
				return err
			}
			dsn = cfg.PostgresDSN
		}
		if dsn == "" {
			return errors.New("no postgres DSN: pass --postgres-dsn or set CAUTH_POSTGRES_DSN")
		}

		db, err := postgres.Open(cmd.Context(), dsn)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := postgres.Migrate(cmd.Context(), db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDSN, "postgres-dsn", "", "Postgres DSN")
	rootCmd.AddCommand(migrateCmd)
}
