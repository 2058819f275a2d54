package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pg "matrimony-billing/internal/infra/db/postgres"
)

func migrateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long: `Apply the schema file to the configured database.

The schema is idempotent (CREATE ... IF NOT EXISTS), so running it twice is safe.

Examples:
  billingctl migrate
  billingctl migrate --file deploy/postgres/init.sql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read schema: %w", err)
			}
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 1)
			if err != nil {
				return err
			}
			if pool == nil {
				return errors.New("database.url (or DATABASE_URL) is required")
			}
			defer pool.Close()

			if _, err := pool.Exec(ctx, string(sql)); err != nil {
				return fmt.Errorf("apply %s: %w", file, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "deploy/postgres/init.sql", "schema file")
	return cmd
}
