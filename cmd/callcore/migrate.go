package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-callcore/internal/dotenv"
	"github.com/vango-go/vai-callcore/pkg/store"
)

func newMigrateCmd() *cobra.Command {
	var (
		envFile     string
		databaseURL string
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply archive schema migrations to Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dotenv.LoadFile(envFile); err != nil {
				return err
			}
			url := databaseURL
			if url == "" {
				url = dotenv.Lookup("CALLCORE_DATABASE_URL", "DATABASE_URL")
			}
			if url == "" {
				return errors.New("no database url: set --database-url or CALLCORE_DATABASE_URL")
			}
			logger := newLogger(cmd.ErrOrStderr(), "text", "info")
			if err := store.Migrate(cmd.Context(), url, logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection URL (default: CALLCORE_DATABASE_URL)")
	return cmd
}
