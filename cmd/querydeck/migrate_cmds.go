package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/migration"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the metadata store schema",
	}
	cmd.AddCommand(
		migrateAction("up", "Apply every pending migration", (*migration.Migrator).Up),
		migrateAction("down", "Revert every applied migration", (*migration.Migrator).Down),
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				mg, err := openMigrator()
				if err != nil {
					return err
				}
				defer mg.Close()
				version, dirty, ok, err := mg.Version()
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "no migration applied")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", version, dirty)
				return nil
			},
		},
	)
	return cmd
}

func openMigrator() (*migration.Migrator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return migration.Open(cfg.QueryDeck.Store)
}

func migrateAction(use, short string, run func(*migration.Migrator, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mg, err := openMigrator()
			if err != nil {
				return err
			}
			defer mg.Close()
			return run(mg, cmd.Context())
		},
	}
}
