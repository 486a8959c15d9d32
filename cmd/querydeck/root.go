package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/tigerroll/querydeck/internal/app"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
)

var envFilePath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "querydeck",
		Short: "Scheduled queries, alerts and schema snapshots for MariaDB",
		Long: `querydeck runs scheduled queries against MariaDB/MySQL targets, evaluates
alert conditions on their results, notifies owners and keeps a versioned cache
of target schemas.

Periodic work is driven from outside: call "execute" every few minutes and
"sweep" about once a day, or run "serve" and POST to its trigger routes.

Examples:
  querydeck execute                      # Fire every due schedule
  querydeck run s-42 --principal alice   # Fire one schedule now
  querydeck snapshot c-1 --principal alice
  querydeck migrate up
  querydeck serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultEnv := os.Getenv("ENV_FILE_PATH")
	if defaultEnv == "" {
		defaultEnv = ".env"
	}
	root.PersistentFlags().StringVar(&envFilePath, "env-file", defaultEnv, "Path of the .env file to load")

	root.AddCommand(
		newExecuteCmd(),
		newSweepCmd(),
		newRunCmd(),
		newSnapshotCmd(),
		newVaultCmd(),
		newMigrateCmd(),
		newServeCmd(),
	)
	return root
}

func loadConfig() (*config.Config, error) {
	return app.Load(envFilePath, config.EmbeddedConfig(embeddedConfig))
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
