package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/internal/app"
	"github.com/tigerroll/querydeck/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the trigger and snapshot routes over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := fx.New(app.Options(cfg, server.Module))
			if err := a.Err(); err != nil {
				return err
			}
			a.Run()
			return nil
		},
	}
}
