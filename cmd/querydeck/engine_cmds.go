package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/tigerroll/querydeck/internal/app"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/executor"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/retention"
	"github.com/tigerroll/querydeck/pkg/querydeck/engine/schema"
)

func newExecuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute",
		Short: "Fire every active schedule that is due now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var exec *executor.Executor
			return app.Run(cmd.Context(), cfg, func(ctx context.Context) error {
				summary, err := exec.RunDue(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			}, &exec)
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete execution history older than each schedule's retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var sweeper *retention.Sweeper
			return app.Run(cmd.Context(), cfg, func(ctx context.Context) error {
				report, err := sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			}, &sweeper)
		},
	}
}

func requirePrincipal(p string) error {
	if p == "" {
		return errors.New("--principal is required")
	}
	return nil
}

func newRunCmd() *cobra.Command {
	var principal string
	cmd := &cobra.Command{
		Use:   "run <schedule-id>",
		Short: "Fire one schedule immediately",
		Long:  "Fire one schedule immediately, skipping the due check. The record is stored even when the query fails.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePrincipal(principal); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var exec *executor.Executor
			return app.Run(cmd.Context(), cfg, func(ctx context.Context) error {
				rec, runErr := exec.RunNow(ctx, args[0], principal)
				if rec != nil {
					if err := printJSON(cmd, rec); err != nil {
						return err
					}
				}
				return runErr
			}, &exec)
		},
	}
	cmd.Flags().StringVar(&principal, "principal", "", "Owner id the schedule is fired as")
	return cmd
}

func newSnapshotCmd() *cobra.Command {
	var principal string
	var diffOnly bool
	cmd := &cobra.Command{
		Use:   "snapshot <connection-id>",
		Short: "Capture and store the schema of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePrincipal(principal); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var svc *schema.Service
			return app.Run(cmd.Context(), cfg, func(ctx context.Context) error {
				res, err := svc.Refresh(ctx, principal, args[0])
				if err != nil {
					return err
				}
				if diffOnly {
					if res.Diff == nil {
						return printJSON(cmd, map[string]interface{}{"versionId": res.Version.VersionID, "diff": nil})
					}
					return printJSON(cmd, res.Diff.Diff)
				}
				return printJSON(cmd, map[string]interface{}{
					"versionId":  res.Version.VersionID,
					"tableCount": res.Version.TableCount,
					"tables":     res.Version.Snapshot.TableNames(),
				})
			}, &svc)
		},
	}
	cmd.Flags().StringVar(&principal, "principal", "", "Owner id of the connection")
	cmd.Flags().BoolVar(&diffOnly, "diff", false, "Print only the difference to the previous version")
	return cmd
}
