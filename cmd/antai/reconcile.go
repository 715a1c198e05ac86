package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"antai/internal/adapter/store"
	"antai/internal/infra/logger"
	"antai/internal/usecase/reconcile"
	"antai/internal/usecase/rooms"
)

// newReconcileCmd repairs stale agent and team records without starting the
// gateway. No process is live in this mode, so every active record is stale.
func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var (
		projectID   string
		killOrphans bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair stale agent and team state, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != "sqlite" {
				return fmt.Errorf("reconcile needs a persistent store, driver is %q", cfg.Store.Driver)
			}
			log, closeLog, err := logger.New(cfg.Logger)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = closeLog() }()

			lock, err := acquireLock(cfg.Server.LockFile)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			st, err := store.NewSQLite(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer st.Close()

			r := reconcile.New(st, noLiveProcesses{}, reconcile.SystemInspector{},
				rooms.NewRegistry(log), reconcile.Options{
					CLIName:     filepath.Base(cfg.Process.CLIPath),
					KillOrphans: killOrphans,
				}, logger.Component(log, "reconcile"))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			var report *reconcile.Report
			if projectID != "" {
				report, err = r.Reconcile(ctx, projectID)
			} else {
				report, err = r.ReconcileAll(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d agent(s), %d team(s), %d orphan(s)\n",
				len(report.Agents), len(report.Teams), len(report.Orphans))
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "only reconcile this project")
	cmd.Flags().BoolVar(&killOrphans, "kill-orphans", false, "terminate orphaned agent processes")
	return cmd
}

type noLiveProcesses struct{}

func (noLiveProcesses) IsRunning(string) bool { return false }
