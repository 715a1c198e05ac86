package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"antai/internal/adapter/store"
	"antai/internal/adapter/tui/dashboard"
)

// newStatusCmd shows projects, teams and agents from the database. It reads
// while serve writes, so it takes no lock.
func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show teams and agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != "sqlite" {
				return fmt.Errorf("status needs a persistent store, driver is %q", cfg.Store.Driver)
			}
			st, err := store.NewSQLite(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer st.Close()

			if watch {
				_, err := tea.NewProgram(dashboard.New(st, interval), tea.WithAltScreen()).Run()
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			snap, err := dashboard.Load(ctx, st)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dashboard.Render(snap, 0))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "refresh continuously")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval with --watch")
	return cmd
}
