// Command antai runs the agent-team orchestrator: it supervises agent CLI
// processes on pseudo-terminals and serves the dashboard protocol.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"antai/internal/infra/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	serve := newServeCmd(opts)

	root := &cobra.Command{
		Use:           "antai",
		Short:         "Orchestrate teams of coding agents on pseudo-terminals",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(),
		"config file path (env ANTAI_CONFIG)")

	root.AddCommand(serve, newReconcileCmd(opts), newStatusCmd(opts), newDoctorCmd(opts), newVersionCmd())
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("ANTAI_CONFIG"); p != "" {
		return p
	}
	return "antai.yaml"
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", config.AppName, config.AppVersion)
		},
	}
}
