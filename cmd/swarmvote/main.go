package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mtzanidakis/swarmvote/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "swarmvote",
		Short: "Operate swarm decision rounds",
		Long: `swarmvote runs the broker robots meet on and inspects, archives and
restores the results they record.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $SWARMVOTE_CONFIG or config/swarmvote.yaml)")

	load := func() (*config.Config, error) {
		if configPath != "" {
			return config.LoadFile(configPath)
		}
		return config.Load()
	}

	root.AddCommand(
		newBrokerCmd(load),
		newResultsCmd(load),
		newBackupCmd(load),
		newRestoreCmd(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "swarmvote %s\n", version)
			},
		},
	)
	return root
}

type loadFunc func() (*config.Config, error)
