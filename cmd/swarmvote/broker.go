package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/swarmvote/internal/natsbus"
	"github.com/spf13/cobra"
)

func newBrokerCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "broker",
		Short: "Run the embedded NATS broker until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBroker(ctx, load)
		},
	}
}

func runBroker(ctx context.Context, load loadFunc) error {
	cfg, err := load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting swarmvote broker", "version", version)

	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()

	// Create the round stream up front so the first robot does not race
	// others to do it.
	client, err := natsbus.NewClient(ctx, bus)
	if err != nil {
		return fmt.Errorf("init stream: %w", err)
	}
	client.Close()

	slog.Info("nats started", "url", bus.ClientURL(), "stream", cfg.NATS.Stream, "max_age", cfg.NATS.MaxAge)

	<-ctx.Done()
	slog.Info("shutting down", "clients", bus.NumClients())
	return nil
}
