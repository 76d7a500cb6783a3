package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/swarmvote/internal/config"
	"github.com/mtzanidakis/swarmvote/internal/natsbus"
	"github.com/mtzanidakis/swarmvote/internal/results"
	"github.com/mtzanidakis/swarmvote/internal/store"
	"github.com/mtzanidakis/swarmvote/internal/swarm"
	"github.com/spf13/cobra"
)

const (
	exitOK = iota
	exitUnexpected
	exitUsage
	exitConnection
	exitBarrierTimeout
	exitCollectionTimeout
	exitLogWrite
)

// usageError marks bad flags or configuration.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	robotID    string
	robotIDSet bool
	proposal   string
	swarmSize  int
	round      string
	configPath string
	natsURL    string
	verbose    bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "robot: %v\n", err)
	}
	return exitCode(err)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "robot",
		Short: "Join a swarm round and agree on one proposal",
		Long: `robot waits until every member of the swarm is ready, exchanges proposals
over the broker, applies the shared decision rule and appends its result
to the shared log.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unexpected arguments %q", args)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.robotIDSet = cmd.Flags().Changed("robot-id")
			return runRobot(cmd.Context(), opts, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	f := cmd.Flags()
	f.StringVar(&opts.robotID, "robot-id", "", "unique id of this robot (default: robot_<uuid>)")
	f.StringVar(&opts.proposal, "proposal", "", "proposal to vote for (default: random from round.proposals)")
	f.IntVar(&opts.swarmSize, "swarm-size", 0, "number of robots in the swarm (required)")
	f.StringVar(&opts.round, "round", "", "round id (default from config)")
	f.StringVarP(&opts.configPath, "config", "c", "", "config file (default $SWARMVOTE_CONFIG or config/swarmvote.yaml)")
	f.StringVar(&opts.natsURL, "nats-url", "", "broker url (default from config or NATS_URL)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func runRobot(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	if opts.swarmSize <= 0 {
		return usagef("--swarm-size must be a positive integer")
	}
	if opts.robotID == "" {
		if opts.robotIDSet {
			return usagef("--robot-id must not be empty")
		}
		opts.robotID = "robot_" + uuid.NewString()
	}

	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return &usageError{err: fmt.Errorf("load config: %w", err)}
	}
	if opts.round != "" {
		cfg.Round.ID = opts.round
	}
	if opts.natsURL != "" {
		cfg.NATS.URL = opts.natsURL
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}

	proposal := opts.proposal
	if proposal == "" {
		if len(cfg.Round.Proposals) == 0 {
			return usagef("--proposal not set and round.proposals is empty")
		}
		proposal = cfg.Round.Proposals[rand.IntN(len(cfg.Round.Proposals))]
	}

	appender, closeAppender, err := openAppender(cfg.Results)
	if err != nil {
		return fmt.Errorf("open results log: %w", err)
	}
	defer closeAppender()
	recorder := results.NewRecorder(appender,
		results.WithRetries(cfg.Results.Retries),
		results.WithBackoff(cfg.Results.RetryBackoff),
	)

	client, err := natsbus.NewClientFromURL(ctx, cfg.NATS)
	if err != nil {
		return err
	}
	defer client.Close()
	slog.Info("connected to broker", "url", cfg.NATS.URL)

	robot, err := swarm.NewRobot(swarm.RobotConfig{
		ID:             opts.robotID,
		Proposal:       proposal,
		SwarmSize:      opts.swarmSize,
		Round:          cfg.Round.ID,
		ReadyTimeout:   cfg.Round.ReadyTimeout,
		CollectTimeout: cfg.Round.CollectTimeout,
		RecordFailures: cfg.Results.RecordFailures,
	}, client, recorder)
	if err != nil {
		return &usageError{err: err}
	}

	out, err := robot.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s proposed %q, swarm decided %s in %s\n",
		out.RobotID, out.Proposal, out.Decision, out.Convergence.Round(time.Millisecond))
	return nil
}

// openAppender returns the results backend named by the config.
func openAppender(cfg config.ResultsConfig) (results.Appender, func(), error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := store.New(cfg.Store())
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	default:
		csvLog, err := results.NewCSVLog(cfg.Path, cfg.LockTimeout)
		if err != nil {
			return nil, nil, err
		}
		return csvLog, func() {}, nil
	}
}

func exitCode(err error) int {
	var (
		ue *usageError
		ce *natsbus.ConnectionError
		bt *swarm.BarrierTimeout
		ct *swarm.CollectionTimeout
		lw *results.LogWriteError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue):
		return exitUsage
	case errors.As(err, &lw):
		return exitLogWrite
	case errors.As(err, &ce):
		return exitConnection
	case errors.As(err, &bt):
		return exitBarrierTimeout
	case errors.As(err, &ct):
		return exitCollectionTimeout
	default:
		return exitUnexpected
	}
}
