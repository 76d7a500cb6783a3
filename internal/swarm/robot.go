package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/swarmvote/internal/decision"
	"github.com/mtzanidakis/swarmvote/internal/results"
)

// Recorder persists a robot's result row.
type Recorder interface {
	Record(ctx context.Context, rec results.Record) error
}

type RobotConfig struct {
	ID             string
	Proposal       string
	SwarmSize      int
	Round          string
	ReadyTimeout   time.Duration
	CollectTimeout time.Duration
	// RecordFailures writes a failure-tagged row when the round aborts.
	RecordFailures bool
}

func (c RobotConfig) validate() error {
	switch {
	case c.ID == "":
		return errors.New("robot id is required")
	case c.Proposal == "":
		return errors.New("proposal is required")
	case c.SwarmSize < 1:
		return fmt.Errorf("swarm size must be at least 1, got %d", c.SwarmSize)
	case c.Round == "":
		return errors.New("round id is required")
	case c.ReadyTimeout <= 0 || c.CollectTimeout <= 0:
		return errors.New("timeouts must be positive")
	}
	return nil
}

// Robot runs one round of the protocol: readiness barrier, proposal
// exchange, decision and result logging, strictly in that order.
type Robot struct {
	cfg RobotConfig
	ch  Channel
	rec Recorder
}

func NewRobot(cfg RobotConfig, ch Channel, rec Recorder) (*Robot, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Robot{cfg: cfg, ch: ch, rec: rec}, nil
}

// Outcome is what a successful round produced for this robot.
type Outcome struct {
	Round       string
	RobotID     string
	Proposal    string
	Roster      []string
	Proposals   map[string]string
	Decision    decision.Decision
	Convergence time.Duration
}

// Run drives the robot through one round. The returned error is a
// *natsbus.ConnectionError, *BarrierTimeout, *CollectionTimeout or
// *results.LogWriteError for the documented failure modes.
func (r *Robot) Run(ctx context.Context) (*Outcome, error) {
	round := NewRound(r.cfg.Round, r.cfg.SwarmSize)
	log := slog.With("robot", r.cfg.ID, "round", r.cfg.Round)
	log.Info("robot starting", "proposal", r.cfg.Proposal, "swarm_size", r.cfg.SwarmSize)

	barrier := NewBarrier(r.ch, round, r.cfg.ID)
	defer barrier.Close()

	if err := barrier.AnnounceReady(ctx); err != nil {
		return nil, r.fail(ctx, err, failureStatus(err))
	}
	roster, err := barrier.AwaitQuorum(ctx, r.cfg.ReadyTimeout)
	if err != nil {
		return nil, r.fail(ctx, err, failureStatus(err))
	}

	exchanger := NewExchanger(r.ch, round, r.cfg.ID, r.cfg.Proposal)
	defer exchanger.Close()

	start := time.Now()
	if err := exchanger.BroadcastProposal(ctx); err != nil {
		return nil, r.fail(ctx, err, failureStatus(err))
	}
	proposals, err := exchanger.CollectAll(ctx, r.cfg.CollectTimeout)
	if err != nil {
		return nil, r.fail(ctx, err, failureStatus(err))
	}

	d, err := decision.Decide(proposals, r.cfg.SwarmSize)
	if err != nil {
		return nil, r.fail(ctx, err, StatusDecisionError)
	}
	convergence := time.Since(start)
	log.Info("decision reached", "decision", d.Text, "votes", d.Count, "majority", d.Majority, "convergence", convergence)

	err = r.rec.Record(ctx, results.Record{
		Round:       r.cfg.Round,
		RobotID:     r.cfg.ID,
		Proposal:    r.cfg.Proposal,
		Decision:    d.Text,
		Timestamp:   time.Now().UTC(),
		Status:      results.StatusOK,
		Convergence: convergence,
	})
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Round:       r.cfg.Round,
		RobotID:     r.cfg.ID,
		Proposal:    r.cfg.Proposal,
		Roster:      roster,
		Proposals:   proposals,
		Decision:    d,
		Convergence: convergence,
	}, nil
}

// fail logs the aborted round and, if enabled, writes a failure row. The
// original error is always returned; a failed failure-row write is only
// logged. Cancellation never produces a row.
func (r *Robot) fail(ctx context.Context, cause error, status string) error {
	slog.Error("round aborted", "robot", r.cfg.ID, "round", r.cfg.Round, "status", status, "error", cause)

	if !r.cfg.RecordFailures || errors.Is(cause, context.Canceled) {
		return cause
	}
	err := r.rec.Record(context.WithoutCancel(ctx), results.Record{
		Round:     r.cfg.Round,
		RobotID:   r.cfg.ID,
		Proposal:  r.cfg.Proposal,
		Timestamp: time.Now().UTC(),
		Status:    status,
	})
	if err != nil {
		slog.Error("failed to record failure row", "robot", r.cfg.ID, "error", err)
	}
	return cause
}
