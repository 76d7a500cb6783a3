package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/swarmvote/internal/natsbus"
)

// Exchanger is the proposal phase of a round. It may only run once the
// barrier has reached quorum; proposals from robots outside the roster are
// dropped.
type Exchanger struct {
	ch          Channel
	round       *Round
	own         Proposal
	topic       string
	feed        natsbus.Feed
	broadcasted bool
}

func NewExchanger(ch Channel, round *Round, robotID, text string) *Exchanger {
	return &Exchanger{
		ch:    ch,
		round: round,
		own:   Proposal{RobotID: robotID, Text: text},
		topic: natsbus.TopicProposal(round.ID()),
	}
}

func (e *Exchanger) subscribe(ctx context.Context) error {
	if e.feed != nil {
		return nil
	}
	feed, err := e.ch.Subscribe(ctx, e.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", e.topic, err)
	}
	e.feed = feed
	return nil
}

// BroadcastProposal records this robot's proposal in its own view and
// publishes it exactly once.
func (e *Exchanger) BroadcastProposal(ctx context.Context) error {
	if !e.round.Quorum() {
		return ErrNotReady
	}
	if e.broadcasted {
		return nil
	}
	if err := e.subscribe(ctx); err != nil {
		return err
	}

	e.own.EmittedAt = time.Now().UTC()
	e.round.addProposal(e.own)

	data, err := json.Marshal(message{
		Type:     typeProposal,
		RobotID:  e.own.RobotID,
		Round:    e.round.ID(),
		Proposal: e.own.Text,
		SentAt:   e.own.EmittedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	if err := e.ch.Publish(ctx, e.topic, data); err != nil {
		return fmt.Errorf("publish proposal: %w", err)
	}
	e.broadcasted = true

	slog.Info("broadcast proposal", "robot", e.own.RobotID, "round", e.round.ID(), "proposal", e.own.Text)
	return nil
}

// CollectAll blocks until a proposal from every roster member is known and
// returns the complete set. On timeout nothing partial is returned.
func (e *Exchanger) CollectAll(ctx context.Context, timeout time.Duration) (map[string]string, error) {
	if !e.round.Quorum() {
		return nil, ErrNotReady
	}
	if err := e.subscribe(ctx); err != nil {
		return nil, err
	}

	if !e.round.Complete() {
		err := drain(ctx, e.feed, timeout, e.handle)
		if errors.Is(err, errDeadline) {
			return nil, &CollectionTimeout{
				Observed:  e.round.ProposalCount(),
				SwarmSize: e.round.SwarmSize(),
				Missing:   e.round.Missing(),
			}
		}
		if err != nil {
			return nil, err
		}
	}

	slog.Info("all proposals collected", "robot", e.own.RobotID, "round", e.round.ID())
	return e.round.Proposals(), nil
}

func (e *Exchanger) handle(data []byte) bool {
	m, err := decodeMessage(data, typeProposal, e.round.ID())
	if err != nil {
		slog.Warn("ignoring proposal message", "robot", e.own.RobotID, "error", err)
		return e.round.Complete()
	}

	p := Proposal{RobotID: m.RobotID, Text: m.Proposal, EmittedAt: m.SentAt}
	switch res := e.round.addProposal(p); res {
	case admitted:
		slog.Debug("proposal received", "robot", e.own.RobotID, "peer", m.RobotID,
			"proposal", m.Proposal, "received", e.round.ProposalCount(), "swarm_size", e.round.SwarmSize())
	case outsider, full:
		slog.Warn("dropping proposal", "robot", e.own.RobotID, "peer", m.RobotID, "reason", res)
	}
	return e.round.Complete()
}

// Close stops the proposal subscription.
func (e *Exchanger) Close() {
	if e.feed != nil {
		e.feed.Stop()
	}
}
