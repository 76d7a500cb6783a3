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

// Barrier is the readiness phase of a round: every robot announces itself
// once and waits until the whole swarm has done the same.
type Barrier struct {
	ch        Channel
	round     *Round
	robotID   string
	topic     string
	feed      natsbus.Feed
	announced bool
}

func NewBarrier(ch Channel, round *Round, robotID string) *Barrier {
	return &Barrier{
		ch:      ch,
		round:   round,
		robotID: robotID,
		topic:   natsbus.TopicReady(round.ID()),
	}
}

func (b *Barrier) subscribe(ctx context.Context) error {
	if b.feed != nil {
		return nil
	}
	feed, err := b.ch.Subscribe(ctx, b.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}
	b.feed = feed
	return nil
}

// AnnounceReady subscribes to the readiness topic, counts this robot as
// ready and publishes its announcement. Calling it again is a no-op.
func (b *Barrier) AnnounceReady(ctx context.Context) error {
	if b.announced {
		return nil
	}
	if err := b.subscribe(ctx); err != nil {
		return err
	}

	b.round.markReady(b.robotID)

	data, err := json.Marshal(message{
		Type:    typeReady,
		RobotID: b.robotID,
		Round:   b.round.ID(),
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal ready: %w", err)
	}
	if err := b.ch.Publish(ctx, b.topic, data); err != nil {
		return fmt.Errorf("publish ready: %w", err)
	}
	b.announced = true

	slog.Info("announced ready", "robot", b.robotID, "round", b.round.ID())
	return nil
}

// AwaitQuorum blocks until swarm-size distinct robots are known to be ready
// and returns the sorted roster. Duplicate announcements are ignored.
func (b *Barrier) AwaitQuorum(ctx context.Context, timeout time.Duration) ([]string, error) {
	if err := b.subscribe(ctx); err != nil {
		return nil, err
	}

	if !b.round.Quorum() {
		err := drain(ctx, b.feed, timeout, b.handle)
		if errors.Is(err, errDeadline) {
			return nil, &BarrierTimeout{Observed: b.round.ReadyCount(), SwarmSize: b.round.SwarmSize()}
		}
		if err != nil {
			return nil, err
		}
	}

	roster := b.round.Roster()
	slog.Info("readiness quorum reached", "robot", b.robotID, "round", b.round.ID(), "roster", roster)
	return roster, nil
}

func (b *Barrier) handle(data []byte) bool {
	m, err := decodeMessage(data, typeReady, b.round.ID())
	if err != nil {
		slog.Warn("ignoring readiness message", "robot", b.robotID, "error", err)
		return b.round.Quorum()
	}

	switch res := b.round.markReady(m.RobotID); res {
	case admitted:
		slog.Debug("robot ready", "robot", b.robotID, "peer", m.RobotID,
			"ready", b.round.ReadyCount(), "swarm_size", b.round.SwarmSize())
	case full:
		slog.Warn("readiness beyond swarm size", "robot", b.robotID, "peer", m.RobotID)
	}
	return b.round.Quorum()
}

// Close stops the readiness subscription.
func (b *Barrier) Close() {
	if b.feed != nil {
		b.feed.Stop()
	}
}
