package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mtzanidakis/swarmvote/internal/natsbus"
)

// Channel is the broadcast transport the protocol runs over. natsbus.Client
// implements it; Subscribe must replay what was published on the topic
// before the call as well as everything after it.
type Channel interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (natsbus.Feed, error)
}

// Proposal is one robot's candidate for the round's decision.
type Proposal struct {
	RobotID   string    `json:"robot_id"`
	Text      string    `json:"text"`
	EmittedAt time.Time `json:"emitted_at"`
}

const (
	typeReady    = "ready"
	typeProposal = "proposal"
)

// message is the wire envelope for both topics.
type message struct {
	Type     string    `json:"type"`
	RobotID  string    `json:"robot_id"`
	Round    string    `json:"round"`
	Proposal string    `json:"proposal,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

func decodeMessage(data []byte, wantType, round string) (message, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode: %w", err)
	}
	if m.Type != wantType {
		return m, fmt.Errorf("unexpected message type %q", m.Type)
	}
	if m.RobotID == "" {
		return m, fmt.Errorf("missing robot_id")
	}
	if m.Round != round {
		return m, fmt.Errorf("message for round %q", m.Round)
	}
	return m, nil
}
