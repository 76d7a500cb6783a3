package swarm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotReady is returned when proposal exchange is attempted before the
// readiness barrier reached quorum.
var ErrNotReady = errors.New("readiness quorum not reached")

// BarrierTimeout means fewer than SwarmSize robots announced readiness before
// the deadline. The robot must not broadcast its proposal afterwards.
type BarrierTimeout struct {
	Observed  int
	SwarmSize int
}

func (e *BarrierTimeout) Error() string {
	return fmt.Sprintf("barrier timeout: %d/%d robots ready", e.Observed, e.SwarmSize)
}

// CollectionTimeout means the proposal set was still incomplete at the
// deadline. The partial view is never handed to the decision engine.
type CollectionTimeout struct {
	Observed  int
	SwarmSize int
	Missing   []string
}

func (e *CollectionTimeout) Error() string {
	msg := fmt.Sprintf("collection timeout: %d/%d proposals", e.Observed, e.SwarmSize)
	if len(e.Missing) > 0 {
		msg += ", missing " + strings.Join(e.Missing, ", ")
	}
	return msg
}

// Failure statuses written to the results log when failure rows are enabled.
const (
	StatusBarrierTimeout    = "barrier_timeout"
	StatusCollectionTimeout = "collection_timeout"
	StatusBrokerError       = "broker_error"
	StatusDecisionError     = "decision_error"
)

func failureStatus(err error) string {
	var bt *BarrierTimeout
	var ct *CollectionTimeout
	switch {
	case errors.As(err, &bt):
		return StatusBarrierTimeout
	case errors.As(err, &ct):
		return StatusCollectionTimeout
	default:
		return StatusBrokerError
	}
}
