package swarm

import (
	"context"
	"errors"
	"time"

	"github.com/mtzanidakis/swarmvote/internal/natsbus"
)

var errDeadline = errors.New("deadline reached")

// drain feeds payloads to handle until it reports done, the timeout elapses
// or ctx ends. An expired ctx deadline is treated like the timeout; a
// cancelled ctx is returned as is.
func drain(ctx context.Context, feed natsbus.Feed, timeout time.Duration, handle func([]byte) bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case data := <-feed.Messages():
			if handle(data) {
				return nil
			}
		case <-timer.C:
			return errDeadline
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errDeadline
			}
			return ctx.Err()
		}
	}
}
