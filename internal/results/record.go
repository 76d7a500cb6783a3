// Package results persists one outcome row per robot to a log shared by every
// robot in the swarm.
//
// Appenders own the exclusive-access discipline for their medium: CSVLog takes
// a file lock around each append, the SQLite ledger in internal/store relies
// on a write transaction. Recorder adds bounded retry on top and turns
// persistent failures into a LogWriteError.
package results

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// StatusOK marks a robot that completed its round. Any other status names the
// phase that failed.
const StatusOK = "ok"

const (
	failurePrefix = "failed:"
	// escapeChar guards a real decision that would otherwise read back as
	// a failure tag or lose its own leading escape.
	escapeChar = `\`
)

type Record struct {
	Round       string
	RobotID     string
	Proposal    string
	Decision    string
	Timestamp   time.Time
	Status      string
	Convergence time.Duration
}

// Failed reports whether the record is a failure-tagged row.
func (r Record) Failed() bool {
	return r.Status != "" && r.Status != StatusOK
}

// DecisionColumn is what lands in the decision column of the shared log.
// Failure rows carry "failed:<status>". A decision starting with "failed:"
// or a backslash is written with one extra leading backslash.
func (r Record) DecisionColumn() string {
	if r.Failed() {
		return failurePrefix + r.Status
	}
	if strings.HasPrefix(r.Decision, failurePrefix) || strings.HasPrefix(r.Decision, escapeChar) {
		return escapeChar + r.Decision
	}
	return r.Decision
}

// parseDecisionColumn reverses DecisionColumn.
func parseDecisionColumn(col string) (decision, status string) {
	if text, ok := strings.CutPrefix(col, escapeChar); ok {
		return text, StatusOK
	}
	if phase, ok := strings.CutPrefix(col, failurePrefix); ok {
		return "", phase
	}
	return col, StatusOK
}

// Appender appends one record atomically: either the whole row becomes
// visible to other readers or none of it does.
type Appender interface {
	Append(ctx context.Context, rec Record) error
}

// LogWriteError is returned once every attempt to append a record failed.
type LogWriteError struct {
	RobotID  string
	Attempts int
	Err      error
}

func (e *LogWriteError) Error() string {
	return fmt.Sprintf("write result for %s failed after %d attempt(s): %v", e.RobotID, e.Attempts, e.Err)
}

func (e *LogWriteError) Unwrap() error { return e.Err }

type Recorder struct {
	appender Appender
	retries  int
	backoff  time.Duration
}

type Option func(*Recorder)

// WithRetries sets how many times a failed append is retried.
func WithRetries(n int) Option {
	return func(r *Recorder) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// WithBackoff sets the delay before the first retry; it doubles after each.
func WithBackoff(d time.Duration) Option {
	return func(r *Recorder) {
		if d >= 0 {
			r.backoff = d
		}
	}
}

func NewRecorder(a Appender, opts ...Option) *Recorder {
	r := &Recorder{
		appender: a,
		retries:  3,
		backoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends rec, retrying with exponential backoff. Nothing is retried
// once ctx is done.
func (r *Recorder) Record(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusOK
	}

	delay := r.backoff
	attempts := 0
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		attempts++
		lastErr = r.appender.Append(ctx, rec)
		if lastErr == nil {
			return nil
		}
		if attempt == r.retries {
			break
		}

		slog.Warn("result append failed, retrying",
			"robot", rec.RobotID,
			"attempt", attempts,
			"backoff", delay,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return &LogWriteError{RobotID: rec.RobotID, Attempts: attempts, Err: ctx.Err()}
		case <-time.After(delay):
		}
		delay *= 2
	}
	return &LogWriteError{RobotID: rec.RobotID, Attempts: attempts, Err: lastErr}
}
