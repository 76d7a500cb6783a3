package results

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Header is written once, by whichever robot first finds the log empty.
var Header = []string{"robot_id", "proposal", "decision", "timestamp"}

var ErrLockTimeout = errors.New("timed out waiting for results lock")

// CSVLog appends rows to a CSV file shared by many processes. Each append
// holds an exclusive flock on a sidecar "<path>.lock" file for the whole
// open/write/sync/close sequence.
type CSVLog struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
	mu          sync.Mutex
	openFile    func(name string, flag int, perm os.FileMode) (logFile, error)
}

// logFile is the part of *os.File an append uses.
type logFile interface {
	Write(p []byte) (int, error)
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

func openOSFile(name string, flag int, perm os.FileMode) (logFile, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func NewCSVLog(path string, lockTimeout time.Duration) (*CSVLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &CSVLog{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: lockTimeout,
		openFile:    openOSFile,
	}, nil
}

// Snapshot returns the log contents read under a shared lock, so no append
// is in flight. A missing log yields nil.
func (l *CSVLog) Snapshot(ctx context.Context) (data []byte, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, l.lockTimeout)
	defer cancel()

	locked, err := l.lock.TryRLockContext(lockCtx, 10*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("lock %s: %w", l.lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: %w", l.lock.Path(), ErrLockTimeout)
	}
	defer l.lock.Unlock()

	data, err = os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read results log: %w", err)
	}
	return data, nil
}

func (l *CSVLog) Append(ctx context.Context, rec Record) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, l.lockTimeout)
	defer cancel()

	locked, err := l.lock.TryLockContext(lockCtx, 10*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("lock %s: %w", l.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("lock %s: %w", l.lock.Path(), ErrLockTimeout)
	}
	defer func() {
		if uerr := l.lock.Unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("unlock %s: %w", l.lock.Path(), uerr)
		}
	}()

	f, err := l.openFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open results log: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			f.Close()
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat results log: %w", err)
	}
	start := info.Size()

	row, err := encodeRow(rec, start == 0)
	if err != nil {
		return err
	}

	// Any failure past this point rolls the file back to start, so a retry
	// never leaves a second copy of the row behind.
	if _, err := f.Write(row); err != nil {
		_ = f.Truncate(start)
		return fmt.Errorf("write results log: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Truncate(start)
		return fmt.Errorf("sync results log: %w", err)
	}
	closed = true
	if err := f.Close(); err != nil {
		// The handle is gone; the flock is still held, so truncate by path.
		_ = os.Truncate(l.path, start)
		return fmt.Errorf("close results log: %w", err)
	}
	return nil
}

func encodeRow(rec Record, withHeader bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if withHeader {
		if err := w.Write(Header); err != nil {
			return nil, fmt.Errorf("encode header: %w", err)
		}
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if err := w.Write([]string{
		rec.RobotID,
		rec.Proposal,
		rec.DecisionColumn(),
		ts.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return buf.Bytes(), nil
}
